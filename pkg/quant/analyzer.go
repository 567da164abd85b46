package quant

import (
	"math"

	"magnus-advisor/pkg/position"
)

// Analyzer evaluates the priority-ordered exit rules. It holds no mutable state and is
// safe for concurrent use.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer copies cfg; defaults fill unset thresholds.
func NewAnalyzer(cfg Config) *Analyzer {
	cfg.ApplyDefaults()
	return &Analyzer{cfg: cfg}
}

// Config returns the thresholds in effect.
func (a *Analyzer) Config() Config { return a.cfg }

type ruleHit struct {
	name       string
	action     position.Action
	confidence float64
}

// Analyze never fails. A snapshot that does not validate yields Hold with zero
// confidence and the DataQuality rule.
func (a *Analyzer) Analyze(snap position.Snapshot) Recommendation {
	if err := snap.Validate(); err != nil {
		return Recommendation{
			Action:         position.Hold,
			Confidence:     0,
			Rule:           RuleDataQuality,
			TriggeredRules: []string{RuleDataQuality},
			ProfitPercent:  0,
			DataQuality:    err.Error(),
		}
	}

	risk := computeRisk(snap, a.cfg)
	profit := snap.ProfitPercent()
	hits := a.evaluate(snap, risk, profit)

	rec := Recommendation{
		ProfitPercent: round2(profit),
		Risk:          risk,
	}
	if len(hits) == 0 {
		rec.Action = position.Hold
		rec.Rule = RuleHold
		rec.Confidence = clampConfidence(a.holdConfidence(snap))
		rec.TriggeredRules = []string{RuleHold}
		return rec
	}
	first := hits[0]
	rec.Action = first.action
	rec.Rule = first.name
	rec.Confidence = clampConfidence(first.confidence)
	rec.TriggeredRules = make([]string, 0, len(hits))
	for _, h := range hits {
		rec.TriggeredRules = append(rec.TriggeredRules, h.name)
	}
	return rec
}

// evaluate returns every matching rule in priority order.
func (a *Analyzer) evaluate(snap position.Snapshot, risk RiskMetrics, profit float64) []ruleHit {
	cfg := a.cfg
	pnl := snap.UnrealizedPnLPercent
	dte := snap.DaysToExpiration
	expiring := snap.Strategy.IsOption()

	var hits []ruleHit
	if expiring && dte == 0 {
		hits = append(hits, ruleHit{name: RuleExpirationDay, action: position.Close, confidence: 95})
	}
	if pnl <= cfg.CutLossPct {
		excess := cfg.CutLossPct - pnl
		hits = append(hits, ruleHit{name: RuleCutLoss, action: position.CutLoss, confidence: 70 + excess*0.5})
	}
	if expiring && dte <= cfg.CloseDTE && pnl > 0 {
		conf := 70 + float64(cfg.CloseDTE-dte)*8 + math.Min(pnl, 50)*0.2
		hits = append(hits, ruleHit{name: RuleClose, action: position.Close, confidence: conf})
	}
	if expiring && dte <= cfg.RollDTE && snap.IsITM() {
		conf := 60 + float64(cfg.RollDTE-dte)*4 + math.Min(math.Abs(snap.Moneyness.DistancePct), 10)*2
		hits = append(hits, ruleHit{name: RuleRoll, action: position.Roll, confidence: conf})
	}
	if profit >= cfg.TakeProfitPct {
		conf := 60 + (profit-cfg.TakeProfitPct)*0.8
		hits = append(hits, ruleHit{name: RuleTakeProfit, action: position.TakeProfit, confidence: conf})
	}
	if snap.IsITM() && risk.GammaRisk >= cfg.GammaRiskThreshold {
		conf := 55 + (risk.GammaRisk/cfg.GammaRiskThreshold-1)*30
		hits = append(hits, ruleHit{name: RuleHedge, action: position.Hedge, confidence: conf})
	}
	return hits
}

// holdConfidence grows with the time left before the roll window opens.
func (a *Analyzer) holdConfidence(snap position.Snapshot) float64 {
	if !snap.Strategy.IsOption() {
		return 60
	}
	slack := float64(snap.DaysToExpiration - a.cfg.RollDTE)
	return 50 + math.Max(0, math.Min(slack, 30))/2
}

func clampConfidence(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
