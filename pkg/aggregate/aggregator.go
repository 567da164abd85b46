// Package aggregate reconciles the rule engine and the LLM into one recommendation.
package aggregate

import (
	"math"
	"time"

	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/position"
	"magnus-advisor/pkg/quant"
)

// Urgency ranks how soon a recommendation needs attention.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// ConflictRule names the resolution rule that decided the final action.
type ConflictRule string

const (
	RuleNoLLM          ConflictRule = "no_llm"
	RuleAgreement      ConflictRule = "agreement"
	RuleBigLoss        ConflictRule = "big_loss"
	RuleLowConfidence  ConflictRule = "low_llm_confidence"
	RuleAssignmentRisk ConflictRule = "assignment_risk"
	RuleHighProfit     ConflictRule = "high_profit"
	RuleWeightedBlend  ConflictRule = "weighted_blend"
)

var ruleOrder = map[ConflictRule]int{
	RuleNoLLM:          1,
	RuleAgreement:      2,
	RuleBigLoss:        3,
	RuleLowConfidence:  4,
	RuleAssignmentRisk: 5,
	RuleHighProfit:     6,
	RuleWeightedBlend:  7,
}

// Number is the rule's position in the resolution order, 1-7.
func (r ConflictRule) Number() int { return ruleOrder[r] }

// Recommendation is the reconciled output for one position.
type Recommendation struct {
	Symbol          string               `json:"symbol"`
	FinalAction     position.Action      `json:"final_action"`
	FinalConfidence int                  `json:"final_confidence"`
	Urgency         Urgency              `json:"urgency"`
	ConflictRule    ConflictRule         `json:"conflict_rule_applied"`
	SourceQuant     quant.Recommendation `json:"source_quant"`
	SourceLLM       *llm.Recommendation  `json:"source_llm"`
	GeneratedAt     time.Time            `json:"generated_at"`
}

// Aggregator applies the policy. It holds no mutable state.
type Aggregator struct {
	cfg Config
}

// New copies cfg after filling defaults.
func New(cfg Config) *Aggregator {
	cfg.ApplyDefaults()
	return &Aggregator{cfg: cfg}
}

// Aggregate merges the two views. It never fails and is deterministic: GeneratedAt is
// the snapshot's AsOf, not the wall clock.
func (a *Aggregator) Aggregate(q quant.Recommendation, l *llm.Recommendation, snap position.Snapshot) Recommendation {
	action, confidence, rule := a.resolve(q, l, snap)
	return Recommendation{
		Symbol:          snap.Symbol,
		FinalAction:     action,
		FinalConfidence: clampConfidence(confidence),
		Urgency:         a.urgency(q, l, snap),
		ConflictRule:    rule,
		SourceQuant:     q,
		SourceLLM:       l,
		GeneratedAt:     snap.AsOf,
	}
}

func (a *Aggregator) resolve(q quant.Recommendation, l *llm.Recommendation, snap position.Snapshot) (position.Action, int, ConflictRule) {
	c := a.cfg
	switch {
	case l == nil:
		return q.Action, q.Confidence, RuleNoLLM
	case q.Action == l.Action:
		conf := min(c.ConfidenceCap, max(q.Confidence, l.Confidence)+c.AgreementBonus)
		if q.Confidence > c.AgreementFloorMin && l.Confidence > c.AgreementFloorMin {
			conf = max(conf, c.AgreementFloor)
		}
		return q.Action, conf, RuleAgreement
	case snap.UnrealizedPnLDollars <= c.BigLossUSD:
		return l.Action, l.Confidence, RuleBigLoss
	case l.Confidence < c.LowConfidence:
		return q.Action, q.Confidence, RuleLowConfidence
	case a.assignmentRisk(snap):
		return q.Action, q.Confidence, RuleAssignmentRisk
	case q.ProfitPercent >= c.HighProfitPct:
		return q.Action, q.Confidence, RuleHighProfit
	default:
		return a.blend(q, l)
	}
}

// blend weighs each side's confidence; ties go to the rule engine. The final
// confidence is the winner's share of the combined score.
func (a *Aggregator) blend(q quant.Recommendation, l *llm.Recommendation) (position.Action, int, ConflictRule) {
	llmScore := a.cfg.LLMWeight * float64(l.Confidence)
	quantScore := a.cfg.QuantWeight * float64(q.Confidence)
	total := llmScore + quantScore
	if total <= 0 {
		return q.Action, q.Confidence, RuleWeightedBlend
	}
	if llmScore > quantScore {
		return l.Action, int(math.Round(llmScore / total * 100)), RuleWeightedBlend
	}
	return q.Action, int(math.Round(quantScore / total * 100)), RuleWeightedBlend
}

func (a *Aggregator) assignmentRisk(snap position.Snapshot) bool {
	return snap.Strategy.IsOption() && snap.IsITM() && snap.DaysToExpiration <= a.cfg.AssignmentRiskDTE
}

func (a *Aggregator) urgency(q quant.Recommendation, l *llm.Recommendation, snap position.Snapshot) Urgency {
	c := a.cfg
	option := snap.Strategy.IsOption()
	switch {
	case option && snap.DaysToExpiration <= c.UrgencyHighDTE,
		a.assignmentRisk(snap),
		snap.UnrealizedPnLPercent <= c.UrgencyHighLossPct:
		return UrgencyHigh
	case option && snap.DaysToExpiration <= c.UrgencyMediumDTE,
		l != nil && l.Action != q.Action:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

func clampConfidence(v int) int {
	return max(0, min(100, v))
}
