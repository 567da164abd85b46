// Package tier routes each position to a reasoning cost tier and books the spend.
package tier

import (
	"errors"
	"math"

	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/metrics"
	"magnus-advisor/pkg/position"
	"magnus-advisor/pkg/quant"
)

// Config holds the criticality thresholds.
type Config struct {
	// CriticalLossUSD: unrealized P&L at or below this is critical.
	CriticalLossUSD float64 `yaml:"critical_loss_usd"`
	// CriticalDTE: ITM positions this close to expiry are critical.
	CriticalDTE int `yaml:"critical_dte"`
	// BulkMaxAbsPnLPct, BulkMinDTE and GammaRiskThreshold together describe a quiet position.
	BulkMaxAbsPnLPct   float64 `yaml:"bulk_max_abs_pnl_pct"`
	BulkMinDTE         int     `yaml:"bulk_min_dte"`
	GammaRiskThreshold float64 `yaml:"gamma_risk_threshold"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		CriticalLossUSD:    -500,
		CriticalDTE:        3,
		BulkMaxAbsPnLPct:   5,
		BulkMinDTE:         30,
		GammaRiskThreshold: 5,
	}
}

// ApplyDefaults turns an unset (zero) Config into DefaultConfig.
func (c *Config) ApplyDefaults() {
	if *c == (Config{}) {
		*c = DefaultConfig()
	}
}

// Validate rejects contradictory thresholds.
func (c Config) Validate() error {
	if c.CriticalLossUSD >= 0 {
		return errors.New("tier config: critical_loss_usd must be negative")
	}
	if c.CriticalDTE < 0 || c.BulkMinDTE < 0 {
		return errors.New("tier config: dte thresholds cannot be negative")
	}
	if c.BulkMinDTE <= c.CriticalDTE {
		return errors.New("tier config: bulk_min_dte must exceed critical_dte")
	}
	if c.BulkMaxAbsPnLPct <= 0 {
		return errors.New("tier config: bulk_max_abs_pnl_pct must be positive")
	}
	if c.GammaRiskThreshold <= 0 {
		return errors.New("tier config: gamma_risk_threshold must be positive")
	}
	return nil
}

// Selection is the outcome of SelectTier. When Skipped is false and the budget is
// limited, Reservation holds the booked estimate and must be settled or released.
type Selection struct {
	Requested   llm.Tier
	Tier        llm.Tier
	Skipped     bool
	EstimateUSD float64
	Reservation *llm.Reservation
}

// Downgraded reports whether budget pressure moved the position off its natural tier.
func (s Selection) Downgraded() bool {
	return s.Skipped || s.Tier != s.Requested
}

// Label is the tier name, or "skip".
func (s Selection) Label() string {
	if s.Skipped {
		return "skip"
	}
	return string(s.Tier)
}

// Selector classifies positions and reserves budget for the chosen tier.
type Selector struct {
	cfg   Config
	costs *llm.BudgetConfig
}

// NewSelector copies cfg; costs supplies per-tier estimates and may be nil.
func NewSelector(cfg Config, costs *llm.BudgetConfig) *Selector {
	cfg.ApplyDefaults()
	return &Selector{cfg: cfg, costs: costs.Clone()}
}

// Classify returns the natural tier for a position, ignoring budget.
func (s *Selector) Classify(snap position.Snapshot, risk quant.RiskMetrics) llm.Tier {
	if snap.UnrealizedPnLDollars <= s.cfg.CriticalLossUSD {
		return llm.TierCritical
	}
	if snap.Strategy.IsOption() && snap.IsITM() && snap.DaysToExpiration <= s.cfg.CriticalDTE {
		return llm.TierCritical
	}
	farFromExpiry := !snap.Strategy.IsOption() || snap.DaysToExpiration > s.cfg.BulkMinDTE
	if math.Abs(snap.UnrealizedPnLPercent) < s.cfg.BulkMaxAbsPnLPct && farFromExpiry && risk.GammaRisk < s.cfg.GammaRiskThreshold {
		return llm.TierBulk
	}
	return llm.TierStandard
}

// SelectTier picks the natural tier and reserves its estimated cost, walking down
// Critical→Standard→Bulk until a reservation fits; if none does the position is skipped.
// Each attempt is a single atomic check-and-reserve on the budget.
func (s *Selector) SelectTier(snap position.Snapshot, risk quant.RiskMetrics, budget *llm.CostBudget) Selection {
	requested := s.Classify(snap, risk)
	sel := Selection{Requested: requested, Skipped: true}
	for _, t := range downgradePath(requested) {
		estimate := s.costs.EstimateFor(t)
		res, err := budget.Reserve(estimate)
		if err != nil {
			continue
		}
		sel.Tier = t
		sel.Skipped = false
		sel.EstimateUSD = estimate
		sel.Reservation = res
		break
	}
	metrics.TierSelections.WithLabelValues(string(requested), sel.Label()).Inc()
	return sel
}

func downgradePath(from llm.Tier) []llm.Tier {
	for i, t := range llm.Tiers {
		if t == from {
			return llm.Tiers[i:]
		}
	}
	return []llm.Tier{llm.TierStandard, llm.TierBulk}
}
