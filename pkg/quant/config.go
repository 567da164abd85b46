package quant

import (
	"errors"
)

// Config holds the rule thresholds. Percentages are in percent units (50 = 50%).
type Config struct {
	CutLossPct         float64 `yaml:"cut_loss_pct"`
	CloseDTE           int     `yaml:"close_dte"`
	RollDTE            int     `yaml:"roll_dte"`
	TakeProfitPct      float64 `yaml:"take_profit_pct"`
	GammaRiskThreshold float64 `yaml:"gamma_risk_threshold"`
}

// DefaultConfig mirrors the committed etc/advisor.yaml.
func DefaultConfig() Config {
	return Config{
		CutLossPct:         -100,
		CloseDTE:           3,
		RollDTE:            7,
		TakeProfitPct:      50,
		GammaRiskThreshold: 5,
	}
}

// ApplyDefaults turns an unset (zero) Config into DefaultConfig.
func (c *Config) ApplyDefaults() {
	if *c == (Config{}) {
		*c = DefaultConfig()
	}
}

// Validate rejects thresholds that contradict each other.
func (c Config) Validate() error {
	if c.CutLossPct >= 0 {
		return errors.New("quant config: cut_loss_pct must be negative")
	}
	if c.TakeProfitPct <= 0 {
		return errors.New("quant config: take_profit_pct must be positive")
	}
	if c.CloseDTE < 0 || c.RollDTE < 0 {
		return errors.New("quant config: close_dte and roll_dte cannot be negative")
	}
	if c.CloseDTE > c.RollDTE {
		return errors.New("quant config: close_dte cannot exceed roll_dte")
	}
	if c.GammaRiskThreshold <= 0 {
		return errors.New("quant config: gamma_risk_threshold must be positive")
	}
	return nil
}
