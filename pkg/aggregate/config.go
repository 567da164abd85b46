package aggregate

import "errors"

// Config holds the conflict-resolution policy thresholds.
type Config struct {
	BigLossUSD         float64 `yaml:"big_loss_usd"`
	LowConfidence      int     `yaml:"low_confidence"`
	AssignmentRiskDTE  int     `yaml:"assignment_risk_dte"`
	HighProfitPct      float64 `yaml:"high_profit_pct"`
	AgreementBonus     int     `yaml:"agreement_bonus"`
	AgreementFloor     int     `yaml:"agreement_floor"`
	AgreementFloorMin  int     `yaml:"agreement_floor_min"`
	ConfidenceCap      int     `yaml:"confidence_cap"`
	LLMWeight          float64 `yaml:"llm_weight"`
	QuantWeight        float64 `yaml:"quant_weight"`
	UrgencyHighDTE     int     `yaml:"urgency_high_dte"`
	UrgencyHighLossPct float64 `yaml:"urgency_high_loss_pct"`
	UrgencyMediumDTE   int     `yaml:"urgency_medium_dte"`
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		BigLossUSD:         -500,
		LowConfidence:      60,
		AssignmentRiskDTE:  3,
		HighProfitPct:      75,
		AgreementBonus:     25,
		AgreementFloor:     95,
		AgreementFloorMin:  70,
		ConfidenceCap:      99,
		LLMWeight:          0.6,
		QuantWeight:        0.4,
		UrgencyHighDTE:     3,
		UrgencyHighLossPct: -75,
		UrgencyMediumDTE:   7,
	}
}

// ApplyDefaults turns an unset (zero) Config into DefaultConfig. A Config with any field
// set is kept as is, so explicit zero thresholds survive.
func (c *Config) ApplyDefaults() {
	if *c == (Config{}) {
		*c = DefaultConfig()
	}
}

// Validate rejects contradictory policy.
func (c Config) Validate() error {
	if c.BigLossUSD >= 0 {
		return errors.New("aggregate config: big_loss_usd must be negative")
	}
	if c.LowConfidence < 0 || c.LowConfidence > 100 {
		return errors.New("aggregate config: low_confidence must be within 0-100")
	}
	if c.AssignmentRiskDTE < 0 {
		return errors.New("aggregate config: assignment_risk_dte cannot be negative")
	}
	if c.HighProfitPct <= 0 {
		return errors.New("aggregate config: high_profit_pct must be positive")
	}
	if c.AgreementBonus < 0 {
		return errors.New("aggregate config: agreement_bonus cannot be negative")
	}
	if c.ConfidenceCap <= 0 || c.ConfidenceCap > 100 {
		return errors.New("aggregate config: confidence_cap must be within 1-100")
	}
	if c.AgreementFloor > c.ConfidenceCap {
		return errors.New("aggregate config: agreement_floor exceeds confidence_cap")
	}
	if c.LLMWeight < 0 || c.QuantWeight < 0 || c.LLMWeight+c.QuantWeight == 0 {
		return errors.New("aggregate config: blend weights must be non-negative and not both zero")
	}
	if c.UrgencyMediumDTE < c.UrgencyHighDTE {
		return errors.New("aggregate config: urgency_medium_dte must be at least urgency_high_dte")
	}
	if c.UrgencyHighLossPct >= 0 {
		return errors.New("aggregate config: urgency_high_loss_pct must be negative")
	}
	return nil
}
