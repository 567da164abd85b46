package quant

import "magnus-advisor/pkg/position"

// Rule names recorded in Recommendation.TriggeredRules.
const (
	RuleExpirationDay = "ExpirationDay"
	RuleCutLoss       = "CutLoss"
	RuleClose         = "Close"
	RuleRoll          = "Roll"
	RuleTakeProfit    = "TakeProfit"
	RuleHedge         = "Hedge"
	RuleHold          = "Hold"
	RuleDataQuality   = "DataQuality"
)

// RiskMetrics are position-level dollar figures unless noted.
type RiskMetrics struct {
	MaxProfit          float64 `json:"max_profit"`
	MaxProfitUnbounded bool    `json:"max_profit_unbounded,omitempty"`
	MaxLoss            float64 `json:"max_loss"`
	RiskRewardRatio    float64 `json:"risk_reward_ratio"`
	ExpectedValue      float64 `json:"expected_value"`
	// ThetaEfficiency is daily decay as a percent of current value, positive when decay
	// works for the holder.
	ThetaEfficiency float64 `json:"theta_efficiency"`
	// GammaRisk is the delta shift, in delta points ×100, for a 1% underlying move.
	GammaRisk    float64 `json:"gamma_risk"`
	VegaExposure float64 `json:"vega_exposure"`
	// BreakevenPrice is expressed in underlying terms.
	BreakevenPrice float64 `json:"breakeven_price"`
	// DaysToProfitableDecay is -1 when decay does not move the position toward its target.
	DaysToProfitableDecay int `json:"days_to_profitable_decay"`
}

// Recommendation is the deterministic output of Analyze. The first entry of
// TriggeredRules is the decisive rule; the rest would also have matched.
type Recommendation struct {
	Action         position.Action `json:"action"`
	Confidence     int             `json:"confidence"`
	Rule           string          `json:"rule"`
	TriggeredRules []string        `json:"triggered_rules"`
	ProfitPercent  float64         `json:"profit_percent"`
	Risk           RiskMetrics     `json:"risk_metrics"`
	DataQuality    string          `json:"data_quality,omitempty"`
}
