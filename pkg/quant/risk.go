package quant

import (
	"math"

	"magnus-advisor/pkg/position"
)

func computeRisk(snap position.Snapshot, cfg Config) RiskMetrics {
	units := snap.Units()
	entry := snap.EntryPrice
	strike := snap.StrikePrice
	ref := snap.ReferencePrice()
	p := snap.ProbabilityITM

	var m RiskMetrics
	switch snap.Strategy {
	case position.CashSecuredPut:
		m.MaxProfit = entry * units
		m.MaxLoss = math.Max(0, strike-entry) * units
		m.BreakevenPrice = strike - entry
		m.ExpectedValue = (1-p)*m.MaxProfit - p*m.MaxLoss
	case position.CoveredCall:
		m.MaxProfit = entry * units
		if snap.UnderlyingPrice > 0 {
			m.MaxLoss = math.Max(0, snap.UnderlyingPrice-entry) * units
			m.BreakevenPrice = snap.UnderlyingPrice - entry
		} else {
			m.MaxLoss = math.Max(0, strike-entry) * units
			m.BreakevenPrice = strike - entry
		}
		m.ExpectedValue = (1-p)*m.MaxProfit - p*m.MaxLoss
	case position.LongCall:
		m.MaxProfitUnbounded = true
		m.MaxLoss = entry * units
		m.BreakevenPrice = strike + entry
		m.ExpectedValue = p*callUpside(snap)*units - (1-p)*m.MaxLoss
	case position.LongPut:
		m.MaxProfit = math.Max(0, strike-entry) * units
		m.MaxLoss = entry * units
		m.BreakevenPrice = strike - entry
		m.ExpectedValue = p*m.MaxProfit - (1-p)*m.MaxLoss
	case position.Stock:
		m.MaxProfitUnbounded = true
		m.MaxLoss = entry * units
		m.BreakevenPrice = entry
	}
	if !m.MaxProfitUnbounded && m.MaxLoss > 0 {
		m.RiskRewardRatio = round2(m.MaxProfit / m.MaxLoss)
	}

	if snap.Strategy.IsOption() {
		sign := 1.0
		if snap.Strategy.IsCredit() {
			sign = -1.0
		}
		if snap.CurrentPrice > 0 {
			// credit positions collect theta
			m.ThetaEfficiency = round2(-sign * math.Abs(snap.Greeks.Theta) / snap.CurrentPrice * 100)
		}
		m.GammaRisk = round2(math.Abs(snap.Greeks.Gamma) * ref)
		m.VegaExposure = round2(sign * snap.Greeks.Vega * units)
		m.DaysToProfitableDecay = daysToDecay(snap, cfg)
	} else {
		m.DaysToProfitableDecay = -1
	}

	m.MaxProfit = round2(m.MaxProfit)
	m.MaxLoss = round2(m.MaxLoss)
	m.ExpectedValue = round2(m.ExpectedValue)
	m.BreakevenPrice = round2(m.BreakevenPrice)
	return m
}

// callUpside is a one-sigma move estimate of the per-share payoff above breakeven.
func callUpside(snap position.Snapshot) float64 {
	years := float64(snap.DaysToExpiration) / 365
	move := snap.ReferencePrice() * (1 + snap.ImpliedVolatility*math.Sqrt(years))
	return math.Max(0, move-snap.StrikePrice-snap.EntryPrice)
}

// daysToDecay estimates how many days of theta bring a credit position to the take-profit
// price, capped at the days remaining.
func daysToDecay(snap position.Snapshot, cfg Config) int {
	if !snap.Strategy.IsCredit() {
		return -1
	}
	target := snap.EntryPrice * (1 - cfg.TakeProfitPct/100)
	remaining := snap.CurrentPrice - target
	if remaining <= 0 {
		return 0
	}
	theta := math.Abs(snap.Greeks.Theta)
	if theta == 0 {
		return -1
	}
	days := int(math.Ceil(remaining / theta))
	if days > snap.DaysToExpiration {
		return snap.DaysToExpiration
	}
	return days
}
