package position

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrDataQuality is the sentinel wrapped by every DataQualityError.
var ErrDataQuality = errors.New("position: data quality")

// DataQualityError names the first malformed field of a snapshot.
type DataQualityError struct {
	Symbol string
	Field  string
	Reason string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("position %s: invalid %s: %s", e.Symbol, e.Field, e.Reason)
}

func (e *DataQualityError) Unwrap() error { return ErrDataQuality }

// Validate returns a *DataQualityError for the first field that cannot be analyzed.
func (s Snapshot) Validate() error {
	fail := func(field, reason string) error {
		return &DataQualityError{Symbol: s.Symbol, Field: field, Reason: reason}
	}
	if strings.TrimSpace(s.Symbol) == "" {
		return fail("symbol", "empty")
	}
	if !s.Strategy.Valid() {
		return fail("strategy", fmt.Sprintf("unknown %q", s.Strategy))
	}
	numbers := []struct {
		name  string
		value float64
	}{
		{"entry_price", s.EntryPrice},
		{"current_price", s.CurrentPrice},
		{"strike_price", s.StrikePrice},
		{"underlying_price", s.UnderlyingPrice},
		{"quantity", s.Quantity},
		{"contract_multiplier", s.ContractMultiplier},
		{"greeks.delta", s.Greeks.Delta},
		{"greeks.gamma", s.Greeks.Gamma},
		{"greeks.theta", s.Greeks.Theta},
		{"greeks.vega", s.Greeks.Vega},
		{"implied_volatility", s.ImpliedVolatility},
		{"probability_itm", s.ProbabilityITM},
		{"moneyness.distance_pct", s.Moneyness.DistancePct},
		{"unrealized_pnl_dollars", s.UnrealizedPnLDollars},
		{"unrealized_pnl_percent", s.UnrealizedPnLPercent},
	}
	for _, n := range numbers {
		if math.IsNaN(n.value) || math.IsInf(n.value, 0) {
			return fail(n.name, "not a finite number")
		}
	}
	if s.EntryPrice <= 0 {
		return fail("entry_price", "must be positive")
	}
	if s.CurrentPrice < 0 {
		return fail("current_price", "cannot be negative")
	}
	if s.Quantity == 0 {
		return fail("quantity", "must be non-zero")
	}
	if s.ContractMultiplier <= 0 {
		return fail("contract_multiplier", "must be positive")
	}
	if s.DaysToExpiration < 0 {
		return fail("days_to_expiration", "cannot be negative")
	}
	if s.ProbabilityITM < 0 || s.ProbabilityITM > 1 {
		return fail("probability_itm", "must be within [0,1]")
	}
	if !s.Strategy.IsOption() {
		return nil
	}
	if s.StrikePrice <= 0 {
		return fail("strike_price", "must be positive for option strategies")
	}
	switch s.Moneyness.State {
	case ITM, ATM, OTM:
	default:
		return fail("moneyness.state", fmt.Sprintf("unknown %q", s.Moneyness.State))
	}
	if s.Greeks.IsZero() {
		return fail("greeks", "missing")
	}
	if s.Greeks.Gamma < 0 {
		return fail("greeks.gamma", "cannot be negative")
	}
	return nil
}
