package position

import (
	"strconv"
	"strings"
	"time"
)

// Strategy identifies how the position was opened.
type Strategy string

const (
	CashSecuredPut Strategy = "cash_secured_put"
	CoveredCall    Strategy = "covered_call"
	LongCall       Strategy = "long_call"
	LongPut        Strategy = "long_put"
	Stock          Strategy = "stock"
)

// ParseStrategy accepts the canonical names plus the short forms used by brokers.
func ParseStrategy(raw string) (Strategy, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cash_secured_put", "csp", "cashsecuredput":
		return CashSecuredPut, true
	case "covered_call", "cc", "coveredcall":
		return CoveredCall, true
	case "long_call", "longcall", "call":
		return LongCall, true
	case "long_put", "longput", "put":
		return LongPut, true
	case "stock", "equity", "shares":
		return Stock, true
	default:
		return "", false
	}
}

// Valid reports whether s is one of the canonical strategies.
func (s Strategy) Valid() bool {
	switch s {
	case CashSecuredPut, CoveredCall, LongCall, LongPut, Stock:
		return true
	default:
		return false
	}
}

// UnmarshalText normalizes short forms so feeds may send "csp" or "CC".
func (s *Strategy) UnmarshalText(text []byte) error {
	if parsed, ok := ParseStrategy(string(text)); ok {
		*s = parsed
		return nil
	}
	*s = Strategy(text)
	return nil
}

// IsCredit reports whether the position was opened for a net credit (premium received).
func (s Strategy) IsCredit() bool {
	return s == CashSecuredPut || s == CoveredCall
}

// IsOption reports whether Greeks are expected for the strategy.
func (s Strategy) IsOption() bool {
	return s != Stock
}

// MoneynessState is the strike-vs-underlying relationship.
type MoneynessState string

const (
	ITM MoneynessState = "ITM"
	ATM MoneynessState = "ATM"
	OTM MoneynessState = "OTM"
)

// Moneyness pairs the state with the distance between strike and underlying, in percent.
type Moneyness struct {
	State       MoneynessState `json:"state" yaml:"state"`
	DistancePct float64        `json:"distance_pct" yaml:"distance_pct"`
}

// Greeks are per-contract sensitivities as supplied by the data collaborator.
type Greeks struct {
	Delta float64 `json:"delta" yaml:"delta"`
	Gamma float64 `json:"gamma" yaml:"gamma"`
	Theta float64 `json:"theta" yaml:"theta"`
	Vega  float64 `json:"vega" yaml:"vega"`
}

// IsZero reports whether every Greek is zero, which upstream uses to signal "not computed".
func (g Greeks) IsZero() bool {
	return g.Delta == 0 && g.Gamma == 0 && g.Theta == 0 && g.Vega == 0
}

// Snapshot is the immutable per-cycle view of one open position. Prices are per share
// (option premium for option strategies); dollar figures are position totals.
type Snapshot struct {
	Symbol               string    `json:"symbol" yaml:"symbol"`
	Strategy             Strategy  `json:"strategy" yaml:"strategy"`
	EntryPrice           float64   `json:"entry_price" yaml:"entry_price"`
	CurrentPrice         float64   `json:"current_price" yaml:"current_price"`
	StrikePrice          float64   `json:"strike_price" yaml:"strike_price"`
	UnderlyingPrice      float64   `json:"underlying_price,omitempty" yaml:"underlying_price"`
	DaysToExpiration     int       `json:"days_to_expiration" yaml:"days_to_expiration"`
	Quantity             float64   `json:"quantity" yaml:"quantity"`
	ContractMultiplier   float64   `json:"contract_multiplier" yaml:"contract_multiplier"`
	Greeks               Greeks    `json:"greeks" yaml:"greeks"`
	ImpliedVolatility    float64   `json:"implied_volatility" yaml:"implied_volatility"`
	ProbabilityITM       float64   `json:"probability_itm" yaml:"probability_itm"`
	Moneyness            Moneyness `json:"moneyness" yaml:"moneyness"`
	UnrealizedPnLDollars float64   `json:"unrealized_pnl_dollars" yaml:"unrealized_pnl_dollars"`
	UnrealizedPnLPercent float64   `json:"unrealized_pnl_percent" yaml:"unrealized_pnl_percent"`
	AsOf                 time.Time `json:"as_of" yaml:"as_of"`
}

// Units is quantity × multiplier, the number of shares the position controls.
func (s Snapshot) Units() float64 {
	mult := s.ContractMultiplier
	if mult <= 0 {
		mult = 1
	}
	q := s.Quantity
	if q < 0 {
		q = -q
	}
	return q * mult
}

// ReferencePrice is the underlying price when known, otherwise the strike.
func (s Snapshot) ReferencePrice() float64 {
	if s.UnderlyingPrice > 0 {
		return s.UnderlyingPrice
	}
	if s.StrikePrice > 0 {
		return s.StrikePrice
	}
	return s.CurrentPrice
}

// Key names the contract within a batch: symbol and strategy, plus strike and DTE for
// options. Two contracts on one underlying get different keys.
func (s Snapshot) Key() string {
	key := strings.ToUpper(strings.TrimSpace(s.Symbol)) + "|" + string(s.Strategy)
	if !s.Strategy.IsOption() {
		return key
	}
	return key + "|" + strconv.FormatFloat(s.StrikePrice, 'f', 2, 64) + "|" + strconv.Itoa(s.DaysToExpiration)
}

// IsITM is shorthand for Moneyness.State == ITM.
func (s Snapshot) IsITM() bool {
	return s.Moneyness.State == ITM
}

// ProfitPercent is the strategy-aware return on the entry price: the retained share of
// the premium for credit strategies, the appreciation for debit strategies. Falls back to
// the collaborator-supplied percentage when the entry price is unusable.
func (s Snapshot) ProfitPercent() float64 {
	if s.EntryPrice <= 0 {
		return s.UnrealizedPnLPercent
	}
	if s.Strategy.IsCredit() {
		return (s.EntryPrice - s.CurrentPrice) / s.EntryPrice * 100
	}
	return (s.CurrentPrice - s.EntryPrice) / s.EntryPrice * 100
}
