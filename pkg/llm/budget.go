package llm

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"
)

// BudgetSnapshot is a point-in-time copy of the spend counters.
type BudgetSnapshot struct {
	DailyLimitUSD     float64 `json:"daily_limit_usd"`
	MonthlyLimitUSD   float64 `json:"monthly_limit_usd"`
	SpentTodayUSD     float64 `json:"spent_today_usd"`
	SpentThisMonthUSD float64 `json:"spent_this_month_usd"`
	UsagePct          float64 `json:"usage_pct"`
	AlertThresholdPct int     `json:"alert_threshold_pct"`
	AlertTriggered    bool    `json:"alert_triggered"`
}

// CostBudget tracks USD spend against daily and monthly limits. Reserve is the only way
// to spend: it checks and books the amount under one lock, so concurrent callers cannot
// jointly overshoot a limit. A nil *CostBudget is an unlimited budget.
type CostBudget struct {
	cfg        *BudgetConfig
	mu         sync.Mutex
	spentDay   decimal.Decimal
	spentMonth decimal.Decimal
	dayStart   time.Time
	monthStart time.Time
	alerted    bool
	now        func() time.Time
}

// NewCostBudget returns nil when cfg sets no limits.
func NewCostBudget(cfg *BudgetConfig) *CostBudget {
	if cfg == nil || (cfg.DailyLimitUSD <= 0 && cfg.MonthlyLimitUSD <= 0) {
		return nil
	}
	b := &CostBudget{
		cfg: cfg.Clone(),
		now: time.Now,
	}
	b.dayStart, b.monthStart = b.periods()
	return b
}

// Reservation is spend booked ahead of a call. Exactly one of Settle or Release takes
// effect; later calls are no-ops. A nil *Reservation is valid and does nothing.
type Reservation struct {
	budget     *CostBudget
	amount     decimal.Decimal
	dayStart   time.Time
	monthStart time.Time
	done       bool
}

// Amount is the reserved USD.
func (r *Reservation) Amount() float64 {
	if r == nil {
		return 0
	}
	return r.amount.InexactFloat64()
}

// Reserve books estimateUSD if it fits both remaining limits.
func (b *CostBudget) Reserve(estimateUSD float64) (*Reservation, error) {
	if b == nil {
		return nil, nil
	}
	amount := decimal.NewFromFloat(math.Max(0, estimateUSD))
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollIfNeeded()

	if !b.fits(amount) {
		return nil, ErrBudgetExhausted
	}
	b.spentDay = b.spentDay.Add(amount)
	b.spentMonth = b.spentMonth.Add(amount)
	b.checkAlert()
	return &Reservation{budget: b, amount: amount, dayStart: b.dayStart, monthStart: b.monthStart}, nil
}

// Settle replaces the reservation with actualUSD, capped at the reserved amount, and
// returns what was charged.
func (r *Reservation) Settle(actualUSD float64) float64 {
	if r == nil || r.budget == nil {
		return actualUSD
	}
	b := r.budget
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.done {
		return 0
	}
	r.done = true
	charged := decimal.NewFromFloat(math.Max(0, actualUSD))
	if charged.GreaterThan(r.amount) {
		logx.Infof("llm budget: actual cost %s above reserved %s, charging reservation", charged.StringFixed(4), r.amount.StringFixed(4))
		charged = r.amount
	}
	r.refund(r.amount.Sub(charged))
	return charged.InexactFloat64()
}

// Release returns the full reservation to the budget.
func (r *Reservation) Release() {
	if r == nil || r.budget == nil {
		return
	}
	b := r.budget
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	r.refund(r.amount)
}

// refund gives back delta on the counters still holding this reservation; a reset since
// Reserve already cleared it. Caller holds the budget lock.
func (r *Reservation) refund(delta decimal.Decimal) {
	b := r.budget
	if r.dayStart.Equal(b.dayStart) {
		b.spentDay = decimal.Max(decimal.Zero, b.spentDay.Sub(delta))
	}
	if r.monthStart.Equal(b.monthStart) {
		b.spentMonth = decimal.Max(decimal.Zero, b.spentMonth.Sub(delta))
	}
}

// Remaining returns the USD left today and this month. Unlimited sides report +Inf.
func (b *CostBudget) Remaining() (daily, monthly float64) {
	if b == nil {
		return math.Inf(1), math.Inf(1)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollIfNeeded()
	daily, monthly = math.Inf(1), math.Inf(1)
	if b.cfg.DailyLimitUSD > 0 {
		daily = decimal.NewFromFloat(b.cfg.DailyLimitUSD).Sub(b.spentDay).InexactFloat64()
	}
	if b.cfg.MonthlyLimitUSD > 0 {
		monthly = decimal.NewFromFloat(b.cfg.MonthlyLimitUSD).Sub(b.spentMonth).InexactFloat64()
	}
	return daily, monthly
}

// Snapshot copies the counters.
func (b *CostBudget) Snapshot() BudgetSnapshot {
	if b == nil {
		return BudgetSnapshot{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollIfNeeded()
	return BudgetSnapshot{
		DailyLimitUSD:     b.cfg.DailyLimitUSD,
		MonthlyLimitUSD:   b.cfg.MonthlyLimitUSD,
		SpentTodayUSD:     b.spentDay.InexactFloat64(),
		SpentThisMonthUSD: b.spentMonth.InexactFloat64(),
		UsagePct:          b.usagePct(),
		AlertThresholdPct: b.cfg.AlertThresholdPct,
		AlertTriggered:    b.alertTriggered(),
	}
}

// Restore seeds the counters, e.g. from a persisted ledger after a restart.
func (b *CostBudget) Restore(spentTodayUSD, spentThisMonthUSD float64) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollIfNeeded()
	b.spentDay = decimal.NewFromFloat(math.Max(0, spentTodayUSD))
	b.spentMonth = decimal.NewFromFloat(math.Max(0, spentThisMonthUSD))
	b.alerted = false
	b.checkAlert()
}

// ResetDaily clears today's spend. Called by the external scheduler at the day boundary.
func (b *CostBudget) ResetDaily() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetDay(b.now().UTC())
}

// ResetMonthly clears both counters.
func (b *CostBudget) ResetMonthly() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now().UTC()
	b.resetDay(now)
	b.spentMonth = decimal.Zero
	b.monthStart = truncateMonth(now)
}

// CostFor prices usage with the configured per-model rate. ok is false when the model
// has no rate, in which case callers fall back to their estimate.
func (b *CostBudget) CostFor(model string, usage Usage) (float64, bool) {
	if b == nil || b.cfg == nil {
		return 0, false
	}
	rate, ok := b.costRate(model)
	if !ok {
		return 0, false
	}
	return float64(usage.Total()) / 1_000_000.0 * rate, true
}

func (b *CostBudget) fits(amount decimal.Decimal) bool {
	if b.cfg.DailyLimitUSD > 0 && b.spentDay.Add(amount).GreaterThan(decimal.NewFromFloat(b.cfg.DailyLimitUSD)) {
		return false
	}
	if b.cfg.MonthlyLimitUSD > 0 && b.spentMonth.Add(amount).GreaterThan(decimal.NewFromFloat(b.cfg.MonthlyLimitUSD)) {
		return false
	}
	return true
}

func (b *CostBudget) usagePct() float64 {
	pct := 0.0
	if b.cfg.DailyLimitUSD > 0 {
		pct = math.Max(pct, b.spentDay.InexactFloat64()/b.cfg.DailyLimitUSD*100)
	}
	if b.cfg.MonthlyLimitUSD > 0 {
		pct = math.Max(pct, b.spentMonth.InexactFloat64()/b.cfg.MonthlyLimitUSD*100)
	}
	return math.Min(100, pct)
}

func (b *CostBudget) alertTriggered() bool {
	return b.cfg.AlertThresholdPct > 0 && b.usagePct() >= float64(b.cfg.AlertThresholdPct)
}

func (b *CostBudget) checkAlert() {
	if b.alerted || !b.alertTriggered() {
		return
	}
	b.alerted = true
	logx.Infow("llm budget alert threshold reached",
		logx.Field("usage_pct", b.usagePct()),
		logx.Field("spent_today_usd", b.spentDay.StringFixed(4)),
		logx.Field("spent_month_usd", b.spentMonth.StringFixed(4)),
		logx.Field("threshold_pct", b.cfg.AlertThresholdPct))
}

// rollIfNeeded clears counters when the clock crossed a UTC day or month boundary and
// auto reset is on.
func (b *CostBudget) rollIfNeeded() {
	if !b.cfg.AutoReset {
		return
	}
	day, month := b.periods()
	if !month.Equal(b.monthStart) {
		b.spentMonth = decimal.Zero
		b.monthStart = month
	}
	if !day.Equal(b.dayStart) {
		b.resetDay(b.nowUTC())
	}
}

func (b *CostBudget) resetDay(now time.Time) {
	b.spentDay = decimal.Zero
	b.dayStart = truncateDay(now)
	b.alerted = false
}

func (b *CostBudget) periods() (day, month time.Time) {
	now := b.nowUTC()
	return truncateDay(now), truncateMonth(now)
}

func (b *CostBudget) nowUTC() time.Time {
	if b.now == nil {
		return time.Now().UTC()
	}
	return b.now().UTC()
}

func (b *CostBudget) costRate(model string) (float64, bool) {
	if len(b.cfg.CostPerMillionTokens) == 0 {
		return 0, false
	}
	if rate, ok := b.cfg.CostPerMillionTokens[model]; ok {
		return rate, true
	}
	key := strings.ToLower(strings.TrimSpace(model))
	rate, ok := b.cfg.CostPerMillionTokens[key]
	return rate, ok
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
