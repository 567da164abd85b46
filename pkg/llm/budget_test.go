package llm

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestBudget(t *testing.T, cfg *BudgetConfig, at time.Time) (*CostBudget, *time.Time) {
	t.Helper()
	b := NewCostBudget(cfg)
	require.NotNil(t, b)
	clock := at
	b.now = func() time.Time { return clock }
	b.dayStart, b.monthStart = b.periods()
	return b, &clock
}

func TestCostBudgetReserveAndSettle(t *testing.T) {
	start := time.Date(2025, 11, 8, 9, 0, 0, 0, time.UTC)
	b, _ := newTestBudget(t, &BudgetConfig{DailyLimitUSD: 2.00, MonthlyLimitUSD: 40}, start)

	r, err := b.Reserve(0.10)
	require.NoError(t, err)
	require.InDelta(t, 0.10, b.Snapshot().SpentTodayUSD, 1e-9)

	charged := r.Settle(0.02)
	require.InDelta(t, 0.02, charged, 1e-9)
	snap := b.Snapshot()
	require.InDelta(t, 0.02, snap.SpentTodayUSD, 1e-9)
	require.InDelta(t, 0.02, snap.SpentThisMonthUSD, 1e-9)

	// second settle is a no-op
	require.Zero(t, r.Settle(0.05))
	require.InDelta(t, 0.02, b.Snapshot().SpentTodayUSD, 1e-9)
}

func TestCostBudgetSettleCappedAtReservation(t *testing.T) {
	b, _ := newTestBudget(t, &BudgetConfig{DailyLimitUSD: 1}, time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC))
	r, err := b.Reserve(0.10)
	require.NoError(t, err)
	require.InDelta(t, 0.10, r.Settle(0.25), 1e-9)
	require.InDelta(t, 0.10, b.Snapshot().SpentTodayUSD, 1e-9)
}

func TestCostBudgetReleaseRestores(t *testing.T) {
	b, _ := newTestBudget(t, &BudgetConfig{DailyLimitUSD: 1}, time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC))
	r, err := b.Reserve(0.40)
	require.NoError(t, err)
	r.Release()
	r.Release()
	require.Zero(t, b.Snapshot().SpentTodayUSD)
	daily, monthly := b.Remaining()
	require.InDelta(t, 1.0, daily, 1e-9)
	require.True(t, monthly > 1e12)
}

func TestCostBudgetNearLimit(t *testing.T) {
	b, _ := newTestBudget(t, &BudgetConfig{DailyLimitUSD: 2.00}, time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC))
	b.Restore(1.95, 1.95)

	_, err := b.Reserve(0.10)
	require.ErrorIs(t, err, ErrBudgetExhausted)

	r, err := b.Reserve(0.03)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.InDelta(t, 1.98, b.Snapshot().SpentTodayUSD, 1e-9)
}

func TestCostBudgetMonthlyLimitBinds(t *testing.T) {
	b, _ := newTestBudget(t, &BudgetConfig{DailyLimitUSD: 5, MonthlyLimitUSD: 10}, time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC))
	b.Restore(0, 9.98)
	_, err := b.Reserve(0.03)
	require.ErrorIs(t, err, ErrBudgetExhausted)
	_, err = b.Reserve(0.02)
	require.NoError(t, err)
}

func TestCostBudgetConcurrentReserveNeverOvershoots(t *testing.T) {
	b, _ := newTestBudget(t, &BudgetConfig{DailyLimitUSD: 1.00}, time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC))

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Reserve(0.03); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 33, ok.Load())
	require.LessOrEqual(t, b.Snapshot().SpentTodayUSD, 1.00)
}

func TestCostBudgetAutoResetAcrossDay(t *testing.T) {
	start := time.Date(2025, 11, 30, 23, 0, 0, 0, time.UTC)
	b, clock := newTestBudget(t, &BudgetConfig{DailyLimitUSD: 1, MonthlyLimitUSD: 20, AutoReset: true}, start)

	stale, err := b.Reserve(0.50)
	require.NoError(t, err)
	_, err = b.Reserve(0.60)
	require.ErrorIs(t, err, ErrBudgetExhausted)

	*clock = start.Add(2 * time.Hour)
	snap := b.Snapshot()
	require.Zero(t, snap.SpentTodayUSD)
	require.Zero(t, snap.SpentThisMonthUSD)

	// settling a reservation from the previous period leaves the new counters alone
	stale.Settle(0.10)
	require.Zero(t, b.Snapshot().SpentTodayUSD)

	_, err = b.Reserve(0.60)
	require.NoError(t, err)
}

func TestCostBudgetManualReset(t *testing.T) {
	b, _ := newTestBudget(t, &BudgetConfig{DailyLimitUSD: 1, MonthlyLimitUSD: 20}, time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC))
	b.Restore(0.9, 5)
	b.ResetDaily()
	snap := b.Snapshot()
	require.Zero(t, snap.SpentTodayUSD)
	require.InDelta(t, 5, snap.SpentThisMonthUSD, 1e-9)

	b.ResetMonthly()
	require.Zero(t, b.Snapshot().SpentThisMonthUSD)
}

func TestCostBudgetAlert(t *testing.T) {
	b, _ := newTestBudget(t, &BudgetConfig{DailyLimitUSD: 1, AlertThresholdPct: 80}, time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC))
	_, err := b.Reserve(0.5)
	require.NoError(t, err)
	require.False(t, b.Snapshot().AlertTriggered)

	_, err = b.Reserve(0.35)
	require.NoError(t, err)
	snap := b.Snapshot()
	require.True(t, snap.AlertTriggered)
	require.InDelta(t, 85.0, snap.UsagePct, 1e-6)
}

func TestCostBudgetCostFor(t *testing.T) {
	b := NewCostBudget(&BudgetConfig{DailyLimitUSD: 1, CostPerMillionTokens: map[string]float64{"gpt-4o-mini": 0.6}})
	cost, ok := b.CostFor("GPT-4o-mini", Usage{PromptTokens: 800_000, CompletionTokens: 200_000})
	require.True(t, ok)
	require.InDelta(t, 0.6, cost, 1e-9)

	_, ok = b.CostFor("unknown", Usage{PromptTokens: 10})
	require.False(t, ok)
}

func TestCostBudgetDisabled(t *testing.T) {
	require.Nil(t, NewCostBudget(nil))
	b := NewCostBudget(&BudgetConfig{})
	require.Nil(t, b)

	r, err := b.Reserve(100)
	require.NoError(t, err)
	require.Nil(t, r)
	require.InDelta(t, 0.5, r.Settle(0.5), 1e-9)
	r.Release()
}
