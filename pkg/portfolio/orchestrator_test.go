package portfolio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magnus-advisor/pkg/advisor"
	"magnus-advisor/pkg/aggregate"
	"magnus-advisor/pkg/cache"
	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/position"
	"magnus-advisor/pkg/quant"
	"magnus-advisor/pkg/tier"
)

type analyzerFunc func(ctx context.Context, snap position.Snapshot, q quant.Recommendation) (*llm.Recommendation, advisor.Outcome)

func (f analyzerFunc) AnalyzeCached(ctx context.Context, snap position.Snapshot, q quant.Recommendation) (*llm.Recommendation, advisor.Outcome) {
	return f(ctx, snap, q)
}

func snapshot(symbol string) position.Snapshot {
	return position.Snapshot{
		Symbol:               symbol,
		Strategy:             position.CashSecuredPut,
		EntryPrice:           2.40,
		CurrentPrice:         1.90,
		StrikePrice:          140,
		UnderlyingPrice:      151,
		DaysToExpiration:     18,
		Quantity:             -1,
		ContractMultiplier:   100,
		Greeks:               position.Greeks{Delta: -0.22, Gamma: 0.012, Theta: -0.06, Vega: 0.11},
		Moneyness:            position.Moneyness{State: position.OTM, DistancePct: 7.3},
		UnrealizedPnLDollars: 50,
		UnrealizedPnLPercent: 20.8,
		AsOf:                 time.Date(2025, 11, 8, 15, 0, 0, 0, time.UTC),
	}
}

func batch(n int) []position.Snapshot {
	out := make([]position.Snapshot, n)
	for i := range out {
		out[i] = snapshot(fmt.Sprintf("SYM%02d", i))
	}
	return out
}

func newOrchestrator(l LLMAnalyzer, cfg Config) *Orchestrator {
	return New(quant.NewAnalyzer(quant.DefaultConfig()), l, aggregate.New(aggregate.DefaultConfig()), cfg)
}

func TestAnalyzePortfolioKeepsInputOrder(t *testing.T) {
	l := analyzerFunc(func(ctx context.Context, snap position.Snapshot, q quant.Recommendation) (*llm.Recommendation, advisor.Outcome) {
		// later symbols finish first
		var n int
		fmt.Sscanf(snap.Symbol, "SYM%d", &n)
		time.Sleep(time.Duration(20-n) * time.Millisecond)
		return &llm.Recommendation{Action: q.Action, Confidence: 70, Rationale: "ok"}, advisor.OutcomeComputed
	})
	o := newOrchestrator(l, Config{Concurrency: 8})

	snaps := batch(20)
	results := o.AnalyzePortfolio(context.Background(), snaps)
	require.Len(t, results, len(snaps))
	for i, r := range results {
		assert.Equal(t, snaps[i].Symbol, r.Symbol)
		assert.Equal(t, aggregate.RuleAgreement, r.ConflictRule)
		assert.False(t, r.Degraded())
	}
}

func TestAnalyzePortfolioBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	l := analyzerFunc(func(ctx context.Context, snap position.Snapshot, q quant.Recommendation) (*llm.Recommendation, advisor.Outcome) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return nil, advisor.OutcomeProviderFail
	})
	o := newOrchestrator(l, Config{Concurrency: 3})

	results := o.AnalyzePortfolio(context.Background(), batch(12))
	assert.Len(t, results, 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestAnalyzePortfolioDeadlineDegradesToQuant(t *testing.T) {
	l := analyzerFunc(func(ctx context.Context, snap position.Snapshot, q quant.Recommendation) (*llm.Recommendation, advisor.Outcome) {
		select {
		case <-ctx.Done():
			return nil, advisor.OutcomeDeadline
		case <-time.After(5 * time.Second):
			return &llm.Recommendation{Action: position.Roll, Confidence: 90}, advisor.OutcomeComputed
		}
	})
	o := newOrchestrator(l, Config{Concurrency: 2, Deadline: 50 * time.Millisecond})

	start := time.Now()
	results := o.AnalyzePortfolio(context.Background(), batch(6))
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, results, 6)
	for _, r := range results {
		assert.Equal(t, aggregate.RuleNoLLM, r.ConflictRule)
		assert.Nil(t, r.SourceLLM)
		assert.Equal(t, advisor.OutcomeDeadline, r.Outcome)
		assert.Contains(t, r.Degradations, string(advisor.OutcomeDeadline))
	}
}

func TestAnalyzePortfolioInvalidGreeks(t *testing.T) {
	var calls atomic.Int32
	l := analyzerFunc(func(ctx context.Context, snap position.Snapshot, q quant.Recommendation) (*llm.Recommendation, advisor.Outcome) {
		calls.Add(1)
		if q.DataQuality != "" {
			return nil, advisor.OutcomeDataQuality
		}
		return &llm.Recommendation{Action: q.Action, Confidence: 80}, advisor.OutcomeComputed
	})
	o := newOrchestrator(l, Config{})

	bad := snapshot("BAD")
	bad.Greeks = position.Greeks{}
	nan := snapshot("NAN")
	nan.ProbabilityITM = 2

	results := o.AnalyzePortfolio(context.Background(), []position.Snapshot{snapshot("GOOD"), bad, nan})
	require.Len(t, results, 3)
	assert.False(t, results[0].Degraded())
	for _, r := range results[1:] {
		assert.Equal(t, position.Hold, r.FinalAction)
		assert.Zero(t, r.FinalConfidence)
		assert.Equal(t, []string{string(advisor.OutcomeDataQuality)}, r.Degradations)
		assert.NotEmpty(t, r.SourceQuant.DataQuality)
	}
	assert.EqualValues(t, 3, calls.Load())
}

func TestAnalyzePortfolioRecoversPanics(t *testing.T) {
	l := analyzerFunc(func(ctx context.Context, snap position.Snapshot, q quant.Recommendation) (*llm.Recommendation, advisor.Outcome) {
		if snap.Symbol == "SYM01" {
			panic("boom")
		}
		return nil, advisor.OutcomeDisabled
	})
	o := newOrchestrator(l, Config{Concurrency: 2})

	results := o.AnalyzePortfolio(context.Background(), batch(3))
	require.Len(t, results, 3)
	assert.Equal(t, "SYM01", results[1].Symbol)
	assert.Equal(t, []string{DegradationPanic}, results[1].Degradations)
	assert.Equal(t, aggregate.RuleNoLLM, results[1].ConflictRule)
	assert.NotEmpty(t, results[1].SourceQuant.TriggeredRules)
	assert.Equal(t, "SYM02", results[2].Symbol)
}

func TestAnalyzePortfolioWithoutLLM(t *testing.T) {
	o := newOrchestrator(nil, Config{})
	results := o.AnalyzePortfolio(context.Background(), batch(4))
	require.Len(t, results, 4)
	for _, r := range results {
		assert.Equal(t, advisor.OutcomeDisabled, r.Outcome)
		assert.Equal(t, aggregate.RuleNoLLM, r.ConflictRule)
		assert.Equal(t, []string{string(advisor.OutcomeDisabled)}, r.Degradations)
	}

	assert.Empty(t, o.AnalyzePortfolio(context.Background(), nil))
}

type failingProvider struct {
	mu    sync.Mutex
	calls map[string]int
}

func (p *failingProvider) Name() string { return "failing" }

func (p *failingProvider) Evaluate(ctx context.Context, snap position.Snapshot, q quant.Recommendation, t llm.Tier) (*llm.Recommendation, error) {
	p.mu.Lock()
	p.calls[snap.Symbol]++
	p.mu.Unlock()
	switch snap.Symbol {
	case "TIMEOUT":
		return nil, fmt.Errorf("%w: failing after 10s", llm.ErrProviderTimeout)
	case "INVALID":
		return nil, &llm.ValidationError{Attempts: 2, Reason: "action: must be one of the following"}
	default:
		return &llm.Recommendation{Action: q.Action, Confidence: 75, Rationale: "agrees", TierUsed: t, ProviderName: p.Name(), CostUSD: 0.03}, nil
	}
}

// Every LLM outcome still yields a result per input through the real analyzer.
func TestAnalyzePortfolioTotalOverOutcomes(t *testing.T) {
	c, err := cache.New(time.Minute)
	require.NoError(t, err)
	budget := llm.NewCostBudget(&llm.BudgetConfig{DailyLimitUSD: 0.034})
	p := &failingProvider{calls: map[string]int{}}
	a := advisor.New(p, tier.NewSelector(tier.Config{}, nil), budget, c, advisor.Config{})
	o := newOrchestrator(a, Config{Concurrency: 1})

	bad := snapshot("ZERO")
	bad.Greeks = position.Greeks{}
	// concurrency 1 runs positions in input order; failed calls release their reservation
	snaps := []position.Snapshot{snapshot("TIMEOUT"), snapshot("INVALID"), snapshot("OK"), snapshot("BROKE"), bad}

	results := o.AnalyzePortfolio(context.Background(), snaps)
	require.Len(t, results, len(snaps))

	assert.Equal(t, advisor.OutcomeTimeout, results[0].Outcome)
	assert.Equal(t, advisor.OutcomeValidation, results[1].Outcome)
	assert.Equal(t, advisor.OutcomeComputed, results[2].Outcome)
	assert.Equal(t, aggregate.RuleAgreement, results[2].ConflictRule)
	// 0.03 of 0.034 is spent; neither standard nor bulk fits
	assert.Equal(t, advisor.OutcomeBudgetSkip, results[3].Outcome)
	assert.Equal(t, advisor.OutcomeDataQuality, results[4].Outcome)
	for i, r := range results {
		assert.Equal(t, snaps[i].Symbol, r.Symbol)
		if i != 2 {
			assert.Nil(t, r.SourceLLM)
			assert.Equal(t, aggregate.RuleNoLLM, r.ConflictRule)
		}
	}
	assert.Equal(t, 1, p.calls["TIMEOUT"])
	assert.Equal(t, 1, p.calls["INVALID"])
	assert.Zero(t, p.calls["BROKE"])
	assert.Zero(t, p.calls["ZERO"])
	daily, _ := budget.Remaining()
	assert.InDelta(t, 0.004, daily, 1e-9)
}

func TestAnalyzePortfolioStampsUndatedSnapshots(t *testing.T) {
	o := newOrchestrator(nil, Config{Concurrency: 2})
	dated := snapshot("DATED")
	undated := batch(3)
	for i := range undated {
		undated[i].AsOf = time.Time{}
	}

	before := time.Now()
	results := o.AnalyzePortfolio(context.Background(), append(undated, dated))
	after := time.Now()
	require.Len(t, results, 4)

	stamp := results[0].GeneratedAt
	assert.False(t, stamp.Before(before.Add(-time.Second)))
	assert.False(t, stamp.After(after))
	assert.Equal(t, time.UTC, stamp.Location())
	for _, r := range results[:3] {
		assert.True(t, stamp.Equal(r.GeneratedAt), r.Symbol)
	}
	assert.Equal(t, dated.AsOf, results[3].GeneratedAt)
	assert.True(t, undated[0].AsOf.IsZero(), "caller's snapshots are left alone")
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultDeadline, cfg.Deadline)
	require.NoError(t, cfg.Validate())

	cfg.Deadline = -time.Second
	assert.Error(t, cfg.Validate())
}
