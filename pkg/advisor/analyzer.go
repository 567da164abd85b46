// Package advisor is the cached LLM analysis step of the pipeline.
package advisor

import (
	"context"
	"errors"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"magnus-advisor/pkg/cache"
	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/metrics"
	"magnus-advisor/pkg/position"
	"magnus-advisor/pkg/quant"
	"magnus-advisor/pkg/reasoning"
	"magnus-advisor/pkg/tier"
)

// Outcome explains an AnalyzeCached result.
type Outcome string

const (
	OutcomeComputed     Outcome = "llm_ok"
	OutcomeCacheHit     Outcome = "cache_hit"
	OutcomeCacheShared  Outcome = "cache_shared"
	OutcomeDisabled     Outcome = "llm_disabled"
	OutcomeDataQuality  Outcome = "data_quality"
	OutcomeBudgetSkip   Outcome = "llm_skipped_budget"
	OutcomeTimeout      Outcome = "llm_timeout"
	OutcomeValidation   Outcome = "llm_validation"
	OutcomeDeadline     Outcome = "llm_deadline"
	OutcomeProviderFail Outcome = "llm_error"
)

// Degraded reports whether the outcome left the position without an LLM view.
func (o Outcome) Degraded() bool {
	switch o {
	case OutcomeComputed, OutcomeCacheHit, OutcomeCacheShared:
		return false
	}
	return true
}

// Config tunes caching.
type Config struct {
	CacheTTL       time.Duration
	PriceBucketPct float64
}

// Analyzer fronts a reasoning provider with tier selection, budget reservation and the
// single-flight cache. A nil provider disables the LLM path.
type Analyzer struct {
	provider reasoning.ReasoningProvider
	selector *tier.Selector
	budget   *llm.CostBudget
	cache    *cache.Cache
	cfg      Config
	now      func() time.Time
}

// New wires the collaborators. budget may be nil for unlimited spend.
func New(provider reasoning.ReasoningProvider, selector *tier.Selector, budget *llm.CostBudget, c *cache.Cache, cfg Config) *Analyzer {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.PriceBucketPct <= 0 {
		cfg.PriceBucketPct = cache.DefaultBucketPct
	}
	return &Analyzer{
		provider: provider,
		selector: selector,
		budget:   budget,
		cache:    c,
		cfg:      cfg,
		now:      time.Now,
	}
}

// AnalyzeCached returns the LLM view of a position or nil. Cache hits never reach the
// provider. On a miss, exactly one caller per fingerprint selects a tier, reserves its
// cost and calls the provider; concurrent callers share that result or failure. Every
// failure (budget skip, timeout, invalid response, cancelled batch) yields nil and an
// Outcome naming the reason.
func (a *Analyzer) AnalyzeCached(ctx context.Context, snap position.Snapshot, q quant.Recommendation) (*llm.Recommendation, Outcome) {
	if a == nil || a.provider == nil || a.cache == nil {
		return nil, OutcomeDisabled
	}
	if q.DataQuality != "" {
		return nil, OutcomeDataQuality
	}
	if ctx.Err() != nil {
		return nil, OutcomeDeadline
	}

	key := cache.Fingerprint(snap, a.cfg.PriceBucketPct, a.now())
	rec, src, err := a.cache.GetOrCompute(ctx, key, a.cfg.CacheTTL, func(ctx context.Context) (*llm.Recommendation, error) {
		return a.evaluate(ctx, snap, q)
	})
	if err != nil {
		outcome := a.classify(ctx, err)
		logx.WithContext(ctx).Infow("llm analysis unavailable, continuing with rule engine only",
			logx.Field("symbol", snap.Symbol),
			logx.Field("reason", string(outcome)),
			logx.Field("shared", src == cache.SourceShared),
			logx.Field("error", err.Error()))
		return nil, outcome
	}

	switch src {
	case cache.SourceHit, cache.SourceL2Hit:
		return rec, OutcomeCacheHit
	case cache.SourceShared:
		return rec, OutcomeCacheShared
	default:
		return rec, OutcomeComputed
	}
}

func (a *Analyzer) evaluate(ctx context.Context, snap position.Snapshot, q quant.Recommendation) (*llm.Recommendation, error) {
	sel := a.selector.SelectTier(snap, q.Risk, a.budget)
	if sel.Skipped {
		return nil, llm.ErrBudgetExhausted
	}
	if sel.Downgraded() {
		logx.WithContext(ctx).Infow("tier downgraded by budget",
			logx.Field("symbol", snap.Symbol),
			logx.Field("requested", string(sel.Requested)),
			logx.Field("selected", string(sel.Tier)))
	}

	rec, err := a.provider.Evaluate(ctx, snap, q, sel.Tier)
	if err != nil {
		sel.Reservation.Release()
		return nil, err
	}
	if sel.Reservation != nil {
		rec.CostUSD = sel.Reservation.Settle(rec.CostUSD)
	}
	metrics.SpendUSD.WithLabelValues(string(sel.Tier)).Add(rec.CostUSD)
	if a.budget != nil {
		metrics.BudgetUsage.Set(a.budget.Snapshot().UsagePct)
	}
	return rec, nil
}

func (a *Analyzer) classify(ctx context.Context, err error) Outcome {
	switch {
	case ctx.Err() != nil:
		return OutcomeDeadline
	case errors.Is(err, llm.ErrBudgetExhausted):
		return OutcomeBudgetSkip
	case errors.Is(err, llm.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, llm.ErrValidation):
		return OutcomeValidation
	default:
		return OutcomeProviderFail
	}
}
