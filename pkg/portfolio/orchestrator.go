// Package portfolio runs the recommendation pipeline over a batch of positions.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"magnus-advisor/pkg/advisor"
	"magnus-advisor/pkg/aggregate"
	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/metrics"
	"magnus-advisor/pkg/position"
	"magnus-advisor/pkg/quant"
)

const (
	DefaultConcurrency = 5
	DefaultDeadline    = 30 * time.Second
)

// DegradationPanic marks a position whose pipeline panicked.
const DegradationPanic = "panic"

// Config bounds a batch.
type Config struct {
	Concurrency int           `yaml:"concurrency"`
	Deadline    time.Duration `yaml:"deadline"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Deadline == 0 {
		c.Deadline = DefaultDeadline
	}
}

// Validate rejects a negative deadline.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return errors.New("portfolio config: concurrency must be at least 1")
	}
	if c.Deadline < 0 {
		return errors.New("portfolio config: deadline cannot be negative")
	}
	return nil
}

// LLMAnalyzer is the cached LLM step; *advisor.Analyzer satisfies it.
type LLMAnalyzer interface {
	AnalyzeCached(ctx context.Context, snap position.Snapshot, q quant.Recommendation) (*llm.Recommendation, advisor.Outcome)
}

// Result is one position's aggregated recommendation plus what went wrong on the way.
type Result struct {
	aggregate.Recommendation
	Outcome      advisor.Outcome `json:"llm_outcome"`
	Degradations []string        `json:"degradations,omitempty"`
	Elapsed      time.Duration   `json:"elapsed_ns"`
}

// Degraded reports whether any input was missing or invalid.
func (r Result) Degraded() bool { return len(r.Degradations) > 0 }

// Orchestrator wires the pipeline stages. It is safe for concurrent use.
type Orchestrator struct {
	quant *quant.Analyzer
	llm   LLMAnalyzer
	agg   *aggregate.Aggregator
	cfg   Config
}

// New builds an orchestrator. A nil llm runs every batch quant-only.
func New(q *quant.Analyzer, l LLMAnalyzer, agg *aggregate.Aggregator, cfg Config) *Orchestrator {
	cfg.ApplyDefaults()
	return &Orchestrator{quant: q, llm: l, agg: agg, cfg: cfg}
}

type indexed struct {
	i   int
	res Result
}

// AnalyzePortfolio returns exactly one Result per snapshot, in input order. Positions run
// on at most Concurrency workers. When the batch deadline passes, pending LLM calls are
// cancelled and those positions aggregate without an LLM view. It never fails.
// Snapshots without an AsOf are stamped with the batch start time, so every result of
// the batch carries the same GeneratedAt.
func (o *Orchestrator) AnalyzePortfolio(ctx context.Context, snapshots []position.Snapshot) []Result {
	start := time.Now()
	batchAt := start.UTC()
	results := make([]Result, len(snapshots))
	if len(snapshots) == 0 {
		return results
	}

	if o.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Deadline)
		defer cancel()
	}

	done := make(chan indexed, len(snapshots))
	runner := threading.NewTaskRunner(o.cfg.Concurrency)
	for i := range snapshots {
		snap := snapshots[i]
		if snap.AsOf.IsZero() {
			snap.AsOf = batchAt
		}
		runner.Schedule(func() {
			done <- indexed{i: i, res: o.analyzeOne(ctx, snap)}
		})
	}
	runner.Wait()
	close(done)

	degraded := 0
	for r := range done {
		results[r.i] = r.res
		if r.res.Degraded() {
			degraded++
		}
	}

	elapsed := time.Since(start)
	metrics.BatchDuration.Observe(elapsed.Seconds())
	logx.WithContext(ctx).Infof("analyzed %d positions in %s, %d degraded", len(snapshots), elapsed.Round(time.Millisecond), degraded)
	return results
}

func (o *Orchestrator) analyzeOne(ctx context.Context, snap position.Snapshot) (res Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			logx.WithContext(ctx).Errorf("pipeline panic for %s: %v", snap.Symbol, p)
			res = o.fallback(snap, p)
		}
		res.Elapsed = time.Since(start)
		o.record(res)
	}()

	q := o.quant.Analyze(snap)
	var degradations []string
	if q.DataQuality != "" {
		degradations = append(degradations, string(advisor.OutcomeDataQuality))
		logx.WithContext(ctx).Infow("snapshot failed validation, holding",
			logx.Field("symbol", snap.Symbol),
			logx.Field("reason", q.DataQuality))
	}

	var (
		rec     *llm.Recommendation
		outcome = advisor.OutcomeDisabled
	)
	if o.llm != nil {
		rec, outcome = o.llm.AnalyzeCached(ctx, snap, q)
	}
	if outcome.Degraded() && outcome != advisor.OutcomeDataQuality {
		degradations = append(degradations, string(outcome))
	}

	return Result{
		Recommendation: o.agg.Aggregate(q, rec, snap),
		Outcome:        outcome,
		Degradations:   degradations,
	}
}

// fallback still produces a quant-only result; if the rule engine itself panicked the
// position holds at zero confidence.
func (o *Orchestrator) fallback(snap position.Snapshot, cause any) (res Result) {
	reason := fmt.Sprintf("pipeline panic: %v", cause)
	q := quant.Recommendation{
		Action:         position.Hold,
		Rule:           quant.RuleDataQuality,
		TriggeredRules: []string{quant.RuleDataQuality},
		DataQuality:    reason,
	}
	func() {
		defer func() { _ = recover() }()
		q = o.quant.Analyze(snap)
	}()
	return Result{
		Recommendation: o.agg.Aggregate(q, nil, snap),
		Outcome:        advisor.OutcomeProviderFail,
		Degradations:   []string{DegradationPanic},
	}
}

func (o *Orchestrator) record(res Result) {
	metrics.Recommendations.WithLabelValues(
		string(res.FinalAction), string(res.ConflictRule), string(res.Urgency)).Inc()
	for _, d := range res.Degradations {
		metrics.Degradations.WithLabelValues(d).Inc()
	}
}
