// Package svc assembles the advisor pipeline from a loaded configuration.
package svc

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"magnus-advisor/internal/persistence/rediscache"
	"magnus-advisor/pkg/advisor"
	"magnus-advisor/pkg/aggregate"
	"magnus-advisor/pkg/cache"
	"magnus-advisor/pkg/config"
	"magnus-advisor/pkg/confkit"
	"magnus-advisor/pkg/journal"
	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/portfolio"
	"magnus-advisor/pkg/position"
	"magnus-advisor/pkg/quant"
	"magnus-advisor/pkg/reasoning"
	"magnus-advisor/pkg/tier"
)

// Options adjust assembly without editing the configuration file.
type Options struct {
	// DisableLLM runs quant-only even when an llm section is present.
	DisableLLM bool
	// Backend replaces the configured backend, mainly for tests.
	Backend llm.Backend
}

// ServiceContext owns every long-lived component of one advisor process.
type ServiceContext struct {
	Config       *config.Config
	Quant        *quant.Analyzer
	Aggregator   *aggregate.Aggregator
	Budget       *llm.CostBudget
	Cache        *cache.Cache
	Store        *rediscache.Store
	Provider     *reasoning.Provider
	Advisor      *advisor.Analyzer
	Orchestrator *portfolio.Orchestrator
	Journal      *journal.Writer
}

// NewServiceContext wires the pipeline. Budget counters are restored from Redis when a
// store is configured.
func NewServiceContext(ctx context.Context, cfg *config.Config, opts Options) (*ServiceContext, error) {
	if cfg == nil {
		return nil, fmt.Errorf("svc: config is required")
	}
	sc := &ServiceContext{
		Config:     cfg,
		Quant:      quant.NewAnalyzer(cfg.Quant),
		Aggregator: aggregate.New(cfg.Aggregate),
	}
	if cfg.Journal.Enabled {
		sc.Journal = journal.NewWriter(cfg.Journal.Dir)
	}

	if cfg.LLMEnabled() && !opts.DisableLLM {
		if err := sc.initLLM(ctx, opts); err != nil {
			return nil, err
		}
	}

	var analyzer portfolio.LLMAnalyzer
	if sc.Advisor != nil {
		analyzer = sc.Advisor
	}
	sc.Orchestrator = portfolio.New(sc.Quant, analyzer, sc.Aggregator, cfg.Portfolio)
	return sc, nil
}

func (sc *ServiceContext) initLLM(ctx context.Context, opts Options) error {
	cfg := sc.Config
	llmCfg := cfg.LLM.Clone()
	llmCfg.Prompt.TemplatePath = confkit.ResolvePath(llmCfg.Prompt.TemplatePath)
	llmCfg.SchemaPath = confkit.ResolvePath(llmCfg.SchemaPath)
	llmCfg.ReplayPath = confkit.ResolvePath(llmCfg.ReplayPath)
	llm.SetVerboseLogging(llmCfg.Verbose)

	sc.Budget = llm.NewCostBudget(llmCfg.Budget)

	var cacheOpts []cache.Option
	if cfg.Cache.Redis.Enabled() {
		store, err := rediscache.New(cfg.Cache.Redis)
		if err != nil {
			return err
		}
		sc.Store = store
		cacheOpts = append(cacheOpts, cache.WithStore(store))
		sc.restoreBudget(ctx)
	}
	c, err := cache.New(cfg.Cache.TTL, cacheOpts...)
	if err != nil {
		return err
	}
	sc.Cache = c

	backend := opts.Backend
	if backend == nil {
		backend, err = reasoning.NewBackend(ctx, llmCfg)
		if err != nil {
			return err
		}
	}
	provider, err := reasoning.NewProvider(llmCfg, backend, sc.Budget)
	if err != nil {
		return err
	}
	sc.Provider = provider

	selector := tier.NewSelector(cfg.Tier, llmCfg.Budget)
	sc.Advisor = advisor.New(provider, selector, sc.Budget, c, advisor.Config{
		CacheTTL:       cfg.Cache.TTL,
		PriceBucketPct: cfg.Cache.PriceBucketPct,
	})
	logx.Infof("reasoning backend %s ready, prompt %s (%s)", provider.Name(), provider.PromptVersion(), shortDigest(provider.PromptDigest()))
	return nil
}

func (sc *ServiceContext) restoreBudget(ctx context.Context) {
	if sc.Budget == nil || sc.Store == nil {
		return
	}
	today, month, err := sc.Store.LoadBudget(ctx, time.Now())
	if err != nil {
		logx.WithContext(ctx).Errorf("restore budget from redis: %v", err)
		return
	}
	sc.Budget.Restore(today, month)
}

// SaveBudget writes the budget ledger to Redis. It is a no-op without a store.
func (sc *ServiceContext) SaveBudget(ctx context.Context) error {
	if sc == nil || sc.Budget == nil || sc.Store == nil {
		return nil
	}
	return sc.Store.SaveBudget(ctx, sc.Budget.Snapshot(), time.Now())
}

// Close persists the budget ledger. It is safe to call on a quant-only context.
func (sc *ServiceContext) Close(ctx context.Context) error {
	return sc.SaveBudget(ctx)
}

// Run analyzes one batch and journals it when enabled. The journal path is empty when
// journaling is off.
func (sc *ServiceContext) Run(ctx context.Context, snaps []position.Snapshot) ([]portfolio.Result, string, error) {
	start := time.Now()
	results := sc.Orchestrator.AnalyzePortfolio(ctx, snaps)
	if sc.Journal == nil {
		return results, "", nil
	}

	meta := journal.CycleMeta{Elapsed: time.Since(start), Now: start}
	if sc.Provider != nil {
		meta.Backend = sc.Provider.Name()
		meta.PromptDigest = sc.Provider.PromptDigest()
		meta.PromptVersion = sc.Provider.PromptVersion()
	}
	if sc.Budget != nil {
		snap := sc.Budget.Snapshot()
		meta.Budget = &snap
	}
	path, err := sc.Journal.Write(journal.NewCycle(snaps, results, meta))
	if err != nil {
		return results, "", err
	}
	return results, path, nil
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
