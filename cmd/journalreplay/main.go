package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeromicro/go-zero/core/logx"

	"magnus-advisor/pkg/aggregate"
	"magnus-advisor/pkg/config"
	"magnus-advisor/pkg/confkit"
	"magnus-advisor/pkg/journal"
	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/llm/replay"
	"magnus-advisor/pkg/quant"
	"magnus-advisor/pkg/reasoning"
)

type options struct {
	journalDir string
	limit      int
	cycleID    string
	requant    bool
	provider   bool
}

func main() {
	var (
		opts       options
		configPath string
	)
	flag.StringVar(&opts.journalDir, "journal-dir", "journal", "Path to journal directory")
	flag.IntVar(&opts.limit, "limit", 5, "Number of recent cycles to replay")
	flag.StringVar(&opts.cycleID, "cycle", "", "Replay only the cycle with this id")
	flag.StringVar(&configPath, "config", config.DefaultPath, "Advisor config file")
	flag.BoolVar(&opts.requant, "requant", false, "Recompute the rule engine view from each snapshot")
	flag.BoolVar(&opts.provider, "provider", false, "Re-validate recorded LLM answers through the reasoning provider")
	flag.Parse()
	logx.DisableStat()

	cfg, err := config.Load(confkit.ResolvePath(configPath))
	if err != nil {
		logx.Errorf("load config: %v", err)
		os.Exit(2)
	}

	passed, failed, err := run(context.Background(), cfg, opts)
	if err != nil {
		logx.Errorf("%v", err)
		os.Exit(2)
	}
	logx.Infof("journal replay complete: %d passed, %d failed", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// run replays the selected cycles and tallies them. A cycle fails when it cannot be
// loaded or when replaying it drifts from what was recorded.
func run(ctx context.Context, cfg *config.Config, opts options) (passed, failed int, err error) {
	reader := journal.NewReader(opts.journalDir)
	var paths []string
	if opts.cycleID != "" {
		_, path, err := reader.Find(opts.cycleID)
		if err != nil {
			return 0, 0, err
		}
		paths = []string{path}
	} else {
		paths, err = reader.List(opts.limit)
		if err != nil {
			return 0, 0, fmt.Errorf("list journal: %w", err)
		}
	}
	if len(paths) == 0 {
		logx.Info("no journal cycles found")
		return 0, 0, nil
	}

	var q *quant.Analyzer
	if opts.requant {
		q = quant.NewAnalyzer(cfg.Quant)
	}
	agg := aggregate.New(cfg.Aggregate)

	for _, path := range paths {
		rec, err := reader.Load(path)
		if err != nil {
			failed++
			logx.Errorf("[FAIL] %s: %v", filepath.Base(path), err)
			continue
		}
		label := fmt.Sprintf("%s (%s)", rec.CycleID, filepath.Base(path))

		drifts, err := journal.Reaggregate(rec, q, agg)
		if err != nil {
			failed++
			logx.Errorf("[FAIL] %s reaggregate: %v", label, err)
			continue
		}
		if opts.provider {
			more, err := replayAnswers(ctx, cfg.LLM, path, rec)
			if err != nil {
				failed++
				logx.Errorf("[FAIL] %s provider replay: %v", label, err)
				continue
			}
			drifts = append(drifts, more...)
		}
		if len(drifts) > 0 {
			failed++
			for _, d := range drifts {
				logx.Errorf("[FAIL] %s %s", label, d)
			}
			continue
		}
		passed++
		logx.Infof("[OK]   %s positions=%d degraded=%d", label, len(rec.Positions), rec.Degraded)
	}
	return passed, failed, nil
}

// replayAnswers serves each recorded llm_raw back through the provider's prompt, schema
// validation and decoding, and checks the decoded answer matches what was journaled.
func replayAnswers(ctx context.Context, base *llm.Config, path string, rec *journal.CycleRecord) ([]journal.Drift, error) {
	if base == nil {
		return nil, fmt.Errorf("no llm section in config")
	}
	cfg := base.Clone()
	cfg.Backend = llm.BackendReplay
	cfg.ReplayPath = path
	cfg.Budget = nil
	cfg.RatePerMin = 0
	cfg.Prompt.TemplatePath = confkit.ResolvePath(cfg.Prompt.TemplatePath)
	cfg.SchemaPath = confkit.ResolvePath(cfg.SchemaPath)

	backend, err := replay.Load(path)
	if err != nil {
		return nil, err
	}
	p, err := reasoning.NewProvider(cfg, backend, nil)
	if err != nil {
		return nil, err
	}

	var drifts []journal.Drift
	for _, pos := range rec.Positions {
		if pos.LLM == nil {
			continue
		}
		got, err := p.Evaluate(ctx, pos.Snapshot, pos.Quant, pos.LLM.TierUsed)
		if err != nil {
			drifts = append(drifts, journal.Drift{Symbol: pos.Symbol, Field: "llm", Recorded: string(pos.LLM.Action), Replayed: err.Error()})
			continue
		}
		if got.Action != pos.LLM.Action || got.Confidence != pos.LLM.Confidence || got.Rationale != pos.LLM.Rationale {
			drifts = append(drifts, journal.Drift{
				Symbol:   pos.Symbol,
				Field:    "llm",
				Recorded: fmt.Sprintf("%s/%d", pos.LLM.Action, pos.LLM.Confidence),
				Replayed: fmt.Sprintf("%s/%d", got.Action, got.Confidence),
			})
		}
	}
	return drifts, nil
}
