package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"magnus-advisor/internal/svc"
	"magnus-advisor/pkg/metrics"
)

type analyzeOptions struct {
	input       string
	noLLM       bool
	noJournal   bool
	asJSON      bool
	interval    time.Duration
	metricsAddr string
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Recommend an action for every position in a snapshot file",
		Long: `Reads position snapshots (JSON or YAML, "-" for stdin), runs the rule engine and the
configured reasoning backend over them and prints one recommendation per position in input
order. With --interval the file is re-read and analyzed on every tick until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "position snapshots file")
	cmd.Flags().BoolVar(&opts.noLLM, "no-llm", false, "rule engine only")
	cmd.Flags().BoolVar(&opts.noJournal, "no-journal", false, "do not write a cycle file")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print results as JSON")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "repeat every interval (0 runs once)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runAnalyze(cmd *cobra.Command, root *rootOptions, opts *analyzeOptions) error {
	cfg := root.cfg.Clone()
	if opts.noJournal {
		cfg.Journal.Enabled = false
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.NewServiceContext(ctx, cfg, svc.Options{DisableLLM: opts.noLLM})
	if err != nil {
		return err
	}
	defer func() {
		if err := sc.Close(context.Background()); err != nil {
			logx.Errorf("save budget: %v", err)
		}
	}()

	if cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(cfg.Metrics.Addr, cfg.Metrics.Path)
		defer shutdown()
	}

	once := func() error {
		snaps, err := readSnapshots(opts.input, cmd.InOrStdin())
		if err != nil {
			return err
		}
		start := time.Now()
		results, path, err := sc.Run(ctx, snaps)
		if err != nil {
			// the recommendations are still valid without a journal entry
			logx.Errorf("write journal: %v", err)
		}
		if path != "" {
			logx.Infof("journal written to %s", path)
		}
		if opts.asJSON {
			return renderJSON(cmd.OutOrStdout(), results)
		}
		renderTable(cmd.OutOrStdout(), results, time.Since(start), sc.Budget)
		return nil
	}

	if opts.interval <= 0 {
		return once()
	}
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for {
		if err := once(); err != nil {
			logx.Errorf("analysis cycle failed: %v", err)
		}
		if err := sc.SaveBudget(ctx); err != nil {
			logx.Errorf("save budget: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func serveMetrics(addr, path string) func() {
	metrics.Register(nil)
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	threading.GoSafe(func() {
		logx.Infof("metrics listening on %s%s", addr, path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Errorf("metrics server: %v", err)
		}
	})
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "metrics shutdown: %v\n", err)
		}
	}
}
