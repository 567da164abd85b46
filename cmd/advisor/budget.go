package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"magnus-advisor/internal/persistence/rediscache"
	"magnus-advisor/pkg/llm"
)

func newBudgetCmd(root *rootOptions) *cobra.Command {
	var reset string
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show reasoning spend limits, tier estimates and persisted spend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if !cfg.LLMEnabled() || cfg.LLM.Budget == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no llm budget configured: spend is unlimited")
				return nil
			}
			budget := llm.NewCostBudget(cfg.LLM.Budget)

			var store *rediscache.Store
			if cfg.Cache.Redis.Enabled() {
				s, err := rediscache.New(cfg.Cache.Redis)
				if err != nil {
					return err
				}
				store = s
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				defer cancel()
				today, month, err := store.LoadBudget(ctx, time.Now())
				if err != nil {
					return err
				}
				budget.Restore(today, month)
			}

			switch reset {
			case "":
			case "daily":
				budget.ResetDaily()
			case "monthly":
				budget.ResetMonthly()
			default:
				return fmt.Errorf("--reset must be daily or monthly, got %q", reset)
			}
			if reset != "" {
				if store == nil {
					return fmt.Errorf("--reset needs a redis store to persist the ledger")
				}
				if err := store.SaveBudget(cmd.Context(), budget.Snapshot(), time.Now()); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			snap := budget.Snapshot()
			fmt.Fprintf(out, "daily:   %s of %s\n", usd(snap.SpentTodayUSD), limit(snap.DailyLimitUSD))
			fmt.Fprintf(out, "monthly: %s of %s\n", usd(snap.SpentThisMonthUSD), limit(snap.MonthlyLimitUSD))
			fmt.Fprintf(out, "usage:   %s%% (alert at %d%%)%s\n",
				humanize.FormatFloat("#,###.#", snap.UsagePct), snap.AlertThresholdPct, alertMark(snap.AlertTriggered))

			daily, _ := budget.Remaining()
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "\nTIER\tMODEL\tEST/CALL\tCALLS LEFT TODAY")
			for _, t := range llm.Tiers {
				est := cfg.LLM.Budget.EstimateFor(t)
				left := "unlimited"
				if snap.DailyLimitUSD > 0 && est > 0 {
					left = humanize.Comma(int64(daily / est))
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t, cfg.LLM.ModelFor(t), usd(est), left)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&reset, "reset", "", "clear the daily or monthly counter in redis")
	return cmd
}
