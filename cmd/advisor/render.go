package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"magnus-advisor/pkg/advisor"
	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/portfolio"
)

func renderJSON(w io.Writer, results []portfolio.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func renderTable(w io.Writer, results []portfolio.Result, elapsed time.Duration, budget *llm.CostBudget) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tACTION\tCONF\tURGENCY\tRULE\tQUANT\tLLM\tCOST\tNOTES")

	var spent float64
	degraded := 0
	for _, r := range results {
		llmView := "-"
		cost := "-"
		if r.SourceLLM != nil {
			llmView = fmt.Sprintf("%s/%d (%s)", r.SourceLLM.Action, r.SourceLLM.Confidence, r.SourceLLM.TierUsed)
			if r.Outcome == advisor.OutcomeComputed {
				spent += r.SourceLLM.CostUSD
				cost = usd(r.SourceLLM.CostUSD)
			}
		}
		if r.Degraded() {
			degraded++
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s/%d\t%s\t%s\t%s\n",
			r.Symbol, r.FinalAction, r.FinalConfidence, r.Urgency, r.ConflictRule,
			r.SourceQuant.Action, r.SourceQuant.Confidence, llmView, cost,
			strings.Join(r.Degradations, ","))
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\n%s positions, %s degraded, %s, spent %s\n",
		humanize.Comma(int64(len(results))), humanize.Comma(int64(degraded)),
		elapsed.Round(time.Millisecond), usd(spent))
	if budget != nil {
		snap := budget.Snapshot()
		fmt.Fprintf(w, "budget: %s of %s today (%s%%)%s\n",
			usd(snap.SpentTodayUSD), limit(snap.DailyLimitUSD),
			humanize.FormatFloat("#,###.#", snap.UsagePct), alertMark(snap.AlertTriggered))
	}
}

func usd(v float64) string {
	return "$" + humanize.FormatFloat("#,###.####", v)
}

func limit(v float64) string {
	if v <= 0 {
		return "unlimited"
	}
	return usd(v)
}

func alertMark(on bool) string {
	if on {
		return " ALERT"
	}
	return ""
}
