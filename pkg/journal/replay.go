package journal

import (
	"bytes"
	"encoding/json"
	"fmt"

	"magnus-advisor/pkg/aggregate"
	"magnus-advisor/pkg/quant"
)

// Drift describes a recorded value that replay no longer reproduces.
type Drift struct {
	Symbol   string
	Field    string
	Recorded string
	Replayed string
}

func (d Drift) String() string {
	return fmt.Sprintf("%s %s: recorded %s, replayed %s", d.Symbol, d.Field, d.Recorded, d.Replayed)
}

// Reaggregate feeds each position's recorded quant and LLM views back through agg and
// reports every final recommendation that differs. When q is non-nil the quant view is
// recomputed from the snapshot too.
func Reaggregate(rec *CycleRecord, q *quant.Analyzer, agg *aggregate.Aggregator) ([]Drift, error) {
	if rec == nil {
		return nil, nil
	}
	var drifts []Drift
	for _, p := range rec.Positions {
		qr := p.Quant
		if q != nil {
			qr = q.Analyze(p.Snapshot)
			if qr.Action != p.Quant.Action || qr.Confidence != p.Quant.Confidence {
				drifts = append(drifts, Drift{
					Symbol:   p.Symbol,
					Field:    "quant",
					Recorded: fmt.Sprintf("%s/%d", p.Quant.Action, p.Quant.Confidence),
					Replayed: fmt.Sprintf("%s/%d", qr.Action, qr.Confidence),
				})
			}
		}
		replayed := agg.Aggregate(qr, p.LLM, p.Snapshot)
		want, err := json.Marshal(p.Final)
		if err != nil {
			return nil, fmt.Errorf("journal: encode recorded %s: %w", p.Symbol, err)
		}
		got, err := json.Marshal(replayed)
		if err != nil {
			return nil, fmt.Errorf("journal: encode replayed %s: %w", p.Symbol, err)
		}
		if !bytes.Equal(want, got) {
			drifts = append(drifts, Drift{
				Symbol:   p.Symbol,
				Field:    "final",
				Recorded: fmt.Sprintf("%s/%d (%s)", p.Final.FinalAction, p.Final.FinalConfidence, p.Final.ConflictRule),
				Replayed: fmt.Sprintf("%s/%d (%s)", replayed.FinalAction, replayed.FinalConfidence, replayed.ConflictRule),
			})
		}
	}
	return drifts, nil
}
