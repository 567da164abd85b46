// Package journal persists one JSON file per analysis cycle so runs can be audited and
// replayed offline.
package journal

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"magnus-advisor/pkg/aggregate"
	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/portfolio"
	"magnus-advisor/pkg/position"
	"magnus-advisor/pkg/quant"
)

// CycleRecord is the on-disk shape of one batch run.
type CycleRecord struct {
	CycleID       string              `json:"cycle_id"`
	Timestamp     time.Time           `json:"timestamp"`
	Backend       string              `json:"backend,omitempty"`
	PromptDigest  string              `json:"prompt_digest,omitempty"`
	PromptVersion string              `json:"prompt_version,omitempty"`
	ElapsedMs     int64               `json:"elapsed_ms"`
	Degraded      int                 `json:"degraded"`
	Budget        *llm.BudgetSnapshot `json:"budget,omitempty"`
	Positions     []PositionRecord    `json:"positions"`
}

// PositionRecord keeps every pipeline input and output for one position. LLMRaw is the
// answer in the reasoning wire format so the replay backend can serve it again.
type PositionRecord struct {
	Symbol       string                   `json:"symbol"`
	Key          string                   `json:"key,omitempty"`
	Snapshot     position.Snapshot        `json:"snapshot"`
	Quant        quant.Recommendation     `json:"quant"`
	LLM          *llm.Recommendation      `json:"llm"`
	LLMRaw       string                   `json:"llm_raw,omitempty"`
	Outcome      string                   `json:"outcome"`
	Degradations []string                 `json:"degradations,omitempty"`
	Final        aggregate.Recommendation `json:"final"`
}

// CycleMeta carries the run-level fields of a record.
type CycleMeta struct {
	Backend       string
	PromptDigest  string
	PromptVersion string
	Elapsed       time.Duration
	Budget        *llm.BudgetSnapshot
	Now           time.Time
}

// NewCycle pairs snapshots with the results AnalyzePortfolio returned for them.
func NewCycle(snaps []position.Snapshot, results []portfolio.Result, meta CycleMeta) *CycleRecord {
	now := meta.Now
	if now.IsZero() {
		now = time.Now()
	}
	rec := &CycleRecord{
		CycleID:       uuid.NewString(),
		Timestamp:     now.UTC(),
		Backend:       meta.Backend,
		PromptDigest:  meta.PromptDigest,
		PromptVersion: meta.PromptVersion,
		ElapsedMs:     meta.Elapsed.Milliseconds(),
		Budget:        meta.Budget,
		Positions:     make([]PositionRecord, 0, len(results)),
	}
	for i, res := range results {
		p := PositionRecord{
			Symbol:       res.Symbol,
			Quant:        res.SourceQuant,
			LLM:          res.SourceLLM,
			Outcome:      string(res.Outcome),
			Degradations: res.Degradations,
			Final:        res.Recommendation,
		}
		if i < len(snaps) {
			p.Snapshot = snaps[i]
			p.Key = snaps[i].Key()
			// the orchestrator stamped the batch time into undated snapshots
			if p.Snapshot.AsOf.IsZero() {
				p.Snapshot.AsOf = res.GeneratedAt
			}
		}
		if res.SourceLLM != nil {
			p.LLMRaw = rawAnswer(res.SourceLLM)
		}
		if res.Degraded() {
			rec.Degraded++
		}
		rec.Positions = append(rec.Positions, p)
	}
	return rec
}

func rawAnswer(rec *llm.Recommendation) string {
	data, err := json.Marshal(struct {
		Action     string `json:"action"`
		Confidence int    `json:"confidence"`
		Rationale  string `json:"rationale"`
	}{string(rec.Action), rec.Confidence, rec.Rationale})
	if err != nil {
		return ""
	}
	return string(data)
}
