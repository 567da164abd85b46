package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"magnus-advisor/pkg/position"
)

// Tier is the cost/latency class a reasoning call is routed to.
type Tier string

const (
	TierCritical Tier = "critical"
	TierStandard Tier = "standard"
	TierBulk     Tier = "bulk"
)

// Tiers lists tiers from most to least expensive; it is also the downgrade order.
var Tiers = []Tier{TierCritical, TierStandard, TierBulk}

// ParseTier accepts the canonical lowercase names.
func ParseTier(raw string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Tiers {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// Usage is the token accounting reported by a backend.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens" msgpack:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens" msgpack:"completion_tokens"`
}

// Total returns prompt + completion tokens.
func (u Usage) Total() int64 { return u.PromptTokens + u.CompletionTokens }

// Recommendation is a schema-validated answer from a reasoning backend.
type Recommendation struct {
	Action       position.Action `json:"action" msgpack:"action"`
	Confidence   int             `json:"confidence" msgpack:"confidence"`
	Rationale    string          `json:"rationale" msgpack:"rationale"`
	TierUsed     Tier            `json:"tier_used" msgpack:"tier_used"`
	ProviderName string          `json:"provider_name" msgpack:"provider_name"`
	Model        string          `json:"model,omitempty" msgpack:"model"`
	CostUSD      float64         `json:"cost_usd" msgpack:"cost_usd"`
	LatencyMs    int64           `json:"latency_ms" msgpack:"latency_ms"`
	Usage        Usage           `json:"usage" msgpack:"usage"`
}

// CompletionRequest is what the reasoning layer asks of a backend. Schema is a JSON
// schema document the backend should pass to the vendor's structured-output feature.
type CompletionRequest struct {
	// Subject identifies what is being reasoned about, e.g. the position symbol.
	Subject string
	// Key tells apart requests that share a Subject, e.g. two contracts on one underlying.
	Key         string
	Model       string
	System      string
	User        string
	SchemaName  string
	Schema      map[string]any
	MaxTokens   int
	Temperature float64
}

// Completion is the raw structured text a backend produced.
type Completion struct {
	Content string
	Model   string
	Usage   Usage
}

// Backend is one vendor integration. Implementations must honor ctx cancellation and
// must not interpret the content; validation happens in the caller.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

var (
	// ErrProviderTimeout marks a call that exceeded its deadline.
	ErrProviderTimeout = errors.New("llm: provider timeout")
	// ErrValidation marks a response that never matched the schema.
	ErrValidation = errors.New("llm: response failed schema validation")
	// ErrBudgetExhausted is returned when no tier fits the remaining budget.
	ErrBudgetExhausted = errors.New("llm: budget exhausted for current period")
)

// ValidationError carries the last schema failure after all attempts.
type ValidationError struct {
	Attempts int
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("llm: response invalid after %d attempt(s): %s", e.Attempts, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
