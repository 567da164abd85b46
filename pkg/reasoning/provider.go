// Package reasoning turns a position and its rule-engine view into a schema-validated
// recommendation from whichever LLM backend was configured at startup.
package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/time/rate"

	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/metrics"
	"magnus-advisor/pkg/position"
	"magnus-advisor/pkg/quant"
)

const maxAttempts = 2

// ReasoningProvider is the boundary the LLM analyzer calls. Implementations return
// either a validated recommendation or an error; never a partial guess.
type ReasoningProvider interface {
	Name() string
	Evaluate(ctx context.Context, snap position.Snapshot, q quant.Recommendation, tier llm.Tier) (*llm.Recommendation, error)
}

// Provider is the ReasoningProvider shared by every backend.
type Provider struct {
	cfg       *llm.Config
	backend   llm.Backend
	prompt    *PromptRenderer
	validator *llm.SchemaValidator
	limiter   *rate.Limiter
	budget    *llm.CostBudget
	now       func() time.Time
}

var _ ReasoningProvider = (*Provider)(nil)

// NewProvider wires a backend with the prompt, schema and limits from cfg. budget is only
// used to price token usage and may be nil.
func NewProvider(cfg *llm.Config, backend llm.Backend, budget *llm.CostBudget) (*Provider, error) {
	if cfg == nil {
		return nil, errors.New("reasoning: config is required")
	}
	if backend == nil {
		return nil, errors.New("reasoning: backend is required")
	}
	renderer, err := NewPromptRenderer(cfg.Prompt.TemplatePath, &llm.TemplateVersionGuard{
		ExpectedVersion:      cfg.Prompt.ExpectedVersion,
		RequireVersionHeader: true,
		StrictMode:           cfg.Prompt.StrictVersion,
	})
	if err != nil {
		return nil, err
	}
	validator, err := llm.NewSchemaValidatorFromFile(cfg.SchemaPath)
	if err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if cfg.RatePerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60.0), max(1, cfg.RateBurst))
	}
	return &Provider{
		cfg:       cfg.Clone(),
		backend:   backend,
		prompt:    renderer,
		validator: validator,
		limiter:   limiter,
		budget:    budget,
		now:       time.Now,
	}, nil
}

func (p *Provider) Name() string { return p.backend.Name() }

// PromptDigest identifies the template in audit records.
func (p *Provider) PromptDigest() string { return p.prompt.Digest() }

// PromptVersion is the template's declared Version header.
func (p *Provider) PromptVersion() string { return p.prompt.TemplateVersion() }

// Evaluate renders the review prompt, calls the backend and validates the answer. A
// response that fails the schema is retried once with stricter instructions; a second
// failure is a *llm.ValidationError. The whole exchange, retry included, is bounded by the
// configured timeout and reported as llm.ErrProviderTimeout when it expires.
func (p *Provider) Evaluate(ctx context.Context, snap position.Snapshot, q quant.Recommendation, tier llm.Tier) (*llm.Recommendation, error) {
	user, err := p.prompt.Render(PromptInputs{Snapshot: snap, Quant: q, Tier: tier})
	if err != nil {
		return nil, err
	}
	model := p.cfg.ModelFor(tier)

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := p.now()
	var usage llm.Usage
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req := llm.CompletionRequest{
			Subject:     snap.Symbol,
			Key:         snap.Key(),
			Model:       model,
			System:      systemFor(attempt, lastErr),
			User:        user,
			SchemaName:  p.cfg.SchemaName,
			Schema:      p.validator.Document(),
			MaxTokens:   p.cfg.MaxTokensFor(model),
			Temperature: p.cfg.TemperatureFor(model),
		}
		if llm.VerboseLogging() {
			logx.WithContext(ctx).Infof("reasoning: %s attempt %d prompt:\n%s\n%s", snap.Symbol, attempt, req.System, req.User)
		}

		comp, err := p.complete(callCtx, req)
		if err != nil {
			err = p.classify(callCtx, err)
			metrics.ObserveProvider(p.Name(), string(tier), outcomeOf(err), p.now().Sub(start))
			return nil, err
		}
		usage.PromptTokens += comp.Usage.PromptTokens
		usage.CompletionTokens += comp.Usage.CompletionTokens
		if llm.VerboseLogging() {
			logx.WithContext(ctx).Infof("reasoning: %s attempt %d response: %s", snap.Symbol, attempt, comp.Content)
		}

		rec, verr := p.decode(comp.Content)
		if verr == nil {
			elapsed := p.now().Sub(start)
			rec.TierUsed = tier
			rec.ProviderName = p.Name()
			rec.Model = comp.Model
			if rec.Model == "" {
				rec.Model = model
			}
			rec.Usage = usage
			rec.LatencyMs = elapsed.Milliseconds()
			rec.CostUSD = p.cost(model, tier, usage)
			metrics.ObserveProvider(p.Name(), string(tier), "ok", elapsed)
			metrics.ProviderTokens.WithLabelValues(p.Name(), "prompt").Add(float64(usage.PromptTokens))
			metrics.ProviderTokens.WithLabelValues(p.Name(), "completion").Add(float64(usage.CompletionTokens))
			return rec, nil
		}
		lastErr = verr
		if attempt < maxAttempts {
			metrics.ValidationRetries.WithLabelValues(p.Name()).Inc()
			logx.WithContext(ctx).Infow("reasoning response rejected, retrying with strict instructions",
				logx.Field("symbol", snap.Symbol),
				logx.Field("backend", p.Name()),
				logx.Field("error", verr.Error()))
		}
	}
	err = &llm.ValidationError{Attempts: maxAttempts, Reason: lastErr.Error()}
	metrics.ObserveProvider(p.Name(), string(tier), outcomeOf(err), p.now().Sub(start))
	return nil, err
}

func (p *Provider) complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			// Wait fails early when the token would arrive after the deadline
			if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
				return nil, context.DeadlineExceeded
			}
			return nil, err
		}
	}
	return p.backend.Complete(ctx, req)
}

func (p *Provider) classify(callCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", llm.ErrProviderTimeout, p.Name(), p.cfg.Timeout)
	}
	return fmt.Errorf("reasoning: backend %s: %w", p.Name(), err)
}

type answer struct {
	Action     string `json:"action"`
	Confidence int    `json:"confidence"`
	Rationale  string `json:"rationale"`
}

func (p *Provider) decode(content string) (*llm.Recommendation, error) {
	if err := p.validator.ValidateBytes([]byte(content)); err != nil {
		return nil, err
	}
	var a answer
	if err := json.Unmarshal([]byte(content), &a); err != nil {
		return nil, fmt.Errorf("reasoning: decode response: %w", err)
	}
	action, ok := position.ParseAction(a.Action)
	if !ok {
		return nil, fmt.Errorf("reasoning: unknown action %q", a.Action)
	}
	if a.Confidence < 0 || a.Confidence > 100 {
		return nil, fmt.Errorf("reasoning: confidence %d out of range", a.Confidence)
	}
	return &llm.Recommendation{
		Action:     action,
		Confidence: a.Confidence,
		Rationale:  a.Rationale,
	}, nil
}

func (p *Provider) cost(model string, tier llm.Tier, usage llm.Usage) float64 {
	if c, ok := p.budget.CostFor(model, usage); ok {
		return c
	}
	return p.cfg.Budget.EstimateFor(tier)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, llm.ErrProviderTimeout):
		return "timeout"
	case errors.Is(err, llm.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
