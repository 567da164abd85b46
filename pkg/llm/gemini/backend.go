// Package gemini adapts the Google Gemini API to llm.Backend.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"magnus-advisor/pkg/llm"
)

const backendName = "gemini"

func float64Ptr(v float64) *float64 { return &v }

// RecommendationSchema mirrors the JSON schema the reasoning layer validates against.
var RecommendationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"action": {
			Type:        genai.TypeString,
			Description: "Recommended management action",
			Enum:        []string{"hold", "take_profit", "cut_loss", "roll", "close", "hedge"},
		},
		"confidence": {
			Type:        genai.TypeInteger,
			Description: "Confidence in the action, 0-100",
			Minimum:     float64Ptr(0),
			Maximum:     float64Ptr(100),
		},
		"rationale": {
			Type:        genai.TypeString,
			Description: "Short explanation grounded in the supplied metrics",
		},
	},
	Required:         []string{"action", "confidence", "rationale"},
	PropertyOrdering: []string{"action", "confidence", "rationale"},
}

// Options configures the backend.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Backend calls models.generateContent with a JSON response schema.
type Backend struct {
	client *genai.Client
}

// New builds a Gemini API client.
func New(ctx context.Context, opts Options) (*Backend, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Backend{client: client}, nil
}

func (b *Backend) Name() string { return backendName }

// Complete issues one generateContent call. The request's generic schema is ignored in
// favour of RecommendationSchema since the Gemini schema dialect is narrower.
func (b *Backend) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
		ResponseSchema:   RecommendationSchema,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := b.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.User), cfg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("gemini: empty response")
	}
	out := &llm.Completion{Content: text, Model: resp.ModelVersion}
	if out.Model == "" {
		out.Model = req.Model
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int64(u.PromptTokenCount),
			CompletionTokens: int64(u.CandidatesTokenCount),
		}
	}
	return out, nil
}
