package reasoning

import (
	"fmt"
	"strings"

	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/position"
	"magnus-advisor/pkg/quant"
)

const systemPrompt = `You are a risk manager reviewing one open options or stock position.
Choose exactly one action: hold, take_profit, cut_loss, roll, close, hedge.
Reply with a single JSON object {"action": ..., "confidence": 0-100 integer, "rationale": ...} and nothing else.`

const strictSuffix = `
Your previous reply was rejected: %s
Return ONLY the JSON object. No prose, no markdown fences, no extra keys. "action" must be one of the six lowercase values.`

// PromptInputs is the data a review template renders.
type PromptInputs struct {
	Snapshot position.Snapshot
	Quant    quant.Recommendation
	Tier     llm.Tier
	Actions  []position.Action
}

// PromptRenderer renders the position review template.
type PromptRenderer struct {
	template        *llm.PromptTemplate
	templateVersion string
}

// NewPromptRenderer parses the template at path applying the optional version guard.
func NewPromptRenderer(path string, guard *llm.TemplateVersionGuard) (*PromptRenderer, error) {
	tpl, err := llm.NewPromptTemplate(path, nil)
	if err != nil {
		return nil, err
	}
	var version string
	if guard != nil {
		g := *guard
		if strings.TrimSpace(g.Component) == "" {
			g.Component = "reasoning.prompt"
		}
		version, err = g.Check(tpl.Name(), tpl.Raw())
		if err != nil {
			return nil, err
		}
	}
	return &PromptRenderer{template: tpl, templateVersion: version}, nil
}

// Render executes the template using the supplied inputs.
func (r *PromptRenderer) Render(inputs PromptInputs) (string, error) {
	if r == nil || r.template == nil {
		return "", fmt.Errorf("reasoning prompt renderer not initialised")
	}
	if strings.TrimSpace(inputs.Snapshot.Symbol) == "" {
		return "", fmt.Errorf("reasoning prompt renderer requires a position")
	}
	if inputs.Actions == nil {
		inputs.Actions = position.Actions
	}
	return r.template.Render(inputs)
}

// Digest exposes the template digest for version tracking.
func (r *PromptRenderer) Digest() string {
	if r == nil || r.template == nil {
		return ""
	}
	return r.template.Digest()
}

// TemplateVersion exposes the parsed version header, if available.
func (r *PromptRenderer) TemplateVersion() string {
	if r == nil {
		return ""
	}
	return r.templateVersion
}

func systemFor(attempt int, priorErr error) string {
	if attempt <= 1 || priorErr == nil {
		return systemPrompt
	}
	return systemPrompt + fmt.Sprintf(strictSuffix, priorErr.Error())
}
