package llm

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// PromptTemplate is a parsed text/template with a content digest for audit.
type PromptTemplate struct {
	name   string
	raw    []byte
	tpl    *template.Template
	digest string
}

// DefaultPromptFuncs are available to every template.
var DefaultPromptFuncs = template.FuncMap{
	"pct":   func(v float64) string { return fmt.Sprintf("%.2f%%", v) },
	"usd":   func(v float64) string { return fmt.Sprintf("$%.2f", v) },
	"f2":    func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"f4":    func(v float64) string { return fmt.Sprintf("%.4f", v) },
	"abs":   math.Abs,
	"upper": strings.ToUpper,
}

// NewPromptTemplate reads and parses the template at path. funcs extend DefaultPromptFuncs.
func NewPromptTemplate(path string, funcs template.FuncMap) (*PromptTemplate, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("llm: prompt template path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("llm: read prompt template %q: %w", path, err)
	}
	return ParsePromptTemplate(filepath.Base(path), data, funcs)
}

// ParsePromptTemplate parses an in-memory template.
func ParsePromptTemplate(name string, data []byte, funcs template.FuncMap) (*PromptTemplate, error) {
	tpl := template.New(name).Option("missingkey=error").Funcs(DefaultPromptFuncs)
	if funcs != nil {
		tpl = tpl.Funcs(funcs)
	}
	parsed, err := tpl.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("llm: parse prompt template %q: %w", name, err)
	}
	sum := sha256.Sum256(data)
	return &PromptTemplate{
		name:   name,
		raw:    data,
		tpl:    parsed,
		digest: hex.EncodeToString(sum[:]),
	}, nil
}

// Render executes the template against data.
func (p *PromptTemplate) Render(data any) (string, error) {
	if p == nil || p.tpl == nil {
		return "", fmt.Errorf("llm: prompt template not initialised")
	}
	var buf bytes.Buffer
	if err := p.tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("llm: render prompt %q: %w", p.name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Name is the template file name.
func (p *PromptTemplate) Name() string { return p.name }

// Raw returns the unparsed template bytes.
func (p *PromptTemplate) Raw() []byte { return p.raw }

// Digest is the sha256 of the template source.
func (p *PromptTemplate) Digest() string {
	if p == nil {
		return ""
	}
	return p.digest
}
