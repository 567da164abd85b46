package llm

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/position_recommendation.json
var defaultRecommendationSchema []byte

// SchemaValidator validates backend output against a JSON schema.
type SchemaValidator struct {
	raw    []byte
	doc    map[string]any
	schema *gojsonschema.Schema
}

// DefaultSchemaValidator compiles the built-in recommendation schema.
func DefaultSchemaValidator() (*SchemaValidator, error) {
	return NewSchemaValidator(defaultRecommendationSchema)
}

// NewSchemaValidatorFromFile compiles the schema at path; an empty path yields the default.
func NewSchemaValidatorFromFile(path string) (*SchemaValidator, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultSchemaValidator()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("llm: read schema %q: %w", path, err)
	}
	return NewSchemaValidator(data)
}

// NewSchemaValidator compiles a schema document.
func NewSchemaValidator(raw []byte) (*SchemaValidator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("llm: parse schema: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("llm: decode schema: %w", err)
	}
	return &SchemaValidator{raw: raw, doc: doc, schema: compiled}, nil
}

// Document returns the schema as a generic map for vendor structured-output options.
// The "$schema" keyword is dropped since several vendors reject it.
func (v *SchemaValidator) Document() map[string]any {
	out := make(map[string]any, len(v.doc))
	for k, val := range v.doc {
		if k == "$schema" || k == "title" {
			continue
		}
		out[k] = val
	}
	return out
}

// ValidateBytes returns nil when raw satisfies the schema. Empty input is invalid.
func (v *SchemaValidator) ValidateBytes(raw []byte) error {
	if v == nil || v.schema == nil {
		return nil
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return fmt.Errorf("llm: empty response")
	}
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("llm: schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	if len(result.Errors()) == 0 {
		return fmt.Errorf("llm: schema validation failed")
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("llm: schema validation failed: %s", strings.Join(msgs, "; "))
}
