// Package replay serves recorded reasoning responses, for offline runs and journal replays.
package replay

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"magnus-advisor/pkg/llm"
)

const backendName = "replay"

// Backend answers from a JSON document. Two layouts are understood:
//
//	{"responses": {"AAPL": {...}, "default": {...}}}
//	a journal cycle file, using positions[].llm_raw
//
// Responses are matched by request key first, then by subject.
type Backend struct {
	doc gjson.Result
}

// Load reads the document at path.
func Load(path string) (*Backend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay: read %q: %w", path, err)
	}
	return New(data)
}

// New wraps an in-memory document.
func New(data []byte) (*Backend, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("replay: document is not valid json")
	}
	return &Backend{doc: gjson.ParseBytes(data)}, nil
}

func (b *Backend) Name() string { return backendName }

// Complete returns the recorded response for req.Key or req.Subject.
func (b *Backend) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hit, ok := b.lookup(req.Key, req.Subject)
	if !ok {
		return nil, fmt.Errorf("replay: no recorded response for %q", req.Subject)
	}
	content := hit.Raw
	if hit.Type == gjson.String {
		content = hit.String()
	}
	return &llm.Completion{Content: content, Model: backendName}, nil
}

func (b *Backend) lookup(key, subject string) (gjson.Result, bool) {
	var paths []string
	if key != "" {
		paths = append(paths,
			"responses."+escapePath(key),
			"positions.#(key=="+strconv.Quote(key)+").llm_raw",
		)
	}
	paths = append(paths,
		"responses."+escapePath(subject),
		// journals written before positions carried a key
		"positions.#(symbol=="+strconv.Quote(subject)+").llm_raw",
		"responses.default",
	)
	for _, p := range paths {
		if r := b.doc.Get(p); r.Exists() && r.Type != gjson.Null {
			return r, true
		}
	}
	return gjson.Result{}, false
}

// escapePath escapes gjson path metacharacters in a single key.
func escapePath(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
