package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"magnus-advisor/pkg/llm"
)

const generateResponse = `{
  "candidates": [{
    "content": {"role": "model", "parts": [{"text": "{\"action\":\"roll\",\"confidence\":71,\"rationale\":\"Short put is 4% in the money with 5 days left.\"}"}]},
    "finishReason": "STOP"
  }],
  "usageMetadata": {"promptTokenCount": 380, "candidatesTokenCount": 31, "totalTokenCount": 411},
  "modelVersion": "gemini-2.0-flash"
}`

func TestBackendComplete(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, generateResponse)
	}))
	defer srv.Close()

	backend, err := New(context.Background(), Options{APIKey: "test-key", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	out, err := backend.Complete(context.Background(), llm.CompletionRequest{
		Model:       "gemini-2.0-flash",
		System:      "You review option positions.",
		User:        "TSLA short put, 5 DTE, ITM",
		MaxTokens:   256,
		Temperature: 0.1,
	})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(gotPath, ":generateContent"), gotPath)
	require.Contains(t, gotBody, "application/json")
	require.Equal(t, "gemini-2.0-flash", out.Model)
	require.EqualValues(t, 380, out.Usage.PromptTokens)
	require.EqualValues(t, 31, out.Usage.CompletionTokens)
	require.Contains(t, out.Content, `"roll"`)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.Error(t, err)
}
