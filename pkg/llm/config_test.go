package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleConfig = `
backend: openai
api_key: ${TEST_ADVISOR_KEY}
default_model: gpt-4o-mini
timeout: 8s
max_retries: 0
models:
  deep:
    model_name: gpt-4o
    cost_tier: critical
    priority: 10
  deep-fallback:
    model_name: gpt-4.1
    cost_tier: critical
    priority: 1
  mid:
    model_name: gpt-4o-mini
    cost_tier: standard
budget:
  daily_limit_usd: 2
  monthly_limit_usd: 40
  tier_cost_usd:
    critical: 0.12
`

func decodeConfig(t *testing.T, raw string) *Config {
	t.Helper()
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))
	return &cfg
}

func TestConfigPrepare(t *testing.T) {
	t.Setenv("TEST_ADVISOR_KEY", "sk-test")
	t.Setenv(envAPIKey, "")
	t.Setenv(envTimeout, "")
	cfg := decodeConfig(t, sampleConfig)
	require.NoError(t, cfg.Prepare())

	require.Equal(t, "sk-test", cfg.APIKey)
	require.Equal(t, 8*time.Second, cfg.Timeout)
	require.Equal(t, defaultOpenAIURL, cfg.BaseURL)
	require.Equal(t, defaultMaxTokens, cfg.MaxTokens)
	require.Equal(t, defaultPromptFile, cfg.Prompt.TemplatePath)
	require.Equal(t, 80, cfg.Budget.AlertThresholdPct)

	require.Equal(t, "gpt-4o", cfg.ModelFor(TierCritical))
	require.Equal(t, "gpt-4o-mini", cfg.ModelFor(TierStandard))
	require.Equal(t, "gpt-4o-mini", cfg.ModelFor(TierBulk))

	require.InDelta(t, 0.12, cfg.Budget.EstimateFor(TierCritical), 1e-9)
	require.InDelta(t, 0.03, cfg.Budget.EstimateFor(TierStandard), 1e-9)
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv("TEST_ADVISOR_KEY", "sk-file")
	t.Setenv(envAPIKey, "sk-env")
	t.Setenv(envTimeout, "3s")
	t.Setenv(envDailyLimit, "5.5")
	cfg := decodeConfig(t, sampleConfig)
	require.NoError(t, cfg.Prepare())

	require.Equal(t, "sk-env", cfg.APIKey)
	require.Equal(t, 3*time.Second, cfg.Timeout)
	require.InDelta(t, 5.5, cfg.Budget.DailyLimitUSD, 1e-9)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Setenv(envAPIKey, "")
	t.Setenv("OPENAI_API_KEY", "")
	cases := map[string]string{
		"missing key":    "backend: openai\ndefault_model: m\n",
		"bad backend":    "backend: carrier-pigeon\ndefault_model: m\n",
		"bad timeout":    "backend: ollama\ndefault_model: m\ntimeout: soon\n",
		"replay no path": "backend: replay\ndefault_model: m\n",
		"bad tier":       "backend: ollama\ndefault_model: m\nmodels:\n  x:\n    cost_tier: premium\n",
		"daily>monthly":  "backend: ollama\ndefault_model: m\nbudget:\n  daily_limit_usd: 5\n  monthly_limit_usd: 1\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := decodeConfig(t, raw)
			require.Error(t, cfg.Prepare())
		})
	}
}

func TestConfigClone(t *testing.T) {
	t.Setenv("TEST_ADVISOR_KEY", "sk")
	cfg := decodeConfig(t, sampleConfig)
	require.NoError(t, cfg.Prepare())
	cp := cfg.Clone()
	cp.Models["mid"] = ModelConfig{ModelName: "other", CostTier: "standard"}
	cp.Budget.TierCostUSD["bulk"] = 1
	require.Equal(t, "gpt-4o-mini", cfg.Models["mid"].ModelName)
	require.NotContains(t, cfg.Budget.TierCostUSD, "bulk")
}
