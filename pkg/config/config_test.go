package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magnus-advisor/pkg/aggregate"
	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/portfolio"
	"magnus-advisor/pkg/quant"
	"magnus-advisor/pkg/tier"
)

func TestLoadEmptyUsesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)

	assert.False(t, cfg.LLMEnabled())
	assert.Equal(t, aggregate.DefaultConfig(), cfg.Aggregate)
	assert.Equal(t, portfolio.DefaultConcurrency, cfg.Portfolio.Concurrency)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "journal", cfg.Journal.Dir)
	assert.Equal(t, "info", cfg.Log.LogConf().Level)
	assert.False(t, cfg.Cache.Redis.Enabled())
}

func TestLoadSections(t *testing.T) {
	t.Setenv("TEST_ADVISOR_KEY", "sk-test")
	doc := `
log:
  level: error
aggregate:
  low_confidence: 65
cache:
  ttl: 10m
  price_bucket_pct: 2.5
portfolio:
  concurrency: 8
  deadline: 45s
llm:
  backend: openai
  api_key: ${TEST_ADVISOR_KEY}
  default_model: gpt-4o-mini
  timeout: 5s
  budget:
    daily_limit_usd: 2
`
	cfg, err := LoadFromReader(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 65, cfg.Aggregate.LowConfidence)
	assert.Equal(t, 60, defaults(t).Aggregate.LowConfidence)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.InDelta(t, 2.5, cfg.Cache.PriceBucketPct, 1e-9)
	assert.Equal(t, 8, cfg.Portfolio.Concurrency)
	assert.Equal(t, 45*time.Second, cfg.Portfolio.Deadline)

	require.True(t, cfg.LLMEnabled())
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	assert.InDelta(t, 0.03, cfg.LLM.Budget.EstimateFor(llm.TierStandard), 1e-9)
}

func TestLoadRejectsContradictions(t *testing.T) {
	cases := map[string]string{
		"unknown field":        "portfolio:\n  workers: 3\n",
		"close beyond roll":    "quant:\n  close_dte: 9\n  roll_dte: 7\n",
		"positive big loss":    "aggregate:\n  big_loss_usd: 100\n",
		"bad log level":        "log:\n  level: loud\n",
		"negative deadline":    "portfolio:\n  deadline: -1s\n",
		"close beyond urgency": "quant:\n  close_dte: 7\n  roll_dte: 9\naggregate:\n  urgency_medium_dte: 5\n",
		"deadline below timeout": `
portfolio:
  deadline: 2s
llm:
  backend: ollama
  default_model: llama3.1
  timeout: 10s
`,
		"daily above monthly": `
llm:
  backend: ollama
  default_model: llama3.1
  budget:
    daily_limit_usd: 10
    monthly_limit_usd: 5
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadKeepsExplicitZeroThresholds(t *testing.T) {
	doc := `
quant:
  close_dte: 0
tier:
  critical_dte: 0
aggregate:
  low_confidence: 0
  agreement_bonus: 0
`
	cfg, err := LoadFromReader(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Zero(t, cfg.Quant.CloseDTE)
	assert.Zero(t, cfg.Tier.CriticalDTE)
	assert.Zero(t, cfg.Aggregate.LowConfidence)
	assert.Zero(t, cfg.Aggregate.AgreementBonus)

	// keys the file leaves out keep their defaults
	assert.Equal(t, quant.DefaultConfig().RollDTE, cfg.Quant.RollDTE)
	assert.Equal(t, tier.DefaultConfig().BulkMinDTE, cfg.Tier.BulkMinDTE)
	assert.Equal(t, aggregate.DefaultConfig().BigLossUSD, cfg.Aggregate.BigLossUSD)

	// an empty section is the same as no section
	cfg, err = LoadFromReader(strings.NewReader("aggregate:\n"))
	require.NoError(t, err)
	assert.Equal(t, aggregate.DefaultConfig(), cfg.Aggregate)
}

func TestCloneIsolatesLLM(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("llm:\n  backend: ollama\n  default_model: llama3.1\n"))
	require.NoError(t, err)

	cp := cfg.Clone()
	cp.LLM.DefaultModel = "other"
	cp.Portfolio.Concurrency = 1
	assert.Equal(t, "llama3.1", cfg.LLM.DefaultModel)
	assert.Equal(t, portfolio.DefaultConcurrency, cfg.Portfolio.Concurrency)
	assert.Nil(t, (*Config)(nil).Clone())
}

func defaults(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	return cfg
}
