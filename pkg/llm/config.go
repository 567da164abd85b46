package llm

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend kinds understood by reasoning.New.
const (
	BackendOpenAI = "openai"
	BackendGemini = "gemini"
	BackendOllama = "ollama"
	BackendReplay = "replay"
)

const (
	defaultBackend      = BackendOpenAI
	defaultOpenAIURL    = "https://api.openai.com/v1"
	defaultOllamaURL    = "http://localhost:11434"
	defaultTimeout      = 10 * time.Second
	defaultMaxTokens    = 512
	defaultTemperature  = 0.2
	defaultRatePerMin   = 60
	defaultSchemaName   = "position_recommendation"
	defaultAlertPct     = 80
	defaultPromptFile   = "etc/prompts/reasoning/position_review.tmpl"
	defaultPromptSchema = "v1"

	envAPIKey       = "ADVISOR_LLM_API_KEY"
	envBaseURL      = "ADVISOR_LLM_BASE_URL"
	envBackend      = "ADVISOR_LLM_BACKEND"
	envDefaultModel = "ADVISOR_LLM_DEFAULT_MODEL"
	envTimeout      = "ADVISOR_LLM_TIMEOUT"
	envMaxRetries   = "ADVISOR_LLM_MAX_RETRIES"
	envDailyLimit   = "ADVISOR_LLM_DAILY_LIMIT_USD"
)

// vendorKeyEnv is consulted when api_key is empty after expansion.
var vendorKeyEnv = map[string]string{
	BackendOpenAI: "OPENAI_API_KEY",
	BackendGemini: "GEMINI_API_KEY",
}

// Config holds runtime settings for the reasoning provider.
type Config struct {
	Backend      string                 `yaml:"backend"`
	BaseURL      string                 `yaml:"base_url"`
	APIKey       string                 `yaml:"api_key"`
	DefaultModel string                 `yaml:"default_model"`
	Timeout      time.Duration          `yaml:"-"`
	MaxRetries   int                    `yaml:"max_retries"`
	MaxTokens    int                    `yaml:"max_tokens"`
	Temperature  *float64               `yaml:"temperature,omitempty"`
	RatePerMin   int                    `yaml:"rate_limit_per_minute"`
	RateBurst    int                    `yaml:"rate_limit_burst"`
	Models       map[string]ModelConfig `yaml:"models"`
	Budget       *BudgetConfig          `yaml:"budget"`
	Prompt       PromptConfig           `yaml:"prompt"`
	SchemaPath   string                 `yaml:"schema_path"`
	SchemaName   string                 `yaml:"schema_name"`
	ReplayPath   string                 `yaml:"replay_path"`
	Verbose      bool                   `yaml:"verbose"`

	timeoutRaw string
}

// ModelConfig maps a model alias onto a tier.
type ModelConfig struct {
	ModelName   string   `yaml:"model_name"`
	CostTier    string   `yaml:"cost_tier"`
	Priority    int      `yaml:"priority,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
}

// PromptConfig points at the reasoning prompt template.
type PromptConfig struct {
	TemplatePath    string `yaml:"template_path"`
	ExpectedVersion string `yaml:"expected_version"`
	StrictVersion   bool   `yaml:"strict_version"`
}

// BudgetConfig controls USD spend for reasoning calls.
type BudgetConfig struct {
	DailyLimitUSD        float64            `yaml:"daily_limit_usd"`
	MonthlyLimitUSD      float64            `yaml:"monthly_limit_usd"`
	AlertThresholdPct    int                `yaml:"alert_threshold_pct"`
	AutoReset            bool               `yaml:"auto_reset"`
	TierCostUSD          map[string]float64 `yaml:"tier_cost_usd"`
	CostPerMillionTokens map[string]float64 `yaml:"cost_per_million_tokens"`
}

// DefaultTierCostUSD is the per-call estimate used when tier_cost_usd omits a tier.
var DefaultTierCostUSD = map[Tier]float64{
	TierCritical: 0.10,
	TierStandard: 0.03,
	TierBulk:     0.005,
}

func (b *BudgetConfig) Clone() *BudgetConfig {
	if b == nil {
		return nil
	}
	cp := *b
	cp.TierCostUSD = cloneFloatMap(b.TierCostUSD)
	cp.CostPerMillionTokens = cloneFloatMap(b.CostPerMillionTokens)
	return &cp
}

// EstimateFor returns the configured per-call estimate for tier.
func (b *BudgetConfig) EstimateFor(tier Tier) float64 {
	if b != nil {
		if v, ok := b.TierCostUSD[string(tier)]; ok {
			return v
		}
	}
	return DefaultTierCostUSD[tier]
}

func (b *BudgetConfig) applyDefaults() {
	if b == nil {
		return
	}
	if b.AlertThresholdPct <= 0 {
		b.AlertThresholdPct = defaultAlertPct
	}
}

// Validate ensures budget configuration is sane.
func (b *BudgetConfig) Validate() error {
	if b == nil {
		return nil
	}
	if b.DailyLimitUSD < 0 || b.MonthlyLimitUSD < 0 {
		return errors.New("llm config: budget limits cannot be negative")
	}
	if b.DailyLimitUSD > 0 && b.MonthlyLimitUSD > 0 && b.DailyLimitUSD > b.MonthlyLimitUSD {
		return errors.New("llm config: budget.daily_limit_usd exceeds monthly_limit_usd")
	}
	if b.AlertThresholdPct < 0 || b.AlertThresholdPct > 100 {
		return errors.New("llm config: budget.alert_threshold_pct must be between 0 and 100")
	}
	for name, cost := range b.TierCostUSD {
		if _, ok := ParseTier(name); !ok {
			return fmt.Errorf("llm config: budget tier_cost_usd has unknown tier %q", name)
		}
		if cost < 0 {
			return fmt.Errorf("llm config: budget tier_cost_usd[%s] cannot be negative", name)
		}
	}
	for name, cost := range b.CostPerMillionTokens {
		if cost < 0 {
			return fmt.Errorf("llm config: budget cost_per_million_tokens[%s] cannot be negative", name)
		}
	}
	return nil
}

// UnmarshalYAML decodes the section and keeps the raw timeout for Prepare.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type plain Config
	var raw struct {
		plain   `yaml:",inline"`
		Timeout string `yaml:"timeout"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*c = Config(raw.plain)
	c.timeoutRaw = raw.Timeout
	return nil
}

// Prepare applies defaults and environment overrides, parses durations and validates.
func (c *Config) Prepare() error {
	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.parseTimeout(); err != nil {
		return err
	}
	return c.Validate()
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOpenAI, BackendGemini:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("llm config: api_key is required for backend %s", c.Backend)
		}
	case BackendOllama:
		if strings.TrimSpace(c.BaseURL) == "" {
			return errors.New("llm config: base_url is required for backend ollama")
		}
	case BackendReplay:
		if strings.TrimSpace(c.ReplayPath) == "" {
			return errors.New("llm config: replay_path is required for backend replay")
		}
	default:
		return fmt.Errorf("llm config: unknown backend %q", c.Backend)
	}
	if strings.TrimSpace(c.DefaultModel) == "" {
		return errors.New("llm config: default_model is required")
	}
	if c.Timeout <= 0 {
		return errors.New("llm config: timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("llm config: max_retries cannot be negative")
	}
	if c.RatePerMin < 0 || c.RateBurst < 0 {
		return errors.New("llm config: rate limit cannot be negative")
	}
	for alias, m := range c.Models {
		if _, ok := ParseTier(m.CostTier); !ok {
			return fmt.Errorf("llm config: model %s has unknown cost_tier %q", alias, m.CostTier)
		}
	}
	return c.Budget.Validate()
}

// ModelFor picks the vendor model for tier: the highest-priority alias with a matching
// cost_tier, alias name breaking ties. Falls back to DefaultModel.
func (c *Config) ModelFor(tier Tier) string {
	aliases := make([]string, 0, len(c.Models))
	for alias, m := range c.Models {
		if Tier(strings.ToLower(m.CostTier)) == tier {
			aliases = append(aliases, alias)
		}
	}
	if len(aliases) == 0 {
		return c.DefaultModel
	}
	sort.Slice(aliases, func(i, j int) bool {
		pi, pj := c.Models[aliases[i]].Priority, c.Models[aliases[j]].Priority
		if pi != pj {
			return pi > pj
		}
		return aliases[i] < aliases[j]
	})
	m := c.Models[aliases[0]]
	if strings.TrimSpace(m.ModelName) != "" {
		return m.ModelName
	}
	return aliases[0]
}

// TemperatureFor resolves the sampling temperature for a vendor model name.
func (c *Config) TemperatureFor(model string) float64 {
	for _, m := range c.Models {
		if m.ModelName == model && m.Temperature != nil {
			return *m.Temperature
		}
	}
	if c.Temperature != nil {
		return *c.Temperature
	}
	return defaultTemperature
}

// MaxTokensFor resolves the completion token cap for a vendor model name.
func (c *Config) MaxTokensFor(model string) int {
	for _, m := range c.Models {
		if m.ModelName == model && m.MaxTokens > 0 {
			return m.MaxTokens
		}
	}
	return c.MaxTokens
}

// Clone returns a deep enough copy for independent mutation.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Models != nil {
		cp.Models = make(map[string]ModelConfig, len(c.Models))
		for k, v := range c.Models {
			cp.Models[k] = v
		}
	}
	cp.Budget = c.Budget.Clone()
	return &cp
}

func (c *Config) applyDefaults() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = defaultBackend
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		switch c.Backend {
		case BackendOpenAI:
			c.BaseURL = defaultOpenAIURL
		case BackendOllama:
			c.BaseURL = defaultOllamaURL
		}
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.RatePerMin == 0 {
		c.RatePerMin = defaultRatePerMin
	}
	if c.RateBurst == 0 {
		c.RateBurst = 1
	}
	if strings.TrimSpace(c.SchemaName) == "" {
		c.SchemaName = defaultSchemaName
	}
	if strings.TrimSpace(c.Prompt.TemplatePath) == "" {
		c.Prompt.TemplatePath = defaultPromptFile
	}
	if strings.TrimSpace(c.Prompt.ExpectedVersion) == "" {
		c.Prompt.ExpectedVersion = defaultPromptSchema
	}
	c.Budget.applyDefaults()
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(envBackend); v != "" {
		c.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	c.BaseURL = expandAndOverride(c.BaseURL, envBaseURL)
	c.APIKey = expandAndOverride(c.APIKey, envAPIKey)
	if c.APIKey == "" {
		if key, ok := vendorKeyEnv[c.Backend]; ok {
			c.APIKey = os.Getenv(key)
		}
	}
	c.DefaultModel = expandAndOverride(c.DefaultModel, envDefaultModel)
	c.ReplayPath = os.ExpandEnv(c.ReplayPath)

	if raw := os.Getenv(envTimeout); raw != "" {
		c.timeoutRaw = raw
	} else {
		c.timeoutRaw = os.ExpandEnv(c.timeoutRaw)
	}
	if raw := os.Getenv(envMaxRetries); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			c.MaxRetries = v
		}
	}
	if raw := os.Getenv(envDailyLimit); raw != "" && c.Budget != nil {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			c.Budget.DailyLimitUSD = v
		}
	}
}

func (c *Config) parseTimeout() error {
	if strings.TrimSpace(c.timeoutRaw) == "" {
		if c.Timeout <= 0 {
			c.Timeout = defaultTimeout
		}
		return nil
	}
	d, err := time.ParseDuration(c.timeoutRaw)
	if err != nil {
		return fmt.Errorf("llm config: invalid timeout %q: %w", c.timeoutRaw, err)
	}
	if d <= 0 {
		return fmt.Errorf("llm config: timeout must be positive, got %s", d)
	}
	c.Timeout = d
	return nil
}

func expandAndOverride(current, envKey string) string {
	current = os.ExpandEnv(current)
	if envVal := os.Getenv(envKey); envVal != "" {
		return envVal
	}
	return current
}

func cloneFloatMap(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
