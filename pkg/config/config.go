// Package config loads the advisor's single configuration object. It is read once at
// startup, validated across sections and then passed explicitly to every component.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"gopkg.in/yaml.v3"

	"magnus-advisor/internal/persistence/rediscache"
	"magnus-advisor/pkg/aggregate"
	"magnus-advisor/pkg/cache"
	"magnus-advisor/pkg/confkit"
	"magnus-advisor/pkg/llm"
	"magnus-advisor/pkg/portfolio"
	"magnus-advisor/pkg/quant"
	"magnus-advisor/pkg/tier"
)

// DefaultPath is the committed configuration file, relative to the project root.
const DefaultPath = "etc/advisor.yaml"

// Config is the root of etc/advisor.yaml. A nil LLM section runs quant-only.
type Config struct {
	Log       LogConfig        `yaml:"log"`
	Quant     quant.Config     `yaml:"quant"`
	Tier      tier.Config      `yaml:"tier"`
	Aggregate aggregate.Config `yaml:"aggregate"`
	LLM       *llm.Config      `yaml:"llm"`
	Cache     CacheConfig      `yaml:"cache"`
	Portfolio portfolio.Config `yaml:"portfolio"`
	Journal   JournalConfig    `yaml:"journal"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// LogConfig is the subset of logx.LogConf the advisor exposes.
type LogConfig struct {
	ServiceName string `yaml:"service_name"`
	Mode        string `yaml:"mode"`
	Level       string `yaml:"level"`
	Encoding    string `yaml:"encoding"`
	Path        string `yaml:"path"`
}

// CacheConfig tunes the recommendation cache and its optional Redis tier.
type CacheConfig struct {
	TTL            time.Duration     `yaml:"ttl"`
	PriceBucketPct float64           `yaml:"price_bucket_pct"`
	Redis          rediscache.Config `yaml:"redis"`
}

// JournalConfig controls cycle files.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// LogConf converts the section for logx.MustSetup.
func (l LogConfig) LogConf() logx.LogConf {
	return logx.LogConf{
		ServiceName: l.ServiceName,
		Mode:        l.Mode,
		Level:       l.Level,
		Encoding:    l.Encoding,
		Path:        l.Path,
		Stat:        false,
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open advisor config: %w", err)
	}
	defer file.Close()
	return LoadFromReader(file)
}

// LoadFromReader decodes, fills defaults and validates.
func LoadFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read advisor config: %w", err)
	}
	// sections start from their defaults so keys the file omits keep them and keys it
	// sets, zero included, win
	cfg := Config{
		Quant:     quant.DefaultConfig(),
		Tier:      tier.DefaultConfig(),
		Aggregate: aggregate.DefaultConfig(),
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unmarshal advisor config: %w", err)
	}
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Prepare fills defaults in every section, then validates.
func (c *Config) Prepare() error {
	c.applyDefaults()
	if c.LLM != nil {
		if err := c.LLM.Prepare(); err != nil {
			return err
		}
	}
	return c.Validate()
}

func (c *Config) applyDefaults() {
	if c.Log.ServiceName == "" {
		c.Log.ServiceName = "advisor"
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "console"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Encoding == "" {
		c.Log.Encoding = "plain"
	}
	c.Quant.ApplyDefaults()
	c.Tier.ApplyDefaults()
	c.Aggregate.ApplyDefaults()
	c.Portfolio.ApplyDefaults()
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = cache.DefaultTTL
	}
	if c.Cache.PriceBucketPct <= 0 {
		c.Cache.PriceBucketPct = cache.DefaultBucketPct
	}
	c.Cache.Redis.Addr = os.ExpandEnv(c.Cache.Redis.Addr)
	c.Cache.Redis.Pass = os.ExpandEnv(c.Cache.Redis.Pass)
	if strings.TrimSpace(c.Journal.Dir) == "" {
		c.Journal.Dir = "journal"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks each section and the constraints that span sections.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "error", "severe":
	default:
		return fmt.Errorf("advisor config: unknown log level %q", c.Log.Level)
	}
	checks := []func() error{
		c.Quant.Validate,
		c.Tier.Validate,
		c.Aggregate.Validate,
		c.Portfolio.Validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	if c.Cache.TTL <= 0 {
		return errors.New("advisor config: cache.ttl must be positive")
	}
	if c.Cache.PriceBucketPct <= 0 || c.Cache.PriceBucketPct > 50 {
		return errors.New("advisor config: cache.price_bucket_pct must be within (0, 50]")
	}
	if c.Quant.CloseDTE > c.Aggregate.UrgencyMediumDTE {
		return fmt.Errorf("advisor config: quant.close_dte %d exceeds aggregate.urgency_medium_dte %d", c.Quant.CloseDTE, c.Aggregate.UrgencyMediumDTE)
	}
	if c.LLM != nil {
		if err := c.LLM.Validate(); err != nil {
			return err
		}
		if c.Portfolio.Deadline > 0 && c.Portfolio.Deadline < c.LLM.Timeout {
			return fmt.Errorf("advisor config: portfolio.deadline %s is shorter than llm.timeout %s", c.Portfolio.Deadline, c.LLM.Timeout)
		}
	}
	return nil
}

// LLMEnabled reports whether a reasoning backend is configured.
func (c *Config) LLMEnabled() bool { return c != nil && c.LLM != nil }

// Clone returns a copy whose LLM section can be mutated independently.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.LLM = c.LLM.Clone()
	return &cp
}
