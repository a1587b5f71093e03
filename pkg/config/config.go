// Package config assembles engine configuration from environment
// variables with an optional YAML overlay file. Environment wins over
// YAML, YAML wins over defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration tree.
type Config struct {
	LogLevel            string  `yaml:"log_level"`
	UseMockProviders    bool    `yaml:"use_mock_providers"`
	MaxCostPerRowCents  int64   `yaml:"max_cost_per_row_cents"`
	TotalBudgetCents    int64   `yaml:"total_budget_cents"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	SharedStoreURL      string  `yaml:"shared_store_url"`
	ProvenancePath      string  `yaml:"provenance_path"`
	CostLedgerURL       string  `yaml:"cost_ledger_url"`

	Cache          CacheConfig          `yaml:"cache"`
	Singleflight   SingleflightConfig   `yaml:"singleflight"`
	ParallelProbes ParallelProbesConfig `yaml:"parallel_probes"`
	EnsembleFusion EnsembleFusionConfig `yaml:"ensemble_fusion"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	LLM            LLMConfig            `yaml:"llm"`

	// APIKeys maps provider name to its comma-separated key list, read
	// from <PROVIDER>_API_KEY variables.
	APIKeys map[string][]string `yaml:"-"`
}

type CacheConfig struct {
	Enabled            bool  `yaml:"enabled"`
	DefaultTTLSeconds  int   `yaml:"default_ttl_seconds"`
	NegativeTTLSeconds int   `yaml:"negative_ttl_seconds"`
	Version            int64 `yaml:"version"`
	MaxMemoryEntries   int   `yaml:"max_memory_entries"`
}

type SingleflightConfig struct {
	Enabled   bool `yaml:"enabled"`
	TimeoutMs int  `yaml:"timeout_ms"`
}

type ParallelProbesConfig struct {
	Enabled        bool `yaml:"enabled"`
	MaxConcurrent  int  `yaml:"max_concurrent"`
	ProbeTimeoutMs int  `yaml:"probe_timeout_ms"`
}

type EnsembleFusionConfig struct {
	Enabled            bool    `yaml:"enabled"`
	AgreementThreshold float64 `yaml:"agreement_threshold"`
}

type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold"`
	ResetTimeoutMs   int  `yaml:"reset_timeout_ms"`
	SuccessThreshold int  `yaml:"success_threshold"`
	WindowMs         int  `yaml:"window_ms"`
	MinimumRequests  int  `yaml:"minimum_requests"`
}

type MetricsConfig struct {
	Enabled             bool `yaml:"enabled"`
	MaxLatencySamples   int  `yaml:"max_latency_samples"`
	LogIntervalRequests int  `yaml:"log_interval_requests"`
}

type LLMConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// knownProviders are the drivers that read <PROVIDER>_API_KEY.
var knownProviders = []string{"serper", "hunter", "linkedin", "openai"}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		LogLevel:            "INFO",
		MaxCostPerRowCents:  100,
		TotalBudgetCents:    10000,
		ConfidenceThreshold: 0.7,
		ProvenancePath:      "",
		Cache: CacheConfig{
			Enabled:            true,
			DefaultTTLSeconds:  3600,
			NegativeTTLSeconds: 300,
			Version:            1,
			MaxMemoryEntries:   10000,
		},
		Singleflight:   SingleflightConfig{Enabled: true, TimeoutMs: 30000},
		ParallelProbes: ParallelProbesConfig{Enabled: true, MaxConcurrent: 5, ProbeTimeoutMs: 10000},
		EnsembleFusion: EnsembleFusionConfig{Enabled: false, AgreementThreshold: 0.85},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			ResetTimeoutMs:   30000,
			SuccessThreshold: 2,
			WindowMs:         60000,
			MinimumRequests:  3,
		},
		Metrics: MetricsConfig{Enabled: true, MaxLatencySamples: 128, LogIntervalRequests: 100},
		LLM:     LLMConfig{Model: "gpt-4o-mini"},
		APIKeys: map[string][]string{},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// ENRICH_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("ENRICH_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("USE_MOCK_PROVIDERS"); v != "" {
		c.UseMockProviders = v == "true" || v == "1"
	}
	if v, ok := envInt64("MAX_COST_PER_ROW_CENTS"); ok {
		c.MaxCostPerRowCents = v
	}
	if v, ok := envInt64("TOTAL_BUDGET_CENTS"); ok {
		c.TotalBudgetCents = v
	}
	if v := os.Getenv("CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("SHARED_STORE_URL"); v != "" {
		c.SharedStoreURL = v
	}
	if v := os.Getenv("COST_LEDGER_URL"); v != "" {
		c.CostLedgerURL = v
	}
	if v := os.Getenv("PROVENANCE_PATH"); v != "" {
		c.ProvenancePath = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}

	if c.APIKeys == nil {
		c.APIKeys = map[string][]string{}
	}
	for _, name := range knownProviders {
		envVar := strings.ToUpper(name) + "_API_KEY"
		raw := os.Getenv(envVar)
		if raw == "" {
			continue
		}
		var keys []string
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			c.APIKeys[name] = keys
		}
	}
}

func envInt64(name string) (int64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DefaultTTL returns the positive cache TTL as a duration.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// NegativeTTL returns the negative cache TTL as a duration.
func (c CacheConfig) NegativeTTL() time.Duration {
	return time.Duration(c.NegativeTTLSeconds) * time.Second
}

// ProbeTimeout returns the per-probe timeout as a duration.
func (c ParallelProbesConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

// ResetTimeout returns the breaker reset delay as a duration.
func (c CircuitBreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(c.ResetTimeoutMs) * time.Millisecond
}

// Window returns the breaker rolling window as a duration.
func (c CircuitBreakerConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// Keys returns the configured key list for a provider.
func (c *Config) Keys(providerName string) []string {
	return c.APIKeys[providerName]
}
