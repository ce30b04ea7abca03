// Package config loads service configuration from the environment, an
// optional .env file and an optional YAML tier file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"regionpulse/internal/cache"
	"regionpulse/internal/freshness"
)

type Config struct {
	Port           string
	Env            string
	RequestTimeout time.Duration

	Cache     CacheConfig
	LLM       LLMConfig
	Models    ModelsConfig
	Freshness FreshnessConfig

	// ElectionDate is the target date the prompts are written against.
	ElectionDate  string
	PulseKeywords []string

	Tiers []TierSpec
}

type CacheConfig struct {
	Backend     string // memory | redis | sqlite | postgres
	Version     string
	RedisAddr   string
	SQLitePath  string
	DatabaseURL string
}

type LLMConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

type ModelsConfig struct {
	Priority []string `yaml:"priority"`
	Fallback string   `yaml:"fallback"`
}

type FreshnessConfig struct {
	DeepStrategy string // async | sync
	ErrorPolicy  string // serve_stale | propagate

	FastTier  string
	DeepTier  string
	PulseTier string
}

// TierSpec describes one cache tier and the report it produces.
type TierSpec struct {
	Name   string        `yaml:"name"`
	Detail string        `yaml:"detail"`
	TTL    time.Duration `yaml:"ttl"`

	// Model pins the tier to one model instead of the selector's choice.
	Model string `yaml:"model,omitempty"`

	// Stream uses the streaming completion endpoint.
	Stream bool `yaml:"stream,omitempty"`

	Timeout   time.Duration `yaml:"timeout,omitempty"`
	MaxTokens int           `yaml:"max_tokens,omitempty"`
}

var (
	defaultPriority = []string{"gemini-3-flash-preview", "gemini-2.5-flash", "gemini-2.0-flash"}
	defaultKeywords = []string{"#BalenForPM", "#NoNotAgain", "#RabiAlliance", "#GenZNepal", "#March5Revolution"}
)

// Load reads .env (if present), the environment, and TIERS_FILE (if set).
// Explicitly set environment variables win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := defaults()

	if path := os.Getenv("TIERS_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:           "8080",
		Env:            "development",
		RequestTimeout: 30 * time.Second,
		Cache: CacheConfig{
			Backend:    cache.BackendMemory,
			Version:    "v1",
			RedisAddr:  "127.0.0.1:6379",
			SQLitePath: "regionpulse.db",
		},
		LLM: LLMConfig{
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta/openai",
			Timeout:    60 * time.Second,
			MaxRetries: 2,
		},
		Models: ModelsConfig{
			Priority: append([]string(nil), defaultPriority...),
			Fallback: "gemini-2.0-flash",
		},
		Freshness: FreshnessConfig{
			DeepStrategy: "async",
			ErrorPolicy:  "serve_stale",
			FastTier:     "summary",
			DeepTier:     "full",
			PulseTier:    "pulse",
		},
		ElectionDate:  "March 5, 2026",
		PulseKeywords: append([]string(nil), defaultKeywords...),
		Tiers: []TierSpec{
			{Name: "summary", Detail: "summary", TTL: time.Hour},
			{Name: "full", Detail: "full", TTL: 24 * time.Hour, Stream: true, Timeout: 3 * time.Minute},
			{Name: "metrics", Detail: "metrics", TTL: time.Hour},
			{Name: "pulse", Detail: "pulse", TTL: 30 * time.Minute},
		},
	}
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Env = getEnv("ENV", c.Env)
	c.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", c.RequestTimeout)

	c.Cache.Backend = strings.ToLower(getEnv("CACHE_BACKEND", c.Cache.Backend))
	c.Cache.Version = getEnv("CACHE_VERSION", c.Cache.Version)
	c.Cache.RedisAddr = getEnv("REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.SQLitePath = getEnv("SQLITE_PATH", c.Cache.SQLitePath)
	c.Cache.DatabaseURL = getEnv("DATABASE_URL", c.Cache.DatabaseURL)

	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Timeout = getEnvAsDuration("LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.MaxRetries = getEnvAsInt("LLM_MAX_RETRIES", c.LLM.MaxRetries)

	c.Models.Priority = getEnvAsList("MODEL_PRIORITY", c.Models.Priority)
	c.Models.Fallback = getEnv("MODEL_FALLBACK", c.Models.Fallback)

	c.Freshness.DeepStrategy = strings.ToLower(getEnv("DEEP_STRATEGY", c.Freshness.DeepStrategy))
	c.Freshness.ErrorPolicy = strings.ToLower(getEnv("ERROR_POLICY", c.Freshness.ErrorPolicy))

	c.ElectionDate = getEnv("ELECTION_DATE", c.ElectionDate)
	c.PulseKeywords = getEnvAsList("PULSE_KEYWORDS", c.PulseKeywords)

	c.overrideTier(c.Freshness.FastTier, "FAST_TTL", "")
	c.overrideTier(c.Freshness.DeepTier, "DEEP_TTL", "DEEP_TIMEOUT")
	c.overrideTier(c.Freshness.PulseTier, "PULSE_TTL", "")
}

func (c *Config) overrideTier(name, ttlKey, timeoutKey string) {
	t := c.Tier(name)
	if t == nil {
		return
	}
	t.TTL = getEnvAsDuration(ttlKey, t.TTL)
	if timeoutKey != "" {
		t.Timeout = getEnvAsDuration(timeoutKey, t.Timeout)
	}
}

// Tier returns the spec named name, or nil.
func (c *Config) Tier(name string) *TierSpec {
	for i := range c.Tiers {
		if c.Tiers[i].Name == name {
			return &c.Tiers[i]
		}
	}
	return nil
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL is required")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	switch c.Cache.Backend {
	case cache.BackendMemory:
	case cache.BackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	case cache.BackendSQLite:
		if c.Cache.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case cache.BackendPostgres:
		if c.Cache.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend)
	}
	if c.Cache.Version == "" {
		return fmt.Errorf("CACHE_VERSION is required")
	}

	if len(c.Models.Priority) == 0 {
		return fmt.Errorf("MODEL_PRIORITY must list at least one model")
	}
	if c.Models.Fallback == "" {
		return fmt.Errorf("MODEL_FALLBACK is required")
	}

	if _, err := freshness.ParseDeepStrategy(c.Freshness.DeepStrategy); err != nil {
		return err
	}
	if _, err := freshness.ParseErrorPolicy(c.Freshness.ErrorPolicy); err != nil {
		return err
	}

	if len(c.Tiers) == 0 {
		return fmt.Errorf("at least one tier is required")
	}
	seen := make(map[string]bool, len(c.Tiers))
	for _, t := range c.Tiers {
		if t.Name == "" {
			return fmt.Errorf("tier name is required")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate tier %q", t.Name)
		}
		seen[t.Name] = true
		if t.Detail == "" {
			return fmt.Errorf("tier %q: detail is required", t.Name)
		}
		if t.TTL <= 0 {
			return fmt.Errorf("tier %q: ttl must be positive", t.Name)
		}
		if t.Timeout < 0 {
			return fmt.Errorf("tier %q: timeout must not be negative", t.Name)
		}
	}

	if !seen[c.Freshness.FastTier] {
		return fmt.Errorf("fast tier %q is not configured", c.Freshness.FastTier)
	}
	if !seen[c.Freshness.DeepTier] {
		return fmt.Errorf("deep tier %q is not configured", c.Freshness.DeepTier)
	}
	if c.Freshness.FastTier == c.Freshness.DeepTier {
		return fmt.Errorf("fast and deep tiers must differ")
	}
	if c.Freshness.PulseTier != "" && !seen[c.Freshness.PulseTier] {
		return fmt.Errorf("pulse tier %q is not configured", c.Freshness.PulseTier)
	}

	return nil
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("600").
func getEnvAsDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func getEnvAsList(key string, def []string) []string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
