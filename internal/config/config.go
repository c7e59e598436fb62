// Package config loads the YAML configuration for the kgforge server.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Secret wraps a sensitive string to prevent accidental logging or marshalling.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer, returning a redacted placeholder.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalText implements encoding.TextMarshaler, returning a redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the underlying secret string.
func (s Secret) Value() string { return string(s) }

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host             string   `mapstructure:"host"`
	Port             int      `mapstructure:"port"`
	CORSAllowOrigins []string `mapstructure:"cors_allow_origins"`
	APIKey           string   `mapstructure:"api_key"`
	APIKeyEnv        string   `mapstructure:"api_key_env"`
}

// Addr returns the listen address in host:port format.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Neo4jConfig holds the graph database connection settings.
type Neo4jConfig struct {
	URI         string `mapstructure:"uri"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	PasswordEnv string `mapstructure:"password_env"`
	Database    string `mapstructure:"database"`
}

// RetentionConfig controls the post-commit version sweep.
type RetentionConfig struct {
	MaxVersions   int  `mapstructure:"max_versions"`
	EnableCleanup bool `mapstructure:"enable_cleanup"`
}

// QueryConfig holds read-path defaults and caps.
type QueryConfig struct {
	DefaultLimitNodes int `mapstructure:"default_limit_nodes"`
	DefaultLimitEdges int `mapstructure:"default_limit_edges"`
	DefaultDepth      int `mapstructure:"default_depth"`
	MaxDepth          int `mapstructure:"max_depth"`
	MaxSeedNodes      int `mapstructure:"max_seed_nodes"`
}

// HooksConfig selects and parameterizes the data-source hooks.
// Module names a registry entry, which provides both the full and the
// incremental operation. Full and Incremental are checked to be non-empty;
// they do not select the operations.
type HooksConfig struct {
	Module           string `mapstructure:"module"`
	Full             string `mapstructure:"full"`
	Incremental      string `mapstructure:"incremental"`
	ConnectionString string `mapstructure:"connection_string"`
	TableName        string `mapstructure:"table_name"`
}

// TaskConfig bounds pipeline execution.
type TaskConfig struct {
	TimeoutS int `mapstructure:"timeout_s"`
}

// RateLimitConfig caps upstream request and token throughput per 60s window.
// Zero disables the corresponding bound.
type RateLimitConfig struct {
	RPM int `mapstructure:"rpm"`
	TPM int `mapstructure:"tpm"`
}

// ConcurrencyConfig caps simultaneously outstanding upstream calls.
type ConcurrencyConfig struct {
	MaxInFlight int `mapstructure:"max_in_flight"`
}

// RetryConfig parameterizes exponential-backoff retry of transient upstream errors.
type RetryConfig struct {
	MaxRetries        int     `mapstructure:"max_retries"`
	InitialBackoffS   float64 `mapstructure:"initial_backoff_s"`
	MaxBackoffS       float64 `mapstructure:"max_backoff_s"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// LLMConfig holds settings for the chat-completion upstream.
type LLMConfig struct {
	APIKey            string            `mapstructure:"api_key"`
	APIKeyEnv         string            `mapstructure:"api_key_env"`
	APIBaseURL        string            `mapstructure:"api_base_url"`
	Model             string            `mapstructure:"model"`
	MaxTokens         int               `mapstructure:"max_tokens"`
	Temperature       float64           `mapstructure:"temperature"`
	RepetitionPenalty float64           `mapstructure:"repetition_penalty"`
	RateLimit         RateLimitConfig   `mapstructure:"rate_limit"`
	Concurrency       ConcurrencyConfig `mapstructure:"concurrency"`
	Retry             RetryConfig       `mapstructure:"retry"`
}

// EmbeddingsConfig holds settings for the embeddings upstream.
type EmbeddingsConfig struct {
	APIKey      string            `mapstructure:"api_key"`
	APIKeyEnv   string            `mapstructure:"api_key_env"`
	APIBaseURL  string            `mapstructure:"api_base_url"`
	Model       string            `mapstructure:"model"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Retry       RetryConfig       `mapstructure:"retry"`
}

// Config is the root configuration for the server.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Neo4j      Neo4jConfig      `mapstructure:"neo4j"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Query      QueryConfig      `mapstructure:"query"`
	Hooks      HooksConfig      `mapstructure:"hooks"`
	Task       TaskConfig       `mapstructure:"task"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	LogLevel   string           `mapstructure:"log_level"`

	// Resolved secrets (plain field or *_env indirection).
	ServerAPIKey  Secret `mapstructure:"-"`
	Neo4jPassword Secret `mapstructure:"-"`
	LLMAPIKey     Secret `mapstructure:"-"`
	EmbAPIKey     Secret `mapstructure:"-"`
}

// Load reads and validates the YAML config file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8021)
	v.SetDefault("server.cors_allow_origins", []string{"*"})
	v.SetDefault("log_level", "info")

	v.SetDefault("retention.max_versions", 10)
	v.SetDefault("retention.enable_cleanup", true)

	v.SetDefault("query.default_limit_nodes", 500)
	v.SetDefault("query.default_limit_edges", 1000)
	v.SetDefault("query.default_depth", 2)
	v.SetDefault("query.max_depth", 5)
	v.SetDefault("query.max_seed_nodes", 30)

	v.SetDefault("task.timeout_s", 0)

	v.SetDefault("hooks.module", "static")
	v.SetDefault("hooks.full", "FullData")
	v.SetDefault("hooks.incremental", "IncrementalData")

	for _, section := range []string{"llm", "embeddings"} {
		v.SetDefault(section+".retry.max_retries", 3)
		v.SetDefault(section+".retry.initial_backoff_s", 1.0)
		v.SetDefault(section+".retry.max_backoff_s", 30.0)
		v.SetDefault(section+".retry.backoff_multiplier", 2.0)
	}
	v.SetDefault("llm.temperature", 0.0)
}

// resolveSecret prefers the inline value and falls back to the named env var.
func resolveSecret(inline, envKey, field string, required bool) (Secret, error) {
	if strings.TrimSpace(inline) != "" {
		return Secret(inline), nil
	}

	if envKey != "" {
		if v := os.Getenv(envKey); strings.TrimSpace(v) != "" {
			return Secret(v), nil
		}
	}

	if required {
		return "", fmt.Errorf("config field missing: %s / %s_env", field, field)
	}

	return "", nil
}

func (c *Config) resolveSecrets() error {
	var err error

	if c.ServerAPIKey, err = resolveSecret(c.Server.APIKey, c.Server.APIKeyEnv, "server.api_key", true); err != nil {
		return err
	}

	if c.Neo4jPassword, err = resolveSecret(c.Neo4j.Password, c.Neo4j.PasswordEnv, "neo4j.password", true); err != nil {
		return err
	}

	if c.LLMAPIKey, err = resolveSecret(c.LLM.APIKey, c.LLM.APIKeyEnv, "llm.api_key", true); err != nil {
		return err
	}

	if c.EmbAPIKey, err = resolveSecret(c.Embeddings.APIKey, c.Embeddings.APIKeyEnv, "embeddings.api_key", true); err != nil {
		return err
	}

	// Scrub the raw values so only the Secret copies remain.
	c.Server.APIKey = ""
	c.Neo4j.Password = ""
	c.LLM.APIKey = ""
	c.Embeddings.APIKey = ""

	return nil
}
