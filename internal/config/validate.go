package config

import (
	"fmt"
	"net/url"
	"strings"
)

func (c *Config) validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateNeo4j(); err != nil {
		return err
	}

	if err := c.validateHooks(); err != nil {
		return err
	}

	if err := c.validateUpstreams(); err != nil {
		return err
	}

	return c.validateLimits()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	for _, origin := range c.Server.CORSAllowOrigins {
		if origin == "*" {
			continue
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server.cors_allow_origins contains invalid origin %q", origin)
		}
	}

	return nil
}

// Bolt URI schemes accepted by the driver.
var neo4jSchemes = map[string]bool{
	"bolt": true, "bolt+s": true, "bolt+ssc": true,
	"neo4j": true, "neo4j+s": true, "neo4j+ssc": true,
}

func (c *Config) validateNeo4j() error {
	if c.Neo4j.URI == "" {
		return fmt.Errorf("neo4j.uri is required")
	}

	u, err := url.Parse(c.Neo4j.URI)
	if err != nil {
		return fmt.Errorf("neo4j.uri is not a valid URI: %w", err)
	}

	if !neo4jSchemes[u.Scheme] {
		return fmt.Errorf("neo4j.uri scheme must be one of bolt://, bolt+s://, bolt+ssc://, neo4j://, neo4j+s://, neo4j+ssc://, got %q", u.Scheme)
	}

	if c.Neo4j.Username == "" {
		return fmt.Errorf("neo4j.username is required")
	}

	return nil
}

func (c *Config) validateHooks() error {
	if c.Hooks.Module == "" {
		return fmt.Errorf("hooks.module is required")
	}

	if c.Hooks.Full == "" || c.Hooks.Incremental == "" {
		return fmt.Errorf("hooks.full and hooks.incremental are required")
	}

	if c.Hooks.Module == "postgres" {
		if c.Hooks.ConnectionString == "" {
			return fmt.Errorf("hooks.connection_string is required for the postgres hooks")
		}

		if !strings.HasPrefix(c.Hooks.ConnectionString, "postgres://") && !strings.HasPrefix(c.Hooks.ConnectionString, "postgresql://") {
			return fmt.Errorf("hooks.connection_string must be a postgres:// URL")
		}

		if c.Hooks.TableName == "" {
			return fmt.Errorf("hooks.table_name is required for the postgres hooks")
		}
	}

	return nil
}

func (c *Config) validateUpstreams() error {
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}

	if c.Embeddings.Model == "" {
		return fmt.Errorf("embeddings.model is required")
	}

	for name, base := range map[string]string{"llm": c.LLM.APIBaseURL, "embeddings": c.Embeddings.APIBaseURL} {
		if base == "" {
			continue
		}

		u, err := url.ParseRequestURI(base)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%s.api_base_url is not a valid http(s) URL: %q", name, base)
		}
	}

	return nil
}

func (c *Config) validateLimits() error {
	if c.Retention.MaxVersions < 1 {
		return fmt.Errorf("retention.max_versions must be >= 1, got %d", c.Retention.MaxVersions)
	}

	if c.Query.DefaultLimitNodes < 1 || c.Query.DefaultLimitEdges < 0 {
		return fmt.Errorf("query.default_limit_nodes must be >= 1 and query.default_limit_edges >= 0")
	}

	if c.Query.DefaultDepth < 0 || c.Query.DefaultDepth > c.Query.MaxDepth {
		return fmt.Errorf("query.default_depth must be in [0, max_depth]")
	}

	for name, retry := range map[string]RetryConfig{"llm": c.LLM.Retry, "embeddings": c.Embeddings.Retry} {
		if retry.MaxRetries < 0 {
			return fmt.Errorf("%s.retry.max_retries must be >= 0", name)
		}

		if retry.InitialBackoffS < 0 || retry.MaxBackoffS < retry.InitialBackoffS {
			return fmt.Errorf("%s.retry backoff bounds invalid", name)
		}

		if retry.BackoffMultiplier < 1 {
			return fmt.Errorf("%s.retry.backoff_multiplier must be >= 1", name)
		}
	}

	return nil
}
