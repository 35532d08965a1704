package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known LLM provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// MCP
	if cfg.MCP.URL == "" {
		errs = append(errs, errors.New("mcp.url is required"))
	}
	if cfg.MCP.RefreshBuffer < 0 {
		errs = append(errs, fmt.Errorf("mcp.refresh_buffer %s must not be negative", cfg.MCP.RefreshBuffer))
	}
	if auth := cfg.MCP.Auth; auth != nil {
		if auth.Token != "" && auth.OAuth != nil {
			errs = append(errs, errors.New("mcp.auth: token and oauth are mutually exclusive"))
		}
		if auth.Token == "" && auth.OAuth == nil {
			errs = append(errs, errors.New("mcp.auth: either token or oauth must be set"))
		}
		if oauth := auth.OAuth; oauth != nil {
			if oauth.ClientID == "" {
				errs = append(errs, errors.New("mcp.auth.oauth.client_id is required"))
			}
			if oauth.ClientSecret == "" {
				errs = append(errs, errors.New("mcp.auth.oauth.client_secret is required"))
			}
			if oauth.TokenURL == "" {
				errs = append(errs, errors.New("mcp.auth.oauth.token_url is required"))
			}
		}
	}

	// LLM
	if cfg.LLM.Provider == "" {
		errs = append(errs, errors.New("llm.provider is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.LLM.Provider) {
		slog.Warn("unknown LLM provider name — may be a typo or third-party provider",
			"name", cfg.LLM.Provider,
			"known", ValidProviderNames,
		)
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if cfg.LLM.MaxToolRounds < 0 {
		errs = append(errs, fmt.Errorf("llm.max_tool_rounds %d must not be negative", cfg.LLM.MaxToolRounds))
	}

	// History
	if cfg.History.RedisAddr == "" {
		slog.Warn("history.redis_addr is empty; chats will be stateless")
	}
	if cfg.History.TTL < 0 {
		errs = append(errs, fmt.Errorf("history.ttl %s must not be negative", cfg.History.TTL))
	}
	if cfg.History.MaxMessages < 0 {
		errs = append(errs, fmt.Errorf("history.max_messages %d must not be negative", cfg.History.MaxMessages))
	}

	return errors.Join(errs...)
}
