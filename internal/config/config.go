// Package config provides the configuration schema and loader for the
// toolgate server.
package config

import "time"

// LogLevel controls log verbosity for the toolgate server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for toolgate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	MCP     MCPConfig     `yaml:"mcp"`
	LLM     LLMConfig     `yaml:"llm"`
	History HistoryConfig `yaml:"history"`
	Health  HealthConfig  `yaml:"health"`
}

// ServerConfig holds network and logging settings for the toolgate server.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// MCPConfig describes the remote MCP tool server toolgate connects to.
type MCPConfig struct {
	// URL is the MCP endpoint address (e.g., "https://tools.example.com/mcp").
	URL string `yaml:"url"`

	// RefreshBuffer is how long before credential expiry the shared session
	// is proactively replaced. Zero uses the built-in default of 5 minutes.
	RefreshBuffer time.Duration `yaml:"refresh_buffer"`

	// Auth configures authentication for the MCP server. When nil, requests
	// are sent without authentication and the session never expires on its own.
	Auth *MCPAuthConfig `yaml:"auth"`
}

// MCPAuthConfig configures authentication for the MCP server, following the
// MCP authorization specification (OAuth 2.1 Bearer tokens).
type MCPAuthConfig struct {
	// Token is a static Bearer token sent in the Authorization header of every
	// request. Mutually exclusive with the OAuth fields below.
	Token string `yaml:"token"`

	// OAuth configures OAuth 2.1 client-credentials flow for obtaining tokens
	// dynamically. When set, Token must be empty.
	OAuth *MCPOAuthConfig `yaml:"oauth"`
}

// MCPOAuthConfig configures the OAuth 2.1 client-credentials flow for
// obtaining Bearer tokens from an authorization server.
type MCPOAuthConfig struct {
	// ClientID is the OAuth 2.1 client identifier.
	ClientID string `yaml:"client_id"`

	// ClientSecret is the OAuth 2.1 client secret.
	ClientSecret string `yaml:"client_secret"`

	// TokenURL is the authorization server's token endpoint
	// (e.g., "https://auth.example.com/oauth/token").
	TokenURL string `yaml:"token_url"`

	// Scopes lists the OAuth scopes to request. May be empty.
	Scopes []string `yaml:"scopes"`
}

// LLMConfig selects and configures the language model backend used to answer
// chat requests.
type LLMConfig struct {
	// Provider is the backend name (e.g., "openai", "anthropic", "ollama").
	Provider string `yaml:"provider"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// APIKey is the authentication key for the provider's API if any.
	// Empty falls back to the provider's environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// SystemPrompt overrides the built-in system prompt.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxToolRounds caps how many tool-execution rounds a single chat turn may
	// perform. Zero uses the built-in default.
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

// HistoryConfig configures the Redis-backed conversation history store.
// When RedisAddr is empty, chats are stateless and no history is carried
// between requests.
type HistoryConfig struct {
	// RedisAddr is the Redis server address (e.g., "localhost:6379").
	RedisAddr string `yaml:"redis_addr"`

	// RedisPassword authenticates against Redis. May be empty.
	RedisPassword string `yaml:"redis_password"`

	// TTL is how long an idle chat's history is retained. Zero uses the
	// built-in default of 24 hours.
	TTL time.Duration `yaml:"ttl"`

	// MaxMessages caps how many messages are retained per chat. Zero uses the
	// built-in default of 50.
	MaxMessages int `yaml:"max_messages"`
}

// HealthConfig configures the periodic session self-heal probe.
type HealthConfig struct {
	// SelfHealSchedule is a cron expression (e.g., "@every 1m") controlling
	// how often the shared session is probed and, on failure, reconnected.
	// Empty disables the periodic probe.
	SelfHealSchedule string `yaml:"selfheal_schedule"`
}
