package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MCPChanged is true when the MCP endpoint, refresh buffer, or auth
	// settings changed. The MCP session must be re-established to apply it.
	MCPChanged bool

	// LLMChanged is true when the LLM provider block changed. The provider
	// must be rebuilt to apply it.
	LLMChanged bool

	// HistoryChanged is true when the history block changed. Requires a
	// restart of the history store to apply.
	HistoryChanged bool
}

// Any reports whether the diff contains any change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.MCPChanged || d.LLMChanged || d.HistoryChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.MCP.URL != new.MCP.URL ||
		old.MCP.RefreshBuffer != new.MCP.RefreshBuffer ||
		!authEqual(old.MCP.Auth, new.MCP.Auth) {
		d.MCPChanged = true
	}

	if old.LLM != new.LLM {
		d.LLMChanged = true
	}

	if old.History != new.History {
		d.HistoryChanged = true
	}

	return d
}

// authEqual compares two auth blocks, treating nil as "no auth".
func authEqual(a, b *MCPAuthConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Token != b.Token {
		return false
	}
	return oauthEqual(a.OAuth, b.OAuth)
}

func oauthEqual(a, b *MCPOAuthConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ClientID == b.ClientID &&
		a.ClientSecret == b.ClientSecret &&
		a.TokenURL == b.TokenURL &&
		slices.Equal(a.Scopes, b.Scopes)
}
