// Package history stores recent conversation messages per chat so that
// follow-up questions can refer back to earlier turns.
package history

import (
	"context"
	"time"
)

// Default retention settings, applied when the configuration leaves them zero.
const (
	DefaultTTL         = 24 * time.Hour
	DefaultMaxMessages = 50
)

// Message is a single conversation entry. Role follows the chat-completion
// convention ("user", "assistant", "tool").
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store persists per-chat conversation history.
type Store interface {
	// Append adds messages to the end of the chat's history, trims it to the
	// retention limit, and refreshes the chat's TTL.
	Append(ctx context.Context, chatID string, msgs ...Message) error

	// Recent returns the retained messages for the chat, oldest first.
	// A chat with no history yields an empty slice, not an error.
	Recent(ctx context.Context, chatID string) ([]Message, error)

	// Clear removes all history for the chat.
	Clear(ctx context.Context, chatID string) error
}

// Noop is a [Store] that retains nothing. Used when no Redis address is
// configured; every chat turn then stands alone.
type Noop struct{}

func (Noop) Append(context.Context, string, ...Message) error { return nil }

func (Noop) Recent(context.Context, string) ([]Message, error) { return nil, nil }

func (Noop) Clear(context.Context, string) error { return nil }
