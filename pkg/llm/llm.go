// Package llm defines the Provider interface for the language model backing
// toolgate's orchestrator.
//
// A provider wraps a remote or local model API and exposes a uniform chat
// completion call with tool support, so the orchestrator never couples to a
// specific SDK. Implementations must be safe for concurrent use and must
// propagate context cancellation promptly.
package llm

import "context"

// Message is a single entry in a conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// ToolCalls contains tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this
	// message responds to.
	ToolCallID string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call.
	ID string

	// Name is the tool name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input.
	Parameters map[string]any
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request carries everything the model needs to produce a response.
type Request struct {
	// Messages is the ordered conversation history.
	Messages []Message

	// Tools is the set of tool definitions offered to the model.
	Tools []ToolDefinition

	// SystemPrompt is an optional instruction injected before the history.
	SystemPrompt string

	// Temperature controls output randomness; zero uses the provider default.
	Temperature float64

	// MaxTokens caps completion length; zero uses the provider default.
	MaxTokens int
}

// Response is the model's reply.
type Response struct {
	// Content is the assistant's text. Empty when the model responds
	// exclusively with tool calls.
	Content string

	// ToolCalls lists tool invocations the model requests. The caller
	// executes them and appends the results to the conversation.
	ToolCalls []ToolCall

	// Usage contains token accounting for this exchange.
	Usage Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}
