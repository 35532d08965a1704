// Package orchestrator runs the chat turn loop: it offers the remote tool
// catalogue to the LLM, executes the tool calls the model requests, and
// returns the model's final answer.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/toolgate/internal/history"
	"github.com/MrWong99/toolgate/internal/mcp/toolcache"
	"github.com/MrWong99/toolgate/internal/observe"
	"github.com/MrWong99/toolgate/pkg/llm"
)

// DefaultMaxToolRounds caps the number of tool-execution rounds in one turn.
const DefaultMaxToolRounds = 4

// defaultSystemPrompt instructs the model how to use the query tools.
const defaultSystemPrompt = `You are a data assistant. Answer the user's questions using the available read-only query tools. Prefer calling tools over guessing; cite concrete values from tool results. If the tools cannot answer the question, say so.`

// ToolExecutor is the slice of the tool catalogue the orchestrator consumes.
// Satisfied by [toolcache.Catalog].
type ToolExecutor interface {
	Tools(ctx context.Context) ([]llm.ToolDefinition, error)
	Call(ctx context.Context, name, args string) (*toolcache.Result, error)
}

// ToolInvocation records one executed tool call for the caller's transcript.
type ToolInvocation struct {
	Name      string        `json:"name"`
	Arguments string        `json:"arguments,omitempty"`
	Result    string        `json:"result,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`
	Duration  time.Duration `json:"-"`
}

// Reply is the outcome of a completed chat turn.
type Reply struct {
	// Content is the model's final answer.
	Content string

	// ToolCalls lists the tool invocations performed during the turn, in
	// execution order.
	ToolCalls []ToolInvocation
}

// Config assembles an [Orchestrator].
type Config struct {
	Provider llm.Provider
	Tools    ToolExecutor
	History  history.Store

	// SystemPrompt overrides the built-in prompt when non-empty.
	SystemPrompt string

	// MaxToolRounds caps tool-execution rounds per turn. Zero uses
	// [DefaultMaxToolRounds].
	MaxToolRounds int

	// Metrics may be nil.
	Metrics *observe.Metrics
}

// Orchestrator executes chat turns. Safe for concurrent use.
type Orchestrator struct {
	provider  llm.Provider
	tools     ToolExecutor
	hist      history.Store
	prompt    string
	maxRounds int
	metrics   *observe.Metrics
}

// New creates an Orchestrator from cfg. Provider and Tools are required;
// History defaults to [history.Noop].
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		provider:  cfg.Provider,
		tools:     cfg.Tools,
		hist:      cfg.History,
		prompt:    cfg.SystemPrompt,
		maxRounds: cfg.MaxToolRounds,
		metrics:   cfg.Metrics,
	}
	if o.hist == nil {
		o.hist = history.Noop{}
	}
	if o.prompt == "" {
		o.prompt = defaultSystemPrompt
	}
	if o.maxRounds <= 0 {
		o.maxRounds = DefaultMaxToolRounds
	}
	return o
}

// Answer runs one chat turn for the given chat. It loads the chat's recent
// history, lets the model call tools for up to MaxToolRounds rounds, persists
// the user question and final answer, and returns the reply.
//
// Tool results flagged as application errors are fed back to the model so it
// can recover or explain; transport-level failures abort the turn with an
// error the caller can map to a service-unavailable response.
func (o *Orchestrator) Answer(ctx context.Context, chatID, question string) (*Reply, error) {
	reply, err := o.run(ctx, chatID, question)
	if o.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		o.metrics.RecordChatTurn(ctx, status)
	}
	return reply, err
}

func (o *Orchestrator) run(ctx context.Context, chatID, question string) (*Reply, error) {
	past, err := o.hist.Recent(ctx, chatID)
	if err != nil {
		// History is an aid, not a dependency; answer without it.
		slog.Warn("orchestrator: loading history failed, answering statelessly",
			"chat_id", chatID,
			"err", err,
		)
		past = nil
	}

	messages := make([]llm.Message, 0, len(past)+1)
	for _, m := range past {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: question})

	tools, err := o.tools.Tools(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: discover tools: %w", err)
	}

	var invocations []ToolInvocation

	for round := 0; round < o.maxRounds; round++ {
		resp, err := o.complete(ctx, messages, tools)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: completion: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			o.persist(ctx, chatID, question, resp.Content)
			return &Reply{Content: resp.Content, ToolCalls: invocations}, nil
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			result, err := o.tools.Call(ctx, tc.Name, tc.Arguments)
			if err != nil {
				return nil, fmt.Errorf("orchestrator: tool %q: %w", tc.Name, err)
			}

			slog.Debug("tool executed",
				"chat_id", chatID,
				"tool", tc.Name,
				"is_error", result.IsError,
				"duration", result.Duration,
			)

			invocations = append(invocations, ToolInvocation{
				Name:      tc.Name,
				Arguments: tc.Arguments,
				Result:    result.Content,
				IsError:   result.IsError,
				Duration:  result.Duration,
			})
			content := result.Content
			if result.IsError {
				content = "tool error: " + content
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: tc.ID,
			})
		}
	}

	// Rounds exhausted: ask for a final answer with no tools on offer so the
	// model cannot request another round.
	resp, err := o.complete(ctx, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: final completion: %w", err)
	}
	o.persist(ctx, chatID, question, resp.Content)
	return &Reply{Content: resp.Content, ToolCalls: invocations}, nil
}

// complete performs one model call and records its latency.
func (o *Orchestrator) complete(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error) {
	start := time.Now()
	resp, err := o.provider.Complete(ctx, llm.Request{
		Messages:     messages,
		Tools:        tools,
		SystemPrompt: o.prompt,
	})
	if o.metrics != nil {
		o.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
	return resp, err
}

// persist stores the question and final answer. Tool transcripts are not
// retained; they are bulky and the final answer carries their substance.
func (o *Orchestrator) persist(ctx context.Context, chatID, question, answer string) {
	err := o.hist.Append(ctx, chatID,
		history.Message{Role: "user", Content: question},
		history.Message{Role: "assistant", Content: answer},
	)
	if err != nil {
		slog.Warn("orchestrator: persisting history failed",
			"chat_id", chatID,
			"err", err,
		)
	}
}
