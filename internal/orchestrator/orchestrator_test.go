package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/toolgate/internal/history"
	"github.com/MrWong99/toolgate/internal/mcp/toolcache"
	"github.com/MrWong99/toolgate/internal/orchestrator"
	"github.com/MrWong99/toolgate/pkg/llm"
	llmmock "github.com/MrWong99/toolgate/pkg/llm/mock"
)

// ── test doubles ─────────────────────────────────────────────────────────────

// fakeExecutor scripts tool definitions and call results.
type fakeExecutor struct {
	mu       sync.Mutex
	tools    []llm.ToolDefinition
	toolsErr error
	results  map[string]*toolcache.Result
	callErr  error
	calls    []string // tool names in execution order
}

func (f *fakeExecutor) Tools(_ context.Context) ([]llm.ToolDefinition, error) {
	if f.toolsErr != nil {
		return nil, f.toolsErr
	}
	return f.tools, nil
}

func (f *fakeExecutor) Call(_ context.Context, name, _ string) (*toolcache.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.callErr != nil {
		return nil, f.callErr
	}
	if r, ok := f.results[name]; ok {
		return r, nil
	}
	return &toolcache.Result{Content: "{}"}, nil
}

// memoryStore is an in-memory history.Store.
type memoryStore struct {
	mu    sync.Mutex
	chats map[string][]history.Message
}

func newMemoryStore() *memoryStore {
	return &memoryStore{chats: make(map[string][]history.Message)}
}

func (s *memoryStore) Append(_ context.Context, chatID string, msgs ...history.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chatID] = append(s.chats[chatID], msgs...)
	return nil
}

func (s *memoryStore) Recent(_ context.Context, chatID string) ([]history.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chats[chatID], nil
}

func (s *memoryStore) Clear(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
	return nil
}

var queryTool = llm.ToolDefinition{
	Name:        "run_query",
	Description: "Run a read-only SQL query.",
	Parameters:  map[string]any{"type": "object"},
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestAnswer_DirectReply(t *testing.T) {
	provider := &llmmock.Provider{
		Responses: []*llm.Response{{Content: "There are 12 tables."}},
	}
	exec := &fakeExecutor{tools: []llm.ToolDefinition{queryTool}}

	o := orchestrator.New(orchestrator.Config{Provider: provider, Tools: exec})

	reply, err := o.Answer(context.Background(), "chat-1", "how many tables?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply.Content != "There are 12 tables." {
		t.Errorf("content = %q", reply.Content)
	}
	if len(reply.ToolCalls) != 0 {
		t.Errorf("tool calls = %d, want 0", len(reply.ToolCalls))
	}
	if provider.CallCount() != 1 {
		t.Errorf("completions = %d, want 1", provider.CallCount())
	}

	// The tool catalogue must be offered to the model.
	req := provider.Calls[0].Req
	if len(req.Tools) != 1 || req.Tools[0].Name != "run_query" {
		t.Errorf("offered tools = %+v, want run_query", req.Tools)
	}
	if req.SystemPrompt == "" {
		t.Error("system prompt should not be empty")
	}
}

func TestAnswer_SingleToolRound(t *testing.T) {
	provider := &llmmock.Provider{
		Responses: []*llm.Response{
			{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "run_query", Arguments: `{"sql":"SELECT 1"}`}}},
			{Content: "The answer is 1."},
		},
	}
	exec := &fakeExecutor{
		tools:   []llm.ToolDefinition{queryTool},
		results: map[string]*toolcache.Result{"run_query": {Content: `[{"?column?":1}]`}},
	}

	o := orchestrator.New(orchestrator.Config{Provider: provider, Tools: exec})

	reply, err := o.Answer(context.Background(), "chat-1", "what is 1?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply.Content != "The answer is 1." {
		t.Errorf("content = %q", reply.Content)
	}
	if len(reply.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(reply.ToolCalls))
	}
	if reply.ToolCalls[0].Name != "run_query" {
		t.Errorf("tool call name = %q", reply.ToolCalls[0].Name)
	}
	if reply.ToolCalls[0].Result != `[{"?column?":1}]` {
		t.Errorf("tool call result = %q", reply.ToolCalls[0].Result)
	}

	// Second completion must include the tool result message.
	msgs := provider.Calls[1].Req.Messages
	last := msgs[len(msgs)-1]
	if last.Role != "tool" || last.ToolCallID != "call-1" {
		t.Errorf("last message = %+v, want tool result for call-1", last)
	}
}

func TestAnswer_ToolErrorFedBackToModel(t *testing.T) {
	provider := &llmmock.Provider{
		Responses: []*llm.Response{
			{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "run_query", Arguments: `{"sql":"DROP TABLE x"}`}}},
			{Content: "That query is not allowed."},
		},
	}
	exec := &fakeExecutor{
		tools:   []llm.ToolDefinition{queryTool},
		results: map[string]*toolcache.Result{"run_query": {Content: "only read-only queries are allowed", IsError: true}},
	}

	o := orchestrator.New(orchestrator.Config{Provider: provider, Tools: exec})

	reply, err := o.Answer(context.Background(), "chat-1", "drop the table")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply.Content != "That query is not allowed." {
		t.Errorf("content = %q", reply.Content)
	}
	if !reply.ToolCalls[0].IsError {
		t.Error("tool invocation should be flagged as error")
	}

	msgs := provider.Calls[1].Req.Messages
	last := msgs[len(msgs)-1]
	if !strings.HasPrefix(last.Content, "tool error:") {
		t.Errorf("tool error should be prefixed for the model, got %q", last.Content)
	}
}

func TestAnswer_TransportFailureAbortsTurn(t *testing.T) {
	wantErr := errors.New("session closed")
	provider := &llmmock.Provider{
		Responses: []*llm.Response{
			{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "run_query"}}},
		},
	}
	exec := &fakeExecutor{
		tools:   []llm.ToolDefinition{queryTool},
		callErr: wantErr,
	}

	o := orchestrator.New(orchestrator.Config{Provider: provider, Tools: exec})

	_, err := o.Answer(context.Background(), "chat-1", "query something")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected transport error, got: %v", err)
	}
}

func TestAnswer_MaxRoundsForcesFinalAnswer(t *testing.T) {
	// The model requests a tool on every round; after MaxToolRounds the
	// orchestrator asks once more with no tools on offer.
	loop := &llm.Response{
		ToolCalls: []llm.ToolCall{{ID: "c", Name: "run_query", Arguments: "{}"}},
	}
	provider := &llmmock.Provider{
		Responses: []*llm.Response{loop, loop, {Content: "best effort answer"}},
	}
	exec := &fakeExecutor{tools: []llm.ToolDefinition{queryTool}}

	o := orchestrator.New(orchestrator.Config{
		Provider:      provider,
		Tools:         exec,
		MaxToolRounds: 2,
	})

	reply, err := o.Answer(context.Background(), "chat-1", "loop forever")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply.Content != "best effort answer" {
		t.Errorf("content = %q", reply.Content)
	}
	if got := provider.CallCount(); got != 3 {
		t.Errorf("completions = %d, want 3 (2 rounds + final)", got)
	}
	// The final completion must offer no tools.
	final := provider.Calls[2].Req
	if len(final.Tools) != 0 {
		t.Errorf("final completion offered %d tools, want 0", len(final.Tools))
	}
}

func TestAnswer_HistoryRoundTrip(t *testing.T) {
	store := newMemoryStore()
	provider := &llmmock.Provider{
		Responses: []*llm.Response{
			{Content: "Berlin."},
			{Content: "About 3.8 million."},
		},
	}
	exec := &fakeExecutor{tools: []llm.ToolDefinition{queryTool}}

	o := orchestrator.New(orchestrator.Config{
		Provider: provider,
		Tools:    exec,
		History:  store,
	})
	ctx := context.Background()

	if _, err := o.Answer(ctx, "chat-1", "capital of Germany?"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if _, err := o.Answer(ctx, "chat-1", "how many people live there?"); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	// The second completion must carry the first exchange.
	msgs := provider.Calls[1].Req.Messages
	if len(msgs) != 3 {
		t.Fatalf("second turn carried %d messages, want 3", len(msgs))
	}
	if msgs[0].Content != "capital of Germany?" || msgs[1].Content != "Berlin." {
		t.Errorf("history not replayed, got %+v", msgs[:2])
	}

	saved, err := store.Recent(ctx, "chat-1")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(saved) != 4 {
		t.Errorf("saved %d messages, want 4", len(saved))
	}
}

func TestAnswer_ToolDiscoveryFailure(t *testing.T) {
	wantErr := errors.New("no session")
	provider := &llmmock.Provider{}
	exec := &fakeExecutor{toolsErr: wantErr}

	o := orchestrator.New(orchestrator.Config{Provider: provider, Tools: exec})

	_, err := o.Answer(context.Background(), "chat-1", "anything")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected discovery error, got: %v", err)
	}
	if provider.CallCount() != 0 {
		t.Errorf("model should not be called when discovery fails, got %d calls", provider.CallCount())
	}
}

func TestAnswer_ProviderFailure(t *testing.T) {
	wantErr := errors.New("rate limited")
	provider := &llmmock.Provider{Err: wantErr}
	exec := &fakeExecutor{tools: []llm.ToolDefinition{queryTool}}

	o := orchestrator.New(orchestrator.Config{Provider: provider, Tools: exec})

	_, err := o.Answer(context.Background(), "chat-1", "anything")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected provider error, got: %v", err)
	}
}
