// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify what the orchestrator sends and to
// feed controlled responses without a live backend. Script multi-turn
// behaviour by queueing responses; each Complete call consumes one.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/toolgate/pkg/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the request passed to Complete.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
//
// Responses are consumed front-to-back; when the queue is exhausted the last
// response is repeated. Set Err to make every call fail instead.
type Provider struct {
	mu sync.Mutex

	// Responses is the scripted sequence of replies.
	Responses []*llm.Response

	// Err, if non-nil, is returned by every Complete call.
	Err error

	// Calls records every invocation in order (read after test).
	Calls []CompleteCall
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, CompleteCall{Ctx: ctx, Req: req})
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Responses) == 0 {
		return &llm.Response{}, nil
	}
	resp := p.Responses[0]
	if len(p.Responses) > 1 {
		p.Responses = p.Responses[1:]
	}
	return resp, nil
}

// CallCount returns how many times Complete was invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
