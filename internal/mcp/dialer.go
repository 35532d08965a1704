package mcp

import (
	"context"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/toolgate/internal/auth"
)

// StreamableDialer dials an MCP server over the Streamable HTTP transport,
// attaching the credential as a Bearer token on every request of the session.
type StreamableDialer struct {
	endpoint string
	client   *mcpsdk.Client
}

// NewStreamableDialer returns a [Dialer] for the MCP server at endpoint
// (e.g. "https://tools.example.com/mcp").
func NewStreamableDialer(endpoint string) *StreamableDialer {
	return &StreamableDialer{
		endpoint: endpoint,
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "toolgate", Version: "1.0.0"},
			nil,
		),
	}
}

// Dial implements [Dialer]. Each session gets its own HTTP client carrying
// the credential issued for it; a refreshed session never reuses the old
// token.
func (d *StreamableDialer) Dial(ctx context.Context, cred auth.Credential) (Conn, error) {
	transport := &mcpsdk.StreamableClientTransport{
		Endpoint: d.endpoint,
	}
	if cred.Token != "" {
		transport.HTTPClient = &http.Client{
			Transport: &bearerTransport{token: cred.Token, base: http.DefaultTransport},
		}
	}

	session, err := d.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect to %q: %w", d.endpoint, err)
	}
	return session, nil
}

// bearerTransport injects an Authorization header into every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Per http.RoundTripper contract the request must not be mutated.
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(clone)
}
