// Package chat exposes the HTTP API for asking questions. A request runs one
// orchestrator turn; the response carries the answer and the tool calls that
// produced it.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/toolgate/internal/mcp/mcpconn"
	"github.com/MrWong99/toolgate/internal/observe"
	"github.com/MrWong99/toolgate/internal/orchestrator"
)

// maxMessageLen bounds a single question.
const maxMessageLen = 8 << 10

// Answerer is the slice of the orchestrator the handler consumes.
type Answerer interface {
	Answer(ctx context.Context, chatID, question string) (*orchestrator.Reply, error)
}

// request is the POST /v1/chat body.
type request struct {
	// ChatID continues an existing conversation. Empty starts a new one.
	ChatID  string `json:"chat_id,omitempty"`
	Message string `json:"message"`
}

// response is the POST /v1/chat reply body.
type response struct {
	ChatID    string                        `json:"chat_id"`
	Reply     string                        `json:"reply"`
	ToolCalls []orchestrator.ToolInvocation `json:"tool_calls,omitempty"`
}

// errorResponse is the body for non-2xx replies.
type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the chat API. Safe for concurrent use.
type Handler struct {
	answerer Answerer
	metrics  *observe.Metrics
}

// New creates a Handler. metrics may be nil.
func New(answerer Answerer, metrics *observe.Metrics) *Handler {
	return &Handler{answerer: answerer, metrics: metrics}
}

// Register adds the chat routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chat", h.Chat)
}

// Chat handles one question. New conversations get a server-assigned chat ID
// returned in the response; clients send it back to keep context.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}
	if len(req.Message) > maxMessageLen {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message too long"})
		return
	}

	chatID := req.ChatID
	if chatID == "" {
		chatID = uuid.NewString()
	}

	if h.metrics != nil {
		h.metrics.ActiveChats.Add(ctx, 1)
		defer h.metrics.ActiveChats.Add(ctx, -1)
	}

	reply, err := h.answerer.Answer(ctx, chatID, req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "answering failed"
		if isDependencyUnavailable(err) {
			status = http.StatusServiceUnavailable
			msg = "dependency unavailable"
		}
		log.Error("chat turn failed", "chat_id", chatID, "err", err)
		writeJSON(w, status, errorResponse{Error: msg})
		return
	}

	log.Info("chat turn completed",
		"chat_id", chatID,
		"tool_calls", len(reply.ToolCalls),
	)
	writeJSON(w, http.StatusOK, response{
		ChatID:    chatID,
		Reply:     reply.Content,
		ToolCalls: reply.ToolCalls,
	})
}

// isDependencyUnavailable reports whether err means the MCP backend cannot be
// reached right now, as opposed to a bad request or a model failure.
func isDependencyUnavailable(err error) bool {
	var ce *mcpconn.ConnectError
	return errors.As(err, &ce) || errors.Is(err, mcpconn.ErrClosed)
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
