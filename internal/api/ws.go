package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/baun-edu/baun-server/internal/chat"
	"github.com/coder/websocket"
)

// WebSocketHandler streams assistant replies token by token over a WebSocket
// connection.
type WebSocketHandler struct {
	manager       *chat.Manager
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(manager *chat.Manager, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		manager:       manager,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsRequest is one inbound chat message.
type wsRequest struct {
	Type           string   `json:"type"`
	Content        string   `json:"content"`
	ConversationID string   `json:"conversationId,omitempty"`
	Attachments    []string `json:"attachments,omitempty"`
}

// wsEvent is one outbound frame: a token, the final transcript, or an error.
type wsEvent struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ServeHTTP upgrades the connection and answers chat messages until the
// client disconnects.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Debug("WebSocket read failed", "error", err)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Content == "" {
			h.writeEvent(ctx, ws, wsEvent{Type: "error", Error: "invalid message"})
			continue
		}

		if req.ConversationID != "" {
			h.manager.Select(ctx, req.ConversationID)
		}

		conv, err := h.manager.AppendUserMessageStream(ctx, req.Content, req.Attachments, func(token string) {
			h.writeEvent(ctx, ws, wsEvent{Type: "token", Content: token})
		})
		if err != nil {
			h.writeEvent(ctx, ws, wsEvent{Type: "error", Error: "no active role"})
			continue
		}
		h.writeEvent(ctx, ws, wsEvent{Type: "done", ConversationID: conv.ID})
	}
}

func (h *WebSocketHandler) writeEvent(ctx context.Context, ws *websocket.Conn, ev wsEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write failed", "error", err)
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
