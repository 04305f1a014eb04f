package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/autoflash/internal/study"
)

// LiveHandler streams a tab's study session over a WebSocket and accepts
// commands on the same connection.
type LiveHandler struct {
	study         *StudyHandler
	allowedOrigin string
	isDev         bool
}

// NewLiveHandler creates a new WebSocket handler.
func NewLiveHandler(sh *StudyHandler, allowedOrigin string, isDev bool) *LiveHandler {
	return &LiveHandler{study: sh, allowedOrigin: allowedOrigin, isDev: isDev}
}

// wsMessage represents WebSocket message structure.
type wsMessage struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
	Advance bool   `json:"advance,omitempty"`
}

type wsSnapshot struct {
	Type    string         `json:"type"`
	Session study.Snapshot `json:"session"`
}

type wsResult struct {
	Type    string         `json:"type"`
	Command string         `json:"command"`
	Changed bool           `json:"changed"`
	Review  *ReviewOutcome `json:"review,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := studyKey(r)
	slog.Info("WebSocket connection request", "user_id", key.UserID, "session_id", key.SessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", key.UserID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", key.UserID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := h.study.reg.Subscribe(key)
	defer unsubscribe()

	snap, _ := h.study.reg.View(key)
	if err := h.writeJSON(ctx, ws, wsSnapshot{Type: "snapshot", Session: snap}); err != nil {
		slog.Debug("Failed to send initial snapshot", "error", err, "user_id", key.UserID)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: WebSocket -> session.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, key)
	}()

	// Output loop: session -> WebSocket.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, updates, key)
	}()

	wg.Wait()
	slog.Info("Study stream ended", "user_id", key.UserID, "session_id", key.SessionID)
}

func (h *LiveHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *LiveHandler) inputLoop(ctx context.Context, ws *websocket.Conn, key study.Key) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed", "user_id", key.UserID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", key.UserID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendError(ctx, ws, "invalid message")
			continue
		}

		switch msg.Type {
		case "command":
			cmd, err := study.ParseCommand(msg.Command)
			if err != nil {
				h.sendError(ctx, ws, err.Error())
				continue
			}
			// The resulting snapshot reaches this connection through its subscription.
			res := h.study.apply(ctx, key, cmd, msg.Advance)
			if err := h.writeJSON(ctx, ws, wsResult{
				Type:    "result",
				Command: string(cmd),
				Changed: res.Changed,
				Review:  res.Review,
			}); err != nil {
				slog.Debug("Failed to send command result", "error", err)
				return
			}
		case "ping":
			if err := h.writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		default:
			h.sendError(ctx, ws, "unknown message type")
		}

		h.study.presence.Touch(key.UserID)
	}
}

func (h *LiveHandler) outputLoop(ctx context.Context, ws *websocket.Conn, updates <-chan study.Snapshot, key study.Key) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				// Removed by the idle sweeper.
				if err := h.writeJSON(ctx, ws, map[string]string{"type": "expired"}); err != nil {
					slog.Debug("Failed to send expiry notice", "error", err, "user_id", key.UserID)
				}
				return
			}
			if err := h.writeJSON(ctx, ws, wsSnapshot{Type: "snapshot", Session: snap}); err != nil {
				slog.Debug("WebSocket write error", "error", err, "user_id", key.UserID)
				return
			}
		}
	}
}

func (h *LiveHandler) sendError(ctx context.Context, ws *websocket.Conn, msg string) {
	if err := h.writeJSON(ctx, ws, map[string]string{"type": "error", "error": msg}); err != nil {
		slog.Debug("Failed to send error", "error", err)
	}
}

func (h *LiveHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
