package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// WSHandler streams progress events over a WebSocket connection.
type WSHandler struct {
	broadcaster   *Broadcaster
	allowedOrigin string
	isDev         bool
}

// NewWSHandler creates an event stream handler.
func NewWSHandler(broadcaster *Broadcaster, allowedOrigin string, isDev bool) *WSHandler {
	return &WSHandler{
		broadcaster:   broadcaster,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is the client's control message. A client may re-send subscribe
// to replace its topic set.
type wsMessage struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade. The connection
// starts subscribed to everything until the client narrows its topics.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.broadcaster.Subscribe(TopicAll)
	defer func() { h.broadcaster.Unsubscribe(sub) }()

	// A re-subscribe swaps the registration; the replacement is handed to the
	// delivery loop over this channel so the two goroutines never share sub.
	resub := make(chan *Subscriber, 1)

	slog.Info("Event stream connected", "ip", r.RemoteAddr)

	// Control loop: client subscribe/ping messages.
	go func() {
		defer cancel()
		for {
			_, message, err := ws.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) != -1 {
					slog.Debug("WebSocket closed by client")
				}
				return
			}

			var msg wsMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "subscribe":
				next := h.broadcaster.Subscribe(msg.Topics...)
				select {
				case resub <- next:
				case <-ctx.Done():
					h.broadcaster.Unsubscribe(next)
					return
				}
			case "ping":
				if err := h.writeJSON(ws, map[string]string{"type": "pong"}); err != nil {
					slog.Debug("Failed to send pong", "error", err)
					return
				}
			}
		}
	}()

	// Delivery loop: broadcaster -> WebSocket.
	for {
		select {
		case next := <-resub:
			h.broadcaster.Unsubscribe(sub)
			sub = next
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			if err := h.writeJSON(ws, evt); err != nil {
				slog.Debug("Event stream write error", "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
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

func (h *WSHandler) writeJSON(ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(context.Background(), websocket.MessageText, data)
}
