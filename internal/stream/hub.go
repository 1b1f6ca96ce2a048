// Package stream pushes session changes and pipeline warnings to browser
// clients over WebSocket.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/tdd-mentor/internal/domain"
)

const (
	sendQueueSize = 16
	writeTimeout  = 5 * time.Second
)

// Message is the envelope sent to watchers.
type Message struct {
	Type    string          `json:"type"`
	Session *domain.Session `json:"session,omitempty"`
	Message string          `json:"message,omitempty"`
}

type watcher struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out messages to every connected watcher. A watcher that cannot
// keep up is disconnected rather than allowed to block the publisher.
type Hub struct {
	snapshot      func() domain.Session
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger

	mu       sync.Mutex
	watchers map[*watcher]struct{}
}

// NewHub creates a hub. snapshot supplies the state sent to new watchers.
func NewHub(snapshot func() domain.Session, allowedOrigin string, isDev bool, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		snapshot:      snapshot,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
		watchers:      make(map[*watcher]struct{}),
	}
}

// Publish broadcasts a session snapshot. It matches cycle.Listener.
func (h *Hub) Publish(s domain.Session) {
	h.broadcast(Message{Type: "state", Session: &s})
}

// Warn broadcasts a user-visible warning. It satisfies generation.Warner.
func (h *Hub) Warn(msg string) {
	h.broadcast(Message{Type: "warning", Message: msg})
}

// Count returns the number of connected watchers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

// Close disconnects every watcher.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers {
		h.dropLocked(w, websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) broadcast(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		h.logger.Error("Failed to encode stream message", "type", m.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers {
		select {
		case w.send <- data:
		default:
			h.logger.Warn("Stream watcher too slow, disconnecting")
			h.dropLocked(w, websocket.StatusPolicyViolation, "too slow")
		}
	}
}

func (h *Hub) dropLocked(w *watcher, code websocket.StatusCode, reason string) {
	if _, ok := h.watchers[w]; !ok {
		return
	}
	delete(h.watchers, w)
	close(w.send)
	go func() {
		_ = w.conn.Close(code, reason)
	}()
}

func (h *Hub) unregister(w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.watchers[w]; ok {
		delete(h.watchers, w)
		close(w.send)
	}
}

// ServeHTTP upgrades the request and streams messages until the client
// leaves. The first message is always the current session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "stream ended")
	}()

	wt := &watcher{conn: ws, send: make(chan []byte, sendQueueSize)}
	if err := h.register(wt); err != nil {
		h.logger.Error("Failed to send initial snapshot", "error", err)
		return
	}
	defer h.unregister(wt)
	h.logger.Info("Stream watcher connected", "ip", r.RemoteAddr, "watchers", h.Count())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, wt)
	}()

	h.readLoop(ctx, wt)
	cancel()
	wg.Wait()
	h.logger.Info("Stream watcher disconnected", "ip", r.RemoteAddr)
}

// register queues the current snapshot and adds w under the hub lock, so
// no broadcast can slip in between.
func (h *Hub) register(w *watcher) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.snapshot()
	data, err := json.Marshal(Message{Type: "state", Session: &s})
	if err != nil {
		return err
	}
	w.send <- data
	h.watchers[w] = struct{}{}
	return nil
}

func (h *Hub) writeLoop(ctx context.Context, w *watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-w.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := w.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					h.logger.Debug("WebSocket write error", "error", err)
				}
				return
			}
		}
	}
}

// readLoop answers pings; anything else from the client is ignored.
func (h *Hub) readLoop(ctx context.Context, w *watcher) {
	for {
		_, data, err := w.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("WebSocket closed by client")
			} else {
				h.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) != nil || msg.Type != "ping" {
			continue
		}
		pong, _ := json.Marshal(Message{Type: "pong"})
		h.mu.Lock()
		if _, ok := h.watchers[w]; ok {
			select {
			case w.send <- pong:
			default:
			}
		}
		h.mu.Unlock()
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
