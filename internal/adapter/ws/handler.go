// Package ws implements the WebSocket adapter streaming AG-UI events to clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/projectchat/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

const writeTimeout = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`

	thread string
}

// threaded is implemented by events that belong to one project conversation.
type threaded interface {
	Thread() string
}

// conn wraps a single WebSocket connection. An empty projectID receives every event.
type conn struct {
	ws        *websocket.Conn
	cancel    context.CancelFunc
	projectID string
}

// Authorizer decides whether the caller of r may follow projectID.
type Authorizer func(r *http.Request, projectID string) error

// Hub manages all active WebSocket connections and broadcasts messages.
type Hub struct {
	mu         sync.RWMutex
	conns      map[*conn]struct{}
	originPats []string
	authorize  Authorizer
}

// NewHub creates a new WebSocket hub. originPatterns are passed to the
// handshake; an empty list skips the origin check (CORS is handled by middleware).
func NewHub(originPatterns ...string) *Hub {
	return &Hub{
		conns:      make(map[*conn]struct{}),
		originPats: originPatterns,
	}
}

// SetAuthorizer requires every connection to name a project_id that
// passes a. Without one, project_id is optional and unchecked.
func (h *Hub) SetAuthorizer(a Authorizer) {
	h.authorize = a
}

// HandleWS upgrades the connection to WebSocket. The project_id query
// parameter limits delivery to events of that project.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if h.authorize != nil {
		if projectID == "" {
			http.Error(w, "project_id is required", http.StatusBadRequest)
			return
		}
		if err := h.authorize(r, projectID); err != nil {
			slog.WarnContext(r.Context(), "websocket subscription denied", "project_id", projectID, "error", err)
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}
	}

	opts := &websocket.AcceptOptions{OriginPatterns: h.originPats}
	if len(h.originPats) == 0 {
		opts.InsecureSkipVerify = true
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	// The request context ends when the handler returns.
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: ws, cancel: cancel, projectID: projectID}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr, "project_id", c.projectID)

	// Read loop to detect disconnects and consume pings.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// BroadcastEvent marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	msg := Message{Type: eventType, Payload: data}
	if t, ok := payload.(threaded); ok {
		msg.thread = t.Thread()
	}
	h.Broadcast(ctx, msg)
}

// Broadcast sends a message to every connection subscribed to its project.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if c.projectID == "" || msg.thread == "" || c.projectID == msg.thread {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		err := c.ws.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("websocket write failed", "error", err)
			h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.cancel()
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutdown")
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "project_id", c.projectID)
	}
}
