// Package stage serves the live preview. A Hub pushes renders of the valid
// tree to WebSocket clients and feeds their click, double-click and hover
// events back to the coordinator.
package stage

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/dannyswat/htmlstage"
	"github.com/dannyswat/htmlstage/internal/debug"
)

// DefaultUIDAttribute is the attribute that carries node uids in rendered markup.
const DefaultUIDAttribute = "data-stage-uid"

// EventHandler receives preview interactions.
type EventHandler func(htmlstage.StageEvent) error

// RenderParams is the payload of a "render" message. Delta is omitted when
// clients must replace their document with HTML.
type RenderParams struct {
	Session string                `json:"session"`
	Origin  htmlstage.Origin      `json:"origin"`
	HTML    string                `json:"html"`
	Delta   []htmlstage.Operation `json:"delta,omitempty"`
	Focused htmlstage.UID         `json:"focused,omitempty"`
	Hovered htmlstage.UID         `json:"hovered,omitempty"`
}

type message struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// Hub is an http.Handler serving "/ws" for preview clients and "/" with the
// latest rendered document. It implements htmlstage.StageSink.
type Hub struct {
	uidAttr  string
	upgrader websocket.Upgrader
	mirror   *Mirror

	mu      sync.Mutex
	session string
	handler EventHandler
	clients []*wsClient
	last    *RenderParams
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewHub creates a hub tagging elements with uidAttr.
func NewHub(uidAttr string) *Hub {
	if uidAttr == "" {
		uidAttr = DefaultUIDAttribute
	}
	return &Hub{
		uidAttr: uidAttr,
		mirror:  NewMirror(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Bind sets the session whose renders are pushed and the handler for client
// events.
func (h *Hub) Bind(session string, handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = session
	h.handler = handler
}

// Mirror returns the hub's server-side copy of the client document.
func (h *Hub) Mirror() *Mirror {
	return h.mirror
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Render implements htmlstage.StageSink. The delta is forwarded only when the
// mirror confirms that it reproduces the new tree.
func (h *Hub) Render(u htmlstage.StageUpdate) error {
	markup, err := htmlstage.SerializeStage(u.Valid, h.uidAttr)
	if err != nil {
		return fmt.Errorf("stage render: %w", err)
	}
	params := &RenderParams{
		Origin:  u.Origin,
		HTML:    markup,
		Focused: u.Focused,
		Hovered: u.Hovered,
	}
	if h.mirror.Apply(u) && u.Delta != nil {
		params.Delta = u.Delta.Operations
	}

	h.mu.Lock()
	params.Session = h.session
	h.last = params
	h.mu.Unlock()

	h.Broadcast("render", params)
	return nil
}

// Broadcast sends a method call to all connected clients. Clients whose
// connection fails are dropped.
func (h *Hub) Broadcast(method string, params any) {
	data, err := json.Marshal(message{Method: method, Params: params})
	if err != nil {
		debug.Log("stage: marshal %s: %v", method, err)
		return
	}
	h.mu.Lock()
	clients := make([]*wsClient, len(h.clients))
	copy(clients, h.clients)
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.send(data); err != nil {
			debug.Log("stage: dropping client: %v", err)
			h.remove(c)
			c.conn.Close()
		}
	}
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ws":
		h.handleWebSocket(w, r)
	case "/":
		h.mu.Lock()
		last := h.last
		h.mu.Unlock()
		if last == nil {
			http.Error(w, "no document rendered", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(last.HTML))
	default:
		http.NotFound(w, r)
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Log("stage: websocket upgrade: %v", err)
		return
	}
	client := &wsClient{conn: conn}

	h.mu.Lock()
	h.clients = append(h.clients, client)
	last := h.last
	h.mu.Unlock()
	defer func() {
		conn.Close()
		h.remove(client)
	}()

	// A new client starts from the full document.
	if last != nil {
		snapshot := *last
		snapshot.Delta = nil
		if data, err := json.Marshal(message{Method: "render", Params: &snapshot}); err == nil {
			if err := client.send(data); err != nil {
				return
			}
		}
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev htmlstage.StageEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			debug.Log("stage: bad event %q: %v", msg, err)
			continue
		}
		h.mu.Lock()
		handler := h.handler
		h.mu.Unlock()
		if handler == nil {
			continue
		}
		if err := handler(ev); err != nil {
			debug.Log("stage: event %s %s: %v", ev.Kind, ev.UID, err)
		}
	}
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.clients {
		if c == client {
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			return
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = nil
	h.mu.Unlock()
	for _, c := range clients {
		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		c.mu.Unlock()
		c.conn.Close()
	}
}
