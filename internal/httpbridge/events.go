package httpbridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// eventEnvelope is one pushed event frame.
type eventEnvelope struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// eventHub fans session and purchase updates out to connected UI
// sockets. Slow consumers are dropped rather than allowed to stall the
// notifier path.
type eventHub struct {
	log      *zap.SugaredLogger
	ctx      context.Context
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	send chan eventEnvelope
}

func newEventHub(ctx context.Context, log *zap.SugaredLogger) *eventHub {
	return &eventHub{
		log:     log,
		ctx:     ctx,
		clients: map[*hubClient]struct{}{},
		// Origin and loopback checks happen in the guard chain.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func (h *eventHub) broadcast(eventType string, payload any) {
	env := eventEnvelope{Type: eventType, Payload: payload, At: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- env:
		default:
			delete(h.clients, c)
			close(c.send)
			h.log.Warnw("dropping slow event consumer")
		}
	}
}

func (h *eventHub) attach(conn *websocket.Conn) {
	c := &hubClient{conn: conn, send: make(chan eventEnvelope, 16)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *eventHub) detach(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (h *eventHub) writePump(c *hubClient) {
	for {
		select {
		case <-h.ctx.Done():
			_ = c.conn.Close()
			return
		case env, ok := <-c.send:
			if !ok {
				_ = c.conn.Close()
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(env); err != nil {
				h.detach(c)
				return
			}
		}
	}
}

// readPump discards inbound frames; the event socket is push-only. Its
// job is noticing the peer going away.
func (h *eventHub) readPump(c *hubClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.detach(c)
			return
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") != s.uiSessionToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("event socket upgrade failed", "error", err)
		return
	}
	s.hub.attach(conn)
}
