// Package websocket pushes live state transitions and log lines to
// connected admin clients.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must stay under pongWait
	maxMessageSize = 512
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the envelope pushed to clients.
type Message struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

// session is one connected admin client. A session that cannot keep up
// with the broadcast stream is dropped rather than blocking the hub.
type session struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans broadcast messages out to all connected sessions.
type Hub struct {
	feed chan []byte

	mu       sync.Mutex
	sessions map[*session]struct{}
}

func NewHub() *Hub {
	return &Hub{
		feed:     make(chan []byte, sendBuffer),
		sessions: make(map[*session]struct{}),
	}
}

// Run drains the feed and distributes to sessions. Slow sessions are
// evicted inline.
func (h *Hub) Run() {
	for data := range h.feed {
		h.mu.Lock()
		for s := range h.sessions {
			select {
			case s.send <- data:
			default:
				delete(h.sessions, s)
				close(s.send)
			}
		}
		h.mu.Unlock()
	}
}

func (h *Hub) attach(s *session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) detach(s *session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		close(s.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a typed message to every connected client.
func (h *Hub) Broadcast(msgType string, payload any) error {
	data, err := json.Marshal(Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	select {
	case h.feed <- data:
	default: // feed congested, drop rather than stall the caller
	}
	return nil
}

// BroadcastStateChange pushes an item state transition.
func (h *Hub) BroadcastStateChange(itemID int64, state string) {
	_ = h.Broadcast("item:state", map[string]any{
		"itemId": itemID,
		"state":  state,
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// HandleWebSocket upgrades the request and starts the session pumps.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	s := &session{conn: conn, send: make(chan []byte, sendBuffer)}
	h.attach(s)

	go s.writeLoop()
	go s.readLoop(h)
	return nil
}

// readLoop discards client messages but keeps the read side alive for
// pong handling.
func (s *session) readLoop(h *Hub) {
	defer func() {
		h.detach(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
