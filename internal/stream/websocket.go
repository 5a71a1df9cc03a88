package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteTimeout = 10 * time.Second

// WebSocketWriter writes events as JSON text frames of the form
// {"event": "<type>", "data": {...}}.
type WebSocketWriter struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

// NewWebSocketWriter wraps an upgraded connection.
func NewWebSocketWriter(conn *websocket.Conn) *WebSocketWriter {
	return &WebSocketWriter{conn: conn, timeout: defaultWriteTimeout}
}

// Send writes one event frame.
func (s *WebSocketWriter) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(ev)
}
