package notify

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// WSSink sends events as JSON text frames over a WebSocket. Heartbeats are
// ping control frames.
type WSSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

var _ Sink = (*WSSink)(nil)

func NewWSSink(conn *websocket.Conn, writeTimeout time.Duration) *WSSink {
	return &WSSink{conn: conn, writeTimeout: writeTimeout}
}

func (s *WSSink) Send(ev Event) error {
	if err := s.conn.SetWriteDeadline(s.deadline()); err != nil {
		return err
	}
	return s.conn.WriteJSON(ev)
}

func (s *WSSink) Heartbeat() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, s.deadline())
}

// ReadUntilClosed discards everything the peer sends and calls cancel once
// the connection is closed or broken. Reading is what lets gorilla process
// close and pong frames, so it must run for the life of the connection.
func (s *WSSink) ReadUntilClosed(cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *WSSink) deadline() time.Time {
	if s.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.writeTimeout)
}
