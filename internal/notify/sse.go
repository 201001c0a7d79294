package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var heartbeatComment = []byte(": heartbeat\n\n")

// SSESink writes events as a text/event-stream.
type SSESink struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
}

var _ Sink = (*SSESink)(nil)

// NewSSESink sends the event-stream response headers and flushes them.
// It fails if w cannot be flushed.
func NewSSESink(w http.ResponseWriter, writeTimeout time.Duration) (*SSESink, error) {
	s := &SSESink{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := s.rc.Flush(); err != nil {
		return nil, fmt.Errorf("notify: flushing event stream: %w", err)
	}
	return s, nil
}

func (s *SSESink) Send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: encoding event: %w", err)
	}
	buf := make([]byte, 0, len(data)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	return s.write(buf)
}

// Heartbeat writes an SSE comment, which clients ignore.
func (s *SSESink) Heartbeat() error {
	return s.write(heartbeatComment)
}

// write sets a fresh deadline before every write so an idle stream is not
// cut by the server's write timeout.
func (s *SSESink) write(b []byte) error {
	if s.writeTimeout > 0 {
		err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return s.rc.Flush()
}
