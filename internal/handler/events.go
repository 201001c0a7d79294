package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/shared-lists/internal/apperror"
	"github.com/sakif/shared-lists/internal/notify"
)

// Subscriptions is the part of the notifier the event handlers use.
type Subscriptions interface {
	Serve(ctx context.Context, sink notify.Sink) error
}

var _ Subscriptions = (*notify.Notifier)(nil)

// EventsHandler streams change notifications.
//
// Clients receive {"type":"connected","clientId":"..."} once and then
// {"type":"update","kind":"items"} after every committed change. They are
// expected to re-fetch what they display; the events carry no data.
type EventsHandler struct {
	subs         Subscriptions
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

// NewEventsHandler creates the handler. allowedOrigin is matched against
// the Origin header of WebSocket upgrades; "*" allows any origin.
func NewEventsHandler(subs Subscriptions, writeTimeout time.Duration, allowedOrigin string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		subs:         subs,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
		logger: logger,
	}
}

// HandleSSE serves a Server-Sent Events stream.
//
// HTTP: GET /api/events
func (h *EventsHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	sink, err := notify.NewSSESink(w, h.writeTimeout)
	if err != nil {
		h.logger.Error("event stream unsupported", slog.String("error", err.Error()))
		return
	}
	h.serve(r.Context(), sink, "sse")
}

// HandleWebSocket serves the same events over a WebSocket.
//
// HTTP: GET /api/events/ws
func (h *EventsHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := notify.NewWSSink(conn, h.writeTimeout)
	go sink.ReadUntilClosed(cancel)

	h.serve(ctx, sink, "websocket")
}

func (h *EventsHandler) serve(ctx context.Context, sink notify.Sink, transport string) {
	err := h.subs.Serve(ctx, sink)
	if err != nil && errors.Is(err, apperror.ErrConnection) {
		h.logger.Debug("subscriber connection lost",
			slog.String("transport", transport),
			slog.String("error", err.Error()),
		)
	}
}
