package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"cartsync/internal/app"
	"cartsync/internal/notify"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = (eventPongWait * 9) / 10

	// eventBuffer bounds signals queued for a slow client. The notifier
	// coalesces repeats, so a full buffer means the client stopped reading.
	eventBuffer = 16
)

// Event types sent on /events.
const (
	EventHello         = "hello"
	EventCartChanged   = "cart_changed"
	EventUserLoggedOut = "user_logged_out"
)

// Event is one message on the /events stream.
type Event struct {
	Type  string     `json:"type"`
	Badge *app.Badge `json:"badge,omitempty"`
}

// handleEvents upgrades to a websocket and relays cross-view signals.
// The first message is a hello carrying the current badge.
// GET /events
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("event stream upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	logger := h.logger.With(slog.String("remote", r.RemoteAddr))
	if view := r.URL.Query().Get("view"); view != "" {
		logger = logger.With(slog.String("view", view))
	}

	signals := make(chan notify.Signal, eventBuffer)
	sub := h.rt.Notifier().Subscribe(func(sig notify.Signal) {
		select {
		case signals <- sig:
		default:
			logger.Debug("event stream backlog full, dropping signal", slog.String("signal", sig.String()))
		}
	})
	defer sub.Close()

	closed := make(chan struct{})
	go h.readEvents(conn, closed)

	// Hijacked connections outlive the request context's usual lifecycle.
	ctx := context.WithoutCancel(r.Context())

	if err := h.writeEvent(conn, h.badgeEvent(ctx, EventHello)); err != nil {
		logger.Debug("event stream closed", slog.String("error", err.Error()))
		return
	}
	logger.Info("event stream opened")

	ping := time.NewTicker(eventPingPeriod)
	defer ping.Stop()

	for {
		var err error
		select {
		case <-closed:
			logger.Info("event stream closed by client")
			return
		case <-h.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(eventWriteWait))
			return
		case sig := <-signals:
			switch sig {
			case notify.CartChanged:
				err = h.writeEvent(conn, h.badgeEvent(ctx, EventCartChanged))
			case notify.UserLoggedOut:
				err = h.writeEvent(conn, Event{Type: EventUserLoggedOut})
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			err = conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			logger.Debug("event stream write failed", slog.String("error", err.Error()))
			return
		}
	}
}

// readEvents drains client frames so pongs and close frames are processed.
// It closes closed when the connection ends.
func (h *Handler) readEvents(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) badgeEvent(ctx context.Context, typ string) Event {
	badge, err := h.rt.Badge(ctx)
	if err != nil {
		h.logger.Warn("reading badge for event failed", slog.String("error", err.Error()))
		return Event{Type: typ}
	}
	return Event{Type: typ, Badge: &badge}
}

func (h *Handler) writeEvent(conn *websocket.Conn, ev Event) error {
	conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
	return conn.WriteJSON(ev)
}
