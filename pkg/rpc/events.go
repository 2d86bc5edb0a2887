package rpc

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/halvard-eide/rrworker/pkg/utils"
	"github.com/halvard-eide/rrworker/pkg/wire"
)

var eventUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The admin stream is read-only telemetry; strict CORS checking
		// buys nothing here.
		return true
	},
}

// EventHub fans scheduler lifecycle events out to every connected
// /admin/events websocket client. It repurposes the teacher's
// push-to-subscriber pattern (pkg/server's sequence-push loop): each
// connection gets its own outbound channel and write goroutine, so one
// slow admin client never blocks another or the publisher.
type EventHub struct {
	log   *logrus.Logger
	token string

	mu      sync.Mutex
	clients map[chan wire.AdminEvent]struct{}
}

// NewEventHub constructs an empty EventHub. An empty token disables the
// admin-token check entirely.
func NewEventHub(log *logrus.Logger) *EventHub {
	return &EventHub{log: log, clients: make(map[chan wire.AdminEvent]struct{})}
}

// SetToken requires every /admin/events connection to supply ?token=...
// matching token, closing mismatched or missing tokens with the same
// close-code-on-reject pattern the teacher used for its sequence stream.
func (h *EventHub) SetToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
}

// Publish fans event out to every currently connected admin client.
// Clients that are not keeping up have the event dropped for them rather
// than blocking the publisher.
func (h *EventHub) Publish(event wire.AdminEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// ServeHTTP upgrades the connection and streams AdminEvents to it until the
// client disconnects.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := eventUpgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.WithError(err).Error("rpc: admin events websocket upgrade failed")
		}
		return
	}
	defer conn.Close()

	h.mu.Lock()
	requiredToken := h.token
	h.mu.Unlock()

	if requiredToken != "" {
		got := r.URL.Query().Get("token")
		code := 0
		switch {
		case got == "":
			code = utils.CloseCodeMissingAdminToken
		case got != requiredToken:
			code = utils.CloseCodeUnauthorizedAdmin
		}
		if code != 0 {
			if h.log != nil {
				h.log.WithField("close_code", utils.CloseCodeName(code)).Warn("rpc: admin events connection rejected")
			}
			closeWith(conn, code, utils.CloseCodeName(code))
			return
		}
	}

	ch := make(chan wire.AdminEvent, 32)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}()

	// Reads exist only to notice the peer closing the connection; the
	// admin stream carries no client-to-server messages.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event := <-ch:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-closed:
			return
		case <-time.After(30 * time.Second):
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
}
