package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tariel-x/tutorlive/internal/presence"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 70 * time.Second
	wsPingPeriod   = 30 * time.Second
	wsMaxFrameSize = 64 << 10
)

// HandleWebSocket authenticates the handshake, binds the identity it names and
// then serves the connection until it closes. A handshake without a valid identity
// is refused before the upgrade.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	id, authenticated, status, err := h.handshakeIdentity(c)
	if err != nil {
		slog.Default().Debug("ws handshake refused", "ip", c.ClientIP(), "error", err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	slog.Default().Debug("ws connect request", "user_id", id.ID, "role", id.Role, "ip", c.ClientIP())

	conn, err := h.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Default().Warn("ws upgrade failed", "user_id", id.ID, "error", err)
		return
	}

	client := newWSClient(conn, c.ClientIP())
	if authenticated {
		client.authID = id.ID
	}

	h.register(client, id)
	slog.Default().Debug("ws connected", "user_id", id.ID, "role", id.Role)

	go h.writePump(client)
	go h.serve(client)
	h.readPump(client)
}

func (h *Handlers) handshakeIdentity(c *gin.Context) (presence.Identity, bool, int, error) {
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader("Authorization")
	}

	if token != "" {
		id, err := h.tokenIdentity(token)
		if err != nil {
			return presence.Identity{}, false, http.StatusUnauthorized, err
		}
		if userID := c.Query("userId"); userID != "" && userID != id.ID {
			return presence.Identity{}, false, http.StatusForbidden, errors.New("userId does not match token")
		}
		return id, true, 0, nil
	}
	if h.config.RequireAuth {
		return presence.Identity{}, false, http.StatusUnauthorized, errors.New("token is required")
	}

	userID := c.Query("userId")
	roleParam := c.Query("role")
	if userID == "" || roleParam == "" {
		return presence.Identity{}, false, http.StatusBadRequest, errors.New("userId and role are required")
	}
	role, err := presence.ParseRole(roleParam)
	if err != nil {
		return presence.Identity{}, false, http.StatusBadRequest, err
	}
	return presence.Identity{ID: userID, Role: role}, false, 0, nil
}

// readPump decodes frames and queues them for serve. Closing the inbox starts the
// disconnect sequence once everything queued before it has been handled.
func (h *Handlers) readPump(client *wsClient) {
	defer func() {
		close(client.inbox)
		_ = client.conn.Close()
	}()

	client.conn.SetReadLimit(wsMaxFrameSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			slog.Default().Debug("ws read error", "remote", client.remote, "error", err)
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var msg wsEnvelope
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Event == "" {
			slog.Default().Debug("ws bad json", "remote", client.remote, "error", err)
			client.Send(encodeEvent(evError, newEventError("Malformed event")))
			continue
		}

		if msg.Event == evPing {
			continue
		}

		// Payloads may carry message bodies. Log sizes only.
		slog.Default().Debug("ws recv", "remote", client.remote, "event", msg.Event, "data_bytes", len(msg.Data))
		client.inbox <- msg
	}
}

// serve handles one connection's events strictly in arrival order.
func (h *Handlers) serve(client *wsClient) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fatal := false
	for msg := range client.inbox {
		if fatal {
			continue
		}
		if err := h.dispatch(ctx, client, msg); errors.Is(err, errProtocol) {
			fatal = true
			client.closeConn()
		}
	}

	h.disconnect(client)
	client.closeSend()
}

func (h *Handlers) writePump(client *wsClient) {
	defer func() {
		_ = client.conn.Close()
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = client.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound event. Errors other than errProtocol are reported to
// the originating connection as an "error" event.
func (h *Handlers) dispatch(ctx context.Context, client *wsClient, msg wsEnvelope) error {
	handle, ok := h.routes[msg.Event]
	if !ok {
		h.metrics.events.WithLabelValues("unknown", "invalid").Inc()
		client.Send(encodeEvent(evError, newEventError("Unknown event %q", msg.Event)))
		return nil
	}

	err := handle(ctx, client, msg.Data)
	h.metrics.events.WithLabelValues(msg.Event, outcome(err)).Inc()
	if err == nil {
		return nil
	}

	var evErr *eventError
	switch {
	case errors.Is(err, errProtocol):
		slog.Default().Info("ws protocol violation, closing", "remote", client.remote, "event", msg.Event, "error", err)
	case errors.As(err, &evErr):
		slog.Default().Debug("ws event rejected", "remote", client.remote, "event", msg.Event, "error", err)
		client.Send(encodeEvent(evError, evErr))
	default:
		slog.Default().Error("ws event failed", "remote", client.remote, "event", msg.Event, "error", err)
		client.Send(encodeEvent(evError, newEventError("%s", err.Error())))
	}
	return err
}

func outcome(err error) string {
	var evErr *eventError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errProtocol):
		return "fatal"
	case errors.As(err, &evErr):
		return "invalid"
	default:
		return "failed"
	}
}
