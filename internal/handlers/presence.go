package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tariel-x/tutorlive/internal/presence"

	"github.com/gin-gonic/gin"
)

// register binds client to id and announces the new online set to every role group.
func (h *Handlers) register(client *wsClient, id presence.Identity) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	for _, role := range presence.Roles {
		if role != id.Role {
			h.wsHub.Leave(role.Group(), client)
		}
	}
	h.presence.Register(id.ID, id.Role, client)
	h.wsHub.Join(id.Role.Group(), client)
	h.broadcastPresenceLocked()
}

// disconnect drops whatever identity client still holds. A binding already taken
// over by a newer connection is left alone.
func (h *Handlers) disconnect(client *wsClient) {
	h.presenceMu.Lock()
	id, released := h.presence.Release(client)
	h.wsHub.LeaveAll(client)
	if released {
		h.broadcastPresenceLocked()
	}
	h.presenceMu.Unlock()

	if !released {
		slog.Default().Debug("ws disconnect", "remote", client.remote)
		return
	}
	ended := h.calls.EndAllFor(id.ID, "disconnected", h.nowFn())
	slog.Default().Debug("ws disconnect", "remote", client.remote, "user_id", id.ID, "role", id.Role, "calls_ended", ended)
}

func (h *Handlers) broadcastPresenceLocked() {
	payload := encodeEvent(evGetOnlineUsers, h.presence.Snapshot())
	for _, role := range presence.Roles {
		h.wsHub.Broadcast(role.Group(), payload)
	}
	h.metrics.observePresence(h.presence)
}

func (h *Handlers) handleRegisterUser(_ context.Context, client *wsClient, data json.RawMessage) error {
	var in registerUserData
	if err := decodeEvent(data, &in); err != nil {
		return fmt.Errorf("%w: register-user: %v", errProtocol, err)
	}
	role, err := presence.ParseRole(in.Role)
	if err != nil {
		return fmt.Errorf("%w: register-user: %v", errProtocol, err)
	}
	if client.authID != "" && client.authID != in.UserID {
		return fmt.Errorf("%w: register-user: identity does not match token", errProtocol)
	}

	h.register(client, presence.Identity{ID: in.UserID, Role: role})
	slog.Default().Debug("ws registered", "remote", client.remote, "user_id", in.UserID, "role", role)
	return nil
}

type presenceResponse struct {
	Online []string        `json:"online"`
	Counts presence.Counts `json:"counts"`
}

// GetPresence reports the current online set. Admin only.
func (h *Handlers) GetPresence(c *gin.Context) {
	c.JSON(http.StatusOK, presenceResponse{
		Online: h.presence.Snapshot(),
		Counts: h.presence.Counts(),
	})
}

// GetPresenceStatus reports whether one identity is online in the given role.
func (h *Handlers) GetPresenceStatus(c *gin.Context) {
	role, err := presence.ParseRole(c.Param("role"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": h.presence.IsOnline(c.Param("user_id"), role)})
}
