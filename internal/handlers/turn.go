package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type iceServer struct {
	URLs       string `json:"urls"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// GetTURNConfig hands out ICE servers with short-lived credentials bound to the caller.
// The relay is UDP only, so "turn:" rather than "turns:"; media is DTLS-SRTP either way.
func (h *Handlers) GetTURNConfig(c *gin.Context) {
	if h.turn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "TURN relay is not available"})
		return
	}

	host := c.Request.Host
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}

	id := requestIdentity(c)
	creds := h.turn.Credentials(id.ID)

	iceServers := []iceServer{
		{URLs: fmt.Sprintf("stun:%s:%d", host, h.config.TURNPort)},
		{
			URLs:       fmt.Sprintf("turn:%s:%d", host, h.config.TURNPort),
			Username:   creds.Username,
			Credential: creds.Password,
		},
	}

	slog.Default().Debug("turn config requested", "user_id", id.ID, "host", host, "expires", creds.Expires)

	c.JSON(http.StatusOK, gin.H{
		"iceServers": iceServers,
		"expires":    creds.Expires,
	})
}
