package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type clientConfigResponse struct {
	Debug              bool   `json:"debug"`
	RequireAuth        bool   `json:"requireAuth"`
	VAPIDPublicKey     string `json:"vapidPublicKey,omitempty"`
	DefaultAvatarURL   string `json:"defaultAvatar"`
	DefaultDisplayName string `json:"defaultName"`
}

func (h *Handlers) GetClientConfig(c *gin.Context) {
	resp := clientConfigResponse{
		Debug:              h.config.LogLevel == "debug",
		RequireAuth:        h.config.RequireAuth,
		DefaultAvatarURL:   h.config.DefaultAvatarURL,
		DefaultDisplayName: h.config.DefaultDisplayName,
	}
	if h.config.VAPIDKeys != nil {
		resp.VAPIDPublicKey = h.config.VAPIDKeys.PublicKey
	}
	c.JSON(http.StatusOK, resp)
}
