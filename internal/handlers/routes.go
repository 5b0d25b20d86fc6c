package handlers

import (
	"github.com/tariel-x/tutorlive/internal/presence"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the realtime gateway and its REST companions under api.
func (h *Handlers) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/config", h.GetClientConfig)
	api.GET("/ws", h.HandleWebSocket)
	api.GET("/push/vapid-public-key", h.GetVAPIDPublicKey)

	authed := api.Group("", h.AuthMiddleware())
	authed.GET("/turn-config", h.GetTURNConfig)
	authed.POST("/push/subscription", h.SubscribePush)
	authed.DELETE("/push/subscription", h.UnsubscribePush)
	authed.GET("/rooms", h.ListRooms)
	authed.POST("/rooms", h.CreateRoom)
	authed.GET("/rooms/:room_id/messages", h.ListMessages)
	authed.GET("/presence/:role/:user_id", h.GetPresenceStatus)
	authed.GET("/calls/:call_id", h.GetCall)

	admin := authed.Group("", RequireRole(presence.RoleAdmin))
	admin.GET("/presence", h.GetPresence)
	admin.GET("/calls", h.ListCalls)
}
