package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tariel-x/tutorlive/internal/conversation"
	"github.com/tariel-x/tutorlive/internal/models"
	"github.com/tariel-x/tutorlive/internal/presence"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type createRoomRequest struct {
	ParticipantID   string `json:"participantId" binding:"required"`
	ParticipantKind string `json:"participantKind" binding:"required,oneof=user tutor"`
}

type roomParticipantResponse struct {
	ID     string                 `json:"id"`
	Kind   models.ParticipantKind `json:"kind"`
	Online bool                   `json:"online"`
}

type roomResponse struct {
	ID           string                    `json:"_id"`
	Participants []roomParticipantResponse `json:"participants"`
	LastMessage  *models.Message           `json:"lastMessage,omitempty"`
	UpdatedAt    time.Time                 `json:"updatedAt"`
}

func (h *Handlers) newRoomResponse(room models.Room) roomResponse {
	participants := make([]roomParticipantResponse, 0, len(room.Participants))
	for _, p := range room.Participants {
		_, online := h.resolveParticipant(p)
		participants = append(participants, roomParticipantResponse{ID: p.UserID, Kind: p.Kind, Online: online})
	}
	return roomResponse{
		ID:           room.ID,
		Participants: participants,
		LastMessage:  room.LastMessage,
		UpdatedAt:    room.UpdatedAt,
	}
}

// ListRooms returns the caller's rooms, most recently active first.
func (h *Handlers) ListRooms(c *gin.Context) {
	id := requestIdentity(c)
	rooms, err := h.store.ListRooms(c.Request.Context(), id.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rooms": lo.Map(rooms, func(room models.Room, _ int) roomResponse {
			return h.newRoomResponse(room)
		}),
	})
}

// CreateRoom returns the room shared by the caller and another participant,
// creating it on first use.
func (h *Handlers) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := requestIdentity(c)
	if id.Role == presence.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admins cannot join rooms"})
		return
	}

	room, err := h.store.GetOrCreateRoom(c.Request.Context(),
		conversation.Party{ID: id.ID, Kind: models.ParticipantKind(id.Role)},
		conversation.Party{ID: req.ParticipantID, Kind: models.ParticipantKind(req.ParticipantKind)},
	)
	if err != nil {
		if errors.Is(err, conversation.ErrInvalidParticipants) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.newRoomResponse(*room))
}

// ListMessages pages backwards through a room's history. Only participants and
// admins may read it.
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("room_id")

	room, err := h.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, conversation.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	id := requestIdentity(c)
	if id.Role != presence.RoleAdmin && !room.HasParticipant(id.ID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this room"})
		return
	}

	var before time.Time
	if raw := c.Query("before"); raw != "" {
		before, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be an RFC 3339 timestamp"})
			return
		}
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(limit, conversation.MaxListMessageLimit)
	}

	messages, err := h.store.ListMessages(ctx, roomID, before, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
