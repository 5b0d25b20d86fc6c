package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tariel-x/tutorlive/internal/conversation"
	"github.com/tariel-x/tutorlive/internal/models"
	"github.com/tariel-x/tutorlive/internal/presence"
	"github.com/tariel-x/tutorlive/internal/push"
)

const roomGroupPrefix = "room:"

func roomGroup(roomID string) string {
	return roomGroupPrefix + roomID
}

// handleJoinedRoom subscribes the connection to a room's broadcast group. The payload
// is the bare room id; {"roomId": "..."} is accepted as well.
// Token-authenticated connections may only join rooms they take part in.
func (h *Handlers) handleJoinedRoom(ctx context.Context, client *wsClient, data json.RawMessage) error {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err != nil {
		var in roomAckData
		if err := json.Unmarshal(data, &in); err != nil {
			return newEventError("Invalid roomId")
		}
		roomID = in.RoomID
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return newEventError("Invalid roomId")
	}
	if client.authID != "" {
		room, err := h.store.GetRoom(ctx, roomID)
		if err != nil {
			return storeError("failed to load room", err)
		}
		if !room.HasParticipant(client.authID) {
			return &eventError{Message: "Not a participant of this room", Fields: []string{"roomId"}}
		}
	}

	h.wsHub.Join(roomGroup(roomID), client)
	client.Send(encodeEvent(evJoinedRoomAck, roomAckData{RoomID: roomID}))
	return nil
}

func (h *Handlers) handleMessage(ctx context.Context, client *wsClient, data json.RawMessage) error {
	var in messageData
	if err := decodeEvent(data, &in); err != nil {
		return err
	}
	if err := client.claims("senderId", in.SenderID); err != nil {
		return err
	}

	msgType := models.MessageText
	if in.MessageType != "" {
		msgType = models.MessageType(in.MessageType)
	}
	if !msgType.Valid() {
		return &eventError{Message: "Invalid message type", Fields: []string{"message_type"}}
	}

	msg, room, err := h.store.SaveMessage(ctx, conversation.NewMessage{
		RoomID:   in.RoomID,
		SenderID: in.SenderID,
		Body:     in.Message,
		Type:     msgType,
		Time:     in.MessageTime.Time,
		IsRead:   in.IsRead,
	})
	if err != nil {
		return storeError("failed to send message", err)
	}

	h.deliverMessage(msg, room)
	return nil
}

// deliverMessage fans a persisted message out to the room and notifies the
// counterpart when they did not read it in place.
func (h *Handlers) deliverMessage(msg *models.Message, room *models.Room) {
	delivered := h.wsHub.Broadcast(roomGroup(room.ID), encodeEvent(evNewMessage, msg))
	slog.Default().Debug("ws message delivered", "room_id", room.ID, "message_id", msg.ID, "subscribers", delivered)

	recipient, ok := room.Counterpart(msg.SenderID)
	if !ok || recipient.UserID == msg.SenderID || msg.IsRead {
		return
	}

	badge := badgeData{
		ChatID:    room.ID,
		SenderID:  msg.SenderID,
		MessageID: msg.ID,
		Message:   msg.Body,
		Type:      string(msg.Type),
	}
	if conn, online := h.resolveParticipant(recipient); online {
		if conn.Send(encodeEvent(evNewBadge, badge)) {
			h.metrics.badges.WithLabelValues("online").Inc()
			return
		}
	}

	if h.push == nil {
		h.metrics.badges.WithLabelValues("dropped").Inc()
		return
	}
	h.metrics.badges.WithLabelValues("push").Inc()
	h.push.NotifyAsync(recipient.UserID, push.Notification{
		Title: "New message",
		Body:  previewBody(msg),
		Data:  map[string]any{"chatId": room.ID, "messageId": msg.ID, "senderId": msg.SenderID},
	})
}

// resolveParticipant looks the participant up in the role its room kind names.
func (h *Handlers) resolveParticipant(p models.RoomParticipant) (presence.Conn, bool) {
	if role, err := presence.ParseRole(string(p.Kind)); err == nil {
		return h.presence.ResolveRole(p.UserID, role)
	}
	return h.presence.Resolve(p.UserID)
}

func (h *Handlers) handleMarkRead(ctx context.Context, client *wsClient, data json.RawMessage) error {
	var in markReadData
	if err := decodeEvent(data, &in); err != nil {
		return err
	}
	if err := client.claims("userId", in.UserID); err != nil {
		return err
	}

	updated, err := h.store.MarkRead(ctx, in.ChatID, in.UserID)
	if err != nil {
		return storeError("failed to mark messages read", err)
	}
	if updated == 0 {
		return nil
	}

	h.wsHub.Broadcast(roomGroup(in.ChatID), encodeEvent(evMessageRead, messageReadData{
		ChatID:  in.ChatID,
		UserID:  in.UserID,
		Updated: updated,
	}))
	return nil
}

func storeError(action string, err error) error {
	switch {
	case errors.Is(err, conversation.ErrRoomNotFound):
		return newEventError("Room not found")
	case errors.Is(err, conversation.ErrNotParticipant):
		return newEventError("Sender is not a participant of this room")
	case errors.Is(err, conversation.ErrInvalidMessageType):
		return &eventError{Message: "Invalid message type", Fields: []string{"message_type"}}
	default:
		return fmt.Errorf("%s: %w", action, err)
	}
}

func previewBody(msg *models.Message) string {
	if msg.Type != models.MessageText {
		return "Sent a " + string(msg.Type)
	}
	const maxPreview = 120
	body := []rune(msg.Body)
	if len(body) > maxPreview {
		return string(body[:maxPreview]) + "…"
	}
	return msg.Body
}
