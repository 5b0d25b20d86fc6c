package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageType values are part of the wire protocol.
type MessageType string

const (
	MessageText      MessageType = "text"
	MessageImage     MessageType = "image"
	MessageVideo     MessageType = "video"
	MessageFile      MessageType = "file"
	MessageVideoCall MessageType = "video-call"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageFile, MessageVideoCall:
		return true
	}
	return false
}

type Message struct {
	ID          string      `gorm:"type:varchar(36);primaryKey" json:"_id"`
	ChatID      string      `gorm:"type:varchar(32);not null;index:idx_messages_chat_time,priority:1" json:"chatId"`
	SenderID    string      `gorm:"type:varchar(64);not null" json:"senderId"`
	Body        string      `gorm:"column:message;type:text;not null" json:"message"`
	IsRead      bool        `gorm:"not null;default:false" json:"isRead"`
	Type        MessageType `gorm:"column:message_type;type:varchar(16);not null" json:"message_type"`
	MessageTime time.Time   `gorm:"not null;index:idx_messages_chat_time,priority:2" json:"message_time"`
	CreatedAt   time.Time   `json:"createdAt"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
