package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tariel-x/tutorlive/internal/models"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrNotParticipant      = errors.New("sender is not a participant of the room")
	ErrInvalidParticipants = errors.New("a room needs two distinct participants")
	ErrInvalidMessageType  = errors.New("invalid message type")
)

const (
	defaultListMessageLimit = 50
	MaxListMessageLimit     = 200
)

// Store persists rooms and their message history.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// NewMessage is the input of SaveMessage.
type NewMessage struct {
	RoomID   string
	SenderID string
	Body     string
	Type     models.MessageType
	Time     time.Time
	IsRead   bool
}

// Party is one side of a room.
type Party struct {
	ID   string
	Kind models.ParticipantKind
}

// GetOrCreateRoom returns the room shared by a and b, creating it on first use.
// The lookup ignores participant order.
func (s *Store) GetOrCreateRoom(ctx context.Context, a, b Party) (*models.Room, error) {
	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		return nil, ErrInvalidParticipants
	}

	key := models.PairKey(a.ID, b.ID)
	room, err := s.roomByPairKey(ctx, key)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, ErrRoomNotFound) {
		return nil, err
	}

	id, err := gonanoid.New(16)
	if err != nil {
		return nil, err
	}
	room = &models.Room{
		ID:      id,
		PairKey: key,
		Participants: []models.RoomParticipant{
			{RoomID: id, UserID: a.ID, Kind: a.Kind, Position: 0},
			{RoomID: id, UserID: b.ID, Kind: b.Kind, Position: 1},
		},
	}
	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		// Lost a race against a concurrent create of the same pair.
		if existing, lookupErr := s.roomByPairKey(ctx, key); lookupErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	return loadRoom(s.db.WithContext(ctx), roomID)
}

// SaveMessage appends a message to the room log and moves the room's last message pointer.
func (s *Store) SaveMessage(ctx context.Context, in NewMessage) (*models.Message, *models.Room, error) {
	if in.Type == "" {
		in.Type = models.MessageText
	}
	if !in.Type.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidMessageType, in.Type)
	}

	var (
		msg  *models.Message
		room *models.Room
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		room, err = loadRoom(tx, in.RoomID)
		if err != nil {
			return err
		}
		if !room.HasParticipant(in.SenderID) {
			return ErrNotParticipant
		}

		msg = &models.Message{
			ChatID:      room.ID,
			SenderID:    in.SenderID,
			Body:        in.Body,
			IsRead:      in.IsRead,
			Type:        in.Type,
			MessageTime: in.Time.UTC(),
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}

		if err := tx.Model(&models.Room{}).Where("id = ?", room.ID).Update("last_message_id", msg.ID).Error; err != nil {
			return fmt.Errorf("failed to update last message: %w", err)
		}
		room.LastMessageID = &msg.ID
		room.LastMessage = msg
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return msg, room, nil
}

// MarkRead flags every unread message in the room not sent by userID.
// It returns the number of messages that changed.
func (s *Store) MarkRead(ctx context.Context, chatID, userID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("chat_id = ? AND sender_id <> ? AND is_read = ?", chatID, userID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListRooms returns the rooms userID takes part in, most recently active first.
func (s *Store) ListRooms(ctx context.Context, userID string) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Preload("Participants").
		Preload("LastMessage").
		Where("id IN (?)", s.db.Model(&models.RoomParticipant{}).Select("room_id").Where("user_id = ?", userID)).
		Order("updated_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

// ListMessages returns up to limit messages older than before, oldest first.
// A zero before means "latest". limit is capped at MaxListMessageLimit.
func (s *Store) ListMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = defaultListMessageLimit
	}
	limit = min(limit, MaxListMessageLimit)

	q := s.db.WithContext(ctx).Where("chat_id = ?", roomID)
	if !before.IsZero() {
		q = q.Where("message_time < ?", before.UTC())
	}

	var msgs []models.Message
	if err := q.Order("message_time DESC").Order("created_at DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) roomByPairKey(ctx context.Context, key string) (*models.Room, error) {
	var room models.Room
	err := s.db.WithContext(ctx).Preload("Participants").Where("pair_key = ?", key).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func loadRoom(db *gorm.DB, roomID string) (*models.Room, error) {
	var room models.Room
	if err := db.Preload("Participants").First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}
