package models

import (
	"sort"
	"strings"
	"time"
)

// ParticipantKind tags which account domain a room participant belongs to.
// Values are persisted, keep them stable.
type ParticipantKind string

const (
	ParticipantUser  ParticipantKind = "user"
	ParticipantTutor ParticipantKind = "tutor"
)

type Room struct {
	ID            string            `gorm:"type:varchar(32);primaryKey" json:"id"`
	PairKey       string            `gorm:"type:varchar(255);uniqueIndex;not null" json:"-"`
	Participants  []RoomParticipant `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
	LastMessageID *string           `gorm:"type:varchar(36)" json:"-"`
	LastMessage   *Message          `gorm:"foreignKey:LastMessageID" json:"lastMessage,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

type RoomParticipant struct {
	RoomID   string          `gorm:"type:varchar(32);primaryKey"`
	UserID   string          `gorm:"type:varchar(64);primaryKey;index"`
	Kind     ParticipantKind `gorm:"type:varchar(16);not null"`
	Position int             `gorm:"not null"`
}

// ParticipantIDs returns participant identities in insertion order.
func (r *Room) ParticipantIDs() []string {
	ordered := r.orderedParticipants()
	ids := make([]string, 0, len(ordered))
	for _, p := range ordered {
		ids = append(ids, p.UserID)
	}
	return ids
}

// ParticipantKinds is parallel to ParticipantIDs.
func (r *Room) ParticipantKinds() []ParticipantKind {
	ordered := r.orderedParticipants()
	kinds := make([]ParticipantKind, 0, len(ordered))
	for _, p := range ordered {
		kinds = append(kinds, p.Kind)
	}
	return kinds
}

func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the first participant that is not userID.
func (r *Room) Counterpart(userID string) (RoomParticipant, bool) {
	for _, p := range r.orderedParticipants() {
		if p.UserID != userID {
			return p, true
		}
	}
	return RoomParticipant{}, false
}

func (r *Room) orderedParticipants() []RoomParticipant {
	ordered := make([]RoomParticipant, len(r.Participants))
	copy(ordered, r.Participants)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	return ordered
}

// PairKey is the order-independent lookup key for a two-party room.
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}
