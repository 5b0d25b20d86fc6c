package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PushSubscription is a browser Web Push endpoint that receives newBadge
// notifications while its owner has no live connection. An endpoint belongs to
// one identity at a time.
type PushSubscription struct {
	ID       string `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID   string `gorm:"type:varchar(64);not null;index" json:"userId"`
	Endpoint string `gorm:"type:text;not null;uniqueIndex" json:"endpoint"`
	P256DH   string `gorm:"column:p256dh;type:text;not null" json:"-"`
	Auth     string `gorm:"type:text;not null" json:"-"`

	// Failures counts consecutive rejected deliveries; it resets on success.
	Failures        int        `gorm:"not null;default:0" json:"failures"`
	LastDeliveredAt *time.Time `json:"lastDeliveredAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Exhausted reports whether the subscription failed often enough to be dropped.
func (p *PushSubscription) Exhausted(maxFailures int) bool {
	return p.Failures >= maxFailures
}

func (p *PushSubscription) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
