package models

import "time"

// CallStatus is the lifecycle state of a call attempt.
// Keep values stable because they are part of the public API.
type CallStatus string

const (
	CallStatusRinging CallStatus = "ringing"
	CallStatusActive  CallStatus = "active"
	CallStatusEnded   CallStatus = "ended"
)

// CallAttempt is an in-memory record of one offer and how it was resolved.
// It is never consulted to decide whether a signaling event is forwarded.
type CallAttempt struct {
	ID        string     `json:"call_id"`
	Caller    string     `json:"caller"`
	Callee    string     `json:"callee"`
	RoomID    string     `json:"room_id"`
	CallType  string     `json:"call_type"`
	Status    CallStatus `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Involves reports whether userID is one of the two parties.
func (c *CallAttempt) Involves(userID string) bool {
	return c.Caller == userID || c.Callee == userID
}

// SamePair reports whether the attempt is between a and b in either direction.
func (c *CallAttempt) SamePair(a, b string) bool {
	return (c.Caller == a && c.Callee == b) || (c.Caller == b && c.Callee == a)
}
