package models

import "time"

// NotificationStatus tracks delivery state. Delivery itself is a collaborator;
// the engine only creates pending records.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// NotificationRecord is one fan-out target for an event: one record per
// enabled channel per recipient.
type NotificationRecord struct {
	ID        string             `json:"id"`
	EventID   string             `json:"event_id"`
	Recipient string             `json:"recipient" validate:"required"`
	Channel   Channel            `json:"channel"   validate:"required"`
	Subject   string             `json:"subject"`
	Body      string             `json:"body"`
	Status    NotificationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

// NotificationPreference is one user's channel toggle for an event type.
// Absence of a row means the in_app default applies.
type NotificationPreference struct {
	UserID    string  `json:"user_id"`
	EventType string  `json:"event_type"`
	Channel   Channel `json:"channel"`
	Enabled   bool    `json:"enabled"`
}
