// Package events defines the closed set of domain events emitted by the
// process engine and the persisted event record.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the watermill topic processed events are republished on for
// external consumers (delivery workers, audit sinks).
const Topic = "tramite.events"

const EventKeyMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RequestCreatedEvent        EventType = "request_created"
	TaskStatusChangedEvent     EventType = "task_status_changed"
	ValidationDecidedEvent     EventType = "validation_decided"
	ValidationReminderDueEvent EventType = "validation_reminder_due"
	SubProcessCompletedEvent   EventType = "sub_process_completed"
	ProcessCompletedEvent      EventType = "process_completed"
	RunStartedEvent            EventType = "run_started"
	RunCompletedEvent          EventType = "run_completed"
	RunFailedEvent             EventType = "run_failed"
	RunCancelledEvent          EventType = "run_cancelled"
	NotificationCreatedEvent   EventType = "notification_created"
)

// immediate is the set of event types dispatched synchronously on emit.
// Everything else waits for the batch sweep.
var immediate = map[EventType]bool{
	RequestCreatedEvent:      true,
	TaskStatusChangedEvent:   true,
	ValidationDecidedEvent:   true,
	SubProcessCompletedEvent: true,
	ProcessCompletedEvent:    true,
}

// IsImmediate reports whether the type belongs to the immediate set.
func IsImmediate(t EventType) bool {
	return immediate[t]
}

// Known returns true for members of the closed event type enum.
func Known(t EventType) bool {
	switch t {
	case RequestCreatedEvent, TaskStatusChangedEvent, ValidationDecidedEvent,
		ValidationReminderDueEvent, SubProcessCompletedEvent, ProcessCompletedEvent,
		RunStartedEvent, RunCompletedEvent, RunFailedEvent, RunCancelledEvent,
		NotificationCreatedEvent:
		return true
	default:
		return false
	}
}

// Record is an immutable domain fact with at-least-once processing state.
// A failed dispatch leaves Processed false and records the error; the batch
// sweep retries it until the attempt cap.
type Record struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	Payload      map[string]any `json:"payload,omitempty"`
	Processed    bool           `json:"processed"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	Attempts     int            `json:"attempts"`
	LastAttempt  *time.Time     `json:"last_attempt,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// NewRecord creates an unprocessed event record.
func NewRecord(eventType EventType, entityType, entityID string, payload map[string]any) *Record {
	return &Record{
		ID:         uuid.New().String(),
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}
