// Package persistence provides the storage abstraction layer for graphs,
// runs, validations, events and notifications.
package persistence

import (
	"context"
	"time"

	"github.com/dailos/tramite/pkg/events"
	"github.com/dailos/tramite/pkg/models"
)

// GraphRepository stores immutable process graph definitions.
type GraphRepository interface {
	SaveGraph(ctx context.Context, graph *models.Graph) error
	GraphByID(ctx context.Context, id string) (*models.Graph, error)
}

// RunRepository stores runs and their append-only execution logs.
type RunRepository interface {
	CreateRun(ctx context.Context, run *models.Run) error
	RunByID(ctx context.Context, id string) (*models.Run, error)
	// UpdateRun persists the run guarded by its Version field: the stored
	// row must still carry run.Version, otherwise ErrRunConflict is
	// returned and nothing is written. On success the version is
	// incremented. This is the transactional half of single-writer-per-run.
	UpdateRun(ctx context.Context, run *models.Run) error
	RunsByRequest(ctx context.Context, requestID string) ([]*models.Run, error)
	RunByGroup(ctx context.Context, groupID string) (*models.Run, error)
	// AppendLog assigns the next per-run sequence number and persists the
	// entry. Appends from different runs never contend.
	AppendLog(ctx context.Context, entry *models.LogEntry) error
	LogForRun(ctx context.Context, runID string) ([]*models.LogEntry, error)
}

// ValidationRepository stores approval gate instances.
type ValidationRepository interface {
	SaveValidation(ctx context.Context, instance *models.ValidationInstance) error
	ValidationByID(ctx context.Context, id string) (*models.ValidationInstance, error)
	UpdateValidation(ctx context.Context, instance *models.ValidationInstance) error
	PendingByApprover(ctx context.Context, approverID string) ([]*models.ValidationInstance, error)
	// PendingDueForReminder returns pending instances whose reminder time
	// has passed, for the external sweep.
	PendingDueForReminder(ctx context.Context, now time.Time) ([]*models.ValidationInstance, error)
}

// EventRepository stores domain event records.
type EventRepository interface {
	SaveEvent(ctx context.Context, record *events.Record) error
	EventByID(ctx context.Context, id string) (*events.Record, error)
	// UpdateEvent persists processing state (processed, attempts, error).
	UpdateEvent(ctx context.Context, record *events.Record) error
	// UnprocessedEvents returns records with processed=false and fewer than
	// maxAttempts attempts, oldest first, capped at limit.
	UnprocessedEvents(ctx context.Context, maxAttempts, limit int) ([]*events.Record, error)
}

// NotificationRepository stores notification fan-out records.
type NotificationRepository interface {
	SaveNotification(ctx context.Context, record *models.NotificationRecord) error
	NotificationsByEvent(ctx context.Context, eventID string) ([]*models.NotificationRecord, error)
}

// PreferenceRepository reads users' notification channel preferences.
type PreferenceRepository interface {
	// PreferencesFor returns the preference rows for a user and event
	// type. An empty result means the in_app default applies.
	PreferencesFor(ctx context.Context, userID string, eventType string) ([]*models.NotificationPreference, error)
	SavePreference(ctx context.Context, pref *models.NotificationPreference) error
}

// TaskRepository reads and updates concrete tasks. Task authoring lives in a
// collaborator; the engine needs status reads for the completion cascade.
type TaskRepository interface {
	SaveTask(ctx context.Context, task *models.Task) error
	TaskByID(ctx context.Context, id string) (*models.Task, error)
	TasksByGroup(ctx context.Context, groupID string) ([]*models.Task, error)
}

// RequestRepository reads and updates the triggering entities.
type RequestRepository interface {
	SaveRequest(ctx context.Context, request *models.Request) error
	RequestByID(ctx context.Context, id string) (*models.Request, error)
}

// Persistence aggregates the repositories of one storage backend.
type Persistence interface {
	GraphRepository
	RunRepository
	ValidationRepository
	EventRepository
	NotificationRepository
	PreferenceRepository
	TaskRepository
	RequestRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
