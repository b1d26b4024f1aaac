// Package postgresql provides PostgreSQL persistence for graphs, runs,
// validations, events and notifications.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailos/tramite/pkg/events"
	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence/sqlbase"

	// Registers the postgres driver.
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	graphs        *GraphRepository
	runs          *RunRepository
	validations   *ValidationRepository
	eventRecords  *EventRepository
	notifications *NotificationRepository
	tasks         *TaskRepository
}

// NewPersistence creates a new PostgreSQL persistence layer and runs
// pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		graphs:        NewGraphRepository(database, logger),
		runs:          NewRunRepository(database, logger),
		validations:   NewValidationRepository(database, logger),
		eventRecords:  NewEventRepository(database, logger),
		notifications: NewNotificationRepository(database, logger),
		tasks:         NewTaskRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) SaveGraph(ctx context.Context, graph *models.Graph) error {
	return p.graphs.Save(ctx, graph)
}

func (p *Persistence) GraphByID(ctx context.Context, id string) (*models.Graph, error) {
	return p.graphs.GetByID(ctx, id)
}

func (p *Persistence) CreateRun(ctx context.Context, run *models.Run) error {
	return p.runs.Create(ctx, run)
}

func (p *Persistence) RunByID(ctx context.Context, id string) (*models.Run, error) {
	return p.runs.GetByID(ctx, id)
}

func (p *Persistence) UpdateRun(ctx context.Context, run *models.Run) error {
	return p.runs.Update(ctx, run)
}

func (p *Persistence) RunsByRequest(ctx context.Context, requestID string) ([]*models.Run, error) {
	return p.runs.ByRequest(ctx, requestID)
}

func (p *Persistence) RunByGroup(ctx context.Context, groupID string) (*models.Run, error) {
	return p.runs.ByGroup(ctx, groupID)
}

func (p *Persistence) AppendLog(ctx context.Context, entry *models.LogEntry) error {
	return p.runs.AppendLog(ctx, entry)
}

func (p *Persistence) LogForRun(ctx context.Context, runID string) ([]*models.LogEntry, error) {
	return p.runs.LogForRun(ctx, runID)
}

func (p *Persistence) SaveValidation(ctx context.Context, instance *models.ValidationInstance) error {
	return p.validations.Save(ctx, instance)
}

func (p *Persistence) ValidationByID(ctx context.Context, id string) (*models.ValidationInstance, error) {
	return p.validations.GetByID(ctx, id)
}

func (p *Persistence) UpdateValidation(ctx context.Context, instance *models.ValidationInstance) error {
	return p.validations.Update(ctx, instance)
}

func (p *Persistence) PendingByApprover(ctx context.Context, approverID string) ([]*models.ValidationInstance, error) {
	return p.validations.PendingByApprover(ctx, approverID)
}

func (p *Persistence) PendingDueForReminder(ctx context.Context, now time.Time) ([]*models.ValidationInstance, error) {
	return p.validations.PendingDueForReminder(ctx, now)
}

func (p *Persistence) SaveEvent(ctx context.Context, record *events.Record) error {
	return p.eventRecords.Save(ctx, record)
}

func (p *Persistence) EventByID(ctx context.Context, id string) (*events.Record, error) {
	return p.eventRecords.GetByID(ctx, id)
}

func (p *Persistence) UpdateEvent(ctx context.Context, record *events.Record) error {
	return p.eventRecords.Update(ctx, record)
}

func (p *Persistence) UnprocessedEvents(ctx context.Context, maxAttempts, limit int) ([]*events.Record, error) {
	return p.eventRecords.Unprocessed(ctx, maxAttempts, limit)
}

func (p *Persistence) SaveNotification(ctx context.Context, record *models.NotificationRecord) error {
	return p.notifications.Save(ctx, record)
}

func (p *Persistence) NotificationsByEvent(ctx context.Context, eventID string) ([]*models.NotificationRecord, error) {
	return p.notifications.ByEvent(ctx, eventID)
}

func (p *Persistence) PreferencesFor(ctx context.Context, userID, eventType string) ([]*models.NotificationPreference, error) {
	return p.notifications.PreferencesFor(ctx, userID, eventType)
}

func (p *Persistence) SavePreference(ctx context.Context, pref *models.NotificationPreference) error {
	return p.notifications.SavePreference(ctx, pref)
}

func (p *Persistence) SaveTask(ctx context.Context, task *models.Task) error {
	return p.tasks.SaveTask(ctx, task)
}

func (p *Persistence) TaskByID(ctx context.Context, id string) (*models.Task, error) {
	return p.tasks.TaskByID(ctx, id)
}

func (p *Persistence) TasksByGroup(ctx context.Context, groupID string) ([]*models.Task, error) {
	return p.tasks.TasksByGroup(ctx, groupID)
}

func (p *Persistence) SaveRequest(ctx context.Context, request *models.Request) error {
	return p.tasks.SaveRequest(ctx, request)
}

func (p *Persistence) RequestByID(ctx context.Context, id string) (*models.Request, error) {
	return p.tasks.RequestByID(ctx, id)
}
