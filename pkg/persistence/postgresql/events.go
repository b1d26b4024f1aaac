package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dailos/tramite/pkg/events"
	"github.com/dailos/tramite/pkg/persistence"
)

// EventRepository handles persisted domain event records.
type EventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEventRepository(db *sql.DB, logger *slog.Logger) *EventRepository {
	return &EventRepository{db: db, logger: logger}
}

const eventColumns = `
	id
  , type
  , entity_type
  , entity_id
  , payload
  , processed
  , processed_at
  , attempts
  , last_attempt
  , error_message
  , created_at
`

func (r *EventRepository) Save(ctx context.Context, record *events.Record) error {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := `
		INSERT INTO events (
			id, type, entity_type, entity_id, payload, processed,
			processed_at, attempts, last_attempt, error_message, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		record.ID, record.Type, record.EntityType, record.EntityID, payload,
		record.Processed, record.ProcessedAt, record.Attempts,
		record.LastAttempt, nullString(record.ErrorMessage), record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*events.Record, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

	record, err := scanEvent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEventNotFound
		}

		return nil, fmt.Errorf("failed to query event: %w", err)
	}

	return record, nil
}

func (r *EventRepository) Update(ctx context.Context, record *events.Record) error {
	query := `
		UPDATE events SET
			processed = $1
		  , processed_at = $2
		  , attempts = $3
		  , last_attempt = $4
		  , error_message = $5
		WHERE id = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		record.Processed, record.ProcessedAt, record.Attempts,
		record.LastAttempt, nullString(record.ErrorMessage), record.ID)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}

	if affected == 0 {
		return persistence.ErrEventNotFound
	}

	return nil
}

func (r *EventRepository) Unprocessed(ctx context.Context, maxAttempts, limit int) ([]*events.Record, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE processed = FALSE AND attempts < $1
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed events: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	records := make([]*events.Record, 0)

	for rows.Next() {
		record, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return records, nil
}

func scanEvent(row rowScanner) (*events.Record, error) {
	var (
		record       events.Record
		payload      []byte
		errorMessage sql.NullString
	)

	err := row.Scan(&record.ID, &record.Type, &record.EntityType, &record.EntityID,
		&payload, &record.Processed, &record.ProcessedAt, &record.Attempts,
		&record.LastAttempt, &errorMessage, &record.CreatedAt)
	if err != nil {
		return nil, err
	}

	record.ErrorMessage = errorMessage.String

	if len(payload) > 0 {
		err = json.Unmarshal(payload, &record.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode event payload: %w", err)
		}
	}

	return &record, nil
}
