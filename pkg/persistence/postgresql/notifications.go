package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dailos/tramite/pkg/models"
)

// NotificationRepository handles notification records and channel
// preferences.
type NotificationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewNotificationRepository(db *sql.DB, logger *slog.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, logger: logger}
}

func (r *NotificationRepository) Save(ctx context.Context, record *models.NotificationRecord) error {
	query := `
		INSERT INTO notifications (id, event_id, recipient, channel, subject, body, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID, nullString(record.EventID), record.Recipient, record.Channel,
		record.Subject, record.Body, record.Status, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	return nil
}

func (r *NotificationRepository) ByEvent(ctx context.Context, eventID string) ([]*models.NotificationRecord, error) {
	query := `
		SELECT id, event_id, recipient, channel, subject, body, status, created_at
		FROM notifications
		WHERE event_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	records := make([]*models.NotificationRecord, 0)

	for rows.Next() {
		var (
			record  models.NotificationRecord
			eventID sql.NullString
		)

		err = rows.Scan(&record.ID, &eventID, &record.Recipient, &record.Channel,
			&record.Subject, &record.Body, &record.Status, &record.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		record.EventID = eventID.String
		records = append(records, &record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return records, nil
}

func (r *NotificationRepository) PreferencesFor(ctx context.Context, userID, eventType string) ([]*models.NotificationPreference, error) {
	query := `
		SELECT user_id, event_type, channel, enabled
		FROM notification_preferences
		WHERE user_id = $1 AND event_type = $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	prefs := make([]*models.NotificationPreference, 0)

	for rows.Next() {
		var pref models.NotificationPreference

		err = rows.Scan(&pref.UserID, &pref.EventType, &pref.Channel, &pref.Enabled)
		if err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}

		prefs = append(prefs, &pref)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating preferences: %w", err)
	}

	return prefs, nil
}

func (r *NotificationRepository) SavePreference(ctx context.Context, pref *models.NotificationPreference) error {
	query := `
		INSERT INTO notification_preferences (user_id, event_type, channel, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, event_type, channel) DO UPDATE SET enabled = EXCLUDED.enabled
	`

	_, err := r.db.ExecContext(ctx, query, pref.UserID, pref.EventType, pref.Channel, pref.Enabled)
	if err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}

	return nil
}
