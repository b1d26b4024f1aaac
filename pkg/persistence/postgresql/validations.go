package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence"
)

// ValidationRepository handles approval gate instances.
type ValidationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewValidationRepository(db *sql.DB, logger *slog.Logger) *ValidationRepository {
	return &ValidationRepository{db: db, logger: logger}
}

const validationColumns = `
	id
  , run_id
  , node_id
  , approver_type
  , approver_id
  , department_id
  , status
  , due_at
  , reminder_at
  , on_timeout_action
  , decided_by
  , decided_at
  , decision_comment
  , created_at
`

func (r *ValidationRepository) Save(ctx context.Context, instance *models.ValidationInstance) error {
	query := `
		INSERT INTO validations (
			id, run_id, node_id, approver_type, approver_id, department_id,
			status, due_at, reminder_at, on_timeout_action, decided_by,
			decided_at, decision_comment, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.ExecContext(ctx, query,
		instance.ID, instance.RunID, instance.NodeID, instance.ApproverType,
		instance.ApproverID, nullString(instance.DepartmentID), instance.Status,
		instance.DueAt, instance.ReminderAt, nullString(string(instance.OnTimeoutAction)),
		nullString(instance.DecidedBy), instance.DecidedAt,
		nullString(instance.DecisionComment), instance.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert validation: %w", err)
	}

	return nil
}

func (r *ValidationRepository) GetByID(ctx context.Context, id string) (*models.ValidationInstance, error) {
	query := `SELECT ` + validationColumns + ` FROM validations WHERE id = $1`

	instance, err := scanValidation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrValidationNotFound
		}

		return nil, fmt.Errorf("failed to query validation: %w", err)
	}

	return instance, nil
}

func (r *ValidationRepository) Update(ctx context.Context, instance *models.ValidationInstance) error {
	query := `
		UPDATE validations SET
			approver_id = $1
		  , status = $2
		  , reminder_at = $3
		  , decided_by = $4
		  , decided_at = $5
		  , decision_comment = $6
		WHERE id = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		instance.ApproverID, instance.Status, instance.ReminderAt,
		nullString(instance.DecidedBy), instance.DecidedAt,
		nullString(instance.DecisionComment), instance.ID)
	if err != nil {
		return fmt.Errorf("failed to update validation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update validation: %w", err)
	}

	if affected == 0 {
		return persistence.ErrValidationNotFound
	}

	return nil
}

func (r *ValidationRepository) PendingByApprover(ctx context.Context, approverID string) ([]*models.ValidationInstance, error) {
	query := `
		SELECT ` + validationColumns + `
		FROM validations
		WHERE approver_id = $1 AND status = 'pending'
		ORDER BY created_at
	`

	return r.queryValidations(ctx, query, approverID)
}

func (r *ValidationRepository) PendingDueForReminder(ctx context.Context, now time.Time) ([]*models.ValidationInstance, error) {
	query := `
		SELECT ` + validationColumns + `
		FROM validations
		WHERE status = 'pending' AND reminder_at IS NOT NULL AND reminder_at <= $1
		ORDER BY reminder_at
	`

	return r.queryValidations(ctx, query, now)
}

func (r *ValidationRepository) queryValidations(ctx context.Context, query string, args ...any) ([]*models.ValidationInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query validations: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	instances := make([]*models.ValidationInstance, 0)

	for rows.Next() {
		instance, err := scanValidation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan validation: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating validations: %w", err)
	}

	return instances, nil
}

func scanValidation(row rowScanner) (*models.ValidationInstance, error) {
	var (
		instance        models.ValidationInstance
		departmentID    sql.NullString
		onTimeoutAction sql.NullString
		decidedBy       sql.NullString
		decisionComment sql.NullString
	)

	err := row.Scan(&instance.ID, &instance.RunID, &instance.NodeID,
		&instance.ApproverType, &instance.ApproverID, &departmentID,
		&instance.Status, &instance.DueAt, &instance.ReminderAt,
		&onTimeoutAction, &decidedBy, &instance.DecidedAt,
		&decisionComment, &instance.CreatedAt)
	if err != nil {
		return nil, err
	}

	instance.DepartmentID = departmentID.String
	instance.OnTimeoutAction = models.TimeoutAction(onTimeoutAction.String)
	instance.DecidedBy = decidedBy.String
	instance.DecisionComment = decisionComment.String

	return &instance, nil
}
