package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence"
)

// TaskRepository handles the triggering entities: requests and their
// concrete tasks.
type TaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTaskRepository(db *sql.DB, logger *slog.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

func (r *TaskRepository) SaveTask(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (id, request_id, group_id, template_id, assignee_id, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			assignee_id = EXCLUDED.assignee_id
		  , status = EXCLUDED.status
		  , updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		task.ID, task.RequestID, nullString(task.GroupID), nullString(task.TemplateID),
		nullString(task.AssigneeID), task.Status, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	return nil
}

func (r *TaskRepository) TaskByID(ctx context.Context, id string) (*models.Task, error) {
	query := `
		SELECT id, request_id, group_id, template_id, assignee_id, status, updated_at
		FROM tasks WHERE id = $1
	`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTaskNotFound
		}

		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	return task, nil
}

func (r *TaskRepository) TasksByGroup(ctx context.Context, groupID string) ([]*models.Task, error) {
	query := `
		SELECT id, request_id, group_id, template_id, assignee_id, status, updated_at
		FROM tasks WHERE group_id = $1
		ORDER BY updated_at
	`

	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		tasks = append(tasks, task)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

func (r *TaskRepository) SaveRequest(ctx context.Context, request *models.Request) error {
	query := `
		INSERT INTO requests (id, requester_id, department_id, status, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		request.ID, request.RequesterID, nullString(request.DepartmentID),
		request.Status, request.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}

	return nil
}

func (r *TaskRepository) RequestByID(ctx context.Context, id string) (*models.Request, error) {
	query := `
		SELECT id, requester_id, department_id, status, updated_at
		FROM requests WHERE id = $1
	`

	var (
		request      models.Request
		departmentID sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&request.ID, &request.RequesterID, &departmentID, &request.Status, &request.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRequestNotFound
		}

		return nil, fmt.Errorf("failed to query request: %w", err)
	}

	request.DepartmentID = departmentID.String

	return &request, nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task       models.Task
		groupID    sql.NullString
		templateID sql.NullString
		assigneeID sql.NullString
	)

	err := row.Scan(&task.ID, &task.RequestID, &groupID, &templateID,
		&assigneeID, &task.Status, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}

	task.GroupID = groupID.String
	task.TemplateID = templateID.String
	task.AssigneeID = assigneeID.String

	return &task, nil
}
