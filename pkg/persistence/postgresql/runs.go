package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence"
)

// RunRepository handles run rows and their append-only execution logs.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const runColumns = `
	id
  , graph_id
  , graph_version
  , status
  , active_nodes
  , join_arrivals
  , context
  , started_by
  , failure_reason
  , request_id
  , group_id
  , version
  , created_at
  , completed_at
`

func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	activeNodes, joinArrivals, runContext, err := marshalRunState(run)
	if err != nil {
		return persistence.NewRunError("create", run.ID, err)
	}

	query := `
		INSERT INTO runs (
			id, graph_id, graph_version, status, active_nodes, join_arrivals,
			context, started_by, failure_reason, request_id, group_id,
			version, created_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.GraphID, run.GraphVersion, run.Status, activeNodes, joinArrivals,
		runContext, run.StartedBy, nullString(run.FailureReason), nullString(run.RequestID),
		nullString(run.GroupID), run.Version, run.CreatedAt, run.CompletedAt)
	if err != nil {
		return persistence.NewRunError("create", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, persistence.NewRunError("get", id, err)
	}

	return run, nil
}

// Update is the version-guarded write: the row must still carry
// run.Version, otherwise ErrRunConflict and nothing changes.
func (r *RunRepository) Update(ctx context.Context, run *models.Run) error {
	activeNodes, joinArrivals, runContext, err := marshalRunState(run)
	if err != nil {
		return persistence.NewRunError("update", run.ID, err)
	}

	query := `
		UPDATE runs SET
			status = $1
		  , active_nodes = $2
		  , join_arrivals = $3
		  , context = $4
		  , failure_reason = $5
		  , completed_at = $6
		  , version = version + 1
		WHERE id = $7 AND version = $8
	`

	result, err := r.db.ExecContext(ctx, query,
		run.Status, activeNodes, joinArrivals, runContext,
		nullString(run.FailureReason), run.CompletedAt, run.ID, run.Version)
	if err != nil {
		return persistence.NewRunError("update", run.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("update", run.ID, err)
	}

	if affected == 0 {
		return persistence.NewRunError("update", run.ID, persistence.ErrRunConflict)
	}

	run.Version++

	return nil
}

func (r *RunRepository) ByRequest(ctx context.Context, requestID string) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE request_id = $1 ORDER BY created_at`

	return r.queryRuns(ctx, query, requestID)
}

func (r *RunRepository) ByGroup(ctx context.Context, groupID string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE group_id = $1 ORDER BY created_at LIMIT 1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, groupID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to query run by group: %w", err)
	}

	return run, nil
}

// AppendLog assigns the next per-run sequence inside the insert itself, so
// concurrent appends to different runs never contend and appends within a
// run are strictly ordered.
func (r *RunRepository) AppendLog(ctx context.Context, entry *models.LogEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return persistence.NewRunError("append_log", entry.RunID, err)
	}

	query := `
		INSERT INTO run_logs (run_id, sequence, timestamp, node_id, action, details)
		SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3, $4, $5
		FROM run_logs WHERE run_id = $1
		RETURNING sequence
	`

	err = r.db.QueryRowContext(ctx, query,
		entry.RunID, entry.Timestamp, nullString(entry.NodeID), entry.Action, details).
		Scan(&entry.Sequence)
	if err != nil {
		return persistence.NewRunError("append_log", entry.RunID, err)
	}

	return nil
}

func (r *RunRepository) LogForRun(ctx context.Context, runID string) ([]*models.LogEntry, error) {
	query := `
		SELECT run_id, sequence, timestamp, node_id, action, details
		FROM run_logs
		WHERE run_id = $1
		ORDER BY sequence
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, persistence.NewRunError("log_for_run", runID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	entries := make([]*models.LogEntry, 0)

	for rows.Next() {
		var (
			entry   models.LogEntry
			nodeID  sql.NullString
			details []byte
		)

		err = rows.Scan(&entry.RunID, &entry.Sequence, &entry.Timestamp, &nodeID, &entry.Action, &details)
		if err != nil {
			return nil, persistence.NewRunError("log_for_run", runID, err)
		}

		entry.NodeID = nodeID.String

		if len(details) > 0 {
			err = json.Unmarshal(details, &entry.Details)
			if err != nil {
				return nil, persistence.NewRunError("log_for_run", runID, err)
			}
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewRunError("log_for_run", runID, err)
	}

	return entries, nil
}

func (r *RunRepository) queryRuns(ctx context.Context, query string, args ...any) ([]*models.Run, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run           models.Run
		activeNodes   []byte
		joinArrivals  []byte
		runContext    []byte
		startedBy     sql.NullString
		failureReason sql.NullString
		requestID     sql.NullString
		groupID       sql.NullString
	)

	err := row.Scan(&run.ID, &run.GraphID, &run.GraphVersion, &run.Status,
		&activeNodes, &joinArrivals, &runContext, &startedBy, &failureReason,
		&requestID, &groupID, &run.Version, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}

	run.StartedBy = startedBy.String
	run.FailureReason = failureReason.String
	run.RequestID = requestID.String
	run.GroupID = groupID.String

	err = json.Unmarshal(activeNodes, &run.ActiveNodes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode active nodes: %w", err)
	}

	err = json.Unmarshal(joinArrivals, &run.JoinArrivals)
	if err != nil {
		return nil, fmt.Errorf("failed to decode join arrivals: %w", err)
	}

	err = json.Unmarshal(runContext, &run.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to decode run context: %w", err)
	}

	return &run, nil
}

func marshalRunState(run *models.Run) (activeNodes, joinArrivals, runContext []byte, err error) {
	if run.ActiveNodes == nil {
		run.ActiveNodes = []string{}
	}

	activeNodes, err = json.Marshal(run.ActiveNodes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal active nodes: %w", err)
	}

	arrivals := run.JoinArrivals
	if arrivals == nil {
		arrivals = map[string][]string{}
	}

	joinArrivals, err = json.Marshal(arrivals)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal join arrivals: %w", err)
	}

	runCtx := run.Context
	if runCtx == nil {
		runCtx = map[string]any{}
	}

	runContext, err = json.Marshal(runCtx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal run context: %w", err)
	}

	return activeNodes, joinArrivals, runContext, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
