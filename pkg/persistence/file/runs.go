package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence"
)

const runsDir = "runs"
const runLogsDir = "run_logs"

// CreateRun writes a new run document.
func (p *Persistence) CreateRun(_ context.Context, run *models.Run) error {
	return p.writeDocument(runsDir, run.ID, run)
}

// RunByID loads a run by id.
func (p *Persistence) RunByID(_ context.Context, id string) (*models.Run, error) {
	run := &models.Run{}

	err := p.readDocument(runsDir, id, run, persistence.ErrRunNotFound)
	if err != nil {
		return nil, err
	}

	return run, nil
}

// UpdateRun persists the run if the stored version still matches, then
// increments the version. The mutex stands in for the row lock a SQL
// backend provides.
func (p *Persistence) UpdateRun(ctx context.Context, run *models.Run) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, err := p.RunByID(ctx, run.ID)
	if err != nil {
		return persistence.NewRunError("UpdateRun", run.ID, err)
	}

	if stored.Version != run.Version {
		return persistence.NewRunError("UpdateRun", run.ID, persistence.ErrRunConflict)
	}

	run.Version++

	err = p.writeDocument(runsDir, run.ID, run)
	if err != nil {
		return persistence.NewRunError("UpdateRun", run.ID, err)
	}

	return nil
}

// RunsByRequest returns all runs created for a request.
func (p *Persistence) RunsByRequest(ctx context.Context, requestID string) ([]*models.Run, error) {
	ids, err := p.listIDs(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	var runs []*models.Run

	for _, id := range ids {
		run, err := p.RunByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if run.RequestID == requestID {
			runs = append(runs, run)
		}
	}

	return runs, nil
}

// RunByGroup returns the sub-process run owning a task grouping, or
// ErrRunNotFound.
func (p *Persistence) RunByGroup(ctx context.Context, groupID string) (*models.Run, error) {
	ids, err := p.listIDs(runsDir)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		run, err := p.RunByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if run.GroupID == groupID {
			return run, nil
		}
	}

	return nil, persistence.ErrRunNotFound
}

// AppendLog assigns the next sequence for the run and writes the entry as
// its own document, so the log is append-only and never rewritten.
func (p *Persistence) AppendLog(_ context.Context, entry *models.LogEntry) error {
	if err := validateID(entry.RunID); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	logDir := filepath.Join(p.root, runLogsDir, entry.RunID)

	err := os.MkdirAll(logDir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create log directory for run %s: %w", entry.RunID, err)
	}

	existing, err := os.ReadDir(logDir)
	if err != nil {
		return fmt.Errorf("failed to list log directory for run %s: %w", entry.RunID, err)
	}

	entry.Sequence = int64(len(existing)) + 1

	return p.writeDocument(filepath.Join(runLogsDir, entry.RunID), fmt.Sprintf("%010d", entry.Sequence), entry)
}

// LogForRun returns the run's log entries in sequence order.
func (p *Persistence) LogForRun(_ context.Context, runID string) ([]*models.LogEntry, error) {
	if err := validateID(runID); err != nil {
		return nil, err
	}

	dir := filepath.Join(runLogsDir, runID)

	ids, err := p.listIDs(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	sort.Strings(ids)

	entries := make([]*models.LogEntry, 0, len(ids))

	for _, id := range ids {
		entry := &models.LogEntry{}

		err := p.readDocument(dir, id, entry, os.ErrNotExist)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
