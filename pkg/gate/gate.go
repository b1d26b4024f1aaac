// Package gate resolves approvers and manages validation instances for
// approval nodes.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence"
	"github.com/google/uuid"
)

var (
	// ErrAlreadyDecided indicates a second decision on a decided
	// instance. No state changes.
	ErrAlreadyDecided = errors.New("validation already decided")

	// ErrManagerNotFound is returned by a Directory when a user has no
	// manager relation.
	ErrManagerNotFound = errors.New("manager not found")
)

// Directory is the org-chart collaborator used for requester_manager
// resolution.
type Directory interface {
	ManagerOf(ctx context.Context, userID string) (string, error)
}

// Gate creates and decides validation instances. Run consequences of a
// decision (resume, fail) belong to the engine.
type Gate struct {
	store     persistence.ValidationRepository
	directory Directory
	logger    *slog.Logger
}

func NewGate(store persistence.ValidationRepository, directory Directory, logger *slog.Logger) *Gate {
	return &Gate{
		store:     store,
		directory: directory,
		logger:    logger,
	}
}

// CreateInstance opens one approval gate occurrence for a run at a
// validation node. A failed approver resolution does not block creation:
// the instance is surfaced to the run's department with a nil approver and
// must be assigned before a decision.
func (g *Gate) CreateInstance(ctx context.Context, run *models.Run, node *models.Node) (*models.ValidationInstance, error) {
	cfg, ok := node.Config.(*models.ValidationConfig)
	if !ok {
		return nil, fmt.Errorf("node %s is not a validation node", node.ID)
	}

	now := time.Now().UTC()

	instance := &models.ValidationInstance{
		ID:              uuid.New().String(),
		RunID:           run.ID,
		NodeID:          node.ID,
		ApproverType:    cfg.ApproverType,
		DepartmentID:    contextString(run.Context, "department_id"),
		Status:          models.ValidationPending,
		OnTimeoutAction: cfg.OnTimeoutAction,
		CreatedAt:       now,
	}

	if cfg.SLAHours > 0 {
		due := now.Add(time.Duration(cfg.SLAHours) * time.Hour)
		instance.DueAt = &due

		if cfg.ReminderHours > 0 {
			reminder := due.Add(-time.Duration(cfg.ReminderHours) * time.Hour)
			instance.ReminderAt = &reminder
		}
	}

	approverID, err := g.resolveApprover(ctx, cfg, run)
	if err != nil {
		g.logger.WarnContext(ctx, "Approver resolution failed, surfacing to department",
			"run_id", run.ID, "node_id", node.ID, "approver_type", cfg.ApproverType, "error", err)
	} else if approverID != "" {
		instance.ApproverID = &approverID
	}

	err = g.store.SaveValidation(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to save validation instance: %w", err)
	}

	return instance, nil
}

func (g *Gate) resolveApprover(ctx context.Context, cfg *models.ValidationConfig, run *models.Run) (string, error) {
	switch cfg.ApproverType {
	case models.ApproverFixedUser:
		if cfg.ApproverID == nil || *cfg.ApproverID == "" {
			return "", errors.New("fixed_user validation without approver_id")
		}

		return *cfg.ApproverID, nil

	case models.ApproverRequesterManager:
		if g.directory == nil {
			return "", errors.New("no directory configured")
		}

		return g.directory.ManagerOf(ctx, run.StartedBy)

	case models.ApproverTargetManager:
		if id := contextString(run.Context, "manager_id"); id != "" {
			return id, nil
		}

		return "", errors.New("run context has no manager_id")

	case models.ApproverDepartment:
		// Department approvals stay unassigned: any member may pick the
		// instance up.
		if contextString(run.Context, "department_id") == "" {
			return "", errors.New("run context has no department_id")
		}

		return "", nil

	case models.ApproverRole:
		if id := contextString(run.Context, "role_approver_id"); id != "" {
			return id, nil
		}

		return "", errors.New("run context has no role_approver_id")

	default:
		return "", fmt.Errorf("unknown approver type %q", cfg.ApproverType)
	}
}

// Decide writes the one allowed decision onto a pending instance.
func (g *Gate) Decide(ctx context.Context, validationID string, decision models.Decision, comment, deciderID string) (*models.ValidationInstance, error) {
	instance, err := g.store.ValidationByID(ctx, validationID)
	if err != nil {
		return nil, err
	}

	if instance.IsDecided() {
		return nil, fmt.Errorf("validation %s: %w", validationID, ErrAlreadyDecided)
	}

	now := time.Now().UTC()

	switch decision {
	case models.DecisionApproved:
		instance.Status = models.ValidationApproved
	case models.DecisionRejected:
		instance.Status = models.ValidationRejected
	default:
		return nil, fmt.Errorf("unknown decision %q", decision)
	}

	instance.DecidedBy = deciderID
	instance.DecidedAt = &now
	instance.DecisionComment = comment

	err = g.store.UpdateValidation(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to persist decision: %w", err)
	}

	return instance, nil
}

// PendingForApprover lists the approver's open instances.
func (g *Gate) PendingForApprover(ctx context.Context, approverID string) ([]*models.ValidationInstance, error) {
	return g.store.PendingByApprover(ctx, approverID)
}

// DueForReminder lists pending instances whose reminder window opened.
// Used by the external sweep; the gate itself never escalates.
func (g *Gate) DueForReminder(ctx context.Context, now time.Time) ([]*models.ValidationInstance, error) {
	return g.store.PendingDueForReminder(ctx, now)
}

// IsAlreadyDecided checks if an error indicates a duplicate decision.
func IsAlreadyDecided(err error) bool {
	return errors.Is(err, ErrAlreadyDecided)
}

func contextString(runContext map[string]any, key string) string {
	if value, ok := runContext[key].(string); ok {
		return value
	}

	return ""
}
