package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailos/tramite/pkg/engine"
	"github.com/dailos/tramite/pkg/eventbus"
	"github.com/dailos/tramite/pkg/events"
	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence"
	"github.com/google/uuid"
)

// RequestService drives the triggering entities: requests and their
// concrete tasks. Status changes emit the events the cascade listens on.
type RequestService struct {
	store    persistence.Persistence
	bus      eventbus.Publisher
	executor *engine.Executor
	logger   *slog.Logger
}

func NewRequestService(store persistence.Persistence, bus eventbus.Publisher, executor *engine.Executor, logger *slog.Logger) *RequestService {
	return &RequestService{
		store:    store,
		bus:      bus,
		executor: executor,
		logger:   logger,
	}
}

// CreateRequest opens a draft request.
func (s *RequestService) CreateRequest(ctx context.Context, requesterID, departmentID string) (*models.Request, error) {
	request := &models.Request{
		ID:           uuid.New().String(),
		RequesterID:  requesterID,
		DepartmentID: departmentID,
		Status:       models.RequestStatusDraft,
		UpdatedAt:    time.Now().UTC(),
	}

	err := s.store.SaveRequest(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to save request: %w", err)
	}

	_, err = s.bus.Emit(ctx, events.RequestCreatedEvent, "request", request.ID, map[string]any{
		"requester_id":  requesterID,
		"department_id": departmentID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to emit request_created", "request_id", request.ID, "error", err)
	}

	return request, nil
}

// ApproveRequest moves a draft request into execution and starts its run.
// The run context carries the request identifiers the engine and cascade
// resolve against.
func (s *RequestService) ApproveRequest(ctx context.Context, requestID, graphID string, runContext map[string]any) (*models.Run, error) {
	request, err := s.store.RequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if request.Status != models.RequestStatusDraft && request.Status != models.RequestStatusApproved {
		return nil, fmt.Errorf("request %s is %s, not approvable", requestID, request.Status)
	}

	if runContext == nil {
		runContext = map[string]any{}
	}

	runContext["request_id"] = request.ID
	if request.DepartmentID != "" {
		runContext["department_id"] = request.DepartmentID
	}

	run, err := s.executor.StartRun(ctx, graphID, request.RequesterID, runContext)
	if err != nil {
		return nil, err
	}

	request.Status = models.RequestStatusInExecution
	request.UpdatedAt = time.Now().UTC()

	err = s.store.SaveRequest(ctx, request)
	if err != nil {
		return run, fmt.Errorf("run started but request update failed: %w", err)
	}

	return run, nil
}

// CreateTask registers a concrete task under a request's sub-process group.
func (s *RequestService) CreateTask(ctx context.Context, requestID, groupID, templateID, assigneeID string) (*models.Task, error) {
	if _, err := s.store.RequestByID(ctx, requestID); err != nil {
		return nil, err
	}

	task := &models.Task{
		ID:         uuid.New().String(),
		RequestID:  requestID,
		GroupID:    groupID,
		TemplateID: templateID,
		AssigneeID: assigneeID,
		Status:     models.TaskStatusPending,
		UpdatedAt:  time.Now().UTC(),
	}

	err := s.store.SaveTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	return task, nil
}

// UpdateTaskStatus persists a task status change and emits
// task_status_changed, which feeds the completion cascade.
func (s *RequestService) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus) (*models.Task, error) {
	task, err := s.store.TaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status == status {
		return task, nil
	}

	task.Status = status
	task.UpdatedAt = time.Now().UTC()

	err = s.store.SaveTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	_, err = s.bus.Emit(ctx, events.TaskStatusChangedEvent, "task", task.ID, map[string]any{
		"request_id": task.RequestID,
		"group_id":   task.GroupID,
		"status":     string(status),
	})
	if err != nil {
		return task, fmt.Errorf("task updated but event emit failed: %w", err)
	}

	return task, nil
}

// FetchRequest retrieves a request by id.
func (s *RequestService) FetchRequest(ctx context.Context, id string) (*models.Request, error) {
	return s.store.RequestByID(ctx, id)
}

// FetchRun retrieves a run with no transformation; handlers shape it.
func (s *RequestService) FetchRun(ctx context.Context, id string) (*models.Run, error) {
	return s.store.RunByID(ctx, id)
}

// RunLog returns the ordered execution log of a run.
func (s *RequestService) RunLog(ctx context.Context, runID string) ([]*models.LogEntry, error) {
	return s.store.LogForRun(ctx, runID)
}
