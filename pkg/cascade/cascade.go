// Package cascade propagates completion bottom-up: tasks into their
// sub-process run, sub-process runs into the owning request. Every check
// re-derives completeness from current children, so redundant deliveries of
// the same event are harmless.
package cascade

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
)

type Cascade struct {
	store    persistence.Persistence
	bus      eventbus.Publisher
	executor *engine.Executor
	logger   *slog.Logger
}

func NewCascade(store persistence.Persistence, bus eventbus.Publisher, executor *engine.Executor, logger *slog.Logger) *Cascade {
	return &Cascade{
		store:    store,
		bus:      bus,
		executor: executor,
		logger:   logger,
	}
}

// RegisterHandlers subscribes the cascade to the events that can move
// completeness upward.
func (c *Cascade) RegisterHandlers(bus eventbus.Bus) {
	bus.Handle(events.TaskStatusChangedEvent, c.onTaskStatusChanged)
	bus.Handle(events.SubProcessCompletedEvent, c.onSubProcessCompleted)
}

// onTaskStatusChanged completes the group's run once every sibling task is
// terminal.
func (c *Cascade) onTaskStatusChanged(ctx context.Context, record *events.Record) error {
	task, err := c.store.TaskByID(ctx, record.EntityID)
	if err != nil {
		return err
	}

	if !task.Status.IsTerminal() || task.GroupID == "" {
		return nil
	}

	tasks, err := c.store.TasksByGroup(ctx, task.GroupID)
	if err != nil {
		return err
	}

	for _, sibling := range tasks {
		if !sibling.Status.IsTerminal() {
			return nil
		}
	}

	run, err := c.store.RunByGroup(ctx, task.GroupID)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			return nil
		}

		return err
	}

	if run.IsTerminal() {
		return nil
	}

	// A run suspended at its own sub_process node resumes through the
	// executor so the walk reaches end normally.
	if nodeID := c.waitingSubProcessNode(ctx, run, ""); nodeID != "" {
		return c.executor.OnTaskCompleted(ctx, run.ID, nodeID)
	}

	now := time.Now().UTC()
	run.Status = models.RunStatusCompleted
	run.CompletedAt = &now
	run.ActiveNodes = nil

	err = c.store.UpdateRun(ctx, run)
	if err != nil {
		if persistence.IsRunConflict(err) {
			// A concurrent transition won; the next event re-derives.
			return nil
		}

		return err
	}

	_, err = c.bus.Emit(ctx, events.SubProcessCompletedEvent, "run", run.ID, map[string]any{
		"group_id":   task.GroupID,
		"request_id": run.RequestID,
	})
	if err != nil {
		return fmt.Errorf("failed to emit sub_process_completed: %w", err)
	}

	return nil
}

// onSubProcessCompleted resumes any parent run waiting on the finished
// group, then marks the request done once every run under it is completed.
func (c *Cascade) onSubProcessCompleted(ctx context.Context, record *events.Record) error {
	requestID := payloadString(record.Payload, "request_id")
	groupID := payloadString(record.Payload, "group_id")

	if requestID == "" {
		run, err := c.store.RunByID(ctx, record.EntityID)
		if err != nil {
			return err
		}

		requestID = run.RequestID
	}

	if requestID == "" {
		return nil
	}

	runs, err := c.store.RunsByRequest(ctx, requestID)
	if err != nil {
		return err
	}

	for _, run := range runs {
		if run.ID == record.EntityID || run.IsTerminal() {
			continue
		}

		if nodeID := c.waitingSubProcessNode(ctx, run, groupID); nodeID != "" {
			err = c.executor.OnTaskCompleted(ctx, run.ID, nodeID)
			if err != nil && !engine.IsRunTerminal(err) {
				return err
			}
		}
	}

	return c.completeRequest(ctx, requestID)
}

// waitingSubProcessNode returns the id of an active sub_process node on the
// run, optionally restricted to nodes linked to groupID.
func (c *Cascade) waitingSubProcessNode(ctx context.Context, run *models.Run, groupID string) string {
	g, err := c.store.GraphByID(ctx, run.GraphID)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to load graph for cascade check",
			"run_id", run.ID, "graph_id", run.GraphID, "error", err)

		return ""
	}

	for _, nodeID := range run.ActiveNodes {
		node := g.NodeByID(nodeID)
		if node == nil || node.Type != models.NodeTypeSubProcess {
			continue
		}

		if groupID != "" {
			cfg, ok := node.Config.(*models.SubProcessConfig)
			if !ok || cfg.GroupID != groupID {
				continue
			}
		}

		return nodeID
	}

	return ""
}

func (c *Cascade) completeRequest(ctx context.Context, requestID string) error {
	runs, err := c.store.RunsByRequest(ctx, requestID)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		return nil
	}

	for _, run := range runs {
		if run.Status != models.RunStatusCompleted {
			return nil
		}
	}

	request, err := c.store.RequestByID(ctx, requestID)
	if err != nil {
		if persistence.IsRequestNotFound(err) {
			return nil
		}

		return err
	}

	if request.Status == models.RequestStatusDone {
		return nil
	}

	request.Status = models.RequestStatusDone
	request.UpdatedAt = time.Now().UTC()

	err = c.store.SaveRequest(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to mark request done: %w", err)
	}

	_, err = c.bus.Emit(ctx, events.ProcessCompletedEvent, "request", requestID, map[string]any{
		"request_id": requestID,
	})
	if err != nil {
		return fmt.Errorf("failed to emit process_completed: %w", err)
	}

	return nil
}

func payloadString(payload map[string]any, key string) string {
	if value, ok := payload[key].(string); ok {
		return value
	}

	return ""
}
