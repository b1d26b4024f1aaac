package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dailos/tramite/pkg/events"
	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

// OnTaskCompleted resumes a run suspended at a task or sub_process node.
// Signals for a cancelled run are silent no-ops; any other terminal state
// is a caller error.
func (e *Executor) OnTaskCompleted(ctx context.Context, runID, nodeID string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.on_task_completed",
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.NodeIDKey, nodeID))
	defer span.End()

	unlock, err := e.locker.Lock(ctx, runID)
	if err != nil {
		return err
	}
	defer unlock()

	run, err := e.store.RunByID(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status == models.RunStatusCancelled {
		return nil
	}

	if run.IsTerminal() {
		return fmt.Errorf("run %s: %w", runID, ErrRunTerminal)
	}

	if !run.HasActiveNode(nodeID) {
		return fmt.Errorf("run %s has no active pointer at node %s: %w", runID, nodeID, ErrRunNotPaused)
	}

	g, err := e.store.GraphByID(ctx, run.GraphID)
	if err != nil {
		return err
	}

	node := g.NodeByID(nodeID)
	if node == nil || (node.Type != models.NodeTypeTask && node.Type != models.NodeTypeSubProcess) {
		return fmt.Errorf("node %s is not a waiting task node: %w", nodeID, ErrRunNotPaused)
	}

	e.appendLog(ctx, run.ID, nodeID, models.LogActionTaskCompleted, map[string]any{
		"node_type": string(node.Type),
	})

	run.Status = models.RunStatusRunning

	next, err := e.moveToNext(ctx, g, run, nodeID, "")
	if err != nil {
		return err
	}

	return e.walk(ctx, g, run, next)
}

// DecideValidation applies an approver's decision and resumes or fails the
// run. A rejection is fatal for the run; it never advances past the gate.
func (e *Executor) DecideValidation(ctx context.Context, validationID string, decision models.Decision, comment, deciderID string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.decide_validation",
		attribute.String(otelhelper.ValidationIDKey, validationID))
	defer span.End()

	pending, err := e.store.ValidationByID(ctx, validationID)
	if err != nil {
		return err
	}

	unlock, err := e.locker.Lock(ctx, pending.RunID)
	if err != nil {
		return err
	}
	defer unlock()

	run, err := e.store.RunByID(ctx, pending.RunID)
	if err != nil {
		return err
	}

	if run.IsTerminal() {
		return fmt.Errorf("run %s: %w", run.ID, ErrRunTerminal)
	}

	instance, err := e.gate.Decide(ctx, validationID, decision, comment, deciderID)
	if err != nil {
		return err
	}

	e.appendLog(ctx, run.ID, instance.NodeID, models.LogActionValidationDecided, map[string]any{
		"validation_id": instance.ID,
		"decision":      string(decision),
		"decided_by":    deciderID,
		"comment":       comment,
	})
	e.emit(ctx, events.ValidationDecidedEvent, run.ID, map[string]any{
		"validation_id": instance.ID,
		"node_id":       instance.NodeID,
		"decision":      string(decision),
		"decided_by":    deciderID,
		"request_id":    run.RequestID,
	})

	if decision == models.DecisionRejected {
		if e.cancelSiblingsOnReject && len(run.ActiveNodes) > 1 {
			run.ActiveNodes = []string{instance.NodeID}
		}

		e.markFailed(ctx, run, fmt.Sprintf("validation %s rejected by %s: %s", instance.NodeID, deciderID, comment))

		return e.commit(ctx, run)
	}

	g, err := e.store.GraphByID(ctx, run.GraphID)
	if err != nil {
		return err
	}

	run.Status = models.RunStatusRunning

	next, err := e.moveToNext(ctx, g, run, instance.NodeID, "")
	if err != nil {
		return err
	}

	return e.walk(ctx, g, run, next)
}

// OnBranchArrived records an external branch arrival at a join node and
// advances the run if the quorum is met. Repeated arrivals for the same
// branch are idempotent, as are arrivals beyond the quorum.
func (e *Executor) OnBranchArrived(ctx context.Context, runID, joinNodeID, branchID string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.on_branch_arrived",
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.NodeIDKey, joinNodeID))
	defer span.End()

	unlock, err := e.locker.Lock(ctx, runID)
	if err != nil {
		return err
	}
	defer unlock()

	run, err := e.store.RunByID(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status == models.RunStatusCancelled {
		return nil
	}

	if run.IsTerminal() {
		return fmt.Errorf("run %s: %w", runID, ErrRunTerminal)
	}

	g, err := e.store.GraphByID(ctx, run.GraphID)
	if err != nil {
		return err
	}

	node := g.NodeByID(joinNodeID)
	if node == nil || node.Type != models.NodeTypeJoin {
		return fmt.Errorf("node %s is not a join node: %w", joinNodeID, ErrRunNotPaused)
	}

	arrived := run.RecordJoinArrival(joinNodeID, branchID)
	e.appendLog(ctx, run.ID, joinNodeID, models.LogActionBranchArrived, map[string]any{
		"branch":  branchID,
		"arrived": arrived,
	})

	if !run.HasActiveNode(joinNodeID) {
		run.ActiveNodes = append(run.ActiveNodes, joinNodeID)
	}

	return e.walk(ctx, g, run, []string{joinNodeID})
}

// CancelRun moves a run to cancelled. In-flight pointers stay recorded but
// every subsequent step and resume signal no-ops.
func (e *Executor) CancelRun(ctx context.Context, runID, cancelledBy string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.cancel_run",
		attribute.String(otelhelper.RunIDKey, runID))
	defer span.End()

	unlock, err := e.locker.Lock(ctx, runID)
	if err != nil {
		return err
	}
	defer unlock()

	run, err := e.store.RunByID(ctx, runID)
	if err != nil {
		return err
	}

	if run.IsTerminal() {
		return fmt.Errorf("run %s: %w", runID, ErrRunTerminal)
	}

	now := time.Now().UTC()
	run.Status = models.RunStatusCancelled
	run.CompletedAt = &now

	e.appendLog(ctx, run.ID, "", models.LogActionRunCancelled, map[string]any{
		"cancelled_by": cancelledBy,
	})
	e.emit(ctx, events.RunCancelledEvent, run.ID, map[string]any{
		"cancelled_by": cancelledBy,
		"request_id":   run.RequestID,
	})

	return e.commit(ctx, run)
}
