// Package engine drives runs through process graphs: an explicit step loop
// with a persisted cursor, suspension at blocking nodes, and resume entry
// points for the external signals that un-pause a run.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailos/tramite/pkg/eventbus"
	"github.com/dailos/tramite/pkg/events"
	"github.com/dailos/tramite/pkg/gate"
	"github.com/dailos/tramite/pkg/graph"
	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/otelhelper"
	"github.com/dailos/tramite/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NotificationCreator materializes notification records for a notification
// node. Implemented by pkg/notify.
type NotificationCreator interface {
	CreateFromNode(ctx context.Context, run *models.Run, node *models.Node, eventID string) ([]*models.NotificationRecord, error)
}

// Executor is the run state machine. All transitions of a run happen under
// its run lock; the engine never polls and is only driven by StartRun and
// the resume entry points.
type Executor struct {
	store    persistence.Persistence
	gate     *gate.Gate
	bus      eventbus.Publisher
	notifier NotificationCreator
	locker   RunLocker
	logger   *slog.Logger
	tracer   trace.Tracer

	// cancelSiblingsOnReject drops the other in-flight branch pointers
	// when a validation is rejected, instead of leaving them recorded on
	// the failed run.
	cancelSiblingsOnReject bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithTracer wires a tracer; the default is a no-op tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) { e.tracer = tracer }
}

// WithLocker overrides the run locker; the default is the in-process
// MemoryLocker.
func WithLocker(locker RunLocker) Option {
	return func(e *Executor) { e.locker = locker }
}

// WithCancelSiblingsOnReject makes a rejection clear sibling branch
// pointers explicitly.
func WithCancelSiblingsOnReject() Option {
	return func(e *Executor) { e.cancelSiblingsOnReject = true }
}

// WithNotifier wires the notification record creator.
func WithNotifier(notifier NotificationCreator) Option {
	return func(e *Executor) { e.notifier = notifier }
}

func NewExecutor(store persistence.Persistence, approvalGate *gate.Gate, bus eventbus.Publisher, logger *slog.Logger, opts ...Option) *Executor {
	executor := &Executor{
		store:  store,
		gate:   approvalGate,
		bus:    bus,
		locker: NewMemoryLocker(),
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer("engine"),
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// StartRun validates the graph, creates a run positioned at the start node
// and walks until the first suspension or a terminal state.
func (e *Executor) StartRun(ctx context.Context, graphID, startedBy string, runContext map[string]any) (*models.Run, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.start_run",
		attribute.String(otelhelper.GraphIDKey, graphID))
	defer span.End()

	g, err := e.store.GraphByID(ctx, graphID)
	if err != nil {
		return nil, err
	}

	err = graph.Validate(g)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	start := g.StartNode()

	run := &models.Run{
		ID:           uuid.New().String(),
		GraphID:      g.ID,
		GraphVersion: g.Version,
		Status:       models.RunStatusRunning,
		ActiveNodes:  []string{start.ID},
		Context:      runContext,
		StartedBy:    startedBy,
		RequestID:    contextString(runContext, "request_id"),
		GroupID:      contextString(runContext, "group_id"),
		CreatedAt:    time.Now().UTC(),
	}

	err = e.store.CreateRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	e.appendLog(ctx, run.ID, start.ID, models.LogActionRunStarted, map[string]any{
		"graph_id":   g.ID,
		"started_by": startedBy,
	})
	e.emit(ctx, events.RunStartedEvent, run.ID, map[string]any{
		"graph_id":   g.ID,
		"request_id": run.RequestID,
	})

	unlock, err := e.locker.Lock(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = e.walk(ctx, g, run, []string{start.ID})
	if err != nil {
		return nil, err
	}

	return run, nil
}

// walk is the explicit step loop. Each committed step persists the run, so
// a crash mid-walk resumes from the last committed cursor instead of losing
// progress. The loop checks for terminal status before every step; a
// cancellation landed between steps stops the walk.
func (e *Executor) walk(ctx context.Context, g *models.Graph, run *models.Run, queue []string) error {
	for len(queue) > 0 && !run.IsTerminal() {
		nodeID := queue[0]
		queue = queue[1:]

		// Pointers consumed by an earlier step (a satisfied join) are
		// stale queue entries.
		if !run.HasActiveNode(nodeID) {
			continue
		}

		var next []string

		node := g.NodeByID(nodeID)
		if node == nil {
			e.markFailed(ctx, run, fmt.Sprintf("node %s not found in graph %s", nodeID, g.ID))
		} else {
			var err error

			next, err = e.processNode(ctx, g, run, node)
			if err != nil {
				_ = e.commit(ctx, run)

				return err
			}
		}

		err := e.commit(ctx, run)
		if err != nil {
			return err
		}

		queue = append(queue, next...)
	}

	return e.commit(ctx, run)
}

// processNode dispatches one step by node type and returns the node ids to
// process next. An empty result means the run suspended at this node (or
// reached a terminal state).
func (e *Executor) processNode(ctx context.Context, g *models.Graph, run *models.Run, node *models.Node) ([]string, error) {
	switch node.Type {
	case models.NodeTypeStart:
		return e.moveToNext(ctx, g, run, node.ID, "")

	case models.NodeTypeTask, models.NodeTypeSubProcess:
		run.Status = models.RunStatusRunning
		e.appendLog(ctx, run.ID, node.ID, models.LogActionTaskReached, map[string]any{
			"node_type": string(node.Type),
		})

		return nil, nil

	case models.NodeTypeValidation:
		instance, err := e.gate.CreateInstance(ctx, run, node)
		if err != nil {
			return nil, err
		}

		run.Status = models.RunStatusPaused
		e.appendLog(ctx, run.ID, node.ID, models.LogActionValidationCreated, map[string]any{
			"validation_id": instance.ID,
			"approver_type": string(instance.ApproverType),
		})

		return nil, nil

	case models.NodeTypeNotification:
		e.createNotifications(ctx, run, node)

		return e.moveToNext(ctx, g, run, node.ID, "")

	case models.NodeTypeCondition:
		cfg := node.Config.(*models.ConditionConfig)

		result, err := models.GetInterpreter(cfg).Evaluate(cfg, run.Context)
		if err != nil {
			e.markFailed(ctx, run, fmt.Sprintf("condition %s failed: %v", node.ID, err))

			return nil, nil
		}

		handle := models.HandleFalse
		if result {
			handle = models.HandleTrue
		}

		e.appendLog(ctx, run.ID, node.ID, models.LogActionConditionTaken, map[string]any{
			"result": result,
			"handle": handle,
		})

		return e.moveToNext(ctx, g, run, node.ID, handle)

	case models.NodeTypeFork:
		edges := g.OutgoingEdges(node.ID)
		run.RemoveActiveNode(node.ID)

		var next []string
		for _, edge := range edges {
			next = append(next, e.arrive(ctx, g, run, edge)...)
		}

		e.appendLog(ctx, run.ID, node.ID, models.LogActionForkSpawned, map[string]any{
			"branches": len(edges),
		})

		return next, nil

	case models.NodeTypeJoin:
		cfg := node.Config.(*models.JoinConfig)

		if len(run.JoinArrivals[node.ID]) < cfg.RequiredCount {
			run.Status = models.RunStatusPaused

			return nil, nil
		}

		run.Status = models.RunStatusRunning
		e.appendLog(ctx, run.ID, node.ID, models.LogActionJoinSatisfied, map[string]any{
			"required": cfg.RequiredCount,
		})

		return e.moveToNext(ctx, g, run, node.ID, "")

	case models.NodeTypeEnd:
		now := time.Now().UTC()
		run.Status = models.RunStatusCompleted
		run.CompletedAt = &now
		run.RemoveActiveNode(node.ID)

		e.appendLog(ctx, run.ID, node.ID, models.LogActionRunCompleted, nil)

		// Handlers of the terminal events re-read the run from the store,
		// so the completed status must be persisted before either fires.
		if err := e.commit(ctx, run); err != nil {
			return nil, err
		}

		e.emit(ctx, events.RunCompletedEvent, run.ID, map[string]any{
			"graph_id":   run.GraphID,
			"request_id": run.RequestID,
		})

		if run.GroupID != "" {
			e.emit(ctx, events.SubProcessCompletedEvent, run.ID, map[string]any{
				"group_id":   run.GroupID,
				"request_id": run.RequestID,
			})
		}

		return nil, nil

	default:
		e.markFailed(ctx, run, fmt.Sprintf("node %s has unsupported type %s", node.ID, node.Type))

		return nil, nil
	}
}

// moveToNext selects the outgoing edge of a node, filtered by handle when
// given; multiple matches resolve deterministically by declaration order. A
// missing edge is not a silent halt: the run fails with a stored reason.
func (e *Executor) moveToNext(ctx context.Context, g *models.Graph, run *models.Run, fromNodeID, handle string) ([]string, error) {
	var chosen *models.Edge

	for _, edge := range g.OutgoingEdges(fromNodeID) {
		if handle == "" || edge.SourceHandle == handle {
			chosen = edge

			break
		}
	}

	if chosen == nil {
		e.markFailed(ctx, run, fmt.Sprintf("no outgoing edge from node %s matching handle %q", fromNodeID, handle))

		return nil, nil
	}

	run.RemoveActiveNode(fromNodeID)

	return e.arrive(ctx, g, run, chosen), nil
}

// arrive positions a pointer on the edge target. Arriving at a join records
// the branch arrival (idempotent) instead of stacking pointers.
func (e *Executor) arrive(ctx context.Context, g *models.Graph, run *models.Run, edge *models.Edge) []string {
	target := g.NodeByID(edge.TargetNodeID)

	if target != nil && target.Type == models.NodeTypeJoin {
		branchID := edge.TargetHandle
		if branchID == "" {
			branchID = edge.SourceNodeID
		}

		arrived := run.RecordJoinArrival(target.ID, branchID)
		e.appendLog(ctx, run.ID, target.ID, models.LogActionBranchArrived, map[string]any{
			"branch":  branchID,
			"arrived": arrived,
		})

		// The join is re-processed on every arrival, even when its pointer
		// is already active: the arrival that reaches quorum has to resume
		// the run, and a below-quorum re-check just pauses again.
		if !run.HasActiveNode(target.ID) {
			run.ActiveNodes = append(run.ActiveNodes, target.ID)
		}

		return []string{target.ID}
	}

	if run.HasActiveNode(edge.TargetNodeID) {
		return nil
	}

	run.ActiveNodes = append(run.ActiveNodes, edge.TargetNodeID)

	return []string{edge.TargetNodeID}
}

func (e *Executor) createNotifications(ctx context.Context, run *models.Run, node *models.Node) {
	eventID, err := e.bus.Emit(ctx, events.NotificationCreatedEvent, "run", run.ID, map[string]any{
		"node_id":    node.ID,
		"request_id": run.RequestID,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to emit notification event", "run_id", run.ID, "node_id", node.ID, "error", err)
	}

	if e.notifier == nil {
		return
	}

	records, err := e.notifier.CreateFromNode(ctx, run, node, eventID)
	if err != nil {
		// Unresolved recipients degrade gracefully: the run advances.
		e.logger.WarnContext(ctx, "Notification fan-out failed",
			"run_id", run.ID, "node_id", node.ID, "error", err)

		return
	}

	e.appendLog(ctx, run.ID, node.ID, models.LogActionNotificationSent, map[string]any{
		"records": len(records),
	})
}

// markFailed is the explicit fatal transition: the reason is stored on the
// run instead of being dropped in a console warning.
func (e *Executor) markFailed(ctx context.Context, run *models.Run, reason string) {
	now := time.Now().UTC()
	run.Status = models.RunStatusFailed
	run.FailureReason = reason
	run.CompletedAt = &now

	e.appendLog(ctx, run.ID, "", models.LogActionRunFailed, map[string]any{
		"reason": reason,
	})
	e.emit(ctx, events.RunFailedEvent, run.ID, map[string]any{
		"reason":     reason,
		"request_id": run.RequestID,
	})
}

func (e *Executor) commit(ctx context.Context, run *models.Run) error {
	err := e.store.UpdateRun(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to persist run %s: %w", run.ID, err)
	}

	return nil
}

func (e *Executor) appendLog(ctx context.Context, runID, nodeID, action string, details map[string]any) {
	err := e.store.AppendLog(ctx, &models.LogEntry{
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		Action:    action,
		Details:   details,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to append execution log", "run_id", runID, "action", action, "error", err)
	}
}

func (e *Executor) emit(ctx context.Context, eventType events.EventType, runID string, payload map[string]any) {
	_, err := e.bus.Emit(ctx, eventType, "run", runID, payload)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to emit event", "event_type", eventType, "run_id", runID, "error", err)
	}
}

func contextString(runContext map[string]any, key string) string {
	if value, ok := runContext[key].(string); ok {
		return value
	}

	return ""
}
