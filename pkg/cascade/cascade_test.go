package cascade

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dailos/tramite/pkg/engine"
	"github.com/dailos/tramite/pkg/eventbus"
	"github.com/dailos/tramite/pkg/events"
	"github.com/dailos/tramite/pkg/gate"
	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence/file"
	"github.com/dailos/tramite/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cascadeEnv struct {
	store    *file.Persistence
	bus      *eventbus.Dispatcher
	executor *engine.Executor
}

func newCascadeEnv(t *testing.T) *cascadeEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	store := file.NewPersistence(t.TempDir())
	bus := eventbus.NewDispatcher(store, nil, logger)
	executor := engine.NewExecutor(store, gate.NewGate(store, nil, logger), bus, logger)

	NewCascade(store, bus, executor, logger).RegisterHandlers(bus)

	return &cascadeEnv{store: store, bus: bus, executor: executor}
}

// subProcessGraph is a parent process that waits on one task grouping.
func subProcessGraph(groupID string) *models.Graph {
	return testutil.CreateTestGraph(func(g *models.Graph) {
		g.Nodes = []*models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "sub", Type: models.NodeTypeSubProcess, Config: &models.SubProcessConfig{GroupID: groupID}},
			{ID: "end", Type: models.NodeTypeEnd},
		}
		g.Edges = []*models.Edge{
			{ID: "e1", SourceNodeID: "start", TargetNodeID: "sub"},
			{ID: "e2", SourceNodeID: "sub", TargetNodeID: "end"},
		}
	})
}

// finishTask flips the task terminal and emits the status change the way the
// request service does.
func (env *cascadeEnv) finishTask(t *testing.T, task *models.Task) {
	t.Helper()
	ctx := context.Background()

	task.Status = models.TaskStatusDone
	task.UpdatedAt = time.Now().UTC()
	require.NoError(t, env.store.SaveTask(ctx, task))

	_, err := env.bus.Emit(ctx, events.TaskStatusChangedEvent, "task", task.ID, map[string]any{
		"request_id": task.RequestID,
		"group_id":   task.GroupID,
		"status":     string(task.Status),
	})
	require.NoError(t, err)
}

func TestCascade_TaskCompletionBubblesToRequest(t *testing.T) {
	ctx := context.Background()
	env := newCascadeEnv(t)

	require.NoError(t, env.store.SaveRequest(ctx, &models.Request{
		ID:          "req-1",
		RequesterID: "user-1",
		Status:      models.RequestStatusInExecution,
	}))

	// Parent run suspended at its sub_process node.
	parentGraph := subProcessGraph("group-a")
	require.NoError(t, env.store.SaveGraph(ctx, parentGraph))

	parent, err := env.executor.StartRun(ctx, parentGraph.ID, "user-1", map[string]any{"request_id": "req-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sub"}, parent.ActiveNodes)

	// Group run owning the task grouping, positioned at an ordinary task.
	groupGraph := testutil.CreateTestGraph()
	require.NoError(t, env.store.SaveGraph(ctx, groupGraph))
	groupRun := testutil.CreateTestRun(groupGraph, func(r *models.Run) {
		r.ID = "run-group"
		r.RequestID = "req-1"
		r.GroupID = "group-a"
		r.ActiveNodes = []string{"task-1"}
	})
	require.NoError(t, env.store.CreateRun(ctx, groupRun))

	tasks := []*models.Task{
		{ID: "t-1", RequestID: "req-1", GroupID: "group-a", Status: models.TaskStatusPending},
		{ID: "t-2", RequestID: "req-1", GroupID: "group-a", Status: models.TaskStatusPending},
	}
	for _, task := range tasks {
		require.NoError(t, env.store.SaveTask(ctx, task))
	}

	// First task alone moves nothing.
	env.finishTask(t, tasks[0])

	stored, err := env.store.RunByID(ctx, "run-group")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, stored.Status)

	// Last task completes the group run, resumes the parent and closes the
	// request.
	env.finishTask(t, tasks[1])

	stored, err = env.store.RunByID(ctx, "run-group")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)

	parentStored, err := env.store.RunByID(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, parentStored.Status)

	request, err := env.store.RequestByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusDone, request.Status)
}

func TestCascade_GroupRunEndingInExecutorClosesRequest(t *testing.T) {
	ctx := context.Background()
	env := newCascadeEnv(t)

	require.NoError(t, env.store.SaveRequest(ctx, &models.Request{
		ID:          "req-1",
		RequesterID: "user-1",
		Status:      models.RequestStatusInExecution,
	}))

	groupGraph := testutil.CreateTestGraph()
	require.NoError(t, env.store.SaveGraph(ctx, groupGraph))

	run, err := env.executor.StartRun(ctx, groupGraph.ID, "user-1", map[string]any{
		"request_id": "req-1",
		"group_id":   "group-a",
	})
	require.NoError(t, err)

	// The group run reaches its end node through the executor rather than
	// through the task cascade. The completion event fires against the
	// stored run, which must already be completed for the request to close.
	require.NoError(t, env.executor.OnTaskCompleted(ctx, run.ID, "task-1"))

	stored, err := env.store.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)

	request, err := env.store.RequestByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusDone, request.Status)
}

func TestCascade_ValidatedCountsAsTerminal(t *testing.T) {
	ctx := context.Background()
	env := newCascadeEnv(t)

	groupGraph := testutil.CreateTestGraph()
	require.NoError(t, env.store.SaveGraph(ctx, groupGraph))
	groupRun := testutil.CreateTestRun(groupGraph, func(r *models.Run) {
		r.ID = "run-group"
		r.GroupID = "group-a"
		r.ActiveNodes = []string{"task-1"}
	})
	require.NoError(t, env.store.CreateRun(ctx, groupRun))

	task := &models.Task{ID: "t-1", GroupID: "group-a", Status: models.TaskStatusValidated, UpdatedAt: time.Now().UTC()}
	require.NoError(t, env.store.SaveTask(ctx, task))

	_, err := env.bus.Emit(ctx, events.TaskStatusChangedEvent, "task", "t-1", map[string]any{
		"group_id": "group-a",
		"status":   string(task.Status),
	})
	require.NoError(t, err)

	stored, err := env.store.RunByID(ctx, "run-group")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
}

func TestCascade_NonTerminalStatusIgnored(t *testing.T) {
	ctx := context.Background()
	env := newCascadeEnv(t)

	groupGraph := testutil.CreateTestGraph()
	require.NoError(t, env.store.SaveGraph(ctx, groupGraph))
	groupRun := testutil.CreateTestRun(groupGraph, func(r *models.Run) {
		r.ID = "run-group"
		r.GroupID = "group-a"
	})
	require.NoError(t, env.store.CreateRun(ctx, groupRun))

	task := &models.Task{ID: "t-1", GroupID: "group-a", Status: models.TaskStatusInProgress}
	require.NoError(t, env.store.SaveTask(ctx, task))

	_, err := env.bus.Emit(ctx, events.TaskStatusChangedEvent, "task", "t-1", map[string]any{
		"group_id": "group-a",
		"status":   string(task.Status),
	})
	require.NoError(t, err)

	stored, err := env.store.RunByID(ctx, "run-group")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, stored.Status)
}

func TestCascade_TaskWithoutGroupIgnored(t *testing.T) {
	ctx := context.Background()
	env := newCascadeEnv(t)

	task := &models.Task{ID: "t-1", Status: models.TaskStatusDone}
	require.NoError(t, env.store.SaveTask(ctx, task))

	eventID, err := env.bus.Emit(ctx, events.TaskStatusChangedEvent, "task", "t-1", map[string]any{
		"status": string(task.Status),
	})
	require.NoError(t, err)

	stored, err := env.store.EventByID(ctx, eventID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
}

func TestCascade_OrphanGroupIsHarmless(t *testing.T) {
	ctx := context.Background()
	env := newCascadeEnv(t)

	// Terminal task whose group has no run behind it.
	task := &models.Task{ID: "t-1", GroupID: "group-ghost", Status: models.TaskStatusDone}
	require.NoError(t, env.store.SaveTask(ctx, task))

	eventID, err := env.bus.Emit(ctx, events.TaskStatusChangedEvent, "task", "t-1", map[string]any{
		"group_id": "group-ghost",
		"status":   string(task.Status),
	})
	require.NoError(t, err)

	stored, err := env.store.EventByID(ctx, eventID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
}

func TestCascade_RequestStaysOpenWhileRunsPending(t *testing.T) {
	ctx := context.Background()
	env := newCascadeEnv(t)

	require.NoError(t, env.store.SaveRequest(ctx, &models.Request{
		ID:          "req-1",
		RequesterID: "user-1",
		Status:      models.RequestStatusInExecution,
	}))

	// One completed run, one still paused.
	require.NoError(t, env.store.CreateRun(ctx, &models.Run{
		ID: "run-done", GraphID: "g", RequestID: "req-1", Status: models.RunStatusCompleted,
	}))
	require.NoError(t, env.store.CreateRun(ctx, &models.Run{
		ID: "run-open", GraphID: "g", RequestID: "req-1", Status: models.RunStatusPaused,
	}))

	_, err := env.bus.Emit(ctx, events.SubProcessCompletedEvent, "run", "run-done", map[string]any{
		"request_id": "req-1",
	})
	require.NoError(t, err)

	request, err := env.store.RequestByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusInExecution, request.Status)
}

func TestCascade_RedeliveredEventIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newCascadeEnv(t)

	require.NoError(t, env.store.SaveRequest(ctx, &models.Request{
		ID:          "req-1",
		RequesterID: "user-1",
		Status:      models.RequestStatusInExecution,
	}))
	require.NoError(t, env.store.CreateRun(ctx, &models.Run{
		ID: "run-done", GraphID: "g", RequestID: "req-1", Status: models.RunStatusCompleted,
	}))

	for range 2 {
		_, err := env.bus.Emit(ctx, events.SubProcessCompletedEvent, "run", "run-done", map[string]any{
			"request_id": "req-1",
		})
		require.NoError(t, err)
	}

	request, err := env.store.RequestByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusDone, request.Status)
}
