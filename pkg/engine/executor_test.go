package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/dailos/tramite/pkg/eventbus"
	"github.com/dailos/tramite/pkg/events"
	"github.com/dailos/tramite/pkg/gate"
	"github.com/dailos/tramite/pkg/graph"
	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence/file"
	"github.com/dailos/tramite/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store    *file.Persistence
	bus      *eventbus.Dispatcher
	executor *Executor
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	store := file.NewPersistence(t.TempDir())
	bus := eventbus.NewDispatcher(store, nil, logger)

	directory := gate.StaticDirectory{"user-1": "manager-1"}
	approvalGate := gate.NewGate(store, directory, logger)

	return &testEnv{
		store:    store,
		bus:      bus,
		executor: NewExecutor(store, approvalGate, bus, logger, opts...),
	}
}

func (env *testEnv) saveGraph(t *testing.T, g *models.Graph) {
	t.Helper()
	require.NoError(t, env.store.SaveGraph(context.Background(), g))
}

func (env *testEnv) logActions(t *testing.T, runID string) []string {
	t.Helper()

	entries, err := env.store.LogForRun(context.Background(), runID)
	require.NoError(t, err)

	actions := make([]string, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}

	return actions
}

func TestExecutor_StartRun_SuspendsAtTask(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	g := testutil.CreateTestGraph()
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", map[string]any{"request_id": "req-1"})

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, []string{"task-1"}, run.ActiveNodes)
	assert.Equal(t, "req-1", run.RequestID)

	stored, err := env.store.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1"}, stored.ActiveNodes)

	actions := env.logActions(t, run.ID)
	assert.Contains(t, actions, models.LogActionRunStarted)
	assert.Contains(t, actions, models.LogActionTaskReached)
}

func TestExecutor_StartRun_GraphNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.executor.StartRun(context.Background(), "missing", "user-1", nil)

	require.Error(t, err)
}

func TestExecutor_StartRun_RejectsMalformedGraph(t *testing.T) {
	env := newTestEnv(t)

	g := testutil.CreateTestGraph(func(g *models.Graph) {
		g.Nodes[1].Config = nil
	})
	env.saveGraph(t, g)

	_, err := env.executor.StartRun(context.Background(), g.ID, "user-1", nil)

	require.Error(t, err)
	assert.True(t, graph.IsMalformed(err))
}

func TestExecutor_OnTaskCompleted_RunsToCompletion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	g := testutil.CreateTestGraph()
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", nil)
	require.NoError(t, err)

	require.NoError(t, env.executor.OnTaskCompleted(ctx, run.ID, "task-1"))

	stored, err := env.store.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.Empty(t, stored.ActiveNodes)

	actions := env.logActions(t, run.ID)
	assert.Contains(t, actions, models.LogActionTaskCompleted)
	assert.Contains(t, actions, models.LogActionRunCompleted)
}

func TestExecutor_OnTaskCompleted_WrongNode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	g := testutil.CreateTestGraph()
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", nil)
	require.NoError(t, err)

	err = env.executor.OnTaskCompleted(ctx, run.ID, "end")

	require.Error(t, err)
	assert.True(t, IsRunNotPaused(err))
}

func TestExecutor_CancelRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	g := testutil.CreateTestGraph()
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", nil)
	require.NoError(t, err)

	require.NoError(t, env.executor.CancelRun(ctx, run.ID, "admin-1"))

	stored, err := env.store.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, stored.Status)

	// Signals after cancellation are silent no-ops.
	require.NoError(t, env.executor.OnTaskCompleted(ctx, run.ID, "task-1"))

	stored, err = env.store.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, stored.Status)

	// A second cancel is a caller error.
	err = env.executor.CancelRun(ctx, run.ID, "admin-1")
	require.Error(t, err)
	assert.True(t, IsRunTerminal(err))
}

func TestExecutor_Validation_ApproveResumes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	approver := "approver-1"
	g := testutil.CreateTestGraph(testutil.WithValidationNode(&models.ValidationConfig{
		ApproverType: models.ApproverFixedUser,
		ApproverID:   &approver,
	}))
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", nil)
	require.NoError(t, err)

	require.NoError(t, env.executor.OnTaskCompleted(ctx, run.ID, "task-1"))

	stored, err := env.store.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, stored.Status)
	assert.Equal(t, []string{"validation"}, stored.ActiveNodes)

	pending, err := env.store.PendingByApprover(ctx, approver)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	err = env.executor.DecideValidation(ctx, pending[0].ID, models.DecisionApproved, "looks good", approver)
	require.NoError(t, err)

	stored, err = env.store.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)

	instance, err := env.store.ValidationByID(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ValidationApproved, instance.Status)
	assert.Equal(t, approver, instance.DecidedBy)
	assert.Equal(t, "looks good", instance.DecisionComment)
}

func TestExecutor_Validation_RejectFailsRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	approver := "approver-1"
	g := testutil.CreateTestGraph(testutil.WithValidationNode(&models.ValidationConfig{
		ApproverType: models.ApproverFixedUser,
		ApproverID:   &approver,
	}))
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", nil)
	require.NoError(t, err)
	require.NoError(t, env.executor.OnTaskCompleted(ctx, run.ID, "task-1"))

	pending, err := env.store.PendingByApprover(ctx, approver)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	err = env.executor.DecideValidation(ctx, pending[0].ID, models.DecisionRejected, "budget exceeded", approver)
	require.NoError(t, err)

	stored, err := env.store.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "rejected")
	assert.Contains(t, stored.FailureReason, "budget exceeded")

	// The run is terminal now; a second decision cannot reach the gate.
	err = env.executor.DecideValidation(ctx, pending[0].ID, models.DecisionApproved, "", approver)
	require.Error(t, err)
	assert.True(t, IsRunTerminal(err))
}

func conditionGraph(language, expression, operator string) *models.Graph {
	cfg := &models.ConditionConfig{
		Field:      "amount",
		Operator:   operator,
		Value:      float64(1000),
		Language:   language,
		Expression: expression,
	}

	return testutil.CreateTestGraph(func(g *models.Graph) {
		g.Nodes = []*models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "condition", Type: models.NodeTypeCondition, Config: cfg},
			{ID: "task-high", Type: models.NodeTypeTask, Config: &models.TaskConfig{TaskTemplateID: "tmpl-high"}},
			{ID: "task-low", Type: models.NodeTypeTask, Config: &models.TaskConfig{TaskTemplateID: "tmpl-low"}},
			{ID: "end", Type: models.NodeTypeEnd},
		}
		g.Edges = []*models.Edge{
			{ID: "e1", SourceNodeID: "start", TargetNodeID: "condition"},
			{ID: "e2", SourceNodeID: "condition", TargetNodeID: "task-high", SourceHandle: models.HandleTrue},
			{ID: "e3", SourceNodeID: "condition", TargetNodeID: "task-low", SourceHandle: models.HandleFalse},
			{ID: "e4", SourceNodeID: "task-high", TargetNodeID: "end"},
			{ID: "e5", SourceNodeID: "task-low", TargetNodeID: "end"},
		}
	})
}

func TestExecutor_Condition_RoutesByOperator(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	g := conditionGraph("", "", "greater_than")
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", map[string]any{"amount": float64(5000)})
	require.NoError(t, err)
	assert.Equal(t, []string{"task-high"}, run.ActiveNodes)

	run, err = env.executor.StartRun(ctx, g.ID, "user-1", map[string]any{"amount": float64(100)})
	require.NoError(t, err)
	assert.Equal(t, []string{"task-low"}, run.ActiveNodes)
}

func TestExecutor_Condition_RoutesByExpression(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	g := conditionGraph("expr", `amount > 1000 && department == "finance"`, "")
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", map[string]any{
		"amount":     float64(5000),
		"department": "finance",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"task-high"}, run.ActiveNodes)
}

func TestExecutor_Condition_SameInputSameBranch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	g := conditionGraph("", "", "greater_than")
	env.saveGraph(t, g)

	runContext := map[string]any{"amount": float64(5000)}

	for range 3 {
		run, err := env.executor.StartRun(ctx, g.ID, "user-1", runContext)
		require.NoError(t, err)
		assert.Equal(t, []string{"task-high"}, run.ActiveNodes)
	}
}

func TestExecutor_MissingEdgeFailsRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// Only the true branch is wired; a false evaluation has nowhere to go.
	g := conditionGraph("", "", "greater_than")
	g.Edges = []*models.Edge{
		{ID: "e1", SourceNodeID: "start", TargetNodeID: "condition"},
		{ID: "e2", SourceNodeID: "condition", TargetNodeID: "task-high", SourceHandle: models.HandleTrue},
		{ID: "e3", SourceNodeID: "task-high", TargetNodeID: "end"},
		{ID: "e4", SourceNodeID: "task-low", TargetNodeID: "end"},
		{ID: "e5", SourceNodeID: "task-high", TargetNodeID: "task-low"},
	}
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", map[string]any{"amount": float64(100)})
	require.NoError(t, err)

	stored, err := env.store.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.Contains(t, stored.FailureReason, "no outgoing edge")

	actions := env.logActions(t, run.ID)
	assert.Contains(t, actions, models.LogActionRunFailed)
}

func TestExecutor_ForkJoin_WaitsForAllBranches(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	g, err := graph.BuildForkJoin("Parallel groups", []graph.BranchSpec{
		{Name: "Logistics", GroupID: "group-a"},
		{Name: "Finance", GroupID: "group-b"},
	})
	require.NoError(t, err)
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"branch-1", "branch-2"}, run.ActiveNodes)

	require.NoError(t, env.executor.OnTaskCompleted(ctx, run.ID, "branch-1"))

	stored, err := env.store.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, stored.Status)
	assert.Len(t, stored.JoinArrivals["join"], 1)

	// The second completion reaches quorum and must carry the run through
	// the join to the end node, not leave it parked on the join pointer.
	require.NoError(t, env.executor.OnTaskCompleted(ctx, run.ID, "branch-2"))

	stored, err = env.store.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Empty(t, stored.ActiveNodes)
	assert.Len(t, stored.JoinArrivals["join"], 2)

	actions := env.logActions(t, run.ID)
	assert.Contains(t, actions, models.LogActionForkSpawned)
	assert.Contains(t, actions, models.LogActionJoinSatisfied)
	assert.Contains(t, actions, models.LogActionRunCompleted)
}

func TestExecutor_OnBranchArrived_Idempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	g, err := graph.BuildForkJoin("Parallel groups", []graph.BranchSpec{
		{Name: "Logistics", GroupID: "group-a"},
		{Name: "Finance", GroupID: "group-b"},
	})
	require.NoError(t, err)
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", nil)
	require.NoError(t, err)

	// The same branch arriving twice counts once.
	require.NoError(t, env.executor.OnBranchArrived(ctx, run.ID, "join", "join-in-1"))
	require.NoError(t, env.executor.OnBranchArrived(ctx, run.ID, "join", "join-in-1"))

	stored, err := env.store.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, stored.Status)
	assert.Equal(t, []string{"join-in-1"}, stored.JoinArrivals["join"])

	require.NoError(t, env.executor.OnBranchArrived(ctx, run.ID, "join", "join-in-2"))

	stored, err = env.store.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
}

func TestExecutor_OnBranchArrived_RejectsNonJoinNode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	g := testutil.CreateTestGraph()
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", nil)
	require.NoError(t, err)

	err = env.executor.OnBranchArrived(ctx, run.ID, "task-1", "branch-x")

	require.Error(t, err)
	assert.True(t, IsRunNotPaused(err))
}

func TestExecutor_GroupRunEmitsSubProcessCompleted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	var completed *events.Record

	env.bus.Handle(events.SubProcessCompletedEvent, func(_ context.Context, record *events.Record) error {
		completed = record

		return nil
	})

	g := testutil.CreateTestGraph(func(g *models.Graph) {
		g.Nodes = []*models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "end", Type: models.NodeTypeEnd},
		}
		g.Edges = []*models.Edge{
			{ID: "e1", SourceNodeID: "start", TargetNodeID: "end"},
		}
	})
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", map[string]any{
		"request_id": "req-1",
		"group_id":   "group-a",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, "group-a", run.GroupID)

	require.NotNil(t, completed)
	assert.Equal(t, run.ID, completed.EntityID)
	assert.Equal(t, "group-a", completed.Payload["group_id"])
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) CreateFromNode(_ context.Context, _ *models.Run, _ *models.Node, _ string) ([]*models.NotificationRecord, error) {
	s.calls++

	if s.err != nil {
		return nil, s.err
	}

	return []*models.NotificationRecord{{ID: "n-1"}}, nil
}

func notificationGraph() *models.Graph {
	return testutil.CreateTestGraph(func(g *models.Graph) {
		g.Nodes = []*models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{
				ID:   "notification",
				Type: models.NodeTypeNotification,
				Config: &models.NotificationConfig{
					Channels:        []models.Channel{models.ChannelInApp},
					RecipientType:   "requester",
					SubjectTemplate: "Process update",
				},
			},
			{ID: "end", Type: models.NodeTypeEnd},
		}
		g.Edges = []*models.Edge{
			{ID: "e1", SourceNodeID: "start", TargetNodeID: "notification"},
			{ID: "e2", SourceNodeID: "notification", TargetNodeID: "end"},
		}
	})
}

func TestExecutor_NotificationNode_AdvancesPastNode(t *testing.T) {
	ctx := context.Background()
	notifier := &stubNotifier{}
	env := newTestEnv(t, WithNotifier(notifier))

	g := notificationGraph()
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", nil)

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, notifier.calls)

	actions := env.logActions(t, run.ID)
	assert.Contains(t, actions, models.LogActionNotificationSent)
}

func TestExecutor_NotificationFailureDoesNotBlockRun(t *testing.T) {
	ctx := context.Background()
	notifier := &stubNotifier{err: errors.New("no recipients resolved")}
	env := newTestEnv(t, WithNotifier(notifier))

	g := notificationGraph()
	env.saveGraph(t, g)

	run, err := env.executor.StartRun(ctx, g.ID, "user-1", nil)

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, notifier.calls)
}
