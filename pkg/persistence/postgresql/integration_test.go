package postgresql_test

import (
	"context"
	"testing"
	"time"

	"github.com/dailos/tramite/pkg/events"
	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence/postgresql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryIntegration_CompleteRequestLifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	graph := saveMinimalGraph(t, p, ctx)

	// Step 1: the triggering request with its tasks.
	request := testRequestWithTasks(t, p, ctx)

	// Step 2-3: a run positioned at its task node, with the execution log.
	run := testRunOperations(t, p, ctx, graph, request)

	// Step 4-5: the approval gate instance and its decision.
	testValidationOperations(t, p, ctx, run)

	// Step 6-7: event records and notification fan-out.
	testEventAndNotificationOperations(t, p, ctx, run)
}

func testRequestWithTasks(t *testing.T, p *postgresql.Persistence, ctx context.Context) *models.Request {
	t.Helper()

	request := &models.Request{
		ID:           uuid.New().String(),
		RequesterID:  "user-1",
		DepartmentID: "dept-1",
		Status:       models.RequestStatusInExecution,
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, p.SaveRequest(ctx, request))

	groupID := "group-a"
	for range 2 {
		task := &models.Task{
			ID:        uuid.New().String(),
			RequestID: request.ID,
			GroupID:   groupID,
			Status:    models.TaskStatusPending,
			UpdatedAt: time.Now().UTC(),
		}
		require.NoError(t, p.SaveTask(ctx, task))
	}

	tasks, err := p.TasksByGroup(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	// Upserting one task as done does not duplicate the row.
	tasks[0].Status = models.TaskStatusDone
	tasks[0].AssigneeID = "worker-1"
	tasks[0].UpdatedAt = time.Now().UTC()
	require.NoError(t, p.SaveTask(ctx, tasks[0]))

	stored, err := p.TaskByID(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, stored.Status)
	assert.Equal(t, "worker-1", stored.AssigneeID)

	tasks, err = p.TasksByGroup(ctx, groupID)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	return request
}

func testRunOperations(t *testing.T, p *postgresql.Persistence, ctx context.Context, graph *models.Graph, request *models.Request) *models.Run {
	t.Helper()

	run := &models.Run{
		ID:           uuid.New().String(),
		GraphID:      graph.ID,
		GraphVersion: graph.Version,
		Status:       models.RunStatusRunning,
		ActiveNodes:  []string{"task-1"},
		Context:      map[string]any{"amount": 1500, "department_id": "dept-1"},
		StartedBy:    request.RequesterID,
		RequestID:    request.ID,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, p.CreateRun(ctx, run))

	require.NoError(t, p.AppendLog(ctx, &models.LogEntry{
		RunID:     run.ID,
		Timestamp: time.Now().UTC(),
		Action:    models.LogActionRunStarted,
	}))
	require.NoError(t, p.AppendLog(ctx, &models.LogEntry{
		RunID:     run.ID,
		Timestamp: time.Now().UTC(),
		NodeID:    "task-1",
		Action:    models.LogActionTaskReached,
	}))

	retrieved, err := p.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1"}, retrieved.ActiveNodes)
	assert.Equal(t, float64(1500), retrieved.Context["amount"])

	byRequest, err := p.RunsByRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, byRequest, 1)
	assert.Equal(t, run.ID, byRequest[0].ID)

	// A sub-process run is findable by its task grouping.
	groupRun := &models.Run{
		ID:        uuid.New().String(),
		GraphID:   graph.ID,
		Status:    models.RunStatusRunning,
		RequestID: request.ID,
		GroupID:   "group-a",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, p.CreateRun(ctx, groupRun))

	byGroup, err := p.RunByGroup(ctx, "group-a")
	require.NoError(t, err)
	assert.Equal(t, groupRun.ID, byGroup.ID)

	return run
}

func testValidationOperations(t *testing.T, p *postgresql.Persistence, ctx context.Context, run *models.Run) {
	t.Helper()

	approverID := "manager-1"
	dueAt := time.Now().UTC().Add(48 * time.Hour)
	reminderAt := time.Now().UTC().Add(-time.Minute)

	instance := &models.ValidationInstance{
		ID:              uuid.New().String(),
		RunID:           run.ID,
		NodeID:          "validation",
		ApproverType:    models.ApproverRequesterManager,
		ApproverID:      &approverID,
		DepartmentID:    "dept-1",
		Status:          models.ValidationPending,
		DueAt:           &dueAt,
		ReminderAt:      &reminderAt,
		OnTimeoutAction: models.TimeoutActionRemind,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, p.SaveValidation(ctx, instance))

	pending, err := p.PendingByApprover(ctx, approverID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, instance.ID, pending[0].ID)

	// The reminder is already due.
	due, err := p.PendingDueForReminder(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, instance.ID, due[0].ID)

	decidedAt := time.Now().UTC()
	instance.Status = models.ValidationApproved
	instance.DecidedBy = approverID
	instance.DecidedAt = &decidedAt
	instance.DecisionComment = "budget approved"
	require.NoError(t, p.UpdateValidation(ctx, instance))

	stored, err := p.ValidationByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ValidationApproved, stored.Status)
	assert.Equal(t, approverID, stored.DecidedBy)
	assert.Equal(t, "budget approved", stored.DecisionComment)

	// Decided instances leave both worklist queries.
	pending, err = p.PendingByApprover(ctx, approverID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	due, err = p.PendingDueForReminder(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func testEventAndNotificationOperations(t *testing.T, p *postgresql.Persistence, ctx context.Context, run *models.Run) {
	t.Helper()

	record := events.NewRecord(events.ValidationDecidedEvent, "run", run.ID, map[string]any{
		"decision": "approved",
	})
	require.NoError(t, p.SaveEvent(ctx, record))

	unprocessed, err := p.UnprocessedEvents(ctx, 8, 100)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	assert.Equal(t, record.ID, unprocessed[0].ID)
	assert.Equal(t, "approved", unprocessed[0].Payload["decision"])

	// A failed attempt is recorded but keeps the event retryable.
	now := time.Now().UTC()
	record.Attempts = 1
	record.LastAttempt = &now
	record.ErrorMessage = "handler failed"
	require.NoError(t, p.UpdateEvent(ctx, record))

	unprocessed, err = p.UnprocessedEvents(ctx, 8, 100)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	assert.Equal(t, 1, unprocessed[0].Attempts)
	assert.Equal(t, "handler failed", unprocessed[0].ErrorMessage)

	// Exhausted events drop out of the sweep.
	unprocessed, err = p.UnprocessedEvents(ctx, 1, 100)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)

	record.Processed = true
	record.ProcessedAt = &now
	record.ErrorMessage = ""
	require.NoError(t, p.UpdateEvent(ctx, record))

	stored, err := p.EventByID(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.Empty(t, stored.ErrorMessage)

	unprocessed, err = p.UnprocessedEvents(ctx, 8, 100)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)

	// Notification fan-out: one record per channel, tied to the event.
	for _, channel := range []models.Channel{models.ChannelInApp, models.ChannelEmail} {
		require.NoError(t, p.SaveNotification(ctx, &models.NotificationRecord{
			ID:        uuid.New().String(),
			EventID:   record.ID,
			Recipient: "user-1",
			Channel:   channel,
			Subject:   "Validation approved",
			Body:      "Your validation was approved",
			Status:    models.NotificationPending,
			CreatedAt: time.Now().UTC(),
		}))
	}

	notifications, err := p.NotificationsByEvent(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, notifications, 2)

	// Preferences upsert on the composite key.
	pref := &models.NotificationPreference{
		UserID:    "user-1",
		EventType: string(events.ValidationDecidedEvent),
		Channel:   models.ChannelEmail,
		Enabled:   true,
	}
	require.NoError(t, p.SavePreference(ctx, pref))

	pref.Enabled = false
	require.NoError(t, p.SavePreference(ctx, pref))

	prefs, err := p.PreferencesFor(ctx, "user-1", string(events.ValidationDecidedEvent))
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.False(t, prefs[0].Enabled)
}
