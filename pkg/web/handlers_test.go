package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/dailos/tramite/pkg/engine"
	"github.com/dailos/tramite/pkg/eventbus"
	"github.com/dailos/tramite/pkg/gate"
	"github.com/dailos/tramite/pkg/graph"
	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence/file"
	"github.com/dailos/tramite/pkg/services"
	"github.com/dailos/tramite/pkg/testutil"
	"github.com/dailos/tramite/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, *file.Persistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := file.NewPersistence(t.TempDir())
	bus := eventbus.NewDispatcher(store, nil, logger)
	approvalGate := gate.NewGate(store, nil, logger)
	executor := engine.NewExecutor(store, approvalGate, bus, logger)

	graphService := services.NewGraphService(store, logger)
	requestService := services.NewRequestService(store, bus, executor, logger)

	handlers := web.NewAPIHandlers(graphService, requestService, executor, approvalGate,
		validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()

	g := app.Group("/graphs")
	g.Post("/", handlers.CreateGraph)
	g.Get("/:id", handlers.GetGraph)
	g.Post("/:id/tasks", handlers.InsertTask)
	g.Delete("/:id/nodes/:nodeId", handlers.RemoveGraphNode)

	r := app.Group("/runs")
	r.Post("/", handlers.StartRun)
	r.Get("/:id", handlers.GetRun)
	r.Get("/:id/log", handlers.GetRunLog)
	r.Post("/:id/cancel", handlers.CancelRun)
	r.Post("/:id/nodes/:nodeId/complete", handlers.CompleteNode)
	r.Post("/:id/nodes/:nodeId/arrive", handlers.BranchArrived)

	v := app.Group("/validations")
	v.Get("/", handlers.GetPendingValidations)
	v.Post("/:id/decide", handlers.DecideValidation)

	return app, store
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

func TestAPIHandlers_CreateGraph(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name: "linear template",
			requestBody: web.CreateGraphRequest{
				Name: "Purchase approval",
				Steps: []graph.TaskSpec{
					{Name: "Collect quotes", TaskTemplateID: "tmpl-1"},
				},
				Approver: &web.ApproverSpec{
					ApproverType: models.ApproverRequesterManager,
					SLAHours:     48,
				},
			},
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var g models.Graph
				require.NoError(t, json.Unmarshal(body, &g))
				assert.NotEmpty(t, g.ID)
				assert.Len(t, g.Nodes, 5)
				assert.NotNil(t, g.NodeByID("validation"))
			},
		},
		{
			name: "raw definition",
			requestBody: web.CreateGraphRequest{
				Definition: map[string]any{
					"name": "Custom process",
					"nodes": []map[string]any{
						{"id": "start", "type": "start"},
						{"id": "task-1", "type": "task", "config": map[string]any{"task_template_id": "tmpl-1"}},
						{"id": "end", "type": "end"},
					},
					"edges": []map[string]any{
						{"id": "e1", "source_node_id": "start", "target_node_id": "task-1"},
						{"id": "e2", "source_node_id": "task-1", "target_node_id": "end"},
					},
				},
			},
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var g models.Graph
				require.NoError(t, json.Unmarshal(body, &g))
				assert.Equal(t, "Custom process", g.Name)
			},
		},
		{
			name: "malformed definition is unprocessable",
			requestBody: web.CreateGraphRequest{
				Definition: map[string]any{"name": "x"},
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "no build mode selected",
			requestBody:    web.CreateGraphRequest{Name: "Empty request"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp, body := doJSON(t, app, http.MethodPost, "/graphs/", tt.requestBody)

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.validateResult != nil {
				tt.validateResult(t, body)
			}
		})
	}
}

func TestAPIHandlers_GetGraph_NotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/graphs/missing", nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_GetGraph_UndecodableDefinitionIsUnprocessable(t *testing.T) {
	ctx := context.Background()
	app, store := setupTestApp(t)

	// The stored document loses its task config, so loading it fails the
	// config decode.
	g := testutil.CreateTestGraph(func(g *models.Graph) {
		g.Nodes[1].Config = nil
	})
	require.NoError(t, store.SaveGraph(ctx, g))

	resp, _ := doJSON(t, app, http.MethodGet, "/graphs/"+g.ID, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAPIHandlers_StartRunAndComplete(t *testing.T) {
	ctx := context.Background()
	app, store := setupTestApp(t)

	g := testutil.CreateTestGraph()
	require.NoError(t, store.SaveGraph(ctx, g))

	resp, body := doJSON(t, app, http.MethodPost, "/runs/", web.StartRunRequest{
		GraphID:   g.ID,
		StartedBy: "user-1",
		Context:   map[string]any{"amount": 1500},
	})

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var run web.RunResponse
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, []string{"task-1"}, run.ActiveNodes)

	// Completing the waiting task drives the run to the end node.
	resp, _ = doJSON(t, app, http.MethodPost, "/runs/"+run.ID+"/nodes/task-1/complete", web.CompleteNodeRequest{})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, models.RunStatusCompleted, run.Status)

	resp, body = doJSON(t, app, http.MethodGet, "/runs/"+run.ID+"/log", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "run_completed")
}

func TestAPIHandlers_CompleteNode_WrongNodeConflicts(t *testing.T) {
	ctx := context.Background()
	app, store := setupTestApp(t)

	g := testutil.CreateTestGraph()
	require.NoError(t, store.SaveGraph(ctx, g))

	_, body := doJSON(t, app, http.MethodPost, "/runs/", web.StartRunRequest{
		GraphID:   g.ID,
		StartedBy: "user-1",
	})

	var run web.RunResponse
	require.NoError(t, json.Unmarshal(body, &run))

	resp, _ := doJSON(t, app, http.MethodPost, "/runs/"+run.ID+"/nodes/end/complete", web.CompleteNodeRequest{})

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_CancelRun(t *testing.T) {
	ctx := context.Background()
	app, store := setupTestApp(t)

	g := testutil.CreateTestGraph()
	require.NoError(t, store.SaveGraph(ctx, g))

	_, body := doJSON(t, app, http.MethodPost, "/runs/", web.StartRunRequest{
		GraphID:   g.ID,
		StartedBy: "user-1",
	})

	var run web.RunResponse
	require.NoError(t, json.Unmarshal(body, &run))

	resp, _ := doJSON(t, app, http.MethodPost, "/runs/"+run.ID+"/cancel", web.CancelRunRequest{CancelledBy: "user-1"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// A second cancel hits the terminal guard.
	resp, _ = doJSON(t, app, http.MethodPost, "/runs/"+run.ID+"/cancel", web.CancelRunRequest{CancelledBy: "user-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_GetPendingValidations_RequiresApprover(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/validations/", nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_DecideValidation_Validates(t *testing.T) {
	app, _ := setupTestApp(t)

	// decided_by is required.
	resp, _ := doJSON(t, app, http.MethodPost, "/validations/v-1/decide", web.DecideValidationRequest{
		Decision: models.DecisionApproved,
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
