// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dailos/tramite/pkg/models"
	"github.com/google/uuid"
)

// CreateTestGraph creates a minimal valid graph (start -> task -> end) with
// default values that can be overridden.
func CreateTestGraph(overrides ...func(*models.Graph)) *models.Graph {
	g := &models.Graph{
		ID:      uuid.New().String(),
		Version: 1,
		Name:    "Test Graph",
		Nodes: []*models.Node{
			{ID: "start", Type: models.NodeTypeStart, Name: "Start"},
			{
				ID:   "task-1",
				Type: models.NodeTypeTask,
				Name: "Task",
				Config: &models.TaskConfig{
					TaskTemplateID: "tmpl-1",
					DurationDays:   1,
				},
			},
			{ID: "end", Type: models.NodeTypeEnd, Name: "End"},
		},
		Edges: []*models.Edge{
			{ID: "e1", SourceNodeID: "start", TargetNodeID: "task-1"},
			{ID: "e2", SourceNodeID: "task-1", TargetNodeID: "end"},
		},
		CreatedAt: time.Now().UTC(),
	}

	for _, override := range overrides {
		override(g)
	}

	return g
}

// WithValidationNode inserts a validation node between the task and end.
func WithValidationNode(cfg *models.ValidationConfig) func(*models.Graph) {
	return func(g *models.Graph) {
		g.Nodes = append(g.Nodes, &models.Node{
			ID:     "validation",
			Type:   models.NodeTypeValidation,
			Name:   "Approval",
			Config: cfg,
		})
		g.Edges = []*models.Edge{
			{ID: "e1", SourceNodeID: "start", TargetNodeID: "task-1"},
			{ID: "e2", SourceNodeID: "task-1", TargetNodeID: "validation"},
			{ID: "e3", SourceNodeID: "validation", TargetNodeID: "end"},
		}
	}
}

// CreateTestRun creates a running run positioned at the graph's start node.
func CreateTestRun(g *models.Graph, overrides ...func(*models.Run)) *models.Run {
	run := &models.Run{
		ID:           uuid.New().String(),
		GraphID:      g.ID,
		GraphVersion: g.Version,
		Status:       models.RunStatusRunning,
		ActiveNodes:  []string{"start"},
		Context:      map[string]any{},
		StartedBy:    "user-1",
		CreatedAt:    time.Now().UTC(),
	}

	for _, override := range overrides {
		override(run)
	}

	return run
}
