// Package services holds the application services behind the HTTP layer:
// graph management and request/task lifecycle.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailos/tramite/pkg/graph"
	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence"
	"github.com/google/uuid"
)

// ErrGraphNotFound is returned when a graph is not found.
var ErrGraphNotFound = persistence.ErrGraphNotFound

// GraphService manages immutable graph definitions: building, validating
// and versioned editing.
type GraphService struct {
	store  persistence.Persistence
	logger *slog.Logger
}

func NewGraphService(store persistence.Persistence, logger *slog.Logger) *GraphService {
	return &GraphService{
		store:  store,
		logger: logger,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *GraphService) HealthCheck(ctx context.Context) (string, bool) {
	if s.store == nil {
		return "Persistence layer not initialized", false
	}

	err := s.store.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateLinear builds and stores the standard linear template graph.
func (s *GraphService) CreateLinear(ctx context.Context, name string, steps []graph.TaskSpec, approver models.ValidationConfig) (*models.Graph, error) {
	g, err := graph.BuildLinear(name, steps, approver)
	if err != nil {
		return nil, err
	}

	return s.save(ctx, g)
}

// CreateForkJoin builds and stores a parallel-branch graph.
func (s *GraphService) CreateForkJoin(ctx context.Context, name string, branches []graph.BranchSpec) (*models.Graph, error) {
	g, err := graph.BuildForkJoin(name, branches)
	if err != nil {
		return nil, err
	}

	return s.save(ctx, g)
}

// CreateFromDefinition stores a caller-supplied raw definition after schema
// and structural validation.
func (s *GraphService) CreateFromDefinition(ctx context.Context, raw []byte) (*models.Graph, error) {
	err := graph.ValidateDefinition(raw)
	if err != nil {
		return nil, err
	}

	var g models.Graph

	err = json.Unmarshal(raw, &g)
	if err != nil {
		return nil, fmt.Errorf("failed to decode graph definition: %w", err)
	}

	err = graph.Validate(&g)
	if err != nil {
		return nil, err
	}

	return s.save(ctx, &g)
}

// FetchByID retrieves a graph by its id.
func (s *GraphService) FetchByID(ctx context.Context, id string) (*models.Graph, error) {
	return s.store.GraphByID(ctx, id)
}

// InsertTaskBefore stores a new graph version with a task inserted before
// the anchor node. The stored version is untouched.
func (s *GraphService) InsertTaskBefore(ctx context.Context, graphID, anchorNodeID string, spec graph.TaskSpec) (*models.Graph, error) {
	existing, err := s.store.GraphByID(ctx, graphID)
	if err != nil {
		return nil, err
	}

	edited, err := graph.InsertTaskBefore(existing, anchorNodeID, spec)
	if err != nil {
		return nil, err
	}

	return s.saveVersion(ctx, existing, edited)
}

// RemoveNode stores a new graph version without the given node, with its
// incoming and outgoing edges reconnected.
func (s *GraphService) RemoveNode(ctx context.Context, graphID, nodeID string) (*models.Graph, error) {
	existing, err := s.store.GraphByID(ctx, graphID)
	if err != nil {
		return nil, err
	}

	edited, err := graph.RemoveNode(existing, nodeID)
	if err != nil {
		return nil, err
	}

	return s.saveVersion(ctx, existing, edited)
}

func (s *GraphService) save(ctx context.Context, g *models.Graph) (*models.Graph, error) {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}

	if g.Version == 0 {
		g.Version = 1
	}

	g.CreatedAt = time.Now().UTC()

	err := s.store.SaveGraph(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("failed to save graph: %w", err)
	}

	s.logger.InfoContext(ctx, "Graph saved", "graph_id", g.ID, "version", g.Version, "nodes", len(g.Nodes))

	return g, nil
}

func (s *GraphService) saveVersion(ctx context.Context, base, edited *models.Graph) (*models.Graph, error) {
	edited.ID = uuid.New().String()
	edited.TemplateID = base.TemplateID
	edited.Version = base.Version + 1
	edited.CreatedAt = time.Now().UTC()

	err := s.store.SaveGraph(ctx, edited)
	if err != nil {
		return nil, fmt.Errorf("failed to save graph version: %w", err)
	}

	s.logger.InfoContext(ctx, "Graph version saved",
		"graph_id", edited.ID, "base_id", base.ID, "version", edited.Version)

	return edited, nil
}
