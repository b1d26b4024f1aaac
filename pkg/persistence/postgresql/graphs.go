package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence"
)

// GraphRepository handles graph-related database operations. Graphs are
// immutable documents: the node and edge sets live in one JSONB column.
type GraphRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewGraphRepository(db *sql.DB, logger *slog.Logger) *GraphRepository {
	return &GraphRepository{db: db, logger: logger}
}

func (r *GraphRepository) Save(ctx context.Context, graph *models.Graph) error {
	definition, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph definition: %w", err)
	}

	query := `
		INSERT INTO graphs (id, template_id, version, name, definition, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.db.ExecContext(ctx, query,
		graph.ID, graph.TemplateID, graph.Version, graph.Name, definition, graph.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert graph: %w", err)
	}

	return nil
}

func (r *GraphRepository) GetByID(ctx context.Context, id string) (*models.Graph, error) {
	query := `SELECT definition FROM graphs WHERE id = $1`

	var definition []byte

	err := r.db.QueryRowContext(ctx, query, id).Scan(&definition)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrGraphNotFound
		}

		return nil, fmt.Errorf("failed to query graph: %w", err)
	}

	var graph models.Graph

	err = json.Unmarshal(definition, &graph)
	if err != nil {
		return nil, fmt.Errorf("failed to decode graph definition: %w", err)
	}

	return &graph, nil
}
