package file

import (
	"context"

	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence"
)

const graphsDir = "graphs"

// SaveGraph writes a graph definition document.
func (p *Persistence) SaveGraph(_ context.Context, graph *models.Graph) error {
	return p.writeDocument(graphsDir, graph.ID, graph)
}

// GraphByID loads a graph definition by id.
func (p *Persistence) GraphByID(_ context.Context, id string) (*models.Graph, error) {
	graph := &models.Graph{}

	err := p.readDocument(graphsDir, id, graph, persistence.ErrGraphNotFound)
	if err != nil {
		return nil, err
	}

	return graph, nil
}
