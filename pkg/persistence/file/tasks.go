package file

import (
	"context"

	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence"
)

const tasksDir = "tasks"
const requestsDir = "requests"

// SaveTask writes a task document.
func (p *Persistence) SaveTask(_ context.Context, task *models.Task) error {
	return p.writeDocument(tasksDir, task.ID, task)
}

// TaskByID loads a task by id.
func (p *Persistence) TaskByID(_ context.Context, id string) (*models.Task, error) {
	task := &models.Task{}

	err := p.readDocument(tasksDir, id, task, persistence.ErrTaskNotFound)
	if err != nil {
		return nil, err
	}

	return task, nil
}

// TasksByGroup returns every task under a sub-process grouping.
func (p *Persistence) TasksByGroup(ctx context.Context, groupID string) ([]*models.Task, error) {
	ids, err := p.listIDs(tasksDir)
	if err != nil {
		return nil, err
	}

	var matched []*models.Task

	for _, id := range ids {
		task, err := p.TaskByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if task.GroupID == groupID {
			matched = append(matched, task)
		}
	}

	return matched, nil
}

// SaveRequest writes a request document.
func (p *Persistence) SaveRequest(_ context.Context, request *models.Request) error {
	return p.writeDocument(requestsDir, request.ID, request)
}

// RequestByID loads a request by id.
func (p *Persistence) RequestByID(_ context.Context, id string) (*models.Request, error) {
	request := &models.Request{}

	err := p.readDocument(requestsDir, id, request, persistence.ErrRequestNotFound)
	if err != nil {
		return nil, err
	}

	return request, nil
}
