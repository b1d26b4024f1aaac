package file

import (
	"context"
	"sort"

	"github.com/dailos/tramite/pkg/events"
	"github.com/dailos/tramite/pkg/persistence"
)

const eventsDir = "events"

// SaveEvent writes an event record document.
func (p *Persistence) SaveEvent(_ context.Context, record *events.Record) error {
	return p.writeDocument(eventsDir, record.ID, record)
}

// EventByID loads an event record by id.
func (p *Persistence) EventByID(_ context.Context, id string) (*events.Record, error) {
	record := &events.Record{}

	err := p.readDocument(eventsDir, id, record, persistence.ErrEventNotFound)
	if err != nil {
		return nil, err
	}

	return record, nil
}

// UpdateEvent overwrites an event record's processing state.
func (p *Persistence) UpdateEvent(ctx context.Context, record *events.Record) error {
	return p.SaveEvent(ctx, record)
}

// UnprocessedEvents returns unprocessed records below the attempt cap,
// oldest first.
func (p *Persistence) UnprocessedEvents(ctx context.Context, maxAttempts, limit int) ([]*events.Record, error) {
	ids, err := p.listIDs(eventsDir)
	if err != nil {
		return nil, err
	}

	var pending []*events.Record

	for _, id := range ids {
		record, err := p.EventByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if !record.Processed && record.Attempts < maxAttempts {
			pending = append(pending, record)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	return pending, nil
}
