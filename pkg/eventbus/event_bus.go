// Package eventbus persists domain events and dispatches them to handlers:
// synchronously for the immediate set, via the batch sweep for the rest.
package eventbus

import (
	"context"

	"github.com/dailos/tramite/pkg/events"
)

// Handler consumes one event record. Handlers must be idempotent: delivery
// is at-least-once and the sweep retries failed records.
type Handler func(ctx context.Context, record *events.Record) error

// Publisher is the emit-side interface components depend on.
type Publisher interface {
	Emit(ctx context.Context, eventType events.EventType, entityType, entityID string, payload map[string]any) (string, error)
}

// Bus is the full event bus surface.
type Bus interface {
	Publisher

	Handle(eventType events.EventType, handler Handler)
	Process(ctx context.Context, eventID string) error
	ProcessAllPending(ctx context.Context) (int, error)
	Close() error
}
