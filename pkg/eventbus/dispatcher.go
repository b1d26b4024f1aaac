package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dailos/tramite/pkg/events"
	"github.com/dailos/tramite/pkg/persistence"
	"github.com/google/uuid"
)

const (
	// DefaultMaxAttempts caps sweep retries per event.
	DefaultMaxAttempts = 8
	// DefaultBaseBackoff is doubled per attempt when deciding sweep
	// eligibility.
	DefaultBaseBackoff = 30 * time.Second

	defaultSweepBatch = 100
)

// Dispatcher implements Bus over an event store, a fixed handler table and
// an optional watermill publisher that republishes successfully processed
// events for external consumers.
type Dispatcher struct {
	store       persistence.EventRepository
	publisher   message.Publisher
	handlers    map[events.EventType][]Handler
	logger      *slog.Logger
	maxAttempts int
	baseBackoff time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxAttempts overrides the retry cap.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) { d.maxAttempts = n }
}

// WithBaseBackoff overrides the base backoff interval.
func WithBaseBackoff(interval time.Duration) Option {
	return func(d *Dispatcher) { d.baseBackoff = interval }
}

// NewDispatcher creates a dispatcher. publisher may be nil when no external
// transport is wired (tests, the sweeper against a shared store).
func NewDispatcher(store persistence.EventRepository, publisher message.Publisher, logger *slog.Logger, opts ...Option) *Dispatcher {
	dispatcher := &Dispatcher{
		store:       store,
		publisher:   publisher,
		handlers:    make(map[events.EventType][]Handler),
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: DefaultBaseBackoff,
	}

	for _, opt := range opts {
		opt(dispatcher)
	}

	return dispatcher
}

var _ Bus = (*Dispatcher)(nil)

// Handle registers a handler for an event type. Multiple handlers per type
// run in registration order.
func (d *Dispatcher) Handle(eventType events.EventType, handler Handler) {
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// Emit persists the event and, for the immediate set, dispatches it in the
// caller's step. A failed immediate dispatch is not an emit failure: the
// record stays unprocessed for the sweep.
func (d *Dispatcher) Emit(ctx context.Context, eventType events.EventType, entityType, entityID string, payload map[string]any) (string, error) {
	if !events.Known(eventType) {
		return "", fmt.Errorf("unknown event type %q", eventType)
	}

	record := events.NewRecord(eventType, entityType, entityID, payload)

	err := d.store.SaveEvent(ctx, record)
	if err != nil {
		return "", fmt.Errorf("failed to persist event: %w", err)
	}

	if events.IsImmediate(eventType) {
		err = d.Process(ctx, record.ID)
		if err != nil {
			d.logger.WarnContext(ctx, "Immediate event dispatch failed, left for sweep",
				"event_id", record.ID, "event_type", eventType, "error", err)
		}
	}

	return record.ID, nil
}

// Process loads one event and runs its handlers. Success marks the record
// processed and republishes it; failure records the error and leaves the
// record for the sweep.
func (d *Dispatcher) Process(ctx context.Context, eventID string) error {
	record, err := d.store.EventByID(ctx, eventID)
	if err != nil {
		return err
	}

	if record.Processed {
		return nil
	}

	now := time.Now().UTC()
	record.Attempts++
	record.LastAttempt = &now

	err = d.dispatch(ctx, record)
	if err != nil {
		record.ErrorMessage = err.Error()

		if updateErr := d.store.UpdateEvent(ctx, record); updateErr != nil {
			d.logger.ErrorContext(ctx, "Failed to record event dispatch failure",
				"event_id", record.ID, "error", updateErr)
		}

		return fmt.Errorf("event %s handler failed: %w", record.ID, err)
	}

	record.Processed = true
	record.ProcessedAt = &now
	record.ErrorMessage = ""

	err = d.store.UpdateEvent(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", record.ID, err)
	}

	d.republish(ctx, record)

	return nil
}

// ProcessAllPending sweeps unprocessed events whose backoff window elapsed.
// Returns the number of events successfully processed.
func (d *Dispatcher) ProcessAllPending(ctx context.Context) (int, error) {
	pending, err := d.store.UnprocessedEvents(ctx, d.maxAttempts, defaultSweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending events: %w", err)
	}

	processed := 0
	now := time.Now().UTC()

	for _, record := range pending {
		if !d.eligible(record, now) {
			continue
		}

		err := d.Process(ctx, record.ID)
		if err != nil {
			d.logger.WarnContext(ctx, "Sweep retry failed",
				"event_id", record.ID, "event_type", record.Type, "attempts", record.Attempts+1, "error", err)

			continue
		}

		processed++
	}

	return processed, nil
}

// eligible applies capped exponential backoff: attempt n may run once
// base * 2^(n-1) has elapsed since the last attempt.
func (d *Dispatcher) eligible(record *events.Record, now time.Time) bool {
	if record.Attempts == 0 || record.LastAttempt == nil {
		return true
	}

	wait := d.baseBackoff << (record.Attempts - 1)

	return !now.Before(record.LastAttempt.Add(wait))
}

func (d *Dispatcher) dispatch(ctx context.Context, record *events.Record) error {
	handlers := d.handlers[record.Type]
	if len(handlers) == 0 {
		return nil
	}

	for _, handler := range handlers {
		err := handler(ctx, record)
		if err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) republish(ctx context.Context, record *events.Record) {
	if d.publisher == nil {
		return
	}

	payload, err := json.Marshal(record)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to marshal event for republish", "event_id", record.ID, "error", err)

		return
	}

	msg := message.NewMessage("msg-"+uuid.New().String(), payload)
	msg.Metadata.Set(events.EventKeyMetadataKey, record.EntityID)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(record.Type))

	err = d.publisher.Publish(events.Topic, msg)
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to republish event", "event_id", record.ID, "error", err)
	}
}

// Close releases the transport.
func (d *Dispatcher) Close() error {
	if d.publisher == nil {
		return nil
	}

	return d.publisher.Close()
}
