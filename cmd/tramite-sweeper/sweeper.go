// Package main provides the Tramite sweeper: the scheduled half of the
// at-least-once event pipeline plus the validation reminder surfacing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailos/tramite/pkg/cascade"
	"github.com/dailos/tramite/pkg/engine"
	"github.com/dailos/tramite/pkg/eventbus"
	"github.com/dailos/tramite/pkg/events"
	"github.com/dailos/tramite/pkg/gate"
	"github.com/dailos/tramite/pkg/notify"
	"github.com/dailos/tramite/pkg/persistence"
	"github.com/robfig/cron/v3"
)

type Sweeper struct {
	logger *slog.Logger
	store  persistence.Persistence
	bus    eventbus.Bus
}

// NewSweeper wires the same handler set the API registers, so a retried
// event has identical consequences no matter which process dispatches it.
func NewSweeper(logger *slog.Logger, store persistence.Persistence, bus eventbus.Bus, locker engine.RunLocker) *Sweeper {
	approvalGate := gate.NewGate(store, nil, logger)
	notifier := notify.NewNotifier(store, logger)
	executor := engine.NewExecutor(store, approvalGate, bus, logger,
		engine.WithLocker(locker),
		engine.WithNotifier(notifier),
	)

	notifier.RegisterHandlers(bus)
	cascade.NewCascade(store, bus, executor, logger).RegisterHandlers(bus)

	return &Sweeper{
		logger: logger,
		store:  store,
		bus:    bus,
	}
}

// Run schedules both sweeps and blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context, eventsCron, remindersCron string) error {
	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := scheduler.AddFunc(eventsCron, func() {
		s.sweepEvents(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid events cron expression %q: %w", eventsCron, err)
	}

	_, err = scheduler.AddFunc(remindersCron, func() {
		s.sweepReminders(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid reminders cron expression %q: %w", remindersCron, err)
	}

	scheduler.Start()
	s.logger.InfoContext(ctx, "Sweeper started", "events_cron", eventsCron, "reminders_cron", remindersCron)

	<-ctx.Done()

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	return nil
}

// sweepEvents retries every unprocessed event still under the attempt cap.
func (s *Sweeper) sweepEvents(ctx context.Context) {
	processed, err := s.bus.ProcessAllPending(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Pending event sweep failed", "error", err)

		return
	}

	if processed > 0 {
		s.logger.InfoContext(ctx, "Pending event sweep completed", "processed", processed)
	}
}

// sweepReminders emits one validation_reminder_due per instance whose
// reminder window opened, then clears the reminder so it fires once.
func (s *Sweeper) sweepReminders(ctx context.Context) {
	now := time.Now().UTC()

	instances, err := s.store.PendingDueForReminder(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Reminder sweep query failed", "error", err)

		return
	}

	for _, instance := range instances {
		payload := map[string]any{
			"run_id":  instance.RunID,
			"node_id": instance.NodeID,
		}
		if instance.ApproverID != nil {
			payload["approver_id"] = *instance.ApproverID
		}
		if instance.DueAt != nil {
			payload["due_at"] = instance.DueAt.UTC().Format(time.RFC3339)
		}

		_, err := s.bus.Emit(ctx, events.ValidationReminderDueEvent, "validation", instance.ID, payload)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to emit reminder", "validation_id", instance.ID, "error", err)

			continue
		}

		instance.ReminderAt = nil

		err = s.store.UpdateValidation(ctx, instance)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to clear reminder", "validation_id", instance.ID, "error", err)
		}
	}
}
