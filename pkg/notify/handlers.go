package notify

import (
	"context"
	"fmt"

	"github.com/dailos/tramite/pkg/eventbus"
	"github.com/dailos/tramite/pkg/events"
	"github.com/dailos/tramite/pkg/models"
)

// RegisterHandlers subscribes the event-driven notifications: decision
// outcomes to requesters, reminders to approvers, completions to
// requesters.
func (n *Notifier) RegisterHandlers(bus eventbus.Bus) {
	bus.Handle(events.ValidationDecidedEvent, n.onValidationDecided)
	bus.Handle(events.ValidationReminderDueEvent, n.onValidationReminderDue)
	bus.Handle(events.ProcessCompletedEvent, n.onProcessCompleted)
}

// onValidationDecided notifies the run's requester of the outcome.
func (n *Notifier) onValidationDecided(ctx context.Context, record *events.Record) error {
	run, err := n.store.RunByID(ctx, record.EntityID)
	if err != nil {
		return err
	}

	if run.StartedBy == "" {
		return nil
	}

	decision := payloadString(record.Payload, "decision")
	subject := fmt.Sprintf("Validation %s", decision)
	body := fmt.Sprintf("Your request was %s by %s.", decision, payloadString(record.Payload, "decided_by"))

	return n.fanOut(ctx, record, run.StartedBy, subject, body)
}

// onValidationReminderDue nudges the assigned approver, or the department
// when the instance is unassigned.
func (n *Notifier) onValidationReminderDue(ctx context.Context, record *events.Record) error {
	instance, err := n.store.ValidationByID(ctx, record.EntityID)
	if err != nil {
		return err
	}

	if instance.IsDecided() {
		return nil
	}

	recipient := instance.DepartmentID
	if instance.ApproverID != nil && *instance.ApproverID != "" {
		recipient = *instance.ApproverID
	}

	if recipient == "" {
		n.logger.WarnContext(ctx, "Reminder has no resolvable recipient", "validation_id", instance.ID)

		return nil
	}

	subject := "Pending validation reminder"
	body := fmt.Sprintf("A validation assigned to you is still pending (due %s).", dueText(instance))

	return n.fanOut(ctx, record, recipient, subject, body)
}

// onProcessCompleted notifies the requester that the whole request is done.
func (n *Notifier) onProcessCompleted(ctx context.Context, record *events.Record) error {
	request, err := n.store.RequestByID(ctx, record.EntityID)
	if err != nil {
		return err
	}

	if request.RequesterID == "" {
		return nil
	}

	subject := "Request completed"
	body := fmt.Sprintf("Your request %s has completed all its processes.", request.ID)

	return n.fanOut(ctx, record, request.RequesterID, subject, body)
}

func (n *Notifier) fanOut(ctx context.Context, record *events.Record, recipient, subject, body string) error {
	channels := n.enabledChannels(ctx, recipient, record.Type, []models.Channel{models.ChannelInApp, models.ChannelEmail})

	for _, channel := range channels {
		_, err := n.save(ctx, record.ID, recipient, channel, subject, body)
		if err != nil {
			return err
		}
	}

	return nil
}

func dueText(instance *models.ValidationInstance) string {
	if instance.DueAt == nil {
		return "no deadline"
	}

	return instance.DueAt.UTC().Format("2006-01-02 15:04")
}

func payloadString(payload map[string]any, key string) string {
	if value, ok := payload[key].(string); ok {
		return value
	}

	return ""
}
