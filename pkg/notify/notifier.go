// Package notify fans events out into per-recipient, per-channel
// notification records. Delivery is a downstream concern; this package only
// creates pending records.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailos/tramite/pkg/events"
	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence"
	"github.com/dailos/tramite/pkg/template"
	"github.com/google/uuid"
)

// ErrNoRecipients indicates a notification node whose recipient could not
// be resolved from the run. The engine logs it and keeps the run moving.
var ErrNoRecipients = errors.New("no recipients resolved")

type Notifier struct {
	store  persistence.Persistence
	logger *slog.Logger
}

func NewNotifier(store persistence.Persistence, logger *slog.Logger) *Notifier {
	return &Notifier{
		store:  store,
		logger: logger,
	}
}

// CreateFromNode materializes records for a notification node: one record
// per enabled channel per recipient, tied to the emitted event.
func (n *Notifier) CreateFromNode(ctx context.Context, run *models.Run, node *models.Node, eventID string) ([]*models.NotificationRecord, error) {
	cfg, ok := node.Config.(*models.NotificationConfig)
	if !ok {
		return nil, fmt.Errorf("node %s is not a notification node", node.ID)
	}

	recipients, err := n.resolveRecipients(cfg, run)
	if err != nil {
		return nil, err
	}

	subject := template.RenderForRun(cfg.SubjectTemplate, run)
	body := template.RenderForRun(cfg.BodyTemplate, run)

	var records []*models.NotificationRecord

	for _, recipient := range recipients {
		channels := n.enabledChannels(ctx, recipient, events.NotificationCreatedEvent, cfg.Channels)

		for _, channel := range channels {
			record, err := n.save(ctx, eventID, recipient, channel, subject, body)
			if err != nil {
				return records, err
			}

			records = append(records, record)
		}
	}

	return records, nil
}

func (n *Notifier) resolveRecipients(cfg *models.NotificationConfig, run *models.Run) ([]string, error) {
	switch cfg.RecipientType {
	case "requester":
		if run.StartedBy == "" {
			return nil, fmt.Errorf("run %s has no starter: %w", run.ID, ErrNoRecipients)
		}

		return []string{run.StartedBy}, nil

	case "approver":
		if id := contextString(run.Context, "approver_id"); id != "" {
			return []string{id}, nil
		}

		return nil, fmt.Errorf("run %s context has no approver_id: %w", run.ID, ErrNoRecipients)

	case "department":
		if id := contextString(run.Context, "department_id"); id != "" {
			return []string{id}, nil
		}

		return nil, fmt.Errorf("run %s context has no department_id: %w", run.ID, ErrNoRecipients)

	case "fixed_user":
		if cfg.RecipientID != nil && *cfg.RecipientID != "" {
			return []string{*cfg.RecipientID}, nil
		}

		return nil, fmt.Errorf("fixed_user notification without recipient_id: %w", ErrNoRecipients)

	default:
		return nil, fmt.Errorf("unknown recipient type %q: %w", cfg.RecipientType, ErrNoRecipients)
	}
}

// enabledChannels filters the requested channels by the recipient's stored
// preferences. No stored rows means the in_app default: requested channels
// other than in_app are dropped unless explicitly enabled.
func (n *Notifier) enabledChannels(ctx context.Context, recipient string, eventType events.EventType, requested []models.Channel) []models.Channel {
	if len(requested) == 0 {
		requested = []models.Channel{models.ChannelInApp}
	}

	prefs, err := n.store.PreferencesFor(ctx, recipient, string(eventType))
	if err != nil {
		n.logger.WarnContext(ctx, "Failed to load notification preferences, using in_app default",
			"recipient", recipient, "event_type", eventType, "error", err)

		prefs = nil
	}

	byChannel := make(map[models.Channel]bool, len(prefs))
	for _, pref := range prefs {
		byChannel[pref.Channel] = pref.Enabled
	}

	var channels []models.Channel

	for _, channel := range requested {
		enabled, known := byChannel[channel]
		if known {
			if enabled {
				channels = append(channels, channel)
			}

			continue
		}

		if channel == models.ChannelInApp {
			channels = append(channels, channel)
		}
	}

	return channels
}

func (n *Notifier) save(ctx context.Context, eventID, recipient string, channel models.Channel, subject, body string) (*models.NotificationRecord, error) {
	record := &models.NotificationRecord{
		ID:        uuid.New().String(),
		EventID:   eventID,
		Recipient: recipient,
		Channel:   channel,
		Subject:   subject,
		Body:      body,
		Status:    models.NotificationPending,
		CreatedAt: time.Now().UTC(),
	}

	err := n.store.SaveNotification(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to save notification record: %w", err)
	}

	return record, nil
}

func contextString(runContext map[string]any, key string) string {
	if value, ok := runContext[key].(string); ok {
		return value
	}

	return ""
}
