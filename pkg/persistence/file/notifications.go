package file

import (
	"context"
	"fmt"
	"os"

	"github.com/dailos/tramite/pkg/models"
)

const notificationsDir = "notifications"
const preferencesDir = "preferences"

// SaveNotification writes a notification record document.
func (p *Persistence) SaveNotification(_ context.Context, record *models.NotificationRecord) error {
	return p.writeDocument(notificationsDir, record.ID, record)
}

// NotificationsByEvent returns the fan-out records created for an event.
func (p *Persistence) NotificationsByEvent(_ context.Context, eventID string) ([]*models.NotificationRecord, error) {
	ids, err := p.listIDs(notificationsDir)
	if err != nil {
		return nil, err
	}

	var matched []*models.NotificationRecord

	for _, id := range ids {
		record := &models.NotificationRecord{}

		err := p.readDocument(notificationsDir, id, record, os.ErrNotExist)
		if err != nil {
			return nil, err
		}

		if record.EventID == eventID {
			matched = append(matched, record)
		}
	}

	return matched, nil
}

func preferenceID(userID, eventType string, channel models.Channel) string {
	return fmt.Sprintf("%s_%s_%s", userID, eventType, channel)
}

// SavePreference writes one channel preference row.
func (p *Persistence) SavePreference(_ context.Context, pref *models.NotificationPreference) error {
	return p.writeDocument(preferencesDir, preferenceID(pref.UserID, pref.EventType, pref.Channel), pref)
}

// PreferencesFor returns the preference rows for a user and event type. An
// empty result means the caller applies the in_app default.
func (p *Persistence) PreferencesFor(_ context.Context, userID string, eventType string) ([]*models.NotificationPreference, error) {
	ids, err := p.listIDs(preferencesDir)
	if err != nil {
		return nil, err
	}

	var matched []*models.NotificationPreference

	for _, id := range ids {
		pref := &models.NotificationPreference{}

		err := p.readDocument(preferencesDir, id, pref, os.ErrNotExist)
		if err != nil {
			return nil, err
		}

		if pref.UserID == userID && pref.EventType == eventType {
			matched = append(matched, pref)
		}
	}

	return matched, nil
}
