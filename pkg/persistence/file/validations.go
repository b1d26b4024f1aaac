package file

import (
	"context"
	"time"

	"github.com/dailos/tramite/pkg/models"
	"github.com/dailos/tramite/pkg/persistence"
)

const validationsDir = "validations"

// SaveValidation writes a validation instance document.
func (p *Persistence) SaveValidation(_ context.Context, instance *models.ValidationInstance) error {
	return p.writeDocument(validationsDir, instance.ID, instance)
}

// ValidationByID loads a validation instance by id.
func (p *Persistence) ValidationByID(_ context.Context, id string) (*models.ValidationInstance, error) {
	instance := &models.ValidationInstance{}

	err := p.readDocument(validationsDir, id, instance, persistence.ErrValidationNotFound)
	if err != nil {
		return nil, err
	}

	return instance, nil
}

// UpdateValidation overwrites a validation instance document.
func (p *Persistence) UpdateValidation(ctx context.Context, instance *models.ValidationInstance) error {
	return p.SaveValidation(ctx, instance)
}

// PendingByApprover returns pending instances assigned to the approver.
func (p *Persistence) PendingByApprover(ctx context.Context, approverID string) ([]*models.ValidationInstance, error) {
	return p.filterValidations(ctx, func(v *models.ValidationInstance) bool {
		return v.Status == models.ValidationPending &&
			v.ApproverID != nil && *v.ApproverID == approverID
	})
}

// PendingDueForReminder returns pending instances whose reminder time passed.
func (p *Persistence) PendingDueForReminder(ctx context.Context, now time.Time) ([]*models.ValidationInstance, error) {
	return p.filterValidations(ctx, func(v *models.ValidationInstance) bool {
		return v.Status == models.ValidationPending &&
			v.ReminderAt != nil && !v.ReminderAt.After(now)
	})
}

func (p *Persistence) filterValidations(ctx context.Context, keep func(*models.ValidationInstance) bool) ([]*models.ValidationInstance, error) {
	ids, err := p.listIDs(validationsDir)
	if err != nil {
		return nil, err
	}

	var matched []*models.ValidationInstance

	for _, id := range ids {
		instance, err := p.ValidationByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if keep(instance) {
			matched = append(matched, instance)
		}
	}

	return matched, nil
}
