// Package deal keeps conversations and CRM pipeline records in sync: one
// open deal per (contact, team category), created at the funnel's first
// stage.
package deal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/zapdesk/zapdesk/internal/models"
	"github.com/zapdesk/zapdesk/internal/registry"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Synchronizer implements find-or-create for open deals.
type Synchronizer struct {
	registry *registry.Registry
}

// NewSynchronizer creates a Synchronizer over the team/funnel registry.
func NewSynchronizer(reg *registry.Registry) *Synchronizer {
	return &Synchronizer{registry: reg}
}

// EnsureDeal returns the open deal for (contactID, category), creating one
// at the category funnel's first stage if none exists. Creation is an
// insert-or-fetch against the open-key unique index, so two concurrent
// calls converge on the same deal instead of racing a check-then-insert.
// Repeated calls are no-ops returning the same id.
func (s *Synchronizer) EnsureDeal(ctx context.Context, db *gorm.DB, contactID, category string, agentID *uint) (string, bool, error) {
	openKey := models.DealOpenKey(contactID, category)

	var existing models.Deal
	err := db.WithContext(ctx).Where("open_key = ?", openKey).First(&existing).Error
	if err == nil {
		return existing.ID, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", false, fmt.Errorf("deal: lookup open deal %s: %w", openKey, err)
	}

	first, err := s.registry.FirstStage(category)
	if err != nil {
		return "", false, fmt.Errorf("deal: creation stage for %q: %w", category, err)
	}
	tc, err := s.registry.Resolve(category)
	if err != nil {
		return "", false, fmt.Errorf("deal: resolve %q: %w", category, err)
	}

	d := models.Deal{
		ID:        uuid.NewString(),
		ContactID: contactID,
		Category:  category,
		FunnelID:  tc.FunnelID,
		StageID:   first.ID,
		AgentID:   agentID,
		Status:    models.DealOpen,
		OpenKey:   &openKey,
	}
	result := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "open_key"}},
		DoNothing: true,
	}).Create(&d)
	if result.Error != nil {
		return "", false, fmt.Errorf("deal: create for %s: %w", openKey, result.Error)
	}
	if result.RowsAffected == 0 {
		// Lost the insert race; fetch the winner.
		if err := db.WithContext(ctx).Where("open_key = ?", openKey).First(&existing).Error; err != nil {
			return "", false, fmt.Errorf("deal: fetch after conflict %s: %w", openKey, err)
		}
		return existing.ID, false, nil
	}
	return d.ID, true, nil
}

// Close marks a deal terminal with the given status and clears its open
// key, freeing the (contact, category) slot for a future deal.
func Close(db *gorm.DB, dealID, status string) error {
	switch status {
	case models.DealWon, models.DealLost, models.DealClosed:
	default:
		return fmt.Errorf("deal: invalid terminal status %q", status)
	}
	result := db.Model(&models.Deal{}).
		Where("id = ? AND status = ?", dealID, models.DealOpen).
		Updates(map[string]interface{}{
			"status":   status,
			"open_key": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("deal: close %s: %w", dealID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("deal: close %s: not found or already terminal", dealID)
	}
	return nil
}
