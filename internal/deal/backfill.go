package deal

import (
	"fmt"

	"github.com/zapdesk/zapdesk/internal/models"
	"github.com/zapdesk/zapdesk/internal/registry"
	"gorm.io/gorm"
)

// Backfill is the one-time repair for historically misplaced deals: any
// open deal whose current stage does not belong to its category's funnel is
// moved to that funnel's first stage. Returns the number of deals moved per
// category. Not part of the per-message path.
func Backfill(db *gorm.DB, reg *registry.Registry) (map[string]int64, error) {
	moved := make(map[string]int64)

	for _, category := range reg.Categories() {
		stages, err := reg.StagesFor(category)
		if err != nil {
			return nil, fmt.Errorf("deal: backfill %q: %w", category, err)
		}
		stageIDs := make([]uint, len(stages))
		for i, st := range stages {
			stageIDs[i] = st.ID
		}
		first := stages[0]

		tc, err := reg.Resolve(category)
		if err != nil {
			return nil, fmt.Errorf("deal: backfill %q: %w", category, err)
		}

		result := db.Model(&models.Deal{}).
			Where("category = ? AND status = ? AND stage_id NOT IN ?", category, models.DealOpen, stageIDs).
			Updates(map[string]interface{}{
				"stage_id":  first.ID,
				"funnel_id": tc.FunnelID,
			})
		if result.Error != nil {
			return nil, fmt.Errorf("deal: backfill %q: %w", category, result.Error)
		}
		if result.RowsAffected > 0 {
			moved[category] = result.RowsAffected
		}
	}
	return moved, nil
}
