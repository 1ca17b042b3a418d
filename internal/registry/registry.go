// Package registry holds the canonical, immutable table of routing teams
// (macrosetores) and their funnels, built once at startup from the loaded
// database rows. It is shared across workers without locking.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zapdesk/zapdesk/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a category key is not registered.
var ErrNotFound = errors.New("registry: category not found")

// TeamConfig is the routing metadata for one category.
type TeamConfig struct {
	TeamID      uint
	Category    string
	Name        string
	Active      bool
	MaxPerAgent int
	Priority    int
	AutoAssign  bool
	FunnelID    uint
}

// Registry is an immutable category → team/funnel lookup.
type Registry struct {
	teams      map[string]TeamConfig
	stages     map[string][]models.Stage // ordered by position
	categories []string                  // priority order
}

// Build loads teams, funnels, and stages from the store and constructs the
// registry. Duplicate category keys or a funnel with no stages are fatal
// configuration errors: routing must never start on a table where two teams
// could share one funnel.
func Build(db *gorm.DB) (*Registry, error) {
	var teams []models.Team
	if err := db.Order("priority, id").Find(&teams).Error; err != nil {
		return nil, fmt.Errorf("registry: load teams: %w", err)
	}

	r := &Registry{
		teams:  make(map[string]TeamConfig, len(teams)),
		stages: make(map[string][]models.Stage, len(teams)),
	}

	for _, t := range teams {
		if _, dup := r.teams[t.Category]; dup {
			return nil, fmt.Errorf("registry: duplicate category key %q", t.Category)
		}

		var funnel models.Funnel
		if err := db.Where("category = ?", t.Category).First(&funnel).Error; err != nil {
			return nil, fmt.Errorf("registry: funnel for category %q: %w", t.Category, err)
		}
		var stages []models.Stage
		if err := db.Where("funnel_id = ?", funnel.ID).Order("position").Find(&stages).Error; err != nil {
			return nil, fmt.Errorf("registry: stages for category %q: %w", t.Category, err)
		}
		if len(stages) == 0 {
			return nil, fmt.Errorf("registry: category %q has a funnel with no stages", t.Category)
		}
		sort.SliceStable(stages, func(i, j int) bool { return stages[i].Position < stages[j].Position })

		r.teams[t.Category] = TeamConfig{
			TeamID:      t.ID,
			Category:    t.Category,
			Name:        t.Name,
			Active:      t.Active,
			MaxPerAgent: t.MaxPerAgent,
			Priority:    t.Priority,
			AutoAssign:  t.AutoAssign,
			FunnelID:    funnel.ID,
		}
		r.stages[t.Category] = stages
		r.categories = append(r.categories, t.Category)
	}
	return r, nil
}

// Resolve returns the team configuration for a category key.
func (r *Registry) Resolve(category string) (TeamConfig, error) {
	tc, ok := r.teams[category]
	if !ok {
		return TeamConfig{}, fmt.Errorf("%w: %q", ErrNotFound, category)
	}
	return tc, nil
}

// Categories returns all registered category keys in priority order.
func (r *Registry) Categories() []string {
	out := make([]string, len(r.categories))
	copy(out, r.categories)
	return out
}

// StagesFor returns the ordered stage list for a category's funnel.
func (r *Registry) StagesFor(category string) ([]models.Stage, error) {
	stages, ok := r.stages[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, category)
	}
	out := make([]models.Stage, len(stages))
	copy(out, stages)
	return out, nil
}

// FirstStage returns the creation stage for a category's funnel.
func (r *Registry) FirstStage(category string) (models.Stage, error) {
	stages, ok := r.stages[category]
	if !ok {
		return models.Stage{}, fmt.Errorf("%w: %q", ErrNotFound, category)
	}
	return stages[0], nil
}
