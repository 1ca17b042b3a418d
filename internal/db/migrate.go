package db

import (
	"fmt"

	"github.com/zapdesk/zapdesk/internal/config"
	"github.com/zapdesk/zapdesk/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Contact{},
		&models.Conversation{},
		&models.Message{},
		&models.Team{},
		&models.Agent{},
		&models.TeamAgent{},
		&models.Funnel{},
		&models.Stage{},
		&models.Deal{},
		&models.DedupRecord{},
		&models.AssignmentLog{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedTeams upserts Team rows from configuration, keyed by category.
func SeedTeams(db *gorm.DB, teams []config.TeamConfig) error {
	for _, tc := range teams {
		team := models.Team{
			Category:    tc.Category,
			Name:        tc.Name,
			Color:       tc.Color,
			Active:      true,
			MaxPerAgent: tc.MaxPerAgent,
			Priority:    tc.Priority,
			AutoAssign:  *tc.AutoAssign,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "category"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "color", "max_per_agent", "priority", "auto_assign"}),
		}).Create(&team)
		if result.Error != nil {
			return fmt.Errorf("db: seed team %q: %w", tc.Category, result.Error)
		}
	}
	return nil
}

// SeedFunnels upserts Funnel and Stage rows from configuration. Stage rows
// are replaced in place when names or colors change; positions follow
// declaration order.
func SeedFunnels(db *gorm.DB, teams []config.TeamConfig) error {
	for _, tc := range teams {
		funnel := models.Funnel{Category: tc.Category}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "category"}},
			DoNothing: true,
		}).Create(&funnel)
		if result.Error != nil {
			return fmt.Errorf("db: seed funnel %q: %w", tc.Category, result.Error)
		}
		if funnel.ID == 0 {
			if err := db.Where("category = ?", tc.Category).First(&funnel).Error; err != nil {
				return fmt.Errorf("db: fetch funnel %q: %w", tc.Category, err)
			}
		}
		for pos, sc := range tc.Stages {
			stage := models.Stage{
				FunnelID: funnel.ID,
				Position: pos,
				Name:     sc.Name,
				Color:    sc.Color,
			}
			result := db.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "funnel_id"}, {Name: "position"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "color"}),
			}).Create(&stage)
			if result.Error != nil {
				return fmt.Errorf("db: seed stage %q/%d: %w", tc.Category, pos, result.Error)
			}
		}
	}
	return nil
}

// Seed runs all config-driven seeding in order.
func Seed(db *gorm.DB, cfg *config.Config) error {
	if err := SeedTeams(db, cfg.Teams); err != nil {
		return err
	}
	return SeedFunnels(db, cfg.Teams)
}
