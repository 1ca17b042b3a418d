package models

import "time"

// Agent is a human user eligible for assignment. ActiveCount and
// LifetimeAssignments are the scheduler's fairness counters and are only
// ever mutated through guarded updates (see internal/assign).
type Agent struct {
	ID                  uint   `gorm:"primaryKey;autoIncrement"`
	Name                string `gorm:"size:128;not null"`
	Active              bool   `gorm:"default:true"`
	ActiveCount         int    `gorm:"default:0"`
	LifetimeAssignments int    `gorm:"default:0"`
	LastAssignedAt      *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
