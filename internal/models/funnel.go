package models

import "time"

// Funnel is the ordered pipeline of stages for one team category.
type Funnel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Category  string `gorm:"size:32;uniqueIndex;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Stages []Stage `gorm:"foreignKey:FunnelID"`
}

// Stage is one step of a funnel. Position is the ordinal within the funnel;
// position 0 is the only valid creation stage for new deals.
type Stage struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	FunnelID uint   `gorm:"uniqueIndex:ux_funnel_position,priority:1;not null"`
	Position int    `gorm:"uniqueIndex:ux_funnel_position,priority:2;not null"`
	Name     string `gorm:"size:64;not null"`
	Color    string `gorm:"size:16"`
}
