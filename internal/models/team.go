package models

import "time"

// Team is a routing bucket (macrosetor). Category is the join key between
// classifier output, registry, and funnel configuration; the unique index
// backs up the load-time uniqueness check.
type Team struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Category    string `gorm:"size:32;uniqueIndex;not null"`
	Name        string `gorm:"size:64;not null"`
	Color       string `gorm:"size:16"`
	Active      bool   `gorm:"default:true"`
	MaxPerAgent int    `gorm:"default:5"`
	Priority    int    `gorm:"default:1"`
	AutoAssign  bool   `gorm:"default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TeamAgent links an agent to a team. Agents may belong to several teams.
type TeamAgent struct {
	TeamID  uint `gorm:"primaryKey"`
	AgentID uint `gorm:"primaryKey"`

	Team  Team  `gorm:"foreignKey:TeamID"`
	Agent Agent `gorm:"foreignKey:AgentID"`
}
