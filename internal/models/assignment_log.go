package models

import "time"

// Assignment modes recorded in the history log.
const (
	AssignAuto     = "auto"
	AssignOverflow = "overflow"
	AssignDeferred = "deferred"
	AssignManual   = "manual"
)

// AssignmentLog is one row of assignment history. Operators read these;
// the routing engine only appends.
type AssignmentLog struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	ConversationID string    `gorm:"size:36;index;not null"`
	AgentID        uint      `gorm:"index;not null"`
	TeamID         uint      `gorm:"index;not null"`
	Mode           string    `gorm:"size:16;not null"`
	Reason         string    `gorm:"size:128"`
	CreatedAt      time.Time `gorm:"index"`
}
