package models

import "time"

// Deal statuses. A deal is terminal once won, lost, or closed.
const (
	DealOpen   = "open"
	DealWon    = "won"
	DealLost   = "lost"
	DealClosed = "closed"
)

// Deal is a CRM pipeline record tying one contact to one team category.
//
// OpenKey holds "contactID|category" while the deal is open and is nulled
// when the deal turns terminal. The unique index on it makes "at most one
// open deal per (contact, category)" a database invariant, so creation is
// insert-or-fetch rather than check-then-insert.
type Deal struct {
	ID        string  `gorm:"primaryKey;size:36"`
	ContactID string  `gorm:"size:36;index;not null"`
	Category  string  `gorm:"size:32;index;not null"`
	FunnelID  uint    `gorm:"not null"`
	StageID   uint    `gorm:"index;not null"`
	AgentID   *uint   `gorm:"index"`
	Status    string  `gorm:"size:16;default:open;index"`
	OpenKey   *string `gorm:"size:80;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DealOpenKey builds the uniqueness key for an open deal.
func DealOpenKey(contactID, category string) string {
	return contactID + "|" + category
}
