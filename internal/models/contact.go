package models

import "time"

// Contact is one external customer identity. Contacts are upserted by the
// transport webhooks before ingestion reaches the routing core.
type Contact struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"size:128"`
	Phone     string `gorm:"size:32;index"`
	Email     string `gorm:"size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
