package models

import "time"

// Dedup key kinds, in match-priority order.
const (
	DedupProviderID = "provider_id"
	DedupMediaURL   = "media_url"
	DedupHash       = "hash"
	DedupNameSize   = "name_size"
)

// DedupRecord marks that an artifact identity has already been ingested for
// a conversation. Rows are insert-only and point back at the message that
// first carried the identity; the sweeper purges rows past their TTL.
type DedupRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	ConversationID string    `gorm:"size:36;uniqueIndex:ux_conv_kind_value,priority:1;not null"`
	Kind           string    `gorm:"size:16;uniqueIndex:ux_conv_kind_value,priority:2;not null"`
	Value          string    `gorm:"size:512;uniqueIndex:ux_conv_kind_value,priority:3;not null"`
	MessageID      string    `gorm:"size:36;not null"`
	CreatedAt      time.Time `gorm:"index"`
}
