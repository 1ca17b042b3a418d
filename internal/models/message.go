package models

import "time"

// Message is one inbound artifact recorded for a conversation. The dedup
// columns (provider message id, media URL, content hash, file name/size)
// carry whatever identity the artifact kind supports.
type Message struct {
	ID                string `gorm:"primaryKey;size:36"`
	ConversationID    string `gorm:"size:36;index;not null"`
	Kind              string `gorm:"size:16;not null"`
	Body              string `gorm:"type:text"`
	ProviderMessageID string `gorm:"size:128;index"`
	MediaURL          string `gorm:"size:512"`
	ContentHash       string `gorm:"size:64;index"`
	FileName          string `gorm:"size:255"`
	FileSize          int64
	CreatedAt         time.Time
}
