package models

import "time"

// Channels a conversation can arrive on.
const (
	ChannelWhatsApp  = "whatsapp"
	ChannelFacebook  = "facebook"
	ChannelInstagram = "instagram"
	ChannelEmail     = "email"
	ChannelSMS       = "sms"
)

// Conversation statuses.
const (
	ConversationOpen   = "open"
	ConversationClosed = "closed"
)

// Conversation is one ongoing exchange with a contact on one channel.
//
// TeamID is never cleared automatically once set; only a manual transfer
// may change it. PendingClaim marks a deferred assignment waiting for the
// chosen agent to come back online.
type Conversation struct {
	ID            string `gorm:"primaryKey;size:36"`
	ContactID     string `gorm:"size:36;index;not null"`
	Channel       string `gorm:"size:16;not null"`
	TeamID        *uint  `gorm:"index"`
	AgentID       *uint  `gorm:"index"`
	Category      string `gorm:"size:32;index"`
	Status        string `gorm:"size:16;default:open;index"`
	PendingClaim  bool   `gorm:"default:false;index"`
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Contact Contact `gorm:"foreignKey:ContactID"`
}

// Routed reports whether the conversation already belongs to a team.
func (c *Conversation) Routed() bool { return c.TeamID != nil }

// Assigned reports whether the conversation already has an agent.
func (c *Conversation) Assigned() bool { return c.AgentID != nil }
