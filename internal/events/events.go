// Package events publishes routing outcomes to the AMQP exchange consumed
// by dashboards, bots, and downstream CRM automation.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for published events.
const (
	KeyConversationAssigned = "conversation.assigned"
	KeyAssignmentDeferred   = "assignment.deferred"
	KeyAssignmentClaimed    = "assignment.claimed"
	KeyDealCreated          = "deal.created"
)

// Meta identifies one event instance.
type Meta struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	Source     string    `json:"source"`
}

// Envelope wraps every published event.
type Envelope struct {
	Meta Meta        `json:"meta"`
	Data interface{} `json:"data"`
}

// NewEnvelope stamps a payload with a fresh event id and the current time.
func NewEnvelope(kind string, data interface{}) Envelope {
	return Envelope{
		Meta: Meta{
			ID:         uuid.NewString(),
			Kind:       kind,
			OccurredAt: time.Now().UTC(),
			Source:     "zapdesk",
		},
		Data: data,
	}
}

// ConversationAssigned is emitted when a conversation receives an agent,
// including overflow assignments.
type ConversationAssigned struct {
	ConversationID string `json:"conversation_id"`
	ContactID      string `json:"contact_id"`
	TeamID         uint   `json:"team_id"`
	Category       string `json:"category"`
	AgentID        uint   `json:"agent_id"`
	Overflow       bool   `json:"overflow,omitempty"`
}

// AssignmentDeferred is emitted when no agent was online and the
// conversation was pre-assigned to an offline agent.
type AssignmentDeferred struct {
	ConversationID string `json:"conversation_id"`
	TeamID         uint   `json:"team_id"`
	Category       string `json:"category"`
	AgentID        uint   `json:"agent_id"`
	Reason         string `json:"reason"`
}

// AssignmentClaimed is emitted when a previously deferred conversation's
// agent comes back online and the pending claim is finalized.
type AssignmentClaimed struct {
	ConversationID string `json:"conversation_id"`
	TeamID         uint   `json:"team_id"`
	Category       string `json:"category"`
	AgentID        uint   `json:"agent_id"`
}

// DealCreated is emitted when the synchronizer opens a new pipeline record.
type DealCreated struct {
	DealID    string `json:"deal_id"`
	ContactID string `json:"contact_id"`
	Category  string `json:"category"`
	StageID   uint   `json:"stage_id"`
}
