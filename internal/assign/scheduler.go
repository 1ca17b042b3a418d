// Package assign picks exactly one agent for a conversation routed to a
// team, balancing load through a fairness score.
package assign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zapdesk/zapdesk/internal/models"
	"github.com/zapdesk/zapdesk/internal/presence"
	"github.com/zapdesk/zapdesk/internal/registry"
	"gorm.io/gorm"
)

// Errors surfaced by the scheduler.
var (
	// ErrNoAgents means the team has zero members. The conversation keeps
	// its team but stays agent-unassigned; callers surface this to
	// operations, never to the contact.
	ErrNoAgents = errors.New("assign: team has no members")
	// ErrContention means the guarded counter update kept losing to
	// concurrent assignments past the retry budget.
	ErrContention = errors.New("assign: counter update contention")
)

// maxClaimAttempts bounds retries of the select-and-claim cycle when the
// guarded counter update observes a concurrent assignment.
const maxClaimAttempts = 3

// ReasonNoOnlineAgents tags deferred outcomes caused by an all-offline team.
const ReasonNoOnlineAgents = "no_online_agents"

// OutcomeKind enumerates the three ways an assignment can succeed.
type OutcomeKind int

const (
	// Assigned is the normal case: an online agent under capacity.
	Assigned OutcomeKind = iota
	// AssignedUnderOverflow means every online agent was at capacity and
	// the lowest-score one took the conversation anyway, keeping the
	// distribution balanced at the ceiling.
	AssignedUnderOverflow
	// Deferred means no agent was online; the conversation is pre-assigned
	// to the least-loaded member and claimed when they reconnect.
	Deferred
)

// String returns the history-log mode for the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case Assigned:
		return models.AssignAuto
	case AssignedUnderOverflow:
		return models.AssignOverflow
	case Deferred:
		return models.AssignDeferred
	}
	return "unknown"
}

// Outcome is the scheduler's tagged result.
type Outcome struct {
	Kind    OutcomeKind
	AgentID uint
	Reason  string // set for Deferred
}

// Scheduler selects agents and owns the fairness counters. It is the only
// component that mutates agent counters, and it only does so through
// guarded updates.
type Scheduler struct {
	presence presence.Checker
	log      *logrus.Entry
	now      func() time.Time

	// beforeClaim runs between candidate selection and the guarded
	// counter update. Test seam for provoking contention; nil in
	// production.
	beforeClaim func()
}

// NewScheduler creates a Scheduler backed by the given presence checker.
func NewScheduler(checker presence.Checker, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{presence: checker, log: log, now: time.Now}
}

// Assign picks one agent from the team for the conversation, increments the
// chosen agent's counters, and appends an AssignmentLog row. db may be a
// transaction; all writes go through it.
//
// The select-and-claim cycle re-reads candidates on contention so two
// concurrent assignments can never both act on the same stale counters.
func (s *Scheduler) Assign(ctx context.Context, db *gorm.DB, conversationID string, team registry.TeamConfig) (Outcome, error) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		members, err := s.teamMembers(db, team.TeamID)
		if err != nil {
			return Outcome{}, err
		}
		if len(members) == 0 {
			return Outcome{}, fmt.Errorf("%w: team %d (%s)", ErrNoAgents, team.TeamID, team.Category)
		}

		online, offline := s.partition(ctx, members)
		outcome := s.choose(online, offline, members, team)

		if s.beforeClaim != nil {
			s.beforeClaim()
		}

		chosen := findAgent(members, outcome.AgentID)
		claimed, err := s.claim(db, chosen)
		if err != nil {
			return Outcome{}, err
		}
		if !claimed {
			s.log.WithFields(logrus.Fields{
				"agent_id": outcome.AgentID,
				"attempt":  attempt + 1,
			}).Debug("assignment claim contended, re-selecting")
			continue
		}

		if err := s.logAssignment(db, conversationID, team.TeamID, outcome); err != nil {
			return Outcome{}, err
		}
		return outcome, nil
	}
	return Outcome{}, fmt.Errorf("%w: gave up after %d attempts", ErrContention, maxClaimAttempts)
}

// AssignManual records a transfer to a pre-chosen agent, bypassing fairness
// scoring. It bumps the same counters the automatic path bumps so future
// fairness stays accurate.
func (s *Scheduler) AssignManual(ctx context.Context, db *gorm.DB, conversationID string, teamID, agentID uint) error {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		var agent models.Agent
		if err := db.First(&agent, agentID).Error; err != nil {
			return fmt.Errorf("assign: load agent %d: %w", agentID, err)
		}
		claimed, err := s.claim(db, agent)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}
		log := models.AssignmentLog{
			ConversationID: conversationID,
			AgentID:        agentID,
			TeamID:         teamID,
			Mode:           models.AssignManual,
			Reason:         "manual_transfer",
		}
		if err := db.Create(&log).Error; err != nil {
			return fmt.Errorf("assign: log manual assignment: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: gave up after %d attempts", ErrContention, maxClaimAttempts)
}

// teamMembers loads the active agents belonging to a team.
func (s *Scheduler) teamMembers(db *gorm.DB, teamID uint) ([]models.Agent, error) {
	var agents []models.Agent
	err := db.
		Joins("JOIN team_agents ON team_agents.agent_id = agents.id").
		Where("team_agents.team_id = ? AND agents.active = ?", teamID, true).
		Find(&agents).Error
	if err != nil {
		return nil, fmt.Errorf("assign: load team %d members: %w", teamID, err)
	}
	return agents, nil
}

// partition splits members into online and offline sets. A presence lookup
// error demotes the agent to offline: a flaky presence read must never
// route work to someone who may not be there.
func (s *Scheduler) partition(ctx context.Context, members []models.Agent) (online, offline []models.Agent) {
	for _, a := range members {
		up, err := s.presence.IsOnline(ctx, a.ID)
		if err != nil {
			s.log.WithError(err).WithField("agent_id", a.ID).Warn("presence lookup failed, treating agent as offline")
			up = false
		}
		if up {
			online = append(online, a)
		} else {
			offline = append(offline, a)
		}
	}
	return online, offline
}

// choose applies the selection ladder: online under capacity, online
// overflow, then offline deferral by workload.
func (s *Scheduler) choose(online, offline, members []models.Agent, team registry.TeamConfig) Outcome {
	now := s.now()

	if len(online) > 0 {
		var eligible []models.Agent
		for _, a := range online {
			if a.ActiveCount < team.MaxPerAgent {
				eligible = append(eligible, a)
			}
		}
		if len(eligible) > 0 {
			return Outcome{Kind: Assigned, AgentID: pickMinScore(eligible, now).ID}
		}
		return Outcome{Kind: AssignedUnderOverflow, AgentID: pickMinScore(online, now).ID}
	}

	return Outcome{
		Kind:    Deferred,
		AgentID: pickMinWorkload(members).ID,
		Reason:  ReasonNoOnlineAgents,
	}
}

// claim performs the guarded counter update. The lifetime counter doubles
// as an optimistic concurrency token: if another assignment landed between
// our read and this update, zero rows match and the caller re-selects.
func (s *Scheduler) claim(db *gorm.DB, agent models.Agent) (bool, error) {
	result := db.Model(&models.Agent{}).
		Where("id = ? AND lifetime_assignments = ?", agent.ID, agent.LifetimeAssignments).
		Updates(map[string]interface{}{
			"active_count":         gorm.Expr("active_count + 1"),
			"lifetime_assignments": gorm.Expr("lifetime_assignments + 1"),
			"last_assigned_at":     s.now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("assign: claim agent %d: %w", agent.ID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Release decrements an agent's active count when a conversation closes.
// It never drops below zero.
func Release(db *gorm.DB, agentID uint) error {
	result := db.Model(&models.Agent{}).
		Where("id = ? AND active_count > 0", agentID).
		Update("active_count", gorm.Expr("active_count - 1"))
	if result.Error != nil {
		return fmt.Errorf("assign: release agent %d: %w", agentID, result.Error)
	}
	return nil
}

func (s *Scheduler) logAssignment(db *gorm.DB, conversationID string, teamID uint, outcome Outcome) error {
	log := models.AssignmentLog{
		ConversationID: conversationID,
		AgentID:        outcome.AgentID,
		TeamID:         teamID,
		Mode:           outcome.Kind.String(),
		Reason:         outcome.Reason,
	}
	if err := db.Create(&log).Error; err != nil {
		return fmt.Errorf("assign: log assignment: %w", err)
	}
	return nil
}

func findAgent(agents []models.Agent, id uint) models.Agent {
	for _, a := range agents {
		if a.ID == id {
			return a
		}
	}
	return models.Agent{ID: id}
}
