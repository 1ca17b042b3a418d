// Package sweeper runs the periodic maintenance jobs: finalizing deferred
// assignment claims when their agent reconnects, and purging dedup records
// past their retention window.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/zapdesk/zapdesk/internal/events"
	"github.com/zapdesk/zapdesk/internal/models"
	"github.com/zapdesk/zapdesk/internal/presence"
	"gorm.io/gorm"
)

// Schedules for the two jobs, standard 5-field cron expressions.
const (
	claimSchedule = "* * * * *" // every minute
	purgeSchedule = "0 * * * *" // hourly
)

// Sweeper owns the maintenance cron jobs.
type Sweeper struct {
	db        *gorm.DB
	presence  presence.Checker
	publisher events.Publisher
	recordTTL time.Duration
	log       *logrus.Entry
	cron      *cron.Cron
}

// New creates a Sweeper. recordTTL bounds dedup record retention; zero or
// negative disables purging.
func New(db *gorm.DB, checker presence.Checker, publisher events.Publisher, recordTTL time.Duration, log *logrus.Entry) *Sweeper {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sweeper{
		db:        db,
		presence:  checker,
		publisher: publisher,
		recordTTL: recordTTL,
		log:       log,
		cron:      cron.New(),
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(claimSchedule, func() {
		if _, err := s.ClaimDeferred(context.Background()); err != nil {
			s.log.WithError(err).Error("deferred claim sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("sweeper: schedule claim job: %w", err)
	}
	if _, err := s.cron.AddFunc(purgeSchedule, func() {
		if _, err := s.PurgeDedup(context.Background()); err != nil {
			s.log.WithError(err).Error("dedup purge failed")
		}
	}); err != nil {
		return fmt.Errorf("sweeper: schedule purge job: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// ClaimDeferred finalizes pending claims whose agent is back online. The
// agent's counters were already bumped when the deferral was made, so
// finalizing is just clearing the flag and announcing the assignment.
func (s *Sweeper) ClaimDeferred(ctx context.Context) (int, error) {
	var pending []models.Conversation
	err := s.db.WithContext(ctx).
		Where("pending_claim = ? AND agent_id IS NOT NULL", true).
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("sweeper: load pending claims: %w", err)
	}

	claimed := 0
	for _, conv := range pending {
		online, err := s.presence.IsOnline(ctx, *conv.AgentID)
		if err != nil {
			s.log.WithError(err).WithField("agent_id", *conv.AgentID).Warn("presence lookup failed, claim kept pending")
			continue
		}
		if !online {
			continue
		}

		result := s.db.WithContext(ctx).Model(&models.Conversation{}).
			Where("id = ? AND pending_claim = ?", conv.ID, true).
			Update("pending_claim", false)
		if result.Error != nil {
			return claimed, fmt.Errorf("sweeper: finalize claim %s: %w", conv.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			continue // raced with a manual transfer
		}
		claimed++

		var teamID uint
		if conv.TeamID != nil {
			teamID = *conv.TeamID
		}
		env := events.NewEnvelope(events.KeyAssignmentClaimed, events.AssignmentClaimed{
			ConversationID: conv.ID,
			TeamID:         teamID,
			Category:       conv.Category,
			AgentID:        *conv.AgentID,
		})
		if err := s.publisher.Publish(ctx, events.KeyAssignmentClaimed, env); err != nil {
			s.log.WithError(err).Warn("publish claim event failed")
		}
		s.log.WithFields(logrus.Fields{
			"conversation_id": conv.ID,
			"agent_id":        *conv.AgentID,
		}).Info("deferred assignment claimed")
	}
	return claimed, nil
}

// PurgeDedup deletes dedup records older than the retention window.
func (s *Sweeper) PurgeDedup(ctx context.Context) (int64, error) {
	if s.recordTTL <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.recordTTL)
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.DedupRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("sweeper: purge dedup records: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.log.WithField("purged", result.RowsAffected).Info("dedup records purged")
	}
	return result.RowsAffected, nil
}
