// Package ingest sequences the routing pipeline for each inbound message:
// dedup check, classification, team resolution, agent assignment, and deal
// synchronization, committed as one transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zapdesk/zapdesk/internal/alert"
	"github.com/zapdesk/zapdesk/internal/assign"
	"github.com/zapdesk/zapdesk/internal/classify"
	"github.com/zapdesk/zapdesk/internal/deal"
	"github.com/zapdesk/zapdesk/internal/dedup"
	"github.com/zapdesk/zapdesk/internal/events"
	"github.com/zapdesk/zapdesk/internal/models"
	"github.com/zapdesk/zapdesk/internal/registry"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Inbound is one provider-parsed message handed over by a transport
// webhook. The conversation and contact rows already exist.
type Inbound struct {
	ConversationID string
	Text           string
	Artifact       dedup.Artifact
}

// Result reports what happened to one inbound message.
type Result struct {
	Duplicate bool
	Unrouted  bool   // classification below the confidence floor
	MessageID string // new message, or the existing one on duplicate
	TeamID    *uint
	AgentID   *uint
	Outcome   *assign.Outcome
	DealID    string
}

// Orchestrator owns all conversation/deal persistence for the routing
// pipeline. Components 4.1–4.5 only decide; this is the one place that
// writes.
type Orchestrator struct {
	db         *gorm.DB
	guard      *dedup.Guard
	classifier *classify.Classifier
	registry   *registry.Registry
	scheduler  *assign.Scheduler
	deals      *deal.Synchronizer
	publisher  events.Publisher
	alerter    alert.Alerter
	metrics    *Metrics
	log        *logrus.Entry
	gate       *gate
}

// Opts holds the orchestrator's collaborators. Publisher, Alerter, Metrics
// and Log may be nil; nil selects a no-op.
type Opts struct {
	DB         *gorm.DB
	Guard      *dedup.Guard
	Classifier *classify.Classifier
	Registry   *registry.Registry
	Scheduler  *assign.Scheduler
	Deals      *deal.Synchronizer
	Publisher  events.Publisher
	Alerter    alert.Alerter
	Metrics    *Metrics
	Log        *logrus.Entry
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	switch {
	case opts.DB == nil:
		return nil, fmt.Errorf("ingest: db is required")
	case opts.Guard == nil:
		return nil, fmt.Errorf("ingest: dedup guard is required")
	case opts.Classifier == nil:
		return nil, fmt.Errorf("ingest: classifier is required")
	case opts.Registry == nil:
		return nil, fmt.Errorf("ingest: registry is required")
	case opts.Scheduler == nil:
		return nil, fmt.Errorf("ingest: scheduler is required")
	case opts.Deals == nil:
		return nil, fmt.Errorf("ingest: deal synchronizer is required")
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Alerter == nil {
		opts.Alerter = alert.Nop{}
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{
		db:         opts.DB,
		guard:      opts.Guard,
		classifier: opts.Classifier,
		registry:   opts.Registry,
		scheduler:  opts.Scheduler,
		deals:      opts.Deals,
		publisher:  opts.Publisher,
		alerter:    opts.Alerter,
		metrics:    opts.Metrics,
		log:        opts.Log,
		gate:       newGate(),
	}, nil
}

// Handle processes one inbound message end to end. Messages for the same
// conversation are serialized in arrival order; a duplicate artifact
// short-circuits successfully with the existing message id and no writes.
// On error nothing is committed and the conversation keeps its last-known-
// good state.
func (o *Orchestrator) Handle(ctx context.Context, in Inbound) (Result, error) {
	if in.ConversationID == "" {
		return Result{}, fmt.Errorf("ingest: conversation id is required")
	}
	if in.Artifact == nil {
		in.Artifact = dedup.Text{Body: in.Text}
	}

	unlock := o.gate.lock(in.ConversationID)
	defer unlock()

	log := o.log.WithField("conversation_id", in.ConversationID)

	var conv models.Conversation
	if err := o.db.First(&conv, "id = ?", in.ConversationID).Error; err != nil {
		o.metrics.observeIngest(outcomeError)
		return Result{}, fmt.Errorf("ingest: load conversation %s: %w", in.ConversationID, err)
	}

	// DEDUP_CHECKED.
	check := o.guard.Check(ctx, conv.ID, in.Artifact)
	if check.FailedOpen {
		o.metrics.observeFailOpen()
	}
	if check.Duplicate {
		o.metrics.observeIngest(outcomeDuplicate)
		log.WithFields(logrus.Fields{
			"message_id": check.MessageID,
			"match":      check.MatchKind,
		}).Info("duplicate artifact, ingestion skipped")
		return Result{Duplicate: true, MessageID: check.MessageID}, nil
	}

	res := Result{MessageID: uuid.NewString()}
	var (
		emptyTeam   string // category that had zero members, for the alert
		dealCreated bool
	)

	err := o.db.Transaction(func(tx *gorm.DB) error {
		if err := o.recordMessage(ctx, tx, &conv, in, res.MessageID); err != nil {
			return err
		}

		// CLASSIFIED — first message wins; already-routed conversations
		// skip straight to assignment.
		if !conv.Routed() {
			cls := o.classifier.Classify(in.Text)
			if !cls.Actionable(o.classifier.MinConfidence()) {
				res.Unrouted = true
				log.WithFields(logrus.Fields{
					"category":   cls.Category,
					"confidence": cls.Confidence,
				}).Info("classification below confidence floor, conversation left unrouted")
				return o.saveConversation(tx, &conv)
			}
			// TEAM_RESOLVED.
			tc, err := o.registry.Resolve(cls.Category)
			if err != nil {
				return fmt.Errorf("ingest: resolve category %q: %w", cls.Category, err)
			}
			conv.TeamID = &tc.TeamID
			conv.Category = tc.Category
			log.WithFields(logrus.Fields{
				"category":   tc.Category,
				"confidence": cls.Confidence,
				"keywords":   cls.Matched,
			}).Info("conversation routed")
		}

		tc, err := o.registry.Resolve(conv.Category)
		if err != nil {
			return fmt.Errorf("ingest: resolve category %q: %w", conv.Category, err)
		}

		// AGENT_ASSIGNED — only for unassigned conversations on teams
		// with auto-assignment enabled.
		if !conv.Assigned() && tc.AutoAssign {
			outcome, err := o.scheduler.Assign(ctx, tx, conv.ID, tc)
			switch {
			case errors.Is(err, assign.ErrNoAgents):
				// Not fatal: conversation keeps its team and waits in
				// the operator queue.
				emptyTeam = tc.Category
			case err != nil:
				return fmt.Errorf("ingest: assign: %w", err)
			default:
				conv.AgentID = &outcome.AgentID
				conv.PendingClaim = outcome.Kind == assign.Deferred
				res.Outcome = &outcome
			}
		}

		// DEAL_SYNCED.
		dealID, created, err := o.deals.EnsureDeal(ctx, tx, conv.ContactID, conv.Category, conv.AgentID)
		if err != nil {
			return fmt.Errorf("ingest: deal sync: %w", err)
		}
		res.DealID = dealID
		if created {
			dealCreated = true
			o.metrics.observeDealOpened()
		}

		return o.saveConversation(tx, &conv)
	})
	if err != nil {
		o.metrics.observeIngest(outcomeError)
		log.WithError(err).Error("ingestion aborted, conversation left at last-known-good state")
		return Result{}, err
	}

	// COMMITTED.
	res.TeamID = conv.TeamID
	res.AgentID = conv.AgentID
	if res.Unrouted {
		o.metrics.observeIngest(outcomeUnrouted)
		return res, nil
	}
	o.metrics.observeIngest(outcomeCommitted)
	o.afterCommit(ctx, conv, res, emptyTeam, dealCreated)
	return res, nil
}

// recordMessage persists the message row and its dedup keys.
func (o *Orchestrator) recordMessage(ctx context.Context, tx *gorm.DB, conv *models.Conversation, in Inbound, messageID string) error {
	msg := messageFromArtifact(conv.ID, messageID, in)
	if err := tx.WithContext(ctx).Create(&msg).Error; err != nil {
		return fmt.Errorf("ingest: record message: %w", err)
	}
	for _, key := range in.Artifact.Keys() {
		rec := models.DedupRecord{
			ConversationID: conv.ID,
			Kind:           key.Kind,
			Value:          key.Value,
			MessageID:      messageID,
		}
		// The guard may have failed open; colliding keys keep the
		// original owner.
		err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
		if err != nil {
			return fmt.Errorf("ingest: record dedup key %s: %w", key.Kind, err)
		}
	}
	conv.LastMessageAt = time.Now()
	return nil
}

func (o *Orchestrator) saveConversation(tx *gorm.DB, conv *models.Conversation) error {
	updates := map[string]interface{}{
		"team_id":         conv.TeamID,
		"agent_id":        conv.AgentID,
		"category":        conv.Category,
		"pending_claim":   conv.PendingClaim,
		"last_message_at": conv.LastMessageAt,
	}
	if err := tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("ingest: save conversation %s: %w", conv.ID, err)
	}
	return nil
}

// afterCommit emits events and alerts for a committed ingestion. Failures
// here are logged, never propagated: the routing state is already durable.
func (o *Orchestrator) afterCommit(ctx context.Context, conv models.Conversation, res Result, emptyTeam string, dealCreated bool) {
	log := o.log.WithField("conversation_id", conv.ID)

	if res.Outcome != nil {
		o.metrics.observeAssignment(res.Outcome.Kind.String())
		var env events.Envelope
		var key string
		if res.Outcome.Kind == assign.Deferred {
			key = events.KeyAssignmentDeferred
			env = events.NewEnvelope(key, events.AssignmentDeferred{
				ConversationID: conv.ID,
				TeamID:         *conv.TeamID,
				Category:       conv.Category,
				AgentID:        res.Outcome.AgentID,
				Reason:         res.Outcome.Reason,
			})
		} else {
			key = events.KeyConversationAssigned
			env = events.NewEnvelope(key, events.ConversationAssigned{
				ConversationID: conv.ID,
				ContactID:      conv.ContactID,
				TeamID:         *conv.TeamID,
				Category:       conv.Category,
				AgentID:        res.Outcome.AgentID,
				Overflow:       res.Outcome.Kind == assign.AssignedUnderOverflow,
			})
		}
		if err := o.publisher.Publish(ctx, key, env); err != nil {
			log.WithError(err).Warn("publish assignment event failed")
		}
	}

	if dealCreated {
		payload := events.DealCreated{
			DealID:    res.DealID,
			ContactID: conv.ContactID,
			Category:  conv.Category,
		}
		if first, err := o.registry.FirstStage(conv.Category); err == nil {
			payload.StageID = first.ID
		}
		env := events.NewEnvelope(events.KeyDealCreated, payload)
		if err := o.publisher.Publish(ctx, events.KeyDealCreated, env); err != nil {
			log.WithError(err).Warn("publish deal event failed")
		}
	}

	if emptyTeam != "" {
		err := o.alerter.Alert(ctx, "team has no agents to assign", map[string]string{
			"category":        emptyTeam,
			"conversation_id": conv.ID,
		})
		if err != nil {
			log.WithError(err).Warn("empty-team alert failed")
		}
	}
}

// messageFromArtifact maps each artifact variant onto the message columns
// its kind carries.
func messageFromArtifact(conversationID, messageID string, in Inbound) models.Message {
	msg := models.Message{
		ID:             messageID,
		ConversationID: conversationID,
		Kind:           in.Artifact.Kind(),
		Body:           in.Text,
	}
	switch a := in.Artifact.(type) {
	case dedup.Text:
		msg.ProviderMessageID = a.ProviderMessageID
	case dedup.Image:
		fillMedia(&msg, a.Keys())
	case dedup.Audio:
		fillMedia(&msg, a.Keys())
	case dedup.Video:
		fillMedia(&msg, a.Keys())
	case dedup.Document:
		fillMedia(&msg, a.Keys())
	case dedup.VoiceNote:
		msg.MediaURL = a.MediaURL
	}
	return msg
}

// fillMedia recovers identity columns from the artifact's dedup keys.
func fillMedia(msg *models.Message, keys []dedup.Key) {
	for _, key := range keys {
		switch key.Kind {
		case models.DedupProviderID:
			msg.ProviderMessageID = key.Value
		case models.DedupMediaURL:
			msg.MediaURL = key.Value
		case models.DedupHash:
			msg.ContentHash = key.Value
		}
	}
}
