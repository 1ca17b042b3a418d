package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zapdesk/zapdesk/internal/models"
	"gorm.io/gorm"
)

// DefaultLookupTimeout bounds each dedup check.
const DefaultLookupTimeout = 2 * time.Second

// Result is the outcome of a duplicate check.
type Result struct {
	Duplicate  bool
	MessageID  string // message that first carried the matched identity
	MatchKind  string // which key kind matched
	FailedOpen bool   // a lookup error was swallowed; treated as unique
}

// Guard answers "has this artifact already been ingested for this
// conversation?". It is a pure read; writing the dedup keys after a
// successful ingestion is the orchestrator's job.
type Guard struct {
	db      *gorm.DB
	timeout time.Duration
	log     *logrus.Entry
}

// NewGuard creates a Guard. A zero timeout selects DefaultLookupTimeout.
func NewGuard(db *gorm.DB, timeout time.Duration, log *logrus.Entry) *Guard {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Guard{db: db, timeout: timeout, log: log}
}

// Check walks the artifact's identity keys in priority order and stops at
// the first match. Lookup errors and timeouts fail open — the artifact is
// reported as not a duplicate — because over-ingestion is recoverable and
// silently dropping real customer content is not.
func (g *Guard) Check(ctx context.Context, conversationID string, artifact Artifact) Result {
	keys := artifact.Keys()
	if len(keys) == 0 {
		return Result{}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	for _, key := range keys {
		var rec models.DedupRecord
		err := g.db.WithContext(ctx).
			Where("conversation_id = ? AND kind = ? AND value = ?", conversationID, key.Kind, key.Value).
			First(&rec).Error
		if err == nil {
			return Result{Duplicate: true, MessageID: rec.MessageID, MatchKind: key.Kind}
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		g.log.WithError(err).WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"key_kind":        key.Kind,
		}).Warn("dedup lookup failed, failing open")
		return Result{FailedOpen: true}
	}
	return Result{}
}
