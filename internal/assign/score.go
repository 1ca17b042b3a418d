package assign

import (
	"time"

	"github.com/zapdesk/zapdesk/internal/models"
)

const (
	// recencyWindow is how long an assignment keeps penalizing an agent.
	recencyWindow = time.Hour
	// recencyWeight caps the recency penalty. It is deliberately smaller
	// than the weight of one lifetime assignment, so recency only breaks
	// near-ties and never outvotes the long-run counters.
	recencyWeight = 5.0
)

// Score computes an agent's fairness score. Lower is more eligible.
//
// The base is lifetime*10 + active. On top of that, an agent assigned
// within the last recencyWindow carries a penalty that decays linearly the
// longer they have waited, so whoever has waited longest wins near-ties.
func Score(a models.Agent, now time.Time) float64 {
	score := float64(a.LifetimeAssignments*10 + a.ActiveCount)
	if a.LastAssignedAt != nil {
		waited := now.Sub(*a.LastAssignedAt)
		if waited < recencyWindow {
			score += recencyWeight * float64(recencyWindow-waited) / float64(recencyWindow)
		}
	}
	return score
}

// less orders candidates: lower score first; ties go to whoever has waited
// longest since their last assignment (never assigned counts as longest),
// then to the lower agent id for determinism.
func less(a, b models.Agent, now time.Time) bool {
	sa, sb := Score(a, now), Score(b, now)
	if sa != sb {
		return sa < sb
	}
	switch {
	case a.LastAssignedAt == nil && b.LastAssignedAt != nil:
		return true
	case a.LastAssignedAt != nil && b.LastAssignedAt == nil:
		return false
	case a.LastAssignedAt != nil && b.LastAssignedAt != nil && !a.LastAssignedAt.Equal(*b.LastAssignedAt):
		return a.LastAssignedAt.Before(*b.LastAssignedAt)
	}
	return a.ID < b.ID
}

// pickMinScore returns the candidate with the lowest fairness score.
func pickMinScore(agents []models.Agent, now time.Time) models.Agent {
	best := agents[0]
	for _, a := range agents[1:] {
		if less(a, best, now) {
			best = a
		}
	}
	return best
}

// pickMinWorkload returns the candidate with the fewest active
// conversations — the deferral metric, simpler than the fairness score.
func pickMinWorkload(agents []models.Agent) models.Agent {
	best := agents[0]
	for _, a := range agents[1:] {
		if a.ActiveCount < best.ActiveCount ||
			(a.ActiveCount == best.ActiveCount && a.ID < best.ID) {
			best = a
		}
	}
	return best
}
