package assign

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zapdesk/zapdesk/internal/models"
	"github.com/zapdesk/zapdesk/internal/presence"
	"github.com/zapdesk/zapdesk/internal/registry"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// A single connection keeps the shared in-memory database visible to
	// concurrent goroutines.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.Agent{}, &models.Team{}, &models.TeamAgent{}, &models.AssignmentLog{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func addAgent(t *testing.T, db *gorm.DB, teamID uint, name string, active, lifetime int, last *time.Time) uint {
	t.Helper()
	agent := models.Agent{
		Name:                name,
		Active:              true,
		ActiveCount:         active,
		LifetimeAssignments: lifetime,
		LastAssignedAt:      last,
	}
	if err := db.Create(&agent).Error; err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if err := db.Create(&models.TeamAgent{TeamID: teamID, AgentID: agent.ID}).Error; err != nil {
		t.Fatalf("create membership: %v", err)
	}
	return agent.ID
}

func team(maxPerAgent int) registry.TeamConfig {
	return registry.TeamConfig{TeamID: 1, Category: "comercial", MaxPerAgent: maxPerAgent, AutoAssign: true}
}

func getAgent(t *testing.T, db *gorm.DB, id uint) models.Agent {
	t.Helper()
	var a models.Agent
	if err := db.First(&a, id).Error; err != nil {
		t.Fatalf("load agent %d: %v", id, err)
	}
	return a
}

func TestAssign_PicksLowestScore(t *testing.T) {
	db := testDB(t)
	// Scores: 1*10+2 = 12 vs 3*10+0 = 30.
	low := addAgent(t, db, 1, "ana", 2, 1, nil)
	high := addAgent(t, db, 1, "bia", 0, 3, nil)
	s := NewScheduler(presence.NewStatic(low, high), nil)

	got, err := s.Assign(context.Background(), db, "conv-1", team(5))
	if err != nil {
		t.Fatalf("Assign() error: %v", err)
	}
	if got.Kind != Assigned || got.AgentID != low {
		t.Errorf("Assign() = %+v, want Assigned to agent %d", got, low)
	}

	after := getAgent(t, db, low)
	if after.ActiveCount != 3 || after.LifetimeAssignments != 2 {
		t.Errorf("counters = active %d, lifetime %d; want 3, 2", after.ActiveCount, after.LifetimeAssignments)
	}
	if after.LastAssignedAt == nil {
		t.Error("LastAssignedAt should be set")
	}
}

func TestAssign_FairnessBound(t *testing.T) {
	db := testDB(t)
	a := addAgent(t, db, 1, "ana", 0, 0, nil)
	b := addAgent(t, db, 1, "bia", 0, 0, nil)
	c := addAgent(t, db, 1, "caio", 0, 0, nil)
	s := NewScheduler(presence.NewStatic(a, b, c), nil)

	for i := 0; i < 10; i++ {
		if _, err := s.Assign(context.Background(), db, "conv", team(100)); err != nil {
			t.Fatalf("Assign() %d error: %v", i, err)
		}
	}

	min, max := 1<<30, 0
	for _, id := range []uint{a, b, c} {
		lt := getAgent(t, db, id).LifetimeAssignments
		if lt < min {
			min = lt
		}
		if lt > max {
			max = lt
		}
	}
	if max-min > 1 {
		t.Errorf("lifetime spread = %d (min %d, max %d), want <= 1", max-min, min, max)
	}
}

func TestAssign_TieBreakByLongestWait(t *testing.T) {
	db := testDB(t)
	older := time.Now().Add(-3 * time.Hour)
	newer := time.Now().Add(-2 * time.Hour)
	// Identical counters; recency penalties expired for both.
	recent := addAgent(t, db, 1, "ana", 1, 1, &newer)
	waited := addAgent(t, db, 1, "bia", 1, 1, &older)
	s := NewScheduler(presence.NewStatic(recent, waited), nil)

	got, err := s.Assign(context.Background(), db, "conv-1", team(5))
	if err != nil {
		t.Fatalf("Assign() error: %v", err)
	}
	if got.AgentID != waited {
		t.Errorf("Assign() chose agent %d, want %d (waited longest)", got.AgentID, waited)
	}
}

func TestAssign_RecencyPenalty(t *testing.T) {
	db := testDB(t)
	justNow := time.Now()
	// Same counters, but one was assigned seconds ago: the penalty must
	// push the fresh assignment away from them.
	fresh := addAgent(t, db, 1, "ana", 1, 1, &justNow)
	rested := addAgent(t, db, 1, "bia", 1, 1, nil)
	s := NewScheduler(presence.NewStatic(fresh, rested), nil)

	got, err := s.Assign(context.Background(), db, "conv-1", team(5))
	if err != nil {
		t.Fatalf("Assign() error: %v", err)
	}
	if got.AgentID != rested {
		t.Errorf("Assign() chose agent %d, want %d (no recency penalty)", got.AgentID, rested)
	}
}

func TestAssign_OverflowWhenAllAtCapacity(t *testing.T) {
	db := testDB(t)
	// Both online and at the ceiling; the lower score (20+2=22 vs 30+1=31)
	// takes the overflow.
	lower := addAgent(t, db, 1, "ana", 2, 2, nil)
	higher := addAgent(t, db, 1, "bia", 1, 3, nil)
	s := NewScheduler(presence.NewStatic(lower, higher), nil)

	got, err := s.Assign(context.Background(), db, "conv-1", team(2))
	if err != nil {
		t.Fatalf("Assign() error: %v", err)
	}
	if got.Kind != AssignedUnderOverflow || got.AgentID != lower {
		t.Errorf("Assign() = %+v, want overflow to agent %d", got, lower)
	}

	var log models.AssignmentLog
	if err := db.Where("conversation_id = ?", "conv-1").First(&log).Error; err != nil {
		t.Fatalf("load assignment log: %v", err)
	}
	if log.Mode != models.AssignOverflow {
		t.Errorf("log.Mode = %q, want overflow", log.Mode)
	}
}

func TestAssign_DefersToLeastLoadedWhenAllOffline(t *testing.T) {
	db := testDB(t)
	busy := addAgent(t, db, 1, "ana", 3, 9, nil)
	idle := addAgent(t, db, 1, "bia", 1, 30, nil)
	_ = busy
	s := NewScheduler(presence.NewStatic(), nil) // nobody online

	got, err := s.Assign(context.Background(), db, "conv-1", team(5))
	if err != nil {
		t.Fatalf("Assign() error: %v", err)
	}
	if got.Kind != Deferred || got.AgentID != idle {
		t.Errorf("Assign() = %+v, want Deferred to agent %d", got, idle)
	}
	if got.Reason != ReasonNoOnlineAgents {
		t.Errorf("Reason = %q, want %q", got.Reason, ReasonNoOnlineAgents)
	}
	// Deferral pre-claims: counters move at deferral time so concurrent
	// deferrals can never double-book the reconnecting agent.
	after := getAgent(t, db, idle)
	if after.ActiveCount != 2 || after.LifetimeAssignments != 31 {
		t.Errorf("counters = active %d, lifetime %d; want 2, 31", after.ActiveCount, after.LifetimeAssignments)
	}
}

func TestAssign_EmptyTeam(t *testing.T) {
	db := testDB(t)
	s := NewScheduler(presence.NewStatic(), nil)

	_, err := s.Assign(context.Background(), db, "conv-1", team(5))
	if !errors.Is(err, ErrNoAgents) {
		t.Errorf("Assign() error = %v, want ErrNoAgents", err)
	}
}

func TestAssign_RetriesOnContention(t *testing.T) {
	db := testDB(t)
	id := addAgent(t, db, 1, "ana", 0, 0, nil)
	s := NewScheduler(presence.NewStatic(id), nil)

	// Simulate a concurrent assignment landing between selection and the
	// guarded update, once.
	contended := false
	s.beforeClaim = func() {
		if contended {
			return
		}
		contended = true
		db.Model(&models.Agent{}).Where("id = ?", id).
			Update("lifetime_assignments", gorm.Expr("lifetime_assignments + 1"))
	}

	got, err := s.Assign(context.Background(), db, "conv-1", team(5))
	if err != nil {
		t.Fatalf("Assign() error: %v", err)
	}
	if got.AgentID != id {
		t.Errorf("Assign() = %+v", got)
	}
	// One simulated external bump plus one real claim.
	if after := getAgent(t, db, id); after.LifetimeAssignments != 2 {
		t.Errorf("lifetime = %d, want 2", after.LifetimeAssignments)
	}
}

func TestAssign_GivesUpAfterBoundedRetries(t *testing.T) {
	db := testDB(t)
	id := addAgent(t, db, 1, "ana", 0, 0, nil)
	s := NewScheduler(presence.NewStatic(id), nil)

	s.beforeClaim = func() {
		db.Model(&models.Agent{}).Where("id = ?", id).
			Update("lifetime_assignments", gorm.Expr("lifetime_assignments + 1"))
	}

	_, err := s.Assign(context.Background(), db, "conv-1", team(5))
	if !errors.Is(err, ErrContention) {
		t.Errorf("Assign() error = %v, want ErrContention", err)
	}
}

func TestAssign_ConcurrentOverflowKeepsCountersConsistent(t *testing.T) {
	db := testDB(t)
	// One eligible agent already at 1/1. Two concurrent first-messages
	// must both land on them with no lost counter update.
	id := addAgent(t, db, 1, "ana", 1, 1, nil)
	s := NewScheduler(presence.NewStatic(id), nil)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = s.Assign(context.Background(), db, "conv", team(1))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("Assign() %d error: %v", i, errs[i])
		}
		if outcomes[i].Kind != AssignedUnderOverflow || outcomes[i].AgentID != id {
			t.Errorf("outcome %d = %+v, want overflow to agent %d", i, outcomes[i], id)
		}
	}

	after := getAgent(t, db, id)
	if after.ActiveCount != 3 {
		t.Errorf("ActiveCount = %d, want 3 (1 existing + 2 claims, no lost update)", after.ActiveCount)
	}
	if after.LifetimeAssignments != 3 {
		t.Errorf("LifetimeAssignments = %d, want 3", after.LifetimeAssignments)
	}
}

func TestAssignManual_BumpsCounters(t *testing.T) {
	db := testDB(t)
	id := addAgent(t, db, 1, "ana", 2, 4, nil)
	s := NewScheduler(presence.NewStatic(), nil)

	if err := s.AssignManual(context.Background(), db, "conv-1", 1, id); err != nil {
		t.Fatalf("AssignManual() error: %v", err)
	}

	after := getAgent(t, db, id)
	if after.ActiveCount != 3 || after.LifetimeAssignments != 5 {
		t.Errorf("counters = active %d, lifetime %d; want 3, 5", after.ActiveCount, after.LifetimeAssignments)
	}
	var log models.AssignmentLog
	if err := db.Where("conversation_id = ?", "conv-1").First(&log).Error; err != nil {
		t.Fatalf("load assignment log: %v", err)
	}
	if log.Mode != models.AssignManual {
		t.Errorf("log.Mode = %q, want manual", log.Mode)
	}
}

func TestRelease(t *testing.T) {
	db := testDB(t)
	id := addAgent(t, db, 1, "ana", 1, 1, nil)

	if err := Release(db, id); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if got := getAgent(t, db, id).ActiveCount; got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}

	// Never below zero.
	if err := Release(db, id); err != nil {
		t.Fatalf("second Release() error: %v", err)
	}
	if got := getAgent(t, db, id).ActiveCount; got != 0 {
		t.Errorf("ActiveCount after second release = %d, want 0", got)
	}
}

func TestScore(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Minute)
	old := now.Add(-2 * time.Hour)

	tests := []struct {
		name  string
		agent models.Agent
		min   float64
		max   float64
	}{
		{"never assigned", models.Agent{LifetimeAssignments: 1, ActiveCount: 2}, 12, 12},
		{"old assignment, no penalty", models.Agent{LifetimeAssignments: 3, LastAssignedAt: &old}, 30, 30},
		{"recent assignment penalized", models.Agent{LifetimeAssignments: 1, ActiveCount: 2, LastAssignedAt: &recent}, 12.01, 17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.agent, now)
			if got < tt.min || got > tt.max {
				t.Errorf("Score() = %v, want in [%v, %v]", got, tt.min, tt.max)
			}
		})
	}
}
