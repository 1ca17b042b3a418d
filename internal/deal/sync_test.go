package deal

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/zapdesk/zapdesk/internal/config"
	"github.com/zapdesk/zapdesk/internal/db"
	"github.com/zapdesk/zapdesk/internal/models"
	"github.com/zapdesk/zapdesk/internal/registry"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testEnv(t *testing.T) (*gorm.DB, *registry.Registry) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	cfg, err := config.Parse([]byte(`
teams:
  - category: comercial
    name: Comercial
    keywords: [valor]
    stages: [Novo, Negociação, Fechado]
  - category: suporte
    name: Suporte
    keywords: [erro]
    stages: [Triagem, Resolvido]
`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if err := db.Seed(gdb, cfg); err != nil {
		t.Fatalf("seed: %v", err)
	}
	reg, err := registry.Build(gdb)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return gdb, reg
}

func TestEnsureDeal_CreatesAtFirstStage(t *testing.T) {
	gdb, reg := testEnv(t)
	s := NewSynchronizer(reg)

	id, created, err := s.EnsureDeal(context.Background(), gdb, "contact-1", "comercial", nil)
	if err != nil {
		t.Fatalf("EnsureDeal() error: %v", err)
	}
	if !created || id == "" {
		t.Fatalf("EnsureDeal() = (%q, %v), want new deal", id, created)
	}

	var d models.Deal
	if err := gdb.First(&d, "id = ?", id).Error; err != nil {
		t.Fatalf("load deal: %v", err)
	}
	first, _ := reg.FirstStage("comercial")
	if d.StageID != first.ID {
		t.Errorf("StageID = %d, want first stage %d", d.StageID, first.ID)
	}
	if d.Status != models.DealOpen {
		t.Errorf("Status = %q, want open", d.Status)
	}
	if d.OpenKey == nil || *d.OpenKey != "contact-1|comercial" {
		t.Errorf("OpenKey = %v, want contact-1|comercial", d.OpenKey)
	}
}

func TestEnsureDeal_Idempotent(t *testing.T) {
	gdb, reg := testEnv(t)
	s := NewSynchronizer(reg)

	first, _, err := s.EnsureDeal(context.Background(), gdb, "contact-1", "comercial", nil)
	if err != nil {
		t.Fatalf("first EnsureDeal() error: %v", err)
	}
	second, created, err := s.EnsureDeal(context.Background(), gdb, "contact-1", "comercial", nil)
	if err != nil {
		t.Fatalf("second EnsureDeal() error: %v", err)
	}
	if created || second != first {
		t.Errorf("second EnsureDeal() = (%q, %v), want existing %q", second, created, first)
	}

	var count int64
	gdb.Model(&models.Deal{}).Count(&count)
	if count != 1 {
		t.Errorf("deal count = %d, want 1", count)
	}
}

func TestEnsureDeal_SeparatePerCategory(t *testing.T) {
	gdb, reg := testEnv(t)
	s := NewSynchronizer(reg)

	a, _, err := s.EnsureDeal(context.Background(), gdb, "contact-1", "comercial", nil)
	if err != nil {
		t.Fatalf("EnsureDeal(comercial) error: %v", err)
	}
	b, _, err := s.EnsureDeal(context.Background(), gdb, "contact-1", "suporte", nil)
	if err != nil {
		t.Fatalf("EnsureDeal(suporte) error: %v", err)
	}
	if a == b {
		t.Error("deals for different categories must be distinct")
	}
}

func TestEnsureDeal_ConcurrentSingleWinner(t *testing.T) {
	gdb, reg := testEnv(t)
	s := NewSynchronizer(reg)

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], _, errs[i] = s.EnsureDeal(context.Background(), gdb, "contact-9", "comercial", nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("EnsureDeal() %d error: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("ids[%d] = %q, want %q (single open deal)", i, ids[i], ids[0])
		}
	}
	var count int64
	gdb.Model(&models.Deal{}).Where("contact_id = ?", "contact-9").Count(&count)
	if count != 1 {
		t.Errorf("deal count = %d, want exactly 1", count)
	}
}

func TestEnsureDeal_UnknownCategory(t *testing.T) {
	gdb, reg := testEnv(t)
	s := NewSynchronizer(reg)
	if _, _, err := s.EnsureDeal(context.Background(), gdb, "contact-1", "cobranca", nil); err == nil {
		t.Fatal("expected error for unregistered category")
	}
}

func TestClose_ReopensSlot(t *testing.T) {
	gdb, reg := testEnv(t)
	s := NewSynchronizer(reg)

	first, _, err := s.EnsureDeal(context.Background(), gdb, "contact-1", "comercial", nil)
	if err != nil {
		t.Fatalf("EnsureDeal() error: %v", err)
	}
	if err := Close(gdb, first, models.DealWon); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	second, created, err := s.EnsureDeal(context.Background(), gdb, "contact-1", "comercial", nil)
	if err != nil {
		t.Fatalf("EnsureDeal() after close error: %v", err)
	}
	if !created || second == first {
		t.Errorf("EnsureDeal() after close = (%q, %v), want a fresh deal", second, created)
	}
}

func TestClose_InvalidStatus(t *testing.T) {
	gdb, _ := testEnv(t)
	err := Close(gdb, "whatever", "open")
	if err == nil || !strings.Contains(err.Error(), "invalid terminal status") {
		t.Errorf("Close() error = %v, want invalid terminal status", err)
	}
}

func TestClose_AlreadyTerminal(t *testing.T) {
	gdb, reg := testEnv(t)
	s := NewSynchronizer(reg)
	id, _, err := s.EnsureDeal(context.Background(), gdb, "contact-1", "comercial", nil)
	if err != nil {
		t.Fatalf("EnsureDeal() error: %v", err)
	}
	if err := Close(gdb, id, models.DealWon); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := Close(gdb, id, models.DealLost); err == nil {
		t.Error("closing a terminal deal should error")
	}
}
