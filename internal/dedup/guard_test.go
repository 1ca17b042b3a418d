package dedup

import (
	"context"
	"testing"

	"github.com/zapdesk/zapdesk/internal/models"
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
	if err := db.AutoMigrate(&models.DedupRecord{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func record(t *testing.T, db *gorm.DB, convID, kind, value, messageID string) {
	t.Helper()
	rec := models.DedupRecord{ConversationID: convID, Kind: kind, Value: value, MessageID: messageID}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("create dedup record: %v", err)
	}
}

func TestCheck_ProviderIDMatch(t *testing.T) {
	db := testDB(t)
	record(t, db, "conv-1", models.DedupProviderID, "wamid.123", "msg-1")
	g := NewGuard(db, 0, nil)

	got := g.Check(context.Background(), "conv-1", Text{ProviderMessageID: "wamid.123", Body: "oi"})
	if !got.Duplicate || got.MessageID != "msg-1" {
		t.Errorf("Check() = %+v, want duplicate of msg-1", got)
	}
	if got.MatchKind != models.DedupProviderID {
		t.Errorf("MatchKind = %q, want provider_id", got.MatchKind)
	}
}

func TestCheck_ScopedToConversation(t *testing.T) {
	db := testDB(t)
	record(t, db, "conv-1", models.DedupProviderID, "wamid.123", "msg-1")
	g := NewGuard(db, 0, nil)

	got := g.Check(context.Background(), "conv-2", Text{ProviderMessageID: "wamid.123"})
	if got.Duplicate {
		t.Errorf("Check() = %+v, identity in another conversation must not match", got)
	}
}

func TestCheck_ProviderIDPrecedesHash(t *testing.T) {
	db := testDB(t)
	// Provider id is recorded; the hash on file is different from the
	// incoming artifact's. The provider id match must win.
	record(t, db, "conv-1", models.DedupProviderID, "wamid.9", "msg-1")
	record(t, db, "conv-1", models.DedupHash, "aaaa", "msg-1")
	g := NewGuard(db, 0, nil)

	art := NewImage("wamid.9", "", "bbbb", "foto.jpg", 1024)
	got := g.Check(context.Background(), "conv-1", art)
	if !got.Duplicate || got.MatchKind != models.DedupProviderID {
		t.Errorf("Check() = %+v, want provider_id match", got)
	}
}

func TestCheck_HashMatch(t *testing.T) {
	db := testDB(t)
	record(t, db, "conv-1", models.DedupHash, "cafe01", "msg-7")
	g := NewGuard(db, 0, nil)

	art := NewImage("wamid.new", "https://cdn/x.jpg", "cafe01", "x.jpg", 10)
	got := g.Check(context.Background(), "conv-1", art)
	if !got.Duplicate || got.MessageID != "msg-7" || got.MatchKind != models.DedupHash {
		t.Errorf("Check() = %+v, want hash match on msg-7", got)
	}
}

func TestCheck_MediaURLMatch(t *testing.T) {
	db := testDB(t)
	record(t, db, "conv-1", models.DedupMediaURL, "https://cdn/v.mp4", "msg-3")
	g := NewGuard(db, 0, nil)

	art := NewVideo("", "https://cdn/v.mp4", "", "", 0)
	got := g.Check(context.Background(), "conv-1", art)
	if !got.Duplicate || got.MatchKind != models.DedupMediaURL {
		t.Errorf("Check() = %+v, want media_url match", got)
	}
}

func TestCheck_NameSizeFallbackOnlyWithoutHash(t *testing.T) {
	db := testDB(t)
	record(t, db, "conv-1", models.DedupNameSize, "contrato.pdf:2048", "msg-4")
	g := NewGuard(db, 0, nil)

	noHash := NewDocument("", "", "", "contrato.pdf", 2048)
	if got := g.Check(context.Background(), "conv-1", noHash); !got.Duplicate {
		t.Errorf("Check(no hash) = %+v, want name+size match", got)
	}

	// With a hash available the heuristic key is not even generated.
	withHash := NewDocument("", "", "ffff", "contrato.pdf", 2048)
	if got := g.Check(context.Background(), "conv-1", withHash); got.Duplicate {
		t.Errorf("Check(with hash) = %+v, heuristic must not apply", got)
	}
}

func TestCheck_VoiceNoteAlwaysUnique(t *testing.T) {
	db := testDB(t)
	// Even with a URL already on file, a voice note bypasses all checks.
	record(t, db, "conv-1", models.DedupMediaURL, "https://cdn/voice.ogg", "msg-5")
	g := NewGuard(db, 0, nil)

	got := g.Check(context.Background(), "conv-1", VoiceNote{MediaURL: "https://cdn/voice.ogg", DurationSeconds: 7})
	if got.Duplicate {
		t.Errorf("Check(voice note) = %+v, want unique", got)
	}
}

func TestCheck_FailsOpenOnLookupError(t *testing.T) {
	db := testDB(t)
	if err := db.Migrator().DropTable(&models.DedupRecord{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	g := NewGuard(db, 0, nil)

	got := g.Check(context.Background(), "conv-1", Text{ProviderMessageID: "wamid.1"})
	if got.Duplicate {
		t.Error("lookup error must fail open, not report a duplicate")
	}
	if !got.FailedOpen {
		t.Error("FailedOpen should be set after a lookup error")
	}
}

func TestKeys_PriorityOrder(t *testing.T) {
	art := NewImage("wamid.1", "https://cdn/a.jpg", "hash1", "a.jpg", 99)
	keys := art.Keys()
	want := []string{models.DedupProviderID, models.DedupMediaURL, models.DedupHash}
	if len(keys) != len(want) {
		t.Fatalf("len(keys) = %d, want %d", len(keys), len(want))
	}
	for i, kind := range want {
		if keys[i].Kind != kind {
			t.Errorf("keys[%d].Kind = %q, want %q", i, keys[i].Kind, kind)
		}
	}
}

func TestKeys_TextWithoutProviderID(t *testing.T) {
	if keys := (Text{Body: "oi"}).Keys(); len(keys) != 0 {
		t.Errorf("Keys() = %v, want none for text without provider id", keys)
	}
}
