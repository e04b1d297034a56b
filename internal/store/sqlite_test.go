package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gwlsn/fetchray/internal/relay"
)

func createTestRecord(id string, state relay.State) *relay.Record {
	return &relay.Record{
		ID:        id,
		URL:       "https://example.com/watch?v=" + id,
		MediaKind: string(relay.MediaVideo),
		Quality:   "720p",
		Sink:      string(relay.SinkBuffered),
		State:     string(state),
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveRecord_CreatesNew(t *testing.T) {
	store := newTestStore(t)

	rec := createTestRecord("test-1", relay.StateStarted)
	if err := store.SaveRecord(rec); err != nil {
		t.Fatalf("failed to save record: %v", err)
	}

	got, err := store.GetRecord("test-1")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if got == nil {
		t.Fatal("expected record, got nil")
	}
	if got.URL != rec.URL {
		t.Errorf("expected URL %s, got %s", rec.URL, got.URL)
	}
	if got.State != string(relay.StateStarted) {
		t.Errorf("expected state started, got %s", got.State)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("expected CreatedAt %v, got %v", rec.CreatedAt, got.CreatedAt)
	}
	if !got.CompletedAt.IsZero() {
		t.Errorf("expected zero CompletedAt, got %v", got.CompletedAt)
	}
}

func TestSQLiteStore_SaveRecord_UpdatesExisting(t *testing.T) {
	store := newTestStore(t)

	rec := createTestRecord("test-1", relay.StateStarted)
	if err := store.SaveRecord(rec); err != nil {
		t.Fatalf("failed to save record: %v", err)
	}

	rec.State = string(relay.StateFailed)
	rec.Category = string(relay.KindLicenseRestricted)
	rec.Reason = "copyright"
	rec.Detail = "ERROR: blocked it on copyright grounds"
	rec.ExitCode = 1
	rec.DurationMs = 1500
	rec.CompletedAt = rec.CreatedAt.Add(1500 * time.Millisecond)
	if err := store.SaveRecord(rec); err != nil {
		t.Fatalf("failed to update record: %v", err)
	}

	got, err := store.GetRecord("test-1")
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if got.State != string(relay.StateFailed) {
		t.Errorf("expected failed, got %s", got.State)
	}
	if got.Category != rec.Category || got.Reason != rec.Reason || got.Detail != rec.Detail {
		t.Errorf("failure fields not persisted: %+v", got)
	}
	if got.ExitCode != 1 || got.DurationMs != 1500 {
		t.Errorf("expected exit 1 and 1500ms, got %d and %d", got.ExitCode, got.DurationMs)
	}
	if !got.CompletedAt.Equal(rec.CompletedAt) {
		t.Errorf("expected CompletedAt %v, got %v", rec.CompletedAt, got.CompletedAt)
	}

	records, err := store.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record after update, got %d", len(records))
	}
}

func TestSQLiteStore_GetRecord_ReturnsNilForMissing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetRecord("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestSQLiteStore_Recent_NewestFirst(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		rec := createTestRecord(id, relay.StateSucceeded)
		rec.CreatedAt = base.Add(time.Duration(i) * 500 * time.Millisecond)
		if err := store.SaveRecord(rec); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	records, err := store.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "c" || records[1].ID != "b" {
		t.Errorf("expected [c b], got [%s %s]", records[0].ID, records[1].ID)
	}
}

func TestSQLiteStore_MarkInterrupted(t *testing.T) {
	store := newTestStore(t)

	for id, state := range map[string]relay.State{
		"started":   relay.StateStarted,
		"streaming": relay.StateStreaming,
		"done":      relay.StateSucceeded,
		"failed":    relay.StateFailed,
	} {
		if err := store.SaveRecord(createTestRecord(id, state)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	count, err := store.MarkInterrupted()
	if err != nil {
		t.Fatalf("mark interrupted: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 interrupted, got %d", count)
	}

	for _, id := range []string{"started", "streaming"} {
		got, _ := store.GetRecord(id)
		if got.State != string(relay.StateFailed) {
			t.Errorf("%s: expected failed, got %s", id, got.State)
		}
		if got.Category != string(relay.KindExecutionError) || got.Reason != "interrupted" {
			t.Errorf("%s: unexpected failure %s/%s", id, got.Category, got.Reason)
		}
		if got.CompletedAt.IsZero() {
			t.Errorf("%s: expected CompletedAt to be set", id)
		}
	}

	got, _ := store.GetRecord("done")
	if got.State != string(relay.StateSucceeded) {
		t.Errorf("terminal record changed: %s", got.State)
	}
}

func TestSQLiteStore_Prune(t *testing.T) {
	store := newTestStore(t)

	old := createTestRecord("old", relay.StateSucceeded)
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	fresh := createTestRecord("fresh", relay.StateSucceeded)
	fresh.CreatedAt = time.Now()
	store.SaveRecord(old)
	store.SaveRecord(fresh)

	count, err := store.Prune(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 pruned, got %d", count)
	}
	if got, _ := store.GetRecord("old"); got != nil {
		t.Error("old record should be pruned")
	}
	if got, _ := store.GetRecord("fresh"); got == nil {
		t.Error("fresh record should be kept")
	}
}

func TestSQLiteStore_Stats(t *testing.T) {
	store := newTestStore(t)

	ok := createTestRecord("ok", relay.StateSucceeded)
	ok.Bytes = 2048
	running := createTestRecord("running", relay.StateStreaming)
	running.Bytes = 999
	bot := createTestRecord("bot", relay.StateFailed)
	bot.Category = string(relay.KindAuthenticationRequired)
	bot2 := createTestRecord("bot2", relay.StateFailed)
	bot2.Category = string(relay.KindAuthenticationRequired)
	empty := createTestRecord("empty", relay.StateFailed)
	empty.Category = string(relay.KindEmptyArtifact)

	for _, rec := range []*relay.Record{ok, running, bot, bot2, empty} {
		if err := store.SaveRecord(rec); err != nil {
			t.Fatalf("save %s: %v", rec.ID, err)
		}
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 5 {
		t.Errorf("expected total 5, got %d", stats.Total)
	}
	if stats.Running != 1 || stats.Succeeded != 1 || stats.Failed != 3 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if stats.Bytes != 2048 {
		t.Errorf("expected 2048 bytes from succeeded only, got %d", stats.Bytes)
	}
	if stats.BytesHuman != "2.0 kB" {
		t.Errorf("expected 2.0 kB, got %q", stats.BytesHuman)
	}
	if stats.ByCategory[string(relay.KindAuthenticationRequired)] != 2 {
		t.Errorf("expected 2 auth failures, got %v", stats.ByCategory)
	}
	if stats.ByCategory[string(relay.KindEmptyArtifact)] != 1 {
		t.Errorf("expected 1 empty artifact, got %v", stats.ByCategory)
	}
}

func TestSQLiteStore_ZeroValuesPreserved(t *testing.T) {
	store := newTestStore(t)

	rec := createTestRecord("zero", relay.StateSucceeded)
	if err := store.SaveRecord(rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, _ := store.GetRecord("zero")
	if got.Category != "" || got.Reason != "" || got.Detail != "" {
		t.Errorf("expected empty failure fields, got %+v", got)
	}
	if got.Bytes != 0 || got.ExitCode != 0 || got.DurationMs != 0 {
		t.Errorf("expected zero numerics, got %+v", got)
	}
}

func TestSQLiteStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store1, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	store1.SaveRecord(createTestRecord("persist", relay.StateSucceeded))
	store1.Close()

	store2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store2.Close()

	got, err := store2.GetRecord("persist")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("record did not survive reopen")
	}
	if store2.Path() != dbPath {
		t.Errorf("expected path %s, got %s", dbPath, store2.Path())
	}
}

func TestSQLiteStore_WALMode(t *testing.T) {
	store := newTestStore(t)

	var mode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to query journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected WAL mode, got %s", mode)
	}
}
