package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ca-srg/lastmsg/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStoreWithPath(filepath.Join(t.TempDir(), "stats", "test_stats.db"))
	if err != nil {
		t.Fatalf("NewStoreWithPath failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStoreWithPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test_stats.db")

	store, err := NewStoreWithPath(dbPath)
	if err != nil {
		t.Fatalf("NewStoreWithPath failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestIncrement(t *testing.T) {
	store := newTestStore(t)
	today := time.Now().Format("2006-01-02")

	for i := 0; i < 2; i++ {
		if err := store.Increment(types.SourceSlack, OutcomeFound); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}
	if err := store.Increment(types.SourceSlack, OutcomeNotFound); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	count, err := store.GetCountByDate(types.SourceSlack, OutcomeFound, today)
	if err != nil {
		t.Fatalf("GetCountByDate failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}

	count, err = store.GetCountByDate(types.SourceArchive, OutcomeFound, today)
	if err != nil {
		t.Fatalf("GetCountByDate failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected count 0 for an unused source, got %d", count)
	}
}

func TestGetTotalBySource(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		_ = store.Increment(types.SourceArchive, OutcomeFound)
	}
	_ = store.Increment(types.SourceArchive, OutcomeFailed)
	_ = store.Increment(types.SourceS3, OutcomeUnresolved)

	total, err := store.GetTotalBySource(types.SourceArchive)
	if err != nil {
		t.Fatalf("GetTotalBySource failed: %v", err)
	}
	if total != 6 {
		t.Errorf("Expected archive total 6, got %d", total)
	}

	total, err = store.GetTotalBySource(types.SourceSlack)
	if err != nil {
		t.Fatalf("GetTotalBySource failed: %v", err)
	}
	if total != 0 {
		t.Errorf("Expected slack total 0, got %d", total)
	}
}

func TestGetAllTotals(t *testing.T) {
	store := newTestStore(t)

	_ = store.Increment(types.SourceSlack, OutcomeFound)
	_ = store.Increment(types.SourceSlack, OutcomeFound)
	_ = store.Increment(types.SourceSlack, OutcomeNotFound)
	_ = store.Increment(types.SourceS3, OutcomeFound)

	totals, err := store.GetAllTotals()
	if err != nil {
		t.Fatalf("GetAllTotals failed: %v", err)
	}

	expected := map[Key]int64{
		{Source: types.SourceSlack, Outcome: OutcomeFound}:    2,
		{Source: types.SourceSlack, Outcome: OutcomeNotFound}: 1,
		{Source: types.SourceS3, Outcome: OutcomeFound}:       1,
	}
	if len(totals) != len(expected) {
		t.Fatalf("Expected %d rows, got %d: %v", len(expected), len(totals), totals)
	}
	for key, want := range expected {
		if totals[key] != want {
			t.Errorf("%s/%s: expected %d, got %d", key.Source, key.Outcome, want, totals[key])
		}
	}
}

func TestGlobalRecordSearch(t *testing.T) {
	ResetForTesting()
	defer ResetForTesting()

	// Recording before Init is a logged no-op.
	RecordSearch(types.SourceSlack, OutcomeFound)
	if GetStats() != nil {
		t.Fatal("Expected nil stats before Init")
	}

	if err := Init(filepath.Join(t.TempDir(), "stats.db")); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	RecordSearch(types.SourceArchive, OutcomeFound)
	RecordSearch(types.SourceArchive, OutcomeNotFound)

	stats := GetStats()
	if got := stats[Key{Source: types.SourceArchive, Outcome: OutcomeFound}]; got != 1 {
		t.Errorf("Expected 1 found search, got %d", got)
	}
	if got := stats[Key{Source: types.SourceArchive, Outcome: OutcomeNotFound}]; got != 1 {
		t.Errorf("Expected 1 not_found search, got %d", got)
	}
}
