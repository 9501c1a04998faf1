package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ward-ops/ward/internal/domain/infra"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	for i, action := range []string{"scale_fleet", "restart_service", "simulate_incident"} {
		err := s.Record(ctx, infra.ActionEntry{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Action:    action,
			Details:   map[string]any{"seq": i},
		})
		if err != nil {
			t.Fatalf("Record(%s): %v", action, err)
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d entries, want 2", len(recent))
	}
	// Chronological order, newest entries only.
	if recent[0].Action != "restart_service" || recent[1].Action != "simulate_incident" {
		t.Errorf("entries = %s, %s", recent[0].Action, recent[1].Action)
	}
	if !recent[1].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("timestamp = %v", recent[1].Timestamp)
	}
	if recent[1].Details["seq"] != float64(2) {
		t.Errorf("details = %v", recent[1].Details)
	}
}

func TestRecentOnEmptyStore(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	recent, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("empty store returned %d entries", len(recent))
	}
}

func TestRecordWithoutDetails(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, infra.ActionEntry{Action: "scale_fleet"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	recent, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Details != nil {
		t.Errorf("entry = %+v", recent)
	}
	if recent[0].Timestamp.IsZero() {
		t.Error("zero timestamp not defaulted")
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Record(context.Background(), infra.ActionEntry{Action: "restart_service"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	recent, err := s2.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Action != "restart_service" {
		t.Errorf("persisted entries = %+v", recent)
	}
}
