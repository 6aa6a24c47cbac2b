package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/linkkeeper/internal/diagnostics"
	"github.com/nerrad567/linkkeeper/internal/infrastructure/database"
	_ "github.com/nerrad567/linkkeeper/migrations" // registers the journal schema
)

// openTestRepo opens a migrated journal in a temporary directory.
func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

var base = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func sameTransition(a, b Transition) bool {
	at, bt := a.OccurredAt, b.OccurredAt
	a.OccurredAt, b.OccurredAt = time.Time{}, time.Time{}
	return a == b && at.Equal(bt)
}

// =============================================================================
// Transition Tests
// =============================================================================

func TestRecordTransition_RoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	in := &Transition{
		DeviceID:   "desk-01",
		Layer:      LayerLink,
		From:       "CONNECTING",
		To:         "RECONNECTING",
		Error:      "WIFI_NO_SSID_AVAIL",
		Retries:    2,
		OccurredAt: base,
	}
	if err := repo.RecordTransition(ctx, in); err != nil {
		t.Fatalf("RecordTransition() error = %v", err)
	}
	if in.ID == "" {
		t.Error("RecordTransition() did not assign an ID")
	}

	got, err := repo.ListTransitions(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListTransitions() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListTransitions() returned %d rows, want 1", len(got))
	}
	if !sameTransition(got[0], *in) {
		t.Errorf("ListTransitions()[0] = %+v, want %+v", got[0], *in)
	}
}

func TestListTransitions_Filter(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	rows := []Transition{
		{DeviceID: "desk-01", Layer: LayerLink, From: "IDLE", To: "CONNECTING", Error: "NONE", OccurredAt: base},
		{DeviceID: "desk-01", Layer: LayerLink, From: "CONNECTING", To: "CONNECTED", Error: "NONE", OccurredAt: base.Add(time.Second)},
		{DeviceID: "desk-01", Layer: LayerSession, From: "IDLE", To: "CONNECTING", Error: "NONE", OccurredAt: base.Add(2 * time.Second)},
		{DeviceID: "desk-02", Layer: LayerLink, From: "IDLE", To: "CONNECTING", Error: "NONE", OccurredAt: base.Add(3 * time.Second)},
	}
	for i := range rows {
		if err := repo.RecordTransition(ctx, &rows[i]); err != nil {
			t.Fatalf("RecordTransition() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		wantTo []string
	}{
		{"all newest first", Filter{}, []string{"CONNECTING", "CONNECTING", "CONNECTED", "CONNECTING"}},
		{"by device", Filter{DeviceID: "desk-02"}, []string{"CONNECTING"}},
		{"by layer", Filter{DeviceID: "desk-01", Layer: LayerLink}, []string{"CONNECTED", "CONNECTING"}},
		{"since", Filter{Since: base.Add(2 * time.Second)}, []string{"CONNECTING", "CONNECTING"}},
		{"until", Filter{Until: base.Add(time.Second)}, []string{"CONNECTING"}},
		{"limit", Filter{Limit: 1}, []string{"CONNECTING"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ListTransitions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListTransitions() error = %v", err)
			}
			if len(got) != len(tt.wantTo) {
				t.Fatalf("ListTransitions() returned %d rows, want %d", len(got), len(tt.wantTo))
			}
			for i, want := range tt.wantTo {
				if got[i].To != want {
					t.Errorf("row %d To = %s, want %s", i, got[i].To, want)
				}
			}
		})
	}
}

func TestListTransitions_Empty(t *testing.T) {
	repo := openTestRepo(t)

	got, err := repo.ListTransitions(context.Background(), Filter{Layer: LayerSession})
	if err != nil {
		t.Fatalf("ListTransitions() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ListTransitions() = %v, want empty non-nil slice", got)
	}
}

func TestRecordTransition_RejectsUnknownLayer(t *testing.T) {
	repo := openTestRepo(t)

	err := repo.RecordTransition(context.Background(), &Transition{
		DeviceID: "desk-01", Layer: "radio", From: "IDLE", To: "CONNECTING", Error: "NONE",
	})
	if err == nil {
		t.Error("RecordTransition() with unknown layer should fail the CHECK constraint")
	}
}

// =============================================================================
// Snapshot Tests
// =============================================================================

func TestRecordSnapshot_RoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	stats := diagnostics.Stats{
		LinkUptime:        95 * time.Second,
		SessionUptime:     80 * time.Second,
		TotalUptime:       100 * time.Second,
		LinkReconnects:    3,
		SessionReconnects: 1,
		LinkFailures:      4,
		SessionFailures:   2,
		SignalStrength:    -58,
		LastConnection:    base.Add(-time.Minute),
		MessagesSent:      12,
		MessagesFailed:    1,
		MessagesQueued:    5,
		QueueDepth:        2,
	}

	older := &Snapshot{DeviceID: "desk-01", TakenAt: base.Add(-time.Hour), Stats: diagnostics.ZeroStats()}
	newer := &Snapshot{DeviceID: "desk-01", TakenAt: base, Stats: stats}
	for _, s := range []*Snapshot{older, newer} {
		if err := repo.RecordSnapshot(ctx, s); err != nil {
			t.Fatalf("RecordSnapshot() error = %v", err)
		}
	}

	got, err := repo.LatestSnapshot(ctx, "desk-01")
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if got.ID != newer.ID || !got.TakenAt.Equal(base) {
		t.Errorf("LatestSnapshot() = %s at %v, want %s at %v", got.ID, got.TakenAt, newer.ID, base)
	}
	if !got.Stats.LastConnection.Equal(stats.LastConnection) {
		t.Errorf("LastConnection = %v, want %v", got.Stats.LastConnection, stats.LastConnection)
	}
	gotStats, wantStats := got.Stats, stats
	gotStats.LastConnection, wantStats.LastConnection = time.Time{}, time.Time{}
	if gotStats != wantStats {
		t.Errorf("LatestSnapshot().Stats = %+v, want %+v", gotStats, wantStats)
	}
}

func TestLatestSnapshot_NeverConnected(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.RecordSnapshot(ctx, &Snapshot{DeviceID: "desk-01", TakenAt: base, Stats: diagnostics.ZeroStats()}); err != nil {
		t.Fatalf("RecordSnapshot() error = %v", err)
	}

	got, err := repo.LatestSnapshot(ctx, "desk-01")
	if err != nil {
		t.Fatalf("LatestSnapshot() error = %v", err)
	}
	if !got.Stats.LastConnection.IsZero() {
		t.Errorf("LastConnection = %v, want zero", got.Stats.LastConnection)
	}
	if got.Stats.SignalStrength != diagnostics.NoSignal {
		t.Errorf("SignalStrength = %d, want %d", got.Stats.SignalStrength, diagnostics.NoSignal)
	}
}

func TestLatestSnapshot_NotFound(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.LatestSnapshot(context.Background(), "desk-99")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestSnapshot() error = %v, want ErrNotFound", err)
	}
}

// =============================================================================
// Prune Tests
// =============================================================================

func TestPrune(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for i := range 4 {
		at := base.Add(time.Duration(i) * time.Hour)
		if err := repo.RecordTransition(ctx, &Transition{
			DeviceID: "desk-01", Layer: LayerLink, From: "IDLE", To: "CONNECTING", Error: "NONE", OccurredAt: at,
		}); err != nil {
			t.Fatalf("RecordTransition() error = %v", err)
		}
		if err := repo.RecordSnapshot(ctx, &Snapshot{DeviceID: "desk-01", TakenAt: at, Stats: diagnostics.ZeroStats()}); err != nil {
			t.Fatalf("RecordSnapshot() error = %v", err)
		}
	}

	removed, err := repo.Prune(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 4 {
		t.Errorf("Prune() removed %d rows, want 4", removed)
	}

	left, err := repo.ListTransitions(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListTransitions() error = %v", err)
	}
	if len(left) != 2 {
		t.Errorf("%d transitions left, want 2", len(left))
	}
	for _, tr := range left {
		if tr.OccurredAt.Before(base.Add(2 * time.Hour)) {
			t.Errorf("transition at %v survived prune", tr.OccurredAt)
		}
	}

	removed, err = repo.Prune(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("second Prune() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("second Prune() removed %d rows, want 0", removed)
	}
}
