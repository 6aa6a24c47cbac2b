package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/linkkeeper/internal/diagnostics"
)

// Layers recorded in the transitions table.
const (
	LayerLink    = "link"
	LayerSession = "session"
)

// ErrNotFound is returned when no matching row exists.
var ErrNotFound = errors.New("journal: not found")

// Transition is one recorded state change of a layer.
type Transition struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Layer      string    `json:"layer"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Error      string    `json:"error"`
	Retries    int       `json:"retries"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Snapshot is one recorded diagnostics snapshot.
type Snapshot struct {
	ID       string            `json:"id"`
	DeviceID string            `json:"device_id"`
	TakenAt  time.Time         `json:"taken_at"`
	Stats    diagnostics.Stats `json:"stats"`
}

// Filter controls which transitions to return.
type Filter struct {
	DeviceID string    // optional
	Layer    string    // optional: LayerLink or LayerSession
	Since    time.Time // optional, inclusive
	Until    time.Time // optional, exclusive
	Limit    int       // default 100, max 1000
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Repository defines the journal storage operations.
type Repository interface {
	RecordTransition(ctx context.Context, t *Transition) error
	RecordSnapshot(ctx context.Context, s *Snapshot) error
	ListTransitions(ctx context.Context, filter Filter) ([]Transition, error)
	LatestSnapshot(ctx context.Context, deviceID string) (*Snapshot, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores the journal in the transitions and snapshots tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new journal repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordTransition inserts a state change. ID and OccurredAt are generated if empty.
func (r *SQLiteRepository) RecordTransition(ctx context.Context, t *Transition) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.OccurredAt.IsZero() {
		t.OccurredAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transitions (id, device_id, layer, from_state, to_state, error_code, retries, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.DeviceID, t.Layer, t.From, t.To, t.Error, t.Retries,
		t.OccurredAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting transition: %w", err)
	}
	return nil
}

// RecordSnapshot inserts a diagnostics snapshot. ID and TakenAt are generated if empty.
func (r *SQLiteRepository) RecordSnapshot(ctx context.Context, s *Snapshot) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.TakenAt.IsZero() {
		s.TakenAt = time.Now().UTC()
	}

	var lastConnection any
	if !s.Stats.LastConnection.IsZero() {
		lastConnection = s.Stats.LastConnection.UnixMilli()
	}

	st := s.Stats
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO snapshots (
			id, device_id, taken_at,
			link_uptime_ms, session_uptime_ms, total_uptime_ms,
			link_reconnects, session_reconnects, link_failures, session_failures,
			signal_strength, last_connection,
			messages_sent, messages_failed, messages_queued, queue_depth
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.DeviceID, s.TakenAt.UnixMilli(),
		st.LinkUptime.Milliseconds(), st.SessionUptime.Milliseconds(), st.TotalUptime.Milliseconds(),
		int64(st.LinkReconnects), int64(st.SessionReconnects), int64(st.LinkFailures), int64(st.SessionFailures), //nolint:gosec // counters stay far below 2^63
		st.SignalStrength, lastConnection,
		int64(st.MessagesSent), int64(st.MessagesFailed), int64(st.MessagesQueued), st.QueueDepth, //nolint:gosec // counters stay far below 2^63
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

// ListTransitions returns transitions matching the filter, most recent first.
func (r *SQLiteRepository) ListTransitions(ctx context.Context, filter Filter) ([]Transition, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	var conditions []string
	var args []any

	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Layer != "" {
		conditions = append(conditions, "layer = ?")
		args = append(args, filter.Layer)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, filter.Since.UnixMilli())
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "occurred_at < ?")
		args = append(args, filter.Until.UnixMilli())
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, device_id, layer, from_state, to_state, error_code, retries, occurred_at
		 FROM transitions %s ORDER BY occurred_at DESC, rowid DESC LIMIT ?`,
		where,
	)
	args = append(args, filter.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	transitions := []Transition{}
	for rows.Next() {
		var t Transition
		var occurredAt int64
		if err := rows.Scan(&t.ID, &t.DeviceID, &t.Layer, &t.From, &t.To, &t.Error, &t.Retries, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		t.OccurredAt = time.UnixMilli(occurredAt).UTC()
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}
	return transitions, nil
}

// LatestSnapshot returns the most recent snapshot for deviceID.
func (r *SQLiteRepository) LatestSnapshot(ctx context.Context, deviceID string) (*Snapshot, error) {
	var s Snapshot
	var takenAt, linkUp, sessionUp, totalUp int64
	var linkRec, sessionRec, linkFail, sessionFail, sent, failed, queued int64
	var lastConnection sql.NullInt64

	err := r.db.QueryRowContext(ctx,
		`SELECT id, device_id, taken_at,
			link_uptime_ms, session_uptime_ms, total_uptime_ms,
			link_reconnects, session_reconnects, link_failures, session_failures,
			signal_strength, last_connection,
			messages_sent, messages_failed, messages_queued, queue_depth
		 FROM snapshots WHERE device_id = ? ORDER BY taken_at DESC, rowid DESC LIMIT 1`,
		deviceID,
	).Scan(&s.ID, &s.DeviceID, &takenAt,
		&linkUp, &sessionUp, &totalUp,
		&linkRec, &sessionRec, &linkFail, &sessionFail,
		&s.Stats.SignalStrength, &lastConnection,
		&sent, &failed, &queued, &s.Stats.QueueDepth,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}

	s.TakenAt = time.UnixMilli(takenAt).UTC()
	s.Stats.LinkUptime = time.Duration(linkUp) * time.Millisecond
	s.Stats.SessionUptime = time.Duration(sessionUp) * time.Millisecond
	s.Stats.TotalUptime = time.Duration(totalUp) * time.Millisecond
	s.Stats.LinkReconnects = uint64(linkRec)       //nolint:gosec // stored from uint64
	s.Stats.SessionReconnects = uint64(sessionRec) //nolint:gosec // stored from uint64
	s.Stats.LinkFailures = uint64(linkFail)        //nolint:gosec // stored from uint64
	s.Stats.SessionFailures = uint64(sessionFail)  //nolint:gosec // stored from uint64
	s.Stats.MessagesSent = uint64(sent)            //nolint:gosec // stored from uint64
	s.Stats.MessagesFailed = uint64(failed)        //nolint:gosec // stored from uint64
	s.Stats.MessagesQueued = uint64(queued)        //nolint:gosec // stored from uint64
	if lastConnection.Valid {
		s.Stats.LastConnection = time.UnixMilli(lastConnection.Int64).UTC()
	}
	return &s, nil
}

// Prune deletes transitions and snapshots recorded before the cutoff and
// returns the number of rows removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixMilli()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting prune: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var total int64
	for _, stmt := range []string{
		"DELETE FROM transitions WHERE occurred_at < ?",
		"DELETE FROM snapshots WHERE taken_at < ?",
	} {
		res, err := tx.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return 0, fmt.Errorf("pruning journal: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("pruning journal: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return total, nil
}

var _ Repository = (*SQLiteRepository)(nil)
