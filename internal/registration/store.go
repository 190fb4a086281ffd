// Package registration announces each adapter's IO points to the automation
// server and withdraws points that disappeared since the previous run.
//
// The points of the last completed run are kept in SQLite. A run publishes
// every current point as a retained message, clears the retained message of
// every stale point, then publishes a completion message carrying the run's
// session id.
package registration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
	"github.com/nerrad567/gray-logic-iobridge/internal/registry"
)

// Run describes a completed registration run.
type Run struct {
	Adapter     string
	Session     string
	PointCount  int
	CompletedAt time.Time
}

// Store persists the points of the last completed run per adapter.
type Store interface {
	Previous(ctx context.Context, adapter string) ([]registry.Registration, error)
	Replace(ctx context.Context, run Run, points []registry.Registration) error
	LastRun(ctx context.Context, adapter string) (*Run, error)
}

// SQLiteStore implements Store on the io_points and registration_runs
// tables.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Previous returns the points recorded for adapter, ordered by device then
// point.
func (s *SQLiteStore) Previous(ctx context.Context, adapter string) ([]registry.Registration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, point, direction FROM io_points WHERE adapter = ? ORDER BY device_id, point`,
		adapter)
	if err != nil {
		return nil, fmt.Errorf("querying io points: %w", err)
	}
	defer rows.Close()

	var out []registry.Registration
	for rows.Next() {
		var r registry.Registration
		var dir string
		if err := rows.Scan(&r.DeviceID, &r.Point, &dir); err != nil {
			return nil, fmt.Errorf("scanning io point: %w", err)
		}
		r.Direction = iopoint.Direction(dir)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating io points: %w", err)
	}
	return out, nil
}

// Replace swaps the adapter's recorded points for points and records run,
// in one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, run Run, points []registry.Registration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM io_points WHERE adapter = ?`, run.Adapter); err != nil {
		return fmt.Errorf("deleting io points: %w", err)
	}

	at := run.CompletedAt.UTC().Format(time.RFC3339)
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO io_points (adapter, device_id, point, direction, session, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing io point insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, run.Adapter, p.DeviceID, p.Point, string(p.Direction), run.Session, at); err != nil {
			return fmt.Errorf("inserting io point %s/%s: %w", p.DeviceID, p.Point, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO registration_runs (adapter, session, point_count, completed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(adapter) DO UPDATE SET
		   session = excluded.session,
		   point_count = excluded.point_count,
		   completed_at = excluded.completed_at`,
		run.Adapter, run.Session, run.PointCount, at); err != nil {
		return fmt.Errorf("recording registration run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing registration: %w", err)
	}
	return nil
}

// LastRun returns the adapter's last completed run, or nil if there was none.
func (s *SQLiteStore) LastRun(ctx context.Context, adapter string) (*Run, error) {
	var run Run
	var completedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT adapter, session, point_count, completed_at FROM registration_runs WHERE adapter = ?`,
		adapter).Scan(&run.Adapter, &run.Session, &run.PointCount, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying registration run: %w", err)
	}

	run.CompletedAt, err = time.Parse(time.RFC3339, completedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing completed_at %q: %w", completedAt, err)
	}
	return &run, nil
}
