package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLockHeld is returned when another run holds a live lock.
var ErrLockHeld = errors.New("run lock held by another run")

// AcquireRunLock takes the named lock for owner until now+ttl. An expired
// lock is taken over.
func (db *DB) AcquireRunLock(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) error {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO run_lock (name, owner, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			owner = excluded.owner,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE run_lock.expires_at <= excluded.acquired_at`,
		name, owner, formatTime(now), formatTime(now.Add(ttl)),
	)
	if err != nil {
		return fmt.Errorf("acquiring run lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquiring run lock: %w", err)
	}
	if n == 0 {
		return ErrLockHeld
	}
	return nil
}

// ReleaseRunLock drops the lock if owner still holds it.
func (db *DB) ReleaseRunLock(ctx context.Context, name, owner string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM run_lock WHERE name = ? AND owner = ?", name, owner)
	if err != nil {
		return fmt.Errorf("releasing run lock: %w", err)
	}
	return nil
}

// InsertPollRun persists the counters of a finished run.
func (db *DB) InsertPollRun(ctx context.Context, r PollRun) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO poll_runs (id, started_at, finished_at, feeds, ok, not_modified, inserted, existing, stale, discarded, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Feeds, r.OK, r.NotModified,
		r.Inserted, r.Existing, r.Stale, r.Discarded, r.Errors,
	)
	if err != nil {
		return fmt.Errorf("inserting poll run: %w", err)
	}
	return nil
}

// RecentPollRuns returns up to n runs, newest first.
func (db *DB) RecentPollRuns(ctx context.Context, n int) ([]PollRun, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, started_at, finished_at, feeds, ok, not_modified, inserted, existing, stale, discarded, errors
		FROM poll_runs ORDER BY started_at DESC, id DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("listing poll runs: %w", err)
	}
	defer rows.Close()

	var out []PollRun
	for rows.Next() {
		var r PollRun
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Feeds, &r.OK, &r.NotModified,
			&r.Inserted, &r.Existing, &r.Stale, &r.Discarded, &r.Errors); err != nil {
			return nil, err
		}
		if t := parseTime(&started); t != nil {
			r.StartedAt = *t
		}
		if t := parseTime(&finished); t != nil {
			r.FinishedAt = *t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
