package database

import (
	"context"
	"database/sql"
	"fmt"
)

// GetFeedState returns the stored state of feedURL, or nil if it was never
// polled.
func (db *DB) GetFeedState(ctx context.Context, feedURL string) (*FeedState, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT feed_url, source_id, etag, last_modified, last_polled_at, last_ok_at, last_status, last_error
		FROM feeds WHERE feed_url = ?`, feedURL,
	)
	f, err := scanFeedState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading feed state: %w", err)
	}
	return f, nil
}

// RecordOutcome upserts the state row of a feed URL. last_ok_at moves only
// on a 2xx status and validators are only replaced by non-empty values, so
// a 304 keeps what the previous 200 stored.
func (db *DB) RecordOutcome(ctx context.Context, o Outcome) error {
	var okAt any
	if o.Status >= 200 && o.Status < 300 {
		okAt = formatTime(o.At)
	}
	var status any
	if o.Status != 0 {
		status = o.Status
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO feeds (feed_url, source_id, etag, last_modified, last_polled_at, last_ok_at, last_status, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(feed_url) DO UPDATE SET
			source_id = excluded.source_id,
			etag = COALESCE(excluded.etag, feeds.etag),
			last_modified = COALESCE(excluded.last_modified, feeds.last_modified),
			last_polled_at = excluded.last_polled_at,
			last_ok_at = COALESCE(excluded.last_ok_at, feeds.last_ok_at),
			last_status = excluded.last_status,
			last_error = excluded.last_error`,
		o.FeedURL, o.SourceID, nullIfEmpty(o.ETag), nullIfEmpty(o.LastModified),
		formatTime(o.At), okAt, status, nullIfEmpty(o.Error),
	)
	if err != nil {
		return fmt.Errorf("recording outcome for %s: %w", o.FeedURL, err)
	}
	return nil
}

// ListFeedStates returns every known feed, ordered by source then URL.
func (db *DB) ListFeedStates(ctx context.Context) ([]FeedState, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT feed_url, source_id, etag, last_modified, last_polled_at, last_ok_at, last_status, last_error
		FROM feeds ORDER BY source_id, feed_url`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing feed states: %w", err)
	}
	defer rows.Close()

	var out []FeedState
	for rows.Next() {
		f, err := scanFeedState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFeedState(s scanner) (*FeedState, error) {
	var f FeedState
	var etag, lastMod, polled, ok, lastErr *string
	var status sql.NullInt64
	if err := s.Scan(&f.FeedURL, &f.SourceID, &etag, &lastMod, &polled, &ok, &status, &lastErr); err != nil {
		return nil, err
	}
	f.ETag = deref(etag)
	f.LastModified = deref(lastMod)
	f.LastPolledAt = parseTime(polled)
	f.LastOKAt = parseTime(ok)
	f.LastStatus = int(status.Int64)
	f.LastError = deref(lastErr)
	return &f, nil
}
