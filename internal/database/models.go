package database

import (
	"time"

	"github.com/TobiSchelling/newsdesk/internal/category"
)

// FeedState is the persisted polling metadata of one feed URL.
type FeedState struct {
	FeedURL      string
	SourceID     string
	ETag         string
	LastModified string
	LastPolledAt *time.Time
	LastOKAt     *time.Time
	LastStatus   int // 0 when no response was received
	LastError    string
}

// Validators returns the caching validators of the last successful fetch.
func (f *FeedState) Validators() (etag, lastModified string) {
	if f == nil {
		return "", ""
	}
	return f.ETag, f.LastModified
}

// Outcome is the result of one poll of one feed URL. Empty validators leave
// the stored ones in place.
type Outcome struct {
	FeedURL      string
	SourceID     string
	Status       int
	ETag         string
	LastModified string
	Error        string
	At           time.Time
}

// ArticleRecord is what the poller writes for a new article.
type ArticleRecord struct {
	URL         string
	URLNorm     string
	Title       string
	PublishedAt *time.Time
	SourceID    string
	SourceLabel string
	CategoryID  category.ID
	Description string
	FetchedAt   time.Time
}

// Article is a stored article row.
type Article struct {
	ID          int64
	URL         string
	URLNorm     string
	Title       string
	PublishedAt *time.Time
	SourceID    string
	SourceLabel string
	CategoryID  category.ID
	Description string
	FetchedAt   time.Time
}

// UpsertResult tells an insert apart from an already present article.
type UpsertResult struct {
	ID       int64
	Inserted bool
}

// Filter selects articles. Empty slices and an empty term match everything.
type Filter struct {
	Sources    []string
	Categories []category.ID
	Term       string
	Limit      int
}

// SourceCount is the number of stored articles of one source.
type SourceCount struct {
	SourceID    string
	SourceLabel string
	Count       int
	Latest      *time.Time
}

// PollRun is the persisted summary of one poll run.
type PollRun struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Feeds       int
	OK          int
	NotModified int
	Inserted    int
	Existing    int
	Stale       int
	Discarded   int
	Errors      int
}
