package report

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/newsdesk/internal/category"
	"github.com/TobiSchelling/newsdesk/internal/config"
	"github.com/TobiSchelling/newsdesk/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBuildEmpty(t *testing.T) {
	db := openTestDB(t)
	sources := []config.Source{{ID: "dv", Feeds: []string{"https://www.dv.is/feed/"}}}

	md, err := Build(context.Background(), db, sources, time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, want := range []string{"No poll has run yet", "never polled", "No articles yet"} {
		if !strings.Contains(md, want) {
			t.Errorf("expected %q in report:\n%s", want, md)
		}
	}
}

func TestBuild(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	db.InsertPollRun(ctx, database.PollRun{ID: "r1", StartedAt: now.Add(-time.Hour), FinishedAt: now.Add(-time.Hour + 2*time.Second),
		Feeds: 2, OK: 1, Inserted: 3, Errors: 1})
	db.RecordOutcome(ctx, database.Outcome{FeedURL: "https://www.dv.is/feed/", SourceID: "dv", Status: 200, At: now.Add(-time.Hour)})
	db.RecordOutcome(ctx, database.Outcome{FeedURL: "https://www.mbl.is/feeds/fp/", SourceID: "mbl", Error: "http get: timeout | retry", At: now.Add(-time.Hour)})
	db.StoreArticle(ctx, database.ArticleRecord{URL: "https://dv.is/frett/1", URLNorm: "https://dv.is/frett/1", Title: "Prófun",
		SourceID: "dv", SourceLabel: "DV", CategoryID: category.Domestic, FetchedAt: now.Add(-2 * time.Hour)})

	sources := []config.Source{
		{ID: "dv", Feeds: []string{"https://www.dv.is/feed/"}},
		{ID: "mbl", Feeds: []string{"https://www.mbl.is/feeds/fp/"}},
	}
	md, err := Build(ctx, db, sources, now)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, want := range []string{
		"1 articles stored",
		"| 1 hour ago | 2s | 2 | 1 | 0 | 3 | 0 | 0 | 0 | 1 |",
		"| dv | https://www.dv.is/feed/ | 200 | 1 hour ago |",
		"| mbl | https://www.mbl.is/feeds/fp/ | - | never | http get: timeout / retry |",
		"| DV | 1 | 2 hours ago |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("expected %q in report:\n%s", want, md)
		}
	}
}
