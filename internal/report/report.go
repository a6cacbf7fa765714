// Package report renders the operator status page as markdown.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/TobiSchelling/newsdesk/internal/config"
	"github.com/TobiSchelling/newsdesk/internal/database"
)

const recentRuns = 5

// Build summarizes the last poll runs, the health of every configured feed
// and the article counts per source.
func Build(ctx context.Context, db *database.DB, sources []config.Source, now time.Time) (string, error) {
	runs, err := db.RecentPollRuns(ctx, recentRuns)
	if err != nil {
		return "", err
	}
	states, err := db.ListFeedStates(ctx)
	if err != nil {
		return "", err
	}
	counts, err := db.CountArticlesBySource(ctx)
	if err != nil {
		return "", err
	}
	total, err := db.CountArticles(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# newsdesk status\n\n")
	fmt.Fprintf(&b, "%s articles stored.\n\n", humanize.Comma(int64(total)))

	b.WriteString("## Recent poll runs\n\n")
	if len(runs) == 0 {
		b.WriteString("No poll has run yet.\n\n")
	} else {
		b.WriteString("| started | took | feeds | 200 | 304 | new | seen | stale | dropped | errors |\n")
		b.WriteString("|---|---|---|---|---|---|---|---|---|---|\n")
		for _, r := range runs {
			fmt.Fprintf(&b, "| %s | %s | %d | %d | %d | %d | %d | %d | %d | %d |\n",
				relTime(&r.StartedAt, now), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
				r.Feeds, r.OK, r.NotModified, r.Inserted, r.Existing, r.Stale, r.Discarded, r.Errors)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Feeds\n\n")
	byURL := make(map[string]database.FeedState, len(states))
	for _, s := range states {
		byURL[s.FeedURL] = s
	}
	b.WriteString("| source | feed | status | last success | error |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, src := range sources {
		for _, feed := range src.Feeds {
			st, ok := byURL[feed]
			if !ok {
				fmt.Fprintf(&b, "| %s | %s | never polled | - | |\n", src.ID, feed)
				continue
			}
			status := "-"
			if st.LastStatus != 0 {
				status = fmt.Sprint(st.LastStatus)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				src.ID, feed, status, relTime(st.LastOKAt, now), cell(st.LastError))
		}
	}
	b.WriteString("\n")

	b.WriteString("## Articles per source\n\n")
	if len(counts) == 0 {
		b.WriteString("No articles yet.\n")
		return b.String(), nil
	}
	b.WriteString("| source | articles | newest |\n")
	b.WriteString("|---|---|---|\n")
	for _, c := range counts {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(c.SourceLabel), humanize.Comma(int64(c.Count)), relTime(c.Latest, now))
	}
	return b.String(), nil
}

func relTime(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return humanize.RelTime(*t, now, "ago", "from now")
}

// cell keeps a value from breaking the table row.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "/")
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
