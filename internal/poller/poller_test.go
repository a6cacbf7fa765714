package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/newsdesk/internal/category"
	"github.com/TobiSchelling/newsdesk/internal/config"
	"github.com/TobiSchelling/newsdesk/internal/database"
	"github.com/TobiSchelling/newsdesk/internal/fetch"
	"github.com/TobiSchelling/newsdesk/internal/server"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type item struct {
	Title, Link, PubDate, Description, Category string
}

func rss(items ...item) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Prófun</title>`)
	for _, it := range items {
		b.WriteString("<item>")
		if it.Title != "" {
			fmt.Fprintf(&b, "<title>%s</title>", it.Title)
		}
		if it.Link != "" {
			fmt.Fprintf(&b, "<link>%s</link>", it.Link)
		}
		if it.PubDate != "" {
			fmt.Fprintf(&b, "<pubDate>%s</pubDate>", it.PubDate)
		}
		if it.Description != "" {
			fmt.Fprintf(&b, "<description>%s</description>", it.Description)
		}
		if it.Category != "" {
			fmt.Fprintf(&b, "<category>%s</category>", it.Category)
		}
		b.WriteString("</item>")
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

// feedServer serves canned bodies by path. A path with an etag answers 304
// when the client echoes it.
type feedServer struct {
	*httptest.Server

	mu     sync.Mutex
	bodies map[string]string
	etags  map[string]string
	status map[string]int
	hits   map[string]int
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{
		bodies: map[string]string{},
		etags:  map[string]string{},
		status: map[string]int{},
		hits:   map[string]int{},
	}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		fs.hits[r.URL.Path]++
		if code, ok := fs.status[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		body, ok := fs.bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if etag := fs.etags[r.URL.Path]; etag != "" {
			if r.Header.Get("If-None-Match") == etag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", etag)
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) set(path, body string) {
	fs.mu.Lock()
	fs.bodies[path] = body
	fs.mu.Unlock()
}

func (fs *feedServer) hitCount(path string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.hits[path]
}

func newPoller(db *database.DB, sources ...config.Source) *Poller {
	f := fetch.New(fetch.Config{Timeout: 5 * time.Second})
	return New(Options{
		Sources:  sources,
		DB:       db,
		Fetcher:  f,
		Enricher: fetch.NewEnricher(f, 300),
		Now:      func() time.Time { return now },
		Workers:  2,
	})
}

func mustRun(t *testing.T, p *Poller) *Result {
	t.Helper()
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fs := newFeedServer(t)
	fs.set("/dv", rss(item{
		Title:    "Prófun",
		Link:     "https://dv.is/frett/1/?utm_source=fb",
		PubDate:  "Fri, 01 Mar 2024 10:00:00 GMT",
		Category: "Innlent",
	}))
	fs.etags["/dv"] = `"v1"`

	dv := config.Source{ID: "dv", Label: "DV", Feeds: []string{fs.URL + "/dv"}, AllowHosts: []string{"dv.is"}}
	p := newPoller(db, dv)

	res := mustRun(t, p)
	if res.FeedsAttempted != 1 || res.OK != 1 || res.Inserted != 1 || res.Errors != 0 {
		t.Fatalf("unexpected first run %+v", res)
	}

	articles, err := db.Query(ctx, database.Filter{Limit: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}
	a := articles[0]
	if a.URL != "https://dv.is/frett/1" {
		t.Errorf("expected canonical url, got %q", a.URL)
	}
	if a.CategoryID != category.Domestic {
		t.Errorf("expected innlent, got %q", a.CategoryID)
	}
	if a.SourceLabel != "DV" {
		t.Errorf("expected label DV, got %q", a.SourceLabel)
	}
	if n, _ := db.CountSearchEntries(ctx); n != 1 {
		t.Errorf("expected 1 search entry, got %d", n)
	}

	srv, err := server.New(db, server.Options{})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/news?sources=dv&limit=10", nil))
	var resp server.NewsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Title != "Prófun" || resp.Items[0].CategoryID != "innlent" {
		t.Errorf("unexpected /news items %+v", resp.Items)
	}

	res = mustRun(t, p)
	if res.NotModified != 1 || res.Inserted != 0 {
		t.Errorf("expected a 304 run, got %+v", res)
	}
	if n, _ := db.CountArticles(ctx); n != 1 {
		t.Errorf("expected article count to stay 1, got %d", n)
	}
	st, _ := db.GetFeedState(ctx, fs.URL+"/dv")
	if st == nil || st.ETag != `"v1"` || st.LastStatus != 304 {
		t.Errorf("expected validators kept after 304, got %+v", st)
	}

	runs, _ := db.RecentPollRuns(ctx, 10)
	if len(runs) != 2 {
		t.Errorf("expected 2 recorded runs, got %d", len(runs))
	}
}

func TestIdempotentWithoutValidators(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fs := newFeedServer(t)
	fs.set("/mbl", rss(
		item{Title: "Fyrsta", Link: "https://www.mbl.is/frettir/innlent/2024/03/01/fyrsta/"},
		item{Title: "Önnur", Link: "https://www.mbl.is/frettir/erlent/2024/03/01/onnur/"},
	))
	p := newPoller(db, config.Source{ID: "mbl", Feeds: []string{fs.URL + "/mbl"}})

	first := mustRun(t, p)
	second := mustRun(t, p)
	if first.Inserted != 2 {
		t.Errorf("expected 2 inserted, got %+v", first)
	}
	if second.Inserted != 0 || second.Existing != 2 {
		t.Errorf("expected only existing articles on rerun, got %+v", second)
	}
	if n, _ := db.CountArticles(ctx); n != 2 {
		t.Errorf("expected 2 articles, got %d", n)
	}
	if fs.hitCount("/mbl") != 2 {
		t.Errorf("expected two fetches, got %d", fs.hitCount("/mbl"))
	}
}

func TestRetentionCutoff(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fs := newFeedServer(t)
	fs.set("/ruv", rss(
		item{Title: "Gömul frétt", Link: "https://www.ruv.is/frettir/innlent/gomul", PubDate: "Wed, 14 Feb 2024 11:00:00 GMT"},
		item{Title: "Ný frétt", Link: "https://www.ruv.is/frettir/innlent/ny", PubDate: "Thu, 29 Feb 2024 11:00:00 GMT"},
		item{Title: "Án dagsetningar", Link: "https://www.ruv.is/frettir/innlent/an"},
	))
	p := newPoller(db, config.Source{ID: "ruv", Feeds: []string{fs.URL + "/ruv"}})

	res := mustRun(t, p)
	if res.Stale != 1 || res.Inserted != 2 {
		t.Errorf("expected 1 stale and 2 inserted, got %+v", res)
	}
	exists, _ := db.ArticleExists(ctx, "https://www.ruv.is/frettir/innlent/gomul")
	if exists {
		t.Error("article older than the retention window was stored")
	}
}

func TestHostFilters(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fs := newFeedServer(t)
	fs.set("/dv", rss(
		item{Title: "Á DV", Link: "https://www.dv.is/frett/2"},
		item{Title: "Systurvefur", Link: "https://pressan.is/frett/3"},
	))
	fs.set("/mbl", rss(
		item{Title: "Á mbl", Link: "https://www.mbl.is/frettir/innlent/a"},
		item{Title: "Útvarp", Link: "https://k100.mbl.is/lag/b"},
	))
	p := newPoller(db,
		config.Source{ID: "dv", Feeds: []string{fs.URL + "/dv"}, AllowHosts: []string{"dv.is"}},
		config.Source{ID: "mbl", Feeds: []string{fs.URL + "/mbl"}, DenyHosts: []string{"k100.mbl.is"}},
	)

	res := mustRun(t, p)
	if res.Inserted != 2 || res.Discarded != 2 {
		t.Errorf("expected 2 inserted and 2 discarded, got %+v", res)
	}
	articles, _ := db.Query(ctx, database.Filter{Limit: 10})
	for _, a := range articles {
		if strings.Contains(a.URL, "pressan") || strings.Contains(a.URL, "k100") {
			t.Errorf("filtered host stored: %s", a.URL)
		}
	}
}

func TestMissingFieldsDiscarded(t *testing.T) {
	db := openTestDB(t)
	fs := newFeedServer(t)
	fs.set("/visir", rss(
		item{Link: "https://www.visir.is/g/1"},
		item{Title: "Án tengils"},
		item{Title: "Heil frétt", Link: "https://www.visir.is/g/2"},
	))
	p := newPoller(db, config.Source{ID: "visir", Feeds: []string{fs.URL + "/visir"}})

	res := mustRun(t, p)
	if res.Discarded != 2 || res.Inserted != 1 {
		t.Errorf("expected 2 discarded and 1 inserted, got %+v", res)
	}
}

func TestFailureIsolation(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fs := newFeedServer(t)
	fs.status["/broken"] = http.StatusInternalServerError
	fs.set("/garbage", "<html><body>not a feed</body></html>")
	fs.etags["/garbage"] = `"g1"`
	fs.set("/good", rss(item{Title: "Virkar", Link: "https://www.visir.is/g/10"}))

	p := newPoller(db,
		config.Source{ID: "a", Feeds: []string{fs.URL + "/broken"}},
		config.Source{ID: "b", Feeds: []string{fs.URL + "/garbage"}},
		config.Source{ID: "c", Feeds: []string{fs.URL + "/good"}},
	)
	res := mustRun(t, p)
	if res.FeedsAttempted != 3 || res.Errors != 2 || res.Inserted != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	broken, _ := db.GetFeedState(ctx, fs.URL+"/broken")
	if broken == nil || broken.LastStatus != 500 || broken.LastError == "" || broken.LastOKAt != nil {
		t.Errorf("unexpected state for failing feed %+v", broken)
	}

	garbage, _ := db.GetFeedState(ctx, fs.URL+"/garbage")
	if garbage == nil || !strings.Contains(garbage.LastError, "parsing feed") {
		t.Errorf("expected parse error on feed state, got %+v", garbage)
	}
	if garbage != nil && garbage.ETag != "" {
		t.Errorf("validators of an unparseable body should not be stored, got %q", garbage.ETag)
	}

	good, _ := db.GetFeedState(ctx, fs.URL+"/good")
	if good == nil || good.LastError != "" || good.LastOKAt == nil {
		t.Errorf("unexpected state for good feed %+v", good)
	}
}

func TestForceCategory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fs := newFeedServer(t)
	fs.set("/heimildin", rss(
		item{Title: "Xyzzy qwerty", Link: "https://heimildin.is/grein/123/"},
		item{Title: "Landsliðið vann", Link: "https://heimildin.is/grein/124/", Category: "Íþróttir"},
	))
	p := newPoller(db, config.Source{ID: "heimildin", Feeds: []string{fs.URL + "/heimildin"}, ForceCategory: "innlent"})
	mustRun(t, p)

	articles, _ := db.Query(ctx, database.Filter{Limit: 10})
	got := map[string]category.ID{}
	for _, a := range articles {
		got[a.Title] = a.CategoryID
	}
	if got["Xyzzy qwerty"] != category.Domestic {
		t.Errorf("expected forced innlent, got %q", got["Xyzzy qwerty"])
	}
	if got["Landsliðið vann"] != category.Sports {
		t.Errorf("force should only replace the unclassified bucket, got %q", got["Landsliðið vann"])
	}
}

func TestRunLockHeld(t *testing.T) {
	db := openTestDB(t)
	if err := db.AcquireRunLock(context.Background(), lockName, "someone-else", now, time.Hour); err != nil {
		t.Fatalf("AcquireRunLock: %v", err)
	}
	p := newPoller(db)
	if _, err := p.Run(context.Background()); !errors.Is(err, database.ErrLockHeld) {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}
}

func TestRunReleasesLock(t *testing.T) {
	db := openTestDB(t)
	p := newPoller(db)
	mustRun(t, p)
	mustRun(t, p)
}

func TestRelativeLinks(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fs := newFeedServer(t)
	fs.set("/feed/", rss(item{Title: "Afstætt", Link: "/frett/9"}))
	p := newPoller(db, config.Source{ID: "x", Feeds: []string{fs.URL + "/feed/"}})

	res := mustRun(t, p)
	if res.Inserted != 1 {
		t.Fatalf("expected relative link to be stored, got %+v", res)
	}
	articles, _ := db.Query(ctx, database.Filter{Limit: 1})
	if want := fs.URL + "/frett/9"; articles[0].URL != want {
		t.Errorf("expected %q, got %q", want, articles[0].URL)
	}
}

func TestEnrichment(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fs := newFeedServer(t)
	fs.set("/rss", rss(item{Title: "Markaðir", Link: fs.URL + "/grein/1"}))
	fs.set("/grein/1", `<html><head><title>Markaðir</title></head><body><article><h1>Markaðir</h1>
<p>Hlutabréf hækkuðu í verði í Kauphöllinni í dag eftir að uppgjör stærstu félaganna reyndist betra en spár gerðu ráð fyrir.</p>
<p>Velta á markaði var með mesta móti og greinendur búast við áframhaldandi hækkunum á næstu vikum.</p>
</article></body></html>`)

	p := newPoller(db, config.Source{ID: "vb", Feeds: []string{fs.URL + "/rss"}, EnrichDescriptions: true})
	mustRun(t, p)

	articles, _ := db.Query(ctx, database.Filter{Limit: 1})
	if len(articles) != 1 || !strings.Contains(articles[0].Description, "Hlutabréf hækkuðu") {
		t.Fatalf("expected enriched description, got %+v", articles)
	}

	// Already stored articles are not fetched again.
	mustRun(t, p)
	if n := fs.hitCount("/grein/1"); n != 1 {
		t.Errorf("expected one article page fetch, got %d", n)
	}
}

func TestHostAllowed(t *testing.T) {
	src := config.Source{AllowHosts: []string{"www.DV.is"}, DenyHosts: []string{"k100.mbl.is"}}
	if !hostAllowed(src, "dv.is") {
		t.Error("expected allow list to match without www and case")
	}
	if hostAllowed(src, "pressan.is") {
		t.Error("expected host outside allow list to be rejected")
	}
	if hostAllowed(config.Source{DenyHosts: []string{"k100.mbl.is"}}, "k100.mbl.is") {
		t.Error("expected denied host to be rejected")
	}
}
