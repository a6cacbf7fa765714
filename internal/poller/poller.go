// Package poller runs ingestion passes over every configured feed.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/newsdesk/internal/canon"
	"github.com/TobiSchelling/newsdesk/internal/category"
	"github.com/TobiSchelling/newsdesk/internal/classify"
	"github.com/TobiSchelling/newsdesk/internal/config"
	"github.com/TobiSchelling/newsdesk/internal/database"
	"github.com/TobiSchelling/newsdesk/internal/feedparse"
	"github.com/TobiSchelling/newsdesk/internal/fetch"
	"github.com/TobiSchelling/newsdesk/internal/textutil"
)

const (
	lockName         = "poll"
	defaultRetention = 14 * 24 * time.Hour
	defaultWorkers   = 4
	defaultLockTTL   = 15 * time.Minute
)

// Options wires a Poller. Enricher, Now and Logger are optional.
type Options struct {
	Sources    []config.Source
	DB         *database.DB
	Fetcher    *fetch.Fetcher
	Enricher   *fetch.Enricher
	Classifier *classify.Classifier
	Retention  time.Duration
	Workers    int
	LockTTL    time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Result holds the counters of one run.
type Result struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	FeedsAttempted int
	OK             int // 2xx responses
	NotModified    int
	Inserted       int
	Existing       int
	Stale          int // older than the retention cutoff
	Discarded      int // missing title or link, or host filtered
	Errors         int
}

func (r *Result) add(o *Result) {
	r.FeedsAttempted += o.FeedsAttempted
	r.OK += o.OK
	r.NotModified += o.NotModified
	r.Inserted += o.Inserted
	r.Existing += o.Existing
	r.Stale += o.Stale
	r.Discarded += o.Discarded
	r.Errors += o.Errors
}

// Poller performs ingestion runs. Runs are serialized across processes by
// a lock row in the store.
type Poller struct {
	sources    []config.Source
	db         *database.DB
	fetcher    *fetch.Fetcher
	enricher   *fetch.Enricher
	classifier *classify.Classifier
	retention  time.Duration
	workers    int
	lockTTL    time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// New creates a Poller.
func New(opts Options) *Poller {
	p := &Poller{
		sources:    opts.Sources,
		db:         opts.DB,
		fetcher:    opts.Fetcher,
		enricher:   opts.Enricher,
		classifier: opts.Classifier,
		retention:  opts.Retention,
		workers:    opts.Workers,
		lockTTL:    opts.LockTTL,
		now:        opts.Now,
		log:        opts.Logger,
	}
	if p.retention <= 0 {
		p.retention = defaultRetention
	}
	if p.workers <= 0 {
		p.workers = defaultWorkers
	}
	if p.lockTTL <= 0 {
		p.lockTTL = defaultLockTTL
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.classifier == nil {
		p.classifier = classify.New(nil)
	}
	return p
}

// Run performs one ingestion pass. It fails only when the run cannot start;
// per-feed failures are recorded on the feed state and counted.
func (p *Poller) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), StartedAt: p.now().UTC()}

	if err := p.db.AcquireRunLock(ctx, lockName, res.RunID, res.StartedAt, p.lockTTL); err != nil {
		return nil, err
	}
	defer func() {
		if err := p.db.ReleaseRunLock(context.WithoutCancel(ctx), lockName, res.RunID); err != nil {
			p.log.Error("releasing run lock", "run", res.RunID, "err", err)
		}
	}()

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for _, src := range p.sources {
		for _, feedURL := range src.Feeds {
			g.Go(func() error {
				fr := p.pollFeed(ctx, src, feedURL)
				mu.Lock()
				res.add(fr)
				mu.Unlock()
				return nil
			})
		}
	}
	g.Wait()

	res.FinishedAt = p.now().UTC()
	p.log.Info("poll run finished",
		"run", res.RunID,
		"feeds", res.FeedsAttempted,
		"ok", res.OK,
		"not_modified", res.NotModified,
		"inserted", res.Inserted,
		"existing", res.Existing,
		"stale", res.Stale,
		"discarded", res.Discarded,
		"errors", res.Errors,
		"elapsed", res.FinishedAt.Sub(res.StartedAt),
	)

	err := p.db.InsertPollRun(context.WithoutCancel(ctx), database.PollRun{
		ID:          res.RunID,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
		Feeds:       res.FeedsAttempted,
		OK:          res.OK,
		NotModified: res.NotModified,
		Inserted:    res.Inserted,
		Existing:    res.Existing,
		Stale:       res.Stale,
		Discarded:   res.Discarded,
		Errors:      res.Errors,
	})
	if err != nil {
		p.log.Error("recording poll run", "run", res.RunID, "err", err)
	}
	return res, nil
}

// Loop runs once immediately and then every interval until ctx is done.
// A run skipped because another one holds the lock is not an error.
func (p *Poller) Loop(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := p.Run(ctx); err != nil {
			switch {
			case errors.Is(err, database.ErrLockHeld):
				p.log.Info("poll skipped, another run holds the lock")
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				p.log.Error("poll run failed", "err", err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// pollFeed is the error boundary of one feed URL.
func (p *Poller) pollFeed(ctx context.Context, src config.Source, feedURL string) *Result {
	res := &Result{FeedsAttempted: 1}
	log := p.log.With("source", src.ID, "feed", feedURL)
	now := p.now().UTC()
	outcome := database.Outcome{FeedURL: feedURL, SourceID: src.ID, At: now}

	state, err := p.db.GetFeedState(ctx, feedURL)
	if err != nil {
		log.Warn("reading feed state, fetching unconditionally", "err", err)
	}
	etag, lastMod := state.Validators()

	resp, err := p.fetcher.Fetch(ctx, feedURL, fetch.Validators{ETag: etag, LastModified: lastMod})
	if err != nil {
		res.Errors++
		if resp != nil {
			outcome.Status = resp.Status
		}
		outcome.Error = err.Error()
		log.Warn("fetch failed", "err", err)
		p.record(ctx, log, outcome)
		return res
	}

	outcome.Status = resp.Status
	if resp.Status == 304 {
		res.NotModified++
		log.Debug("not modified")
		p.record(ctx, log, outcome)
		return res
	}
	res.OK++

	blocks, err := feedparse.Parse(resp.Body)
	if err != nil {
		// Validators of an unparseable body are not kept so the next poll
		// refetches it.
		res.Errors++
		outcome.Error = err.Error()
		log.Warn("parse failed", "err", err)
		p.record(ctx, log, outcome)
		return res
	}
	outcome.ETag = resp.ETag
	outcome.LastModified = resp.LastModified

	for _, b := range blocks {
		p.ingest(ctx, log, src, feedURL, b, now, res)
	}
	log.Debug("feed done", "blocks", len(blocks), "inserted", res.Inserted, "existing", res.Existing)

	p.record(ctx, log, outcome)
	return res
}

func (p *Poller) record(ctx context.Context, log *slog.Logger, o database.Outcome) {
	if err := p.db.RecordOutcome(context.WithoutCancel(ctx), o); err != nil {
		log.Error("recording feed outcome", "err", err)
	}
}

// ingest runs one feed block through filtering, classification and storage.
func (p *Poller) ingest(ctx context.Context, log *slog.Logger, src config.Source, feedURL string, b feedparse.Block, now time.Time, res *Result) {
	link := resolveLink(feedURL, b.Link)
	if b.Title == "" || link == "" {
		res.Discarded++
		return
	}

	host := textutil.BareHost(link)
	if !hostAllowed(src, host) {
		log.Debug("host filtered", "host", host, "link", link)
		res.Discarded++
		return
	}

	if b.Published != nil && b.Published.Before(now.Add(-p.retention)) {
		res.Stale++
		return
	}

	canonical := canon.Canonicalize(link)
	key := canon.DedupKey(canonical)

	desc := b.Description
	if desc == "" && src.EnrichDescriptions && p.enricher != nil {
		desc = p.enrich(ctx, log, canonical, key)
	}

	cat, stage := p.classifier.Explain(classify.Input{
		SourceID:    src.ID,
		URL:         canonical,
		Terms:       b.Categories,
		Title:       b.Title,
		Description: desc,
	})
	if cat == category.Unclassified && src.Force() != "" {
		cat = src.Force()
	}

	up, err := p.db.StoreArticle(ctx, database.ArticleRecord{
		URL:         canonical,
		URLNorm:     key,
		Title:       b.Title,
		PublishedAt: b.Published,
		SourceID:    src.ID,
		SourceLabel: src.DisplayLabel(),
		CategoryID:  cat,
		Description: desc,
		FetchedAt:   now,
	})
	if err != nil {
		res.Errors++
		log.Error("storing article", "url", canonical, "err", err)
		return
	}
	if up.Inserted {
		res.Inserted++
		log.Debug("inserted", "id", up.ID, "url", canonical, "category", cat, "stage", stage)
	} else {
		res.Existing++
	}
}

// enrich fetches an excerpt for articles that are not stored yet.
func (p *Poller) enrich(ctx context.Context, log *slog.Logger, articleURL, key string) string {
	exists, err := p.db.ArticleExists(ctx, key)
	if err != nil || exists {
		return ""
	}
	excerpt, err := p.enricher.Excerpt(ctx, articleURL)
	if err != nil {
		log.Debug("enrichment failed", "url", articleURL, "err", err)
		return ""
	}
	return excerpt
}

// hostAllowed applies the source's allow and deny lists to a bare host.
func hostAllowed(src config.Source, host string) bool {
	if len(src.AllowHosts) > 0 && !containsHost(src.AllowHosts, host) {
		return false
	}
	if len(src.DenyHosts) > 0 && containsHost(src.DenyHosts, host) {
		return false
	}
	return true
}

func containsHost(list []string, host string) bool {
	for _, h := range list {
		if strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), "www.") == host {
			return true
		}
	}
	return false
}

// resolveLink makes a relative entry link absolute against the feed URL.
func resolveLink(feedURL, link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil || u.IsAbs() {
		return link
	}
	base, err := url.Parse(feedURL)
	if err != nil {
		return link
	}
	return base.ResolveReference(u).String()
}
