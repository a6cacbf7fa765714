package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/TobiSchelling/newsdesk/internal/category"
	"github.com/TobiSchelling/newsdesk/internal/textutil"
)

// MaxLimit caps the number of rows a query returns.
const MaxLimit = 200

// ClampLimit forces n into [1, MaxLimit].
func ClampLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// Haystack builds the folded search text of an article.
func Haystack(title, description string) string {
	return textutil.CollapseWhitespace(textutil.Fold(title + " " + description))
}

// UpsertArticle inserts rec unless an article with the same dedup key is
// already stored. Stored articles are never modified; in that case the
// existing id is returned with Inserted false.
func (db *DB) UpsertArticle(ctx context.Context, rec ArticleRecord) (UpsertResult, error) {
	return upsertArticle(ctx, db.conn, rec)
}

func upsertArticle(ctx context.Context, ex execer, rec ArticleRecord) (UpsertResult, error) {
	res, err := ex.ExecContext(ctx,
		`INSERT INTO articles (url, url_norm, title, published_at, source_id, source_label, category_id, description, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_norm) DO NOTHING`,
		rec.URL, rec.URLNorm, rec.Title, formatTimePtr(rec.PublishedAt), rec.SourceID, rec.SourceLabel,
		string(rec.CategoryID), nullIfEmpty(rec.Description), formatTime(rec.FetchedAt),
	)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("inserting article: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return UpsertResult{}, fmt.Errorf("inserting article: %w", err)
	}
	if n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return UpsertResult{}, fmt.Errorf("reading article id: %w", err)
		}
		return UpsertResult{ID: id, Inserted: true}, nil
	}

	var id int64
	if err := ex.QueryRowContext(ctx, "SELECT id FROM articles WHERE url_norm = ?", rec.URLNorm).Scan(&id); err != nil {
		return UpsertResult{}, fmt.Errorf("looking up existing article: %w", err)
	}
	return UpsertResult{ID: id}, nil
}

// UpsertSearchEntry creates or replaces the search haystack of an article.
func (db *DB) UpsertSearchEntry(ctx context.Context, articleID int64, haystack string) error {
	return upsertSearchEntry(ctx, db.conn, articleID, haystack)
}

func upsertSearchEntry(ctx context.Context, ex execer, articleID int64, haystack string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO article_search (article_id, haystack) VALUES (?, ?)
		ON CONFLICT(article_id) DO UPDATE SET haystack = excluded.haystack`,
		articleID, haystack,
	)
	if err != nil {
		return fmt.Errorf("writing search entry for article %d: %w", articleID, err)
	}
	return nil
}

// RebuildSearchEntry rebuilds the haystack from the stored title and
// description.
func (db *DB) RebuildSearchEntry(ctx context.Context, articleID int64) error {
	return rebuildSearchEntry(ctx, db.conn, articleID)
}

func rebuildSearchEntry(ctx context.Context, ex execer, articleID int64) error {
	var title string
	var desc *string
	err := ex.QueryRowContext(ctx, "SELECT title, description FROM articles WHERE id = ?", articleID).Scan(&title, &desc)
	if err != nil {
		return fmt.Errorf("reading article %d: %w", articleID, err)
	}
	return upsertSearchEntry(ctx, ex, articleID, Haystack(title, deref(desc)))
}

// StoreArticle upserts rec and rebuilds its search entry in one
// transaction.
func (db *DB) StoreArticle(ctx context.Context, rec ArticleRecord) (UpsertResult, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := upsertArticle(ctx, tx, rec)
	if err != nil {
		return UpsertResult{}, err
	}
	if err := rebuildSearchEntry(ctx, tx, res.ID); err != nil {
		return UpsertResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// ArticleExists reports whether an article with the dedup key is stored.
func (db *DB) ArticleExists(ctx context.Context, urlNorm string) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, "SELECT 1 FROM articles WHERE url_norm = ?", urlNorm).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking article: %w", err)
	}
	return true, nil
}

// GetSearchEntry returns the haystack of an article, or "" if it has none.
func (db *DB) GetSearchEntry(ctx context.Context, articleID int64) (string, error) {
	var h string
	err := db.conn.QueryRowContext(ctx, "SELECT haystack FROM article_search WHERE article_id = ?", articleID).Scan(&h)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return h, err
}

// Query returns the newest articles matching every filter. The term is a
// case and diacritic insensitive substring test against the haystack.
// Articles without a publication time sort by their ingestion time.
func (db *DB) Query(ctx context.Context, f Filter) ([]Article, error) {
	var b strings.Builder
	var where []string
	var args []any

	b.WriteString(`SELECT a.id, a.url, a.url_norm, a.title, a.published_at, a.source_id, a.source_label,
		a.category_id, a.description, a.fetched_at
		FROM articles a`)

	if term := textutil.CollapseWhitespace(textutil.Fold(f.Term)); term != "" {
		b.WriteString(" JOIN article_search s ON s.article_id = a.id")
		where = append(where, "instr(s.haystack, ?) > 0")
		args = append(args, term)
	}
	if len(f.Sources) > 0 {
		where = append(where, "a.source_id IN ("+placeholders(len(f.Sources))+")")
		for _, s := range f.Sources {
			args = append(args, s)
		}
	}
	if len(f.Categories) > 0 {
		where = append(where, "a.category_id IN ("+placeholders(len(f.Categories))+")")
		for _, c := range f.Categories {
			args = append(args, string(c))
		}
	}
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY COALESCE(a.published_at, a.fetched_at) DESC, a.id DESC LIMIT ?")
	args = append(args, ClampLimit(f.Limit))

	rows, err := db.conn.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// CountArticles returns the total number of stored articles.
func (db *DB) CountArticles(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting articles: %w", err)
	}
	return n, nil
}

// CountSearchEntries returns the number of search entries.
func (db *DB) CountSearchEntries(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM article_search").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting search entries: %w", err)
	}
	return n, nil
}

// CountArticlesBySource returns per-source counts, largest first.
func (db *DB) CountArticlesBySource(ctx context.Context) ([]SourceCount, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT source_id, MAX(source_label), COUNT(*), MAX(COALESCE(published_at, fetched_at))
		FROM articles GROUP BY source_id ORDER BY COUNT(*) DESC, source_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("counting articles by source: %w", err)
	}
	defer rows.Close()

	var out []SourceCount
	for rows.Next() {
		var sc SourceCount
		var latest *string
		if err := rows.Scan(&sc.SourceID, &sc.SourceLabel, &sc.Count, &latest); err != nil {
			return nil, err
		}
		sc.Latest = parseTime(latest)
		out = append(out, sc)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func scanArticles(rows *sql.Rows) ([]Article, error) {
	var articles []Article
	for rows.Next() {
		var a Article
		var published, desc *string
		var fetched, cat string
		if err := rows.Scan(&a.ID, &a.URL, &a.URLNorm, &a.Title, &published, &a.SourceID, &a.SourceLabel,
			&cat, &desc, &fetched); err != nil {
			return nil, err
		}
		a.PublishedAt = parseTime(published)
		a.CategoryID = category.ID(cat)
		a.Description = deref(desc)
		if t := parseTime(&fetched); t != nil {
			a.FetchedAt = *t
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}
