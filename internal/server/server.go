package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/newsdesk/internal/category"
	"github.com/TobiSchelling/newsdesk/internal/config"
	"github.com/TobiSchelling/newsdesk/internal/database"
	"github.com/TobiSchelling/newsdesk/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Options configures a Server. Zero values fall back to the defaults of the
// shipped configuration.
type Options struct {
	Sources      []config.Source
	DefaultLimit int
	MaxLimit     int
	CacheSeconds int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Server is the read-only query service over the article store.
type Server struct {
	db     *database.DB
	opts   Options
	pages  map[string]*template.Template
	router chi.Router
	log    *slog.Logger
}

// New creates a new Server.
func New(db *database.DB, opts Options) (*Server, error) {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = database.MaxLimit
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 30
	}
	opts.DefaultLimit = min(opts.DefaultLimit, opts.MaxLimit)
	if opts.CacheSeconds < 0 {
		opts.CacheSeconds = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"label":    category.Label,
		"when": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.Local().Format("2. Jan 15:04")
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so their "content" blocks don't
	// collide.
	pageNames := []string{"index.html", "status.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, opts: opts, pages: pages, log: opts.Logger}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/status", s.handleStatus)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.With(cors).Get("/news", s.handleNews)
	r.With(cors).Options("/news", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s.router = r
}

// requestLogger logs one line per request through slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

// Item is one article in a /news response.
type Item struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	PublishedAt *string `json:"publishedAt"`
	SourceID    string  `json:"sourceId"`
	SourceLabel string  `json:"sourceLabel"`
	CategoryID  string  `json:"categoryId"`
	Category    string  `json:"category"`
}

// NewsResponse is the body of GET /news.
type NewsResponse struct {
	Items               []Item        `json:"items"`
	AvailableCategories []category.ID `json:"availableCategories"`
	Debug               *Debug        `json:"debug,omitempty"`
}

// Debug echoes the effective filter when debug=1 is set.
type Debug struct {
	Sources    []string      `json:"sources"`
	Categories []category.ID `json:"cats"`
	Query      string        `json:"q"`
	Limit      int           `json:"limit"`
	Count      int           `json:"count"`
	ElapsedMS  int64         `json:"elapsedMs"`
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	start := s.opts.Now()
	f := s.parseFilter(r)

	articles, err := s.db.Query(r.Context(), f)
	if err != nil {
		s.log.Error("news query failed", "err", err, "request_id", middleware.GetReqID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	resp := NewsResponse{Items: make([]Item, 0, len(articles))}
	present := map[category.ID]bool{category.Unclassified: true}
	for _, a := range articles {
		resp.Items = append(resp.Items, toItem(a))
		present[a.CategoryID] = true
	}
	for id := range present {
		resp.AvailableCategories = append(resp.AvailableCategories, id)
	}
	category.Sort(resp.AvailableCategories)

	if r.URL.Query().Get("debug") == "1" {
		resp.Debug = &Debug{
			Sources:    nonNil(f.Sources),
			Categories: nonNil(f.Categories),
			Query:      f.Term,
			Limit:      f.Limit,
			Count:      len(resp.Items),
			ElapsedMS:  s.opts.Now().Sub(start).Milliseconds(),
		}
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", s.opts.CacheSeconds))
	writeJSON(w, http.StatusOK, resp)
}

// parseFilter reads the /news parameters. Bad values are defaulted or
// clamped, never rejected.
func (s *Server) parseFilter(r *http.Request) database.Filter {
	q := r.URL.Query()
	f := database.Filter{
		Sources: splitCSV(q.Get("sources")),
		Term:    strings.TrimSpace(q.Get("q")),
		Limit:   s.opts.DefaultLimit,
	}
	for _, c := range splitCSV(q.Get("cats")) {
		id := category.ID(strings.ToLower(c))
		if category.Valid(id) {
			f.Categories = append(f.Categories, id)
		}
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			f.Limit = n
		}
	}
	f.Limit = max(1, min(f.Limit, s.opts.MaxLimit))
	return f
}

func toItem(a database.Article) Item {
	it := Item{
		Title:       a.Title,
		URL:         a.URL,
		SourceID:    a.SourceID,
		SourceLabel: a.SourceLabel,
		CategoryID:  string(a.CategoryID),
		Category:    category.Label(a.CategoryID),
	}
	if a.PublishedAt != nil {
		ts := a.PublishedAt.UTC().Format(time.RFC3339)
		it.PublishedAt = &ts
	}
	return it
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	articles, err := s.db.Query(r.Context(), database.Filter{Limit: s.opts.DefaultLimit})
	if err != nil {
		s.log.Error("loading latest articles", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "index.html", map[string]any{
		"Articles": articles,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	text, err := report.Build(r.Context(), s.db, s.opts.Sources, s.opts.Now())
	if err != nil {
		s.log.Error("building status report", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "status.html", map[string]any{
		"Report": text,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Error("template not found", "name", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.log.Error("rendering template", "name", name, "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "url", "http://"+addr)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
