package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/newsdesk/internal/category"
	"github.com/TobiSchelling/newsdesk/internal/classify"
	"github.com/TobiSchelling/newsdesk/internal/config"
	"github.com/TobiSchelling/newsdesk/internal/database"
	"github.com/TobiSchelling/newsdesk/internal/feedparse"
	"github.com/TobiSchelling/newsdesk/internal/fetch"
	"github.com/TobiSchelling/newsdesk/internal/poller"
	"github.com/TobiSchelling/newsdesk/internal/report"
	"github.com/TobiSchelling/newsdesk/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "newsdesk",
	Short:   "Icelandic news ingestion and query service",
	Long:    "newsdesk polls Icelandic news feeds, files every article under one category and serves the result as JSON.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			setupLogging("info")
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		setupLogging(cfg.Logging.Level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statusCmd)
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("newsdesk", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/newsdesk/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to add or remove sources and feeds.")
		return nil
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources and their feeds",
	Run: func(cmd *cobra.Command, args []string) {
		for _, s := range cfg.Sources {
			fmt.Printf("%s (%s)\n", s.ID, s.DisplayLabel())
			for _, f := range s.Feeds {
				fmt.Printf("  %s\n", f)
			}
			if len(s.AllowHosts) > 0 {
				fmt.Printf("  allow: %s\n", strings.Join(s.AllowHosts, ", "))
			}
			if len(s.DenyHosts) > 0 {
				fmt.Printf("  deny: %s\n", strings.Join(s.DenyHosts, ", "))
			}
			if s.Force() != "" {
				fmt.Printf("  unclassified -> %s\n", s.Force())
			}
		}
	},
}

// --- poll command ---

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one ingestion pass over every feed",
	Long:  "Run one ingestion pass over every feed. Meant for an external scheduler such as cron; overlapping runs exit without polling.",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signalContext()
		defer stop()

		res, err := newPoller(db).Run(ctx)
		if errors.Is(err, database.ErrLockHeld) {
			fmt.Println("Another poll is running, nothing to do.")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Println("Poll complete:")
		fmt.Printf("  Feeds: %d (%d ok, %d not modified)\n", res.FeedsAttempted, res.OK, res.NotModified)
		fmt.Printf("  New articles: %d\n", res.Inserted)
		fmt.Printf("  Already stored: %d\n", res.Existing)
		fmt.Printf("  Too old: %d\n", res.Stale)
		fmt.Printf("  Discarded: %d\n", res.Discarded)
		fmt.Printf("  Errors: %d\n", res.Errors)
		fmt.Printf("  Took: %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
		return nil
	},
}

// --- serve command ---

var (
	servePort int
	pollEvery time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the news query API",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		srv, err := server.New(db, server.Options{
			Sources:      cfg.Sources,
			DefaultLimit: cfg.Server.DefaultLimit,
			MaxLimit:     cfg.Server.MaxLimit,
			CacheSeconds: cfg.Server.CacheSeconds,
		})
		if err != nil {
			return err
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		interval := cfg.Poller.Interval()
		if cmd.Flags().Changed("poll-every") {
			interval = pollEvery
		}

		ctx, stop := signalContext()
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.ListenAndServe(ctx, fmt.Sprintf("%s:%d", cfg.Server.Host, port))
		})
		if interval > 0 {
			p := newPoller(db)
			g.Go(func() error {
				err := p.Loop(ctx, interval)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to serve on")
	serveCmd.Flags().DurationVar(&pollEvery, "poll-every", 0, "Also poll in-process at this interval (e.g. 10m)")
}

// --- search command ---

var (
	searchTerm    string
	searchSources []string
	searchCats    []string
	searchLimit   int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Query stored articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		f := database.Filter{Sources: searchSources, Term: searchTerm, Limit: searchLimit}
		for _, c := range searchCats {
			id := category.ID(strings.ToLower(strings.TrimSpace(c)))
			if !category.Valid(id) {
				return fmt.Errorf("unknown category %q", c)
			}
			f.Categories = append(f.Categories, id)
		}

		articles, err := db.Query(cmd.Context(), f)
		if err != nil {
			return err
		}
		if len(articles) == 0 {
			fmt.Println("No matching articles.")
			return nil
		}
		for _, a := range articles {
			when := "          "
			if a.PublishedAt != nil {
				when = a.PublishedAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("%s  %-10s %-10s %s\n", when, a.SourceID, a.CategoryID, a.Title)
			fmt.Printf("%s  %s\n", strings.Repeat(" ", len(when)), a.URL)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchTerm, "query", "q", "", "Text to search for in titles and descriptions")
	searchCmd.Flags().StringSliceVar(&searchSources, "source", nil, "Limit to source ids (repeatable or comma-separated)")
	searchCmd.Flags().StringSliceVar(&searchCats, "cat", nil, "Limit to category ids (repeatable or comma-separated)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum number of results")
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show feed health and recent poll runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		text, err := report.Build(cmd.Context(), db, cfg.Sources, time.Now())
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	},
}

func newPoller(db *database.DB) *poller.Poller {
	f := fetch.New(fetch.Config{
		Timeout:   cfg.Poller.Timeout(),
		MaxBytes:  cfg.Poller.MaxBodyBytes,
		UserAgent: cfg.Poller.UserAgent,
		Limiter:   fetch.NewHostLimiter(cfg.Poller.HostInterval()),
	})
	return poller.New(poller.Options{
		Sources:    cfg.Sources,
		DB:         db,
		Fetcher:    f,
		Enricher:   fetch.NewEnricher(f, feedparse.MaxDescription),
		Classifier: classify.New(cfg.CategoryTerms()),
		Retention:  cfg.Poller.Retention(),
		Workers:    cfg.Poller.Workers,
		LockTTL:    cfg.Poller.LockTTL(),
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openDB() (*database.DB, error) {
	return database.Open(cfg.DBPath())
}
