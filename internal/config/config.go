package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/newsdesk/internal/category"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources []Source `yaml:"sources"`
	Poller  Poller   `yaml:"poller"`
	Server  Server   `yaml:"server"`
	Output  Output   `yaml:"output"`
	Logging Logging  `yaml:"logging"`
}

// Source is one publisher. It is immutable once loaded.
type Source struct {
	ID    string   `yaml:"id"`
	Label string   `yaml:"label"`
	Feeds []string `yaml:"feeds"`

	// Hosts are compared without a leading "www.".
	AllowHosts []string `yaml:"allow_hosts"`
	DenyHosts  []string `yaml:"deny_hosts"`

	// ForceCategory replaces the unclassified bucket for this source.
	ForceCategory string `yaml:"force_category"`

	// EnrichDescriptions fetches article pages for entries without a
	// description.
	EnrichDescriptions bool `yaml:"enrich_descriptions"`

	// CategoryTerms adds feed term synonyms for this source.
	CategoryTerms map[string]string `yaml:"category_terms"`
}

type Poller struct {
	RetentionDays   int    `yaml:"retention_days"`
	Workers         int    `yaml:"workers"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	MaxBodyBytes    int64  `yaml:"max_body_bytes"`
	UserAgent       string `yaml:"user_agent"`
	HostIntervalMS  int    `yaml:"host_interval_ms"`
	LockTTLMinutes  int    `yaml:"lock_ttl_minutes"`
	IntervalMinutes int    `yaml:"interval_minutes"`
}

type Server struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	DefaultLimit int    `yaml:"default_limit"`
	MaxLimit     int    `yaml:"max_limit"`
	CacheSeconds int    `yaml:"cache_seconds"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for newsdesk.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "newsdesk")
}

// DataDir returns the XDG data directory for newsdesk.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "newsdesk")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/newsdesk/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'newsdesk init' to create a default config",
		xdgConfig,
	)
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Poller: Poller{
			RetentionDays:  14,
			Workers:        4,
			TimeoutSeconds: 20,
			MaxBodyBytes:   5 << 20,
			UserAgent:      "newsdesk/1.0 (+news aggregator)",
			HostIntervalMS: 500,
			LockTTLMinutes: 15,
		},
		Server: Server{
			Host:         "127.0.0.1",
			Port:         8000,
			DefaultLimit: 30,
			MaxLimit:     200,
			CacheSeconds: 60,
		},
		Logging: Logging{Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the poller cannot run with.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("source %d: missing id", i))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("source %s: duplicate id", s.ID))
		}
		seen[s.ID] = true

		if len(s.Feeds) == 0 {
			errs = append(errs, fmt.Errorf("source %s: no feeds", s.ID))
		}
		for _, f := range s.Feeds {
			u, err := url.Parse(f)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				errs = append(errs, fmt.Errorf("source %s: malformed feed url %q", s.ID, f))
			}
		}
		if s.ForceCategory != "" && !category.Valid(category.ID(s.ForceCategory)) {
			errs = append(errs, fmt.Errorf("source %s: unknown force_category %q", s.ID, s.ForceCategory))
		}
		for term, id := range s.CategoryTerms {
			if !category.Valid(category.ID(id)) {
				errs = append(errs, fmt.Errorf("source %s: term %q maps to unknown category %q", s.ID, term, id))
			}
		}
	}
	if c.Server.MaxLimit < 1 {
		errs = append(errs, errors.New("server.max_limit must be positive"))
	}
	return errors.Join(errs...)
}

// DisplayLabel returns the label, or the id when no label is set.
func (s Source) DisplayLabel() string {
	if s.Label != "" {
		return s.Label
	}
	return s.ID
}

// Force returns the forced category, or "" when none is configured.
func (s Source) Force() category.ID {
	return category.ID(s.ForceCategory)
}

// CategoryTerms returns the per-source term tables keyed by source id.
func (c *Config) CategoryTerms() map[string]map[string]category.ID {
	out := make(map[string]map[string]category.ID)
	for _, s := range c.Sources {
		if len(s.CategoryTerms) == 0 {
			continue
		}
		m := make(map[string]category.ID, len(s.CategoryTerms))
		for term, id := range s.CategoryTerms {
			m[term] = category.ID(strings.TrimSpace(id))
		}
		out[s.ID] = m
	}
	return out
}

// SourceByID returns the source with id.
func (c *Config) SourceByID(id string) (Source, bool) {
	for _, s := range c.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}

// Retention is the publication age past which entries are not ingested.
func (p Poller) Retention() time.Duration {
	return time.Duration(p.RetentionDays) * 24 * time.Hour
}

func (p Poller) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

func (p Poller) HostInterval() time.Duration {
	return time.Duration(p.HostIntervalMS) * time.Millisecond
}

func (p Poller) LockTTL() time.Duration {
	return time.Duration(p.LockTTLMinutes) * time.Minute
}

// Interval is the in-process poll interval; zero leaves scheduling to an
// external trigger.
func (p Poller) Interval() time.Duration {
	return time.Duration(p.IntervalMinutes) * time.Minute
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath is the SQLite file inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "newsdesk.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
