// Package fetch performs conditional HTTP GETs for feeds and article pages.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/TobiSchelling/newsdesk/internal/textutil"
)

const (
	defaultTimeout   = 20 * time.Second
	defaultMaxBytes  = 5 << 20
	defaultUserAgent = "newsdesk/1.0 (+news aggregator)"
	maxRedirects     = 10
)

// Config configures a Fetcher. Zero values get defaults.
type Config struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	Limiter   *HostLimiter // nil disables per-host spacing
	Client    *http.Client // overrides the built-in client; tests use this
}

// Validators are the caching validators of a previous response.
type Validators struct {
	ETag         string
	LastModified string
}

// Response is what a fetch observed. Body is empty unless the status is 2xx.
type Response struct {
	Status       int
	ETag         string
	LastModified string
	Body         []byte
}

// StatusError reports a response that is neither 2xx nor 304.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// Fetcher issues GET requests with conditional headers.
type Fetcher struct {
	client    *http.Client
	limiter   *HostLimiter
	maxBytes  int64
	userAgent string
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		}
	}
	return &Fetcher{
		client:    client,
		limiter:   cfg.Limiter,
		maxBytes:  cfg.MaxBytes,
		userAgent: cfg.UserAgent,
	}
}

// Fetch GETs rawURL, sending If-None-Match and If-Modified-Since when v
// carries them. A 304 returns a Response and no error. Any other non-2xx
// status returns the Response together with a *StatusError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, v Validators) (*Response, error) {
	if err := f.limiter.Wait(ctx, textutil.Host(rawURL)); err != nil {
		return nil, fmt.Errorf("waiting for host slot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/html;q=0.8, */*;q=0.5")
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Modified-Since", v.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	out := &Response{
		Status:       resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}

	if resp.StatusCode == http.StatusNotModified {
		return out, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return out, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", f.maxBytes)
	}
	out.Body = body
	return out, nil
}
