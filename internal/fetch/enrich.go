package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/newsdesk/internal/textutil"
)

// minExcerpt is the shortest extracted text worth keeping.
const minExcerpt = 80

// Enricher fetches an article page and extracts a plain-text excerpt for
// feeds that ship titles only.
type Enricher struct {
	fetcher *Fetcher
	maxLen  int
}

// NewEnricher creates an Enricher that shares f's client and host limiter.
func NewEnricher(f *Fetcher, maxLen int) *Enricher {
	return &Enricher{fetcher: f, maxLen: maxLen}
}

// Excerpt returns the leading text of the article at articleURL, or "" when
// nothing readable was found.
func (e *Enricher) Excerpt(ctx context.Context, articleURL string) (string, error) {
	u, err := url.Parse(articleURL)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", articleURL, err)
	}

	resp, err := e.fetcher.Fetch(ctx, articleURL, Validators{})
	if err != nil {
		return "", err
	}

	article, err := readability.FromReader(bytes.NewReader(resp.Body), u)
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", articleURL, err)
	}

	text := textutil.CollapseWhitespace(article.TextContent)
	if len([]rune(text)) < minExcerpt {
		return "", nil
	}
	return textutil.Truncate(text, e.maxLen), nil
}
