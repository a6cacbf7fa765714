// Package feedparse turns a raw RSS or Atom document into flat entry blocks.
package feedparse

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/newsdesk/internal/textutil"
)

// MaxDescription is the rune limit applied to block descriptions.
const MaxDescription = 600

// Block is one feed entry with its sub-fields cleaned to plain text.
type Block struct {
	Title       string
	Link        string
	Published   *time.Time // nil when absent or unparseable
	Description string
	Categories  []string
}

// Parse extracts every entry of an RSS or Atom document. A feed without
// entries yields no blocks and no error; a body that is not a feed at all
// returns an error.
func Parse(body []byte) ([]Block, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	blocks := make([]Block, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		blocks = append(blocks, parseItem(item))
	}
	return blocks, nil
}

func parseItem(item *gofeed.Item) Block {
	b := Block{
		Title:      textutil.CleanText(item.Title),
		Link:       itemLink(item),
		Categories: itemCategories(item),
	}

	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		b.Published = &t
	} else if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		b.Published = &t
	}

	// Summaries are short and written for listings; full content is the fallback.
	desc := textutil.CleanText(item.Description)
	if desc == "" {
		desc = textutil.CleanText(item.Content)
	}
	b.Description = textutil.Truncate(desc, MaxDescription)

	return b
}

func itemLink(item *gofeed.Item) string {
	if l := strings.TrimSpace(item.Link); l != "" {
		return l
	}
	for _, l := range item.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	// RSS permalinks often live only in <guid>.
	guid := strings.TrimSpace(item.GUID)
	if strings.HasPrefix(guid, "http://") || strings.HasPrefix(guid, "https://") {
		return guid
	}
	return ""
}

func itemCategories(item *gofeed.Item) []string {
	raw := append([]string(nil), item.Categories...)
	if item.DublinCoreExt != nil {
		raw = append(raw, item.DublinCoreExt.Subject...)
	}

	var out []string
	seen := make(map[string]bool, len(raw))
	for _, c := range raw {
		c = textutil.CleanText(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
