// Package textutil holds the small text helpers shared by the ingestion
// pipeline: entity decoding, tag stripping, whitespace collapsing,
// diacritic folding and URL host extraction.
package textutil

import (
	"html"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// Letters that have no Unicode decomposition and would survive mark removal.
var letterReplacer = strings.NewReplacer(
	"ð", "d",
	"þ", "th",
	"æ", "ae",
	"ø", "o",
	"œ", "oe",
	"ß", "ss",
	"đ", "d",
	"ł", "l",
)

// DecodeEntities decodes HTML entities. Feeds regularly double-encode
// (&amp;amp;), so a second pass is applied when the first one changed
// something and entities remain.
func DecodeEntities(s string) string {
	for i := 0; i < 2; i++ {
		if !strings.Contains(s, "&") {
			return s
		}
		decoded := html.UnescapeString(s)
		if decoded == s {
			return s
		}
		s = decoded
	}
	return s
}

// StripTags removes markup and returns plain text with entities decoded.
// A space is inserted in front of every tag so adjacent block elements do
// not run together.
func StripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	s = strings.ReplaceAll(s, "<", " <")
	return html.UnescapeString(strictPolicy.Sanitize(s))
}

// CollapseWhitespace replaces every run of whitespace with a single space
// and trims both ends.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CleanText turns a feed field (possibly entity-encoded HTML) into a single
// line of plain text.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	return CollapseWhitespace(StripTags(DecodeEntities(s)))
}

// Fold lowercases s and removes diacritics so that "Íþróttir" and
// "ithrottir" compare equal.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	s = letterReplacer.Replace(strings.ToLower(s))

	// transform.Chain is stateful, build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Host returns the lowercased hostname of rawURL without port, or "" when
// rawURL has no host.
func Host(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// BareHost is Host with one leading "www." removed.
func BareHost(rawURL string) string {
	return strings.TrimPrefix(Host(rawURL), "www.")
}

// Truncate shortens s to at most n runes, cutting at the last word boundary
// when one is close and appending an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)[:n]
	cut := string(r)
	if i := strings.LastIndexByte(cut, ' '); i > len(cut)*4/5 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:-") + "…"
}
