// Package canon canonicalizes article URLs so republished or re-shared
// links collapse onto one dedup key.
package canon

import (
	"net/url"
	"sort"
	"strings"

	"github.com/TobiSchelling/newsdesk/internal/textutil"
)

// trackingParams are dropped from the query string (compared lowercased).
// Every utm_* parameter is dropped as well.
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"gclsrc":  {},
	"dclid":   {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"igshid":  {},
	"yclid":   {},
	"_ga":     {},
	"_gl":     {},
	"_hsenc":  {},
	"_hsmi":   {},
	"mkt_tok": {},
	"ref_src": {},
	"cmpid":   {},
	"ocid":    {},
}

// IsTracking reports whether a query parameter name is click or campaign
// tracking noise.
func IsTracking(name string) bool {
	n := strings.ToLower(name)
	if strings.HasPrefix(n, "utm_") {
		return true
	}
	_, ok := trackingParams[n]
	return ok
}

type param struct {
	name, value string
}

// Canonicalize drops the fragment and tracking parameters, lowercases the
// host, strips the trailing slash from a non-root path and sorts the
// remaining query parameters by name and value. Input that is not an
// absolute http(s) URL is returned trimmed and otherwise untouched.
func Canonicalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return trimmed
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Host = strings.ToLower(u.Host)

	if u.Path != "" && u.Path != "/" {
		p := strings.TrimRight(u.Path, "/")
		if p == "" {
			p = "/"
		}
		u.Path = p
		if u.RawPath != "" {
			u.RawPath = strings.TrimRight(u.RawPath, "/")
		}
	}

	u.RawQuery = canonicalQuery(u.RawQuery)
	u.ForceQuery = false

	return u.String()
}

func canonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}

	var params []param
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		name = unescape(name)
		if name == "" || IsTracking(name) {
			continue
		}
		params = append(params, param{name: name, value: unescape(value)})
	}
	if len(params) == 0 {
		return ""
	}

	sort.Slice(params, func(i, j int) bool {
		if params[i].name != params[j].name {
			return params[i].name < params[j].name
		}
		return params[i].value < params[j].value
	})

	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

// unescape decodes a query component, keeping it verbatim when it is not
// valid percent-encoding.
func unescape(s string) string {
	if d, err := url.QueryUnescape(s); err == nil {
		return d
	}
	return s
}

// DedupKey derives the uniqueness key for a canonical URL. It is never
// displayed. Percent-encoding is undone first so an escaped and a literal
// non-ASCII path fold onto the same key.
func DedupKey(canonical string) string {
	if d, err := url.PathUnescape(canonical); err == nil {
		canonical = d
	}
	return textutil.Fold(canonical)
}
