// Package classify maps a candidate article onto the category taxonomy.
//
// Classification is a priority chain of stages. Each stage is an ordered
// list of pure rules and the first rule that matches decides the category:
//
//  1. source and host hints for outlets whose section URLs are unambiguous
//  2. feed category terms, looked up per source first and then in a shared table
//  3. generic URL path segments
//  4. keyword prefixes in the title, then the term text, then the description
//  5. the unclassified bucket
package classify

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/TobiSchelling/newsdesk/internal/category"
	"github.com/TobiSchelling/newsdesk/internal/textutil"
)

// Stage identifies which step of the chain produced a category.
type Stage int

const (
	StageHostHint Stage = iota + 1
	StageTerms
	StagePath
	StageKeyword
	StageDefault
)

func (s Stage) String() string {
	switch s {
	case StageHostHint:
		return "host-hint"
	case StageTerms:
		return "terms"
	case StagePath:
		return "path"
	case StageKeyword:
		return "keyword"
	case StageDefault:
		return "default"
	}
	return "unknown"
}

// Input is everything the classifier looks at.
type Input struct {
	SourceID    string
	URL         string
	Terms       []string
	Title       string
	Description string
}

// candidate is Input folded once so rules can compare cheaply.
type candidate struct {
	source    string
	host      string
	path      string
	segments  []string
	terms     []string
	titleWord []string
	termWord  []string
	descWord  []string
}

func prepare(in Input) *candidate {
	c := &candidate{source: in.SourceID}

	if u, err := url.Parse(strings.TrimSpace(in.URL)); err == nil {
		c.host = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		c.path = strings.TrimRight(textutil.Fold(u.Path), "/")
		for _, seg := range strings.Split(c.path, "/") {
			if seg != "" {
				c.segments = append(c.segments, seg)
			}
		}
	}

	for _, t := range in.Terms {
		if f := normalizeTerm(t); f != "" {
			c.terms = append(c.terms, f)
		}
	}
	c.titleWord = words(in.Title)
	c.termWord = words(strings.Join(in.Terms, " "))
	c.descWord = words(in.Description)
	return c
}

func normalizeTerm(s string) string {
	return textutil.CollapseWhitespace(textutil.Fold(s))
}

func words(s string) []string {
	return strings.FieldsFunc(textutil.Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// rule is one pure predicate of a stage.
type rule interface {
	match(c *candidate) (category.ID, bool)
}

type stage struct {
	id    Stage
	rules []rule
}

// Classifier holds the rule tables. It is safe for concurrent use.
type Classifier struct {
	stages []stage
}

// New builds a classifier from the built-in tables. extraTerms adds or
// overrides per-source term synonyms, keyed by source id and then by term;
// terms are folded before use.
func New(extraTerms map[string]map[string]category.ID) *Classifier {
	perSource := make(map[string]map[string]category.ID, len(sourceTerms)+len(extraTerms))
	for src, terms := range sourceTerms {
		perSource[src] = foldTable(terms)
	}
	for src, terms := range extraTerms {
		if perSource[src] == nil {
			perSource[src] = make(map[string]category.ID, len(terms))
		}
		for term, id := range foldTable(terms) {
			perSource[src][term] = id
		}
	}

	return &Classifier{stages: []stage{
		{StageHostHint, hostRulesAsRules(hostRules)},
		{StageTerms, []rule{sourceTermRule{tables: perSource}, sharedTermRule{table: foldTable(sharedTerms())}}},
		{StagePath, []rule{segmentRule{table: pathSegments}}},
		{StageKeyword, keywordStage(keywordRules)},
	}}
}

// Classify returns the category for in. It always returns an id from the
// taxonomy.
func (cl *Classifier) Classify(in Input) category.ID {
	id, _ := cl.Explain(in)
	return id
}

// Explain is Classify that also reports which stage decided.
func (cl *Classifier) Explain(in Input) (category.ID, Stage) {
	c := prepare(in)
	for _, st := range cl.stages {
		for _, r := range st.rules {
			if id, ok := r.match(c); ok {
				return id, st.id
			}
		}
	}
	return category.Unclassified, StageDefault
}

func foldTable(m map[string]category.ID) map[string]category.ID {
	out := make(map[string]category.ID, len(m))
	for k, v := range m {
		if !category.Valid(v) {
			continue
		}
		out[normalizeTerm(k)] = v
	}
	return out
}

// hostRule matches an outlet's own section URLs. An empty source, host or
// pathPrefix matches anything.
type hostRule struct {
	source     string
	host       string
	pathPrefix string
	category   category.ID
}

func (r hostRule) match(c *candidate) (category.ID, bool) {
	if r.source != "" && r.source != c.source {
		return "", false
	}
	if r.host != "" && c.host != r.host && !strings.HasSuffix(c.host, "."+r.host) {
		return "", false
	}
	if r.pathPrefix != "" && c.path != r.pathPrefix && !strings.HasPrefix(c.path, r.pathPrefix+"/") {
		return "", false
	}
	return r.category, true
}

func hostRulesAsRules(rs []hostRule) []rule {
	out := make([]rule, len(rs))
	for i, r := range rs {
		out[i] = r
	}
	return out
}

// sourceTermRule looks feed terms up in the table of the article's source.
type sourceTermRule struct {
	tables map[string]map[string]category.ID
}

func (r sourceTermRule) match(c *candidate) (category.ID, bool) {
	return lookupTerms(r.tables[c.source], c.terms)
}

type sharedTermRule struct {
	table map[string]category.ID
}

func (r sharedTermRule) match(c *candidate) (category.ID, bool) {
	return lookupTerms(r.table, c.terms)
}

// lookupTerms tries each term whole and then its hierarchy parts, deepest
// first ("Fréttir > Erlent" -> "erlent", "frettir").
func lookupTerms(table map[string]category.ID, terms []string) (category.ID, bool) {
	if len(table) == 0 {
		return "", false
	}
	for _, t := range terms {
		if id, ok := table[t]; ok {
			return id, true
		}
		parts := strings.FieldsFunc(t, func(r rune) bool { return r == '/' || r == '>' || r == '|' })
		for i := len(parts) - 1; i >= 0; i-- {
			if id, ok := table[strings.TrimSpace(parts[i])]; ok {
				return id, true
			}
		}
	}
	return "", false
}

// segmentRule matches the first URL path segment that names a section.
type segmentRule struct {
	table map[string]category.ID
}

func (r segmentRule) match(c *candidate) (category.ID, bool) {
	for _, seg := range c.segments {
		if id, ok := r.table[seg]; ok {
			return id, true
		}
	}
	return "", false
}

// keywordRule matches when any word in the field starts with one of the
// folded keyword stems. Stems absorb Icelandic inflection.
type keywordRule struct {
	category category.ID
	stems    []string
	field    func(c *candidate) []string
}

func (r keywordRule) match(c *candidate) (category.ID, bool) {
	for _, w := range r.field(c) {
		for _, s := range r.stems {
			if strings.HasPrefix(w, s) {
				return r.category, true
			}
		}
	}
	return "", false
}

// keywordStage expands the keyword table into rules over the title, then
// the term text, then the description.
func keywordStage(table []keywordSet) []rule {
	fields := []func(c *candidate) []string{
		func(c *candidate) []string { return c.titleWord },
		func(c *candidate) []string { return c.termWord },
		func(c *candidate) []string { return c.descWord },
	}
	var out []rule
	for _, f := range fields {
		for _, ks := range table {
			out = append(out, keywordRule{category: ks.category, stems: ks.stems, field: f})
		}
	}
	return out
}
