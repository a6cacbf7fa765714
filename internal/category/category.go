// Package category defines the closed taxonomy every article is filed under.
package category

import "sort"

// ID identifies one taxonomy entry.
type ID string

const (
	Domestic     ID = "innlent"
	Foreign      ID = "erlent"
	Sports       ID = "ithrottir"
	Business     ID = "vidskipti"
	Culture      ID = "menning"
	Opinion      ID = "skodun"
	Technology   ID = "taekni"
	Health       ID = "heilsa"
	Environment  ID = "umhverfi"
	Science      ID = "visindi"
	Unclassified ID = "oflokkad"
)

// ordered in display order; Unclassified is always last.
var ordered = []ID{
	Domestic, Foreign, Sports, Business, Culture, Opinion,
	Technology, Health, Environment, Science, Unclassified,
}

var labels = map[ID]string{
	Domestic:     "Innlent",
	Foreign:      "Erlent",
	Sports:       "Íþróttir",
	Business:     "Viðskipti",
	Culture:      "Menning",
	Opinion:      "Skoðun",
	Technology:   "Tækni",
	Health:       "Heilsa",
	Environment:  "Umhverfi",
	Science:      "Vísindi",
	Unclassified: "Óflokkað",
}

var rank = func() map[ID]int {
	m := make(map[ID]int, len(ordered))
	for i, id := range ordered {
		m[id] = i
	}
	return m
}()

// All returns every category id in display order.
func All() []ID {
	out := make([]ID, len(ordered))
	copy(out, ordered)
	return out
}

// Valid reports whether id belongs to the taxonomy.
func Valid(id ID) bool {
	_, ok := labels[id]
	return ok
}

// Label returns the display label for id, or the id itself when unknown.
func Label(id ID) string {
	if l, ok := labels[id]; ok {
		return l
	}
	return string(id)
}

// Sort orders ids by taxonomy display order in place. Unknown ids sort last.
func Sort(ids []ID) {
	sort.SliceStable(ids, func(i, j int) bool {
		ri, ok := rank[ids[i]]
		if !ok {
			ri = len(ordered)
		}
		rj, ok := rank[ids[j]]
		if !ok {
			rj = len(ordered)
		}
		return ri < rj
	})
}
