package classify

import "github.com/TobiSchelling/newsdesk/internal/category"

// Stage 1: outlets whose section paths are unambiguous. Hosts are compared
// without a leading "www.".
var hostRules = []hostRule{
	{source: "vb", category: category.Business},
	{host: "433.is", category: category.Sports},

	{source: "ruv", host: "ruv.is", pathPrefix: "/frettir/innlent", category: category.Domestic},
	{source: "ruv", host: "ruv.is", pathPrefix: "/frettir/erlent", category: category.Foreign},
	{source: "ruv", host: "ruv.is", pathPrefix: "/ithrottir", category: category.Sports},
	{source: "ruv", host: "ruv.is", pathPrefix: "/menning-og-daegurmal", category: category.Culture},
	{source: "ruv", host: "ruv.is", pathPrefix: "/frettir/vidskipti", category: category.Business},

	{source: "mbl", host: "mbl.is", pathPrefix: "/frettir/innlent", category: category.Domestic},
	{source: "mbl", host: "mbl.is", pathPrefix: "/frettir/erlent", category: category.Foreign},
	{source: "mbl", host: "mbl.is", pathPrefix: "/frettir/taekni", category: category.Technology},
	{source: "mbl", host: "mbl.is", pathPrefix: "/sport", category: category.Sports},
	{source: "mbl", host: "mbl.is", pathPrefix: "/vidskipti", category: category.Business},
	{source: "mbl", host: "mbl.is", pathPrefix: "/smartland", category: category.Culture},
	{source: "mbl", host: "mbl.is", pathPrefix: "/folk", category: category.Culture},

	{source: "dv", host: "dv.is", pathPrefix: "/pressan", category: category.Foreign},
	{source: "dv", host: "dv.is", pathPrefix: "/433", category: category.Sports},
	{source: "dv", host: "dv.is", pathPrefix: "/fokus", category: category.Culture},
	{source: "dv", host: "dv.is", pathPrefix: "/eyjan", category: category.Opinion},
}

// Stage 2, per source. The same word can mean different sections at
// different outlets.
var sourceTerms = map[string]map[string]category.ID{
	"mbl": {
		"Fólk":          category.Culture,
		"Smartland":     category.Culture,
		"200 mílur":     category.Business,
		"K100":          category.Culture,
		"Matur":         category.Culture,
		"Ferðalög":      category.Culture,
		"Bílar":         category.Technology,
		"Fréttir":       category.Domestic,
		"Sport":         category.Sports,
		"Enski boltinn": category.Sports,
	},
	"vb": {
		"Fólk":           category.Business,
		"Fréttir":        category.Business,
		"Markaðir":       category.Business,
		"Frjáls verslun": category.Business,
	},
	"dv": {
		"Pressan": category.Foreign,
		"Fókus":   category.Culture,
		"Eyjan":   category.Opinion,
		"433":     category.Sports,
		"Fréttir": category.Domestic,
	},
	"visir": {
		"Lífið":             category.Culture,
		"Fréttir":           category.Domestic,
		"Innlent":           category.Domestic,
		"Sport":             category.Sports,
		"Viðskipti innlent": category.Business,
		"Viðskipti erlent":  category.Business,
		"Skoðun":            category.Opinion,
	},
	"heimildin": {
		"Fréttir":  category.Domestic,
		"Viðtal":   category.Culture,
		"Pistill":  category.Opinion,
		"Rannsókn": category.Domestic,
	},
}

// Stage 2, shared by every source. Every category label and id is added on
// top of this list.
var sharedTermList = map[string]category.ID{
	"Innlendar fréttir": category.Domestic,
	"Innanlands":        category.Domestic,
	"Erlendar fréttir":  category.Foreign,
	"Útlönd":            category.Foreign,
	"Heimurinn":         category.Foreign,
	"Sport":             category.Sports,
	"Fótbolti":          category.Sports,
	"Handbolti":         category.Sports,
	"Körfubolti":        category.Sports,
	"Enski boltinn":     category.Sports,
	"Golf":              category.Sports,
	"Efnahagsmál":       category.Business,
	"Atvinnulíf":        category.Business,
	"Markaðir":          category.Business,
	"Listir":            category.Culture,
	"Tónlist":           category.Culture,
	"Kvikmyndir":        category.Culture,
	"Bækur":             category.Culture,
	"Leikhús":           category.Culture,
	"Lífið":             category.Culture,
	"Pistlar":           category.Opinion,
	"Pistill":           category.Opinion,
	"Leiðari":           category.Opinion,
	"Aðsendar greinar":  category.Opinion,
	"Aðsent":            category.Opinion,
	"Tæknifréttir":      category.Technology,
	"Tölvuleikir":       category.Technology,
	"Heilbrigðismál":    category.Health,
	"Lýðheilsa":         category.Health,
	"Loftslagsmál":      category.Environment,
	"Náttúra":           category.Environment,
	"Náttúruvá":         category.Environment,
	"Vísindi og tækni":  category.Science,
	"Geimurinn":         category.Science,
}

func sharedTerms() map[string]category.ID {
	out := make(map[string]category.ID, len(sharedTermList)+2*len(category.All()))
	for k, v := range sharedTermList {
		out[k] = v
	}
	for _, id := range category.All() {
		if id == category.Unclassified {
			continue
		}
		out[string(id)] = id
		out[category.Label(id)] = id
	}
	return out
}

// Stage 3: folded path segments naming a section.
var pathSegments = map[string]category.ID{
	"innlent":          category.Domestic,
	"innlendar":        category.Domestic,
	"erlent":           category.Foreign,
	"erlendar":         category.Foreign,
	"ithrottir":        category.Sports,
	"sport":            category.Sports,
	"fotbolti":         category.Sports,
	"handbolti":        category.Sports,
	"korfubolti":       category.Sports,
	"vidskipti":        category.Business,
	"efnahagsmal":      category.Business,
	"menning":          category.Culture,
	"lifid":            category.Culture,
	"tonlist":          category.Culture,
	"skodun":           category.Opinion,
	"pistlar":          category.Opinion,
	"leidarar":         category.Opinion,
	"adsendar-greinar": category.Opinion,
	"taekni":           category.Technology,
	"heilsa":           category.Health,
	"umhverfi":         category.Environment,
	"loftslagsmal":     category.Environment,
	"visindi":          category.Science,
}

type keywordSet struct {
	category category.ID
	stems    []string
}

// Stage 4: folded word stems. Earlier sets win; the broad domestic set is
// last.
var keywordRules = []keywordSet{
	{category.Sports, []string{
		"fotbolt", "handbolt", "korfubolt", "landslid", "leikmad", "knattspyrn",
		"urvalsdeild", "meistaradeild", "olympiu", "heimsmeistaram", "jafntefl",
	}},
	{category.Business, []string{
		"hlutabref", "verdbolg", "styrivext", "sedlabank", "kauphall", "gengi",
		"fjarfest", "hagnad", "uppgjor", "gjaldthrot", "hagvoxt",
	}},
	{category.Culture, []string{
		"tonleik", "kvikmynd", "leikhus", "listasafn", "hljomsveit", "rithofund",
		"myndlist", "eurovision", "leikkon", "leikar",
	}},
	{category.Opinion, []string{"pistil", "leidar", "skodun", "adsend"}},
	{category.Technology, []string{
		"gervigreind", "tolvu", "snjallsim", "netoryggi", "tolvuarras", "hugbunad",
		"apple", "google", "microsoft", "openai",
	}},
	{category.Health, []string{
		"sjukrahus", "landspital", "heilsu", "heilbrigd", "laekn", "bolusetn",
		"sjukdom", "heilsugaesl",
	}},
	{category.Environment, []string{
		"loftslag", "eldgos", "jokul", "mengun", "losun", "natturuv", "skograekt",
	}},
	{category.Science, []string{
		"visindamen", "rannsakend", "geimfar", "geimur", "nasa", "fornleif", "erfdaefn",
	}},
	{category.Foreign, []string{
		"bandarik", "russland", "russnesk", "ukrain", "evropusamband", "kina",
		"trump", "putin", "nato", "gaza", "israel",
	}},
	{category.Domestic, []string{
		"althing", "logregl", "rikisstjorn", "reykjavik", "sveitarfelag",
		"borgarstjorn", "akureyr", "landhelgisgaesl", "slokkvilid",
	}},
}
