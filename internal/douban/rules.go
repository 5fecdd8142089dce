package douban

import "regexp"

// Rule declares how one logical field is pulled out of a document: a CSS
// selector path, the attribute to read (text content when empty), an optional
// regex whose first capture group post-filters the raw value, and the value
// used when nothing matches. When several DOM nodes match the selector the
// first one wins.
type Rule struct {
	Selector string
	Attr     string
	Pattern  *regexp.Regexp
	Default  string
}

// RuleSet maps logical field names to extraction rules for every page kind.
// It is built once at startup and is read-only afterwards; parsers receive it
// by shared reference.
type RuleSet struct {
	// Search results live under the first result list; each item rule is
	// applied relative to one result node.
	SearchRoot string
	SearchItem string
	Search     map[string]Rule

	MovieRoot string
	Movie     map[string]Rule

	CastRoot string
	CastItem string
	Cast     map[string]Rule

	CelebrityRoot string
	Celebrity     map[string]Rule
}

// DefaultRules builds the rule tables for the current upstream markup.
func DefaultRules() *RuleSet {
	return &RuleSet{
		SearchRoot: "div.result-list",
		SearchItem: ".result",
		Search: map[string]Rule{
			"cat":    {Selector: "div.title>h3>span", Pattern: regexp.MustCompile(`\[(.+?)\]`)},
			"sid":    {Selector: "div.title a", Attr: "onclick", Pattern: regexp.MustCompile(`sid: (\d+?),`)},
			"name":   {Selector: "div.title a"},
			"rating": {Selector: "div.rating-info>.rating_nums"},
			"img":    {Selector: "a.nbg>img", Attr: "src"},
			// The subject-cast line ends with the release year after the
			// last slash.
			"year": {Selector: "div.rating-info>.subject-cast", Pattern: regexp.MustCompile(`([^/]*)$`)},
		},

		MovieRoot: "#content",
		Movie: map[string]Rule{
			"name":   {Selector: "h1>span:first-child"},
			"year":   {Selector: "h1>span.year", Pattern: regexp.MustCompile(`\((\d+?)\)`)},
			"rating": {Selector: "div.rating_self strong.rating_num"},
			"img":    {Selector: "a.nbgnbg>img", Attr: "src"},
			"intro":  {Selector: "div.indent>span"},

			// The #info block is a single text blob with one labelled line
			// per field.
			"director": {Selector: "#info", Pattern: regexp.MustCompile(`(?m)导演: (.+?)$`)},
			"writer":   {Selector: "#info", Pattern: regexp.MustCompile(`(?m)编剧: (.+?)$`)},
			"actor":    {Selector: "#info", Pattern: regexp.MustCompile(`(?m)主演: (.+?)$`)},
			"genre":    {Selector: "#info", Pattern: regexp.MustCompile(`(?m)类型: (.+?)$`)},
			"site":     {Selector: "#info", Pattern: regexp.MustCompile(`(?m)官方网站: (.+?)$`)},
			"country":  {Selector: "#info", Pattern: regexp.MustCompile(`(?m)制片国家/地区: (.+?)$`)},
			"language": {Selector: "#info", Pattern: regexp.MustCompile(`(?m)语言: (.+?)$`)},
			"screen":   {Selector: "#info", Pattern: regexp.MustCompile(`(?m)上映日期: (.+?)$`)},
			"duration": {Selector: "#info", Pattern: regexp.MustCompile(`(?m)片长: (.+?)$`)},
			"subname":  {Selector: "#info", Pattern: regexp.MustCompile(`(?m)又名: (.+?)$`)},
			"imdb":     {Selector: "#info", Pattern: regexp.MustCompile(`(?m)IMDb: (.+?)$`)},
		},

		CastRoot: "#content",
		CastItem: "ul.celebrities-list li.celebrity",
		Cast: map[string]Rule{
			"id":   {Selector: "div.info a.name", Attr: "href", Pattern: regexp.MustCompile(`/(\d+?)/`)},
			"img":  {Selector: "div.avatar", Attr: "style", Pattern: regexp.MustCompile(`url\((.+?)\)`)},
			"name": {Selector: "div.info a.name"},
			"role": {Selector: "div.info span.role"},
		},

		CelebrityRoot: "#content",
		Celebrity: map[string]Rule{
			"name":           {Selector: "h1"},
			"img":            {Selector: "a.nbg>img", Attr: "src"},
			"intro":          {Selector: "#intro span.short"},
			"intro_fallback": {Selector: "#intro div.bd"},

			"gender":        {Selector: "div.info", Pattern: regexp.MustCompile(`(?m)性别:\s*(.+?)$`)},
			"constellation": {Selector: "div.info", Pattern: regexp.MustCompile(`(?m)星座:\s*(.+?)$`)},
			"birthdate":     {Selector: "div.info", Pattern: regexp.MustCompile(`(?m)出生日期:\s*(.+?)$`)},
			"birthplace":    {Selector: "div.info", Pattern: regexp.MustCompile(`(?m)出生地:\s*(.+?)$`)},
			"role":          {Selector: "div.info", Pattern: regexp.MustCompile(`(?m)职业:\s*(.+?)$`)},
			"nickname":      {Selector: "div.info", Pattern: regexp.MustCompile(`(?m)更多外文名:\s*(.+?)$`)},
			"family":        {Selector: "div.info", Pattern: regexp.MustCompile(`(?m)家庭成员:\s*(.+?)$`)},
			"imdb":          {Selector: "div.info", Pattern: regexp.MustCompile(`(?m)imdb编号:\s*(.+?)$`)},
		},
	}
}
