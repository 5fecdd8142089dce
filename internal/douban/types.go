// Package douban defines the records scraped from the upstream movie site,
// the selector rules used to extract them, and the parsers that apply those
// rules to raw HTML.
package douban

// Kind identifies the upstream resource a request is about. It selects the
// request headers used by the fetcher and is part of the cache key.
type Kind int

const (
	KindSearch Kind = iota
	KindMovieBrief
	KindMovieFull
	KindCelebrities
	KindCelebrity
	KindPhoto
)

// String returns a stable short name, used in cache keys and metric labels.
func (k Kind) String() string {
	switch k {
	case KindSearch:
		return "search"
	case KindMovieBrief:
		return "movie_brief"
	case KindMovieFull:
		return "movie_full"
	case KindCelebrities:
		return "celebrities"
	case KindCelebrity:
		return "celebrity"
	case KindPhoto:
		return "photo"
	default:
		return "unknown"
	}
}

// Variant distinguishes a brief movie lookup from a full one that also
// scrapes the cast page.
type Variant int

const (
	VariantBrief Variant = iota
	VariantFull
)

func (v Variant) String() string {
	if v == VariantFull {
		return "full"
	}
	return "brief"
}

// Key identifies one cacheable unit of work. Keys compare by value; brief and
// full lookups of the same id are distinct entries.
type Key struct {
	Kind    Kind
	ID      string
	Variant Variant
}

func (k Key) String() string {
	return k.Kind.String() + ":" + k.ID + ":" + k.Variant.String()
}

// MovieSummary is one search result row.
type MovieSummary struct {
	Cat    string `json:"cat"`
	SID    string `json:"sid"`
	Name   string `json:"name"`
	Rating string `json:"rating"`
	Img    string `json:"img"`
	Year   string `json:"year"`
}

// MovieDetail is a movie page. Every field other than SID and Name is
// optional and defaults to the empty string when the page does not carry it.
// Celebrities stays empty unless the full variant was requested.
type MovieDetail struct {
	SID      string `json:"sid"`
	Name     string `json:"name"`
	Rating   string `json:"rating"`
	Img      string `json:"img"`
	Year     string `json:"year"`
	Intro    string `json:"intro"`
	Director string `json:"director"`
	Writer   string `json:"writer"`
	Actor    string `json:"actor"`
	Genre    string `json:"genre"`
	Site     string `json:"site"`
	Country  string `json:"country"`
	Language string `json:"language"`
	Screen   string `json:"screen"`
	Duration string `json:"duration"`
	Subname  string `json:"subname"`
	IMDB     string `json:"imdb"`

	Celebrities []CastMember `json:"celebrities"`

	// CastComplete reports whether the cast-page pass of a full lookup
	// succeeded. A failed pass degrades to an empty cast instead of failing
	// the movie lookup.
	CastComplete bool `json:"-"`
}

// CastMember is one entry of a movie's cast page.
type CastMember struct {
	ID   string `json:"id"`
	Img  string `json:"img"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// CelebrityDetail is a celebrity page. ID and Name are required; everything
// else defaults to the empty string.
type CelebrityDetail struct {
	ID            string `json:"id"`
	Img           string `json:"img"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	Intro         string `json:"intro"`
	Gender        string `json:"gender"`
	Constellation string `json:"constellation"`
	Birthdate     string `json:"birthdate"`
	Birthplace    string `json:"birthplace"`
	Nickname      string `json:"nickname"`
	IMDB          string `json:"imdb"`
	Family        string `json:"family"`
}

// Image is a fetched poster, streamed back to the client unparsed.
type Image struct {
	Data        []byte
	ContentType string
}
