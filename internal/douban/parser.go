package douban

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// movieCategory is the search-result category kept by ParseSearch; the
// upstream mixes books, music and TV into the same result list.
const movieCategory = "电影"

// castRoles are the cast-page roles worth keeping, in upstream terms:
// director, voice actor and actor.
var castRoles = map[string]struct{}{
	"导演": {},
	"配音": {},
	"演员": {},
}

// maxCastEntries caps the cast list the same way the upstream pages are
// paginated.
const maxCastEntries = 15

// extract applies one rule to a selection scope. The first matching node
// wins; a selector or pattern miss yields the rule's default.
func extract(scope *goquery.Selection, r Rule) string {
	node := scope.Find(r.Selector).First()
	var raw string
	if r.Attr != "" {
		raw, _ = node.Attr(r.Attr)
	} else {
		raw = node.Text()
	}
	if raw == "" {
		return r.Default
	}
	if r.Pattern != nil {
		m := r.Pattern.FindStringSubmatch(raw)
		if m == nil {
			return r.Default
		}
		raw = m[1]
	}
	return raw
}

func loadDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return doc, nil
}

// firstToken returns the first whitespace-separated token of s. Cast names
// and roles carry translated variants after the original on the same line.
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ParseSearch extracts the search result rows in document order. Rows missing
// their sid or title are skipped, and rows outside the movie category are
// dropped. Zero rows is a legitimate, cacheable result.
func ParseSearch(body []byte, rs *RuleSet) ([]MovieSummary, error) {
	doc, err := loadDocument(body)
	if err != nil {
		return nil, err
	}

	results := []MovieSummary{}
	doc.Find(rs.SearchRoot).First().Find(rs.SearchItem).Each(func(_ int, node *goquery.Selection) {
		m := MovieSummary{
			Cat:    extract(node, rs.Search["cat"]),
			SID:    extract(node, rs.Search["sid"]),
			Name:   extract(node, rs.Search["name"]),
			Rating: extract(node, rs.Search["rating"]),
			Img:    extract(node, rs.Search["img"]),
			Year:   strings.TrimSpace(extract(node, rs.Search["year"])),
		}
		if m.SID == "" || m.Name == "" {
			return
		}
		if m.Cat != movieCategory {
			return
		}
		results = append(results, m)
	})
	return results, nil
}

// ParseMovie extracts a movie detail page. Name is required; every other
// field falls back to its rule default. The sid comes from the request, not
// the page.
func ParseMovie(body []byte, sid string, rs *RuleSet) (*MovieDetail, error) {
	doc, err := loadDocument(body)
	if err != nil {
		return nil, err
	}
	root := doc.Find(rs.MovieRoot)

	name := strings.TrimSpace(extract(root, rs.Movie["name"]))
	if name == "" {
		return nil, &MissingFieldError{Field: "name"}
	}
	if sid == "" {
		return nil, &MissingFieldError{Field: "sid"}
	}

	intro := strings.TrimSpace(extract(root, rs.Movie["intro"]))
	intro = strings.ReplaceAll(intro, "©豆瓣", "")

	return &MovieDetail{
		SID:         sid,
		Name:        name,
		Rating:      extract(root, rs.Movie["rating"]),
		Img:         extract(root, rs.Movie["img"]),
		Year:        extract(root, rs.Movie["year"]),
		Intro:       intro,
		Director:    extract(root, rs.Movie["director"]),
		Writer:      extract(root, rs.Movie["writer"]),
		Actor:       extract(root, rs.Movie["actor"]),
		Genre:       extract(root, rs.Movie["genre"]),
		Site:        extract(root, rs.Movie["site"]),
		Country:     extract(root, rs.Movie["country"]),
		Language:    extract(root, rs.Movie["language"]),
		Screen:      extract(root, rs.Movie["screen"]),
		Duration:    extract(root, rs.Movie["duration"]),
		Subname:     extract(root, rs.Movie["subname"]),
		IMDB:        extract(root, rs.Movie["imdb"]),
		Celebrities: []CastMember{},
	}, nil
}

// ParseCelebrities extracts the cast page in document order, keeping only
// director/voice/actor roles and at most maxCastEntries entries. Entries
// missing their id or name are skipped.
func ParseCelebrities(body []byte, rs *RuleSet) ([]CastMember, error) {
	doc, err := loadDocument(body)
	if err != nil {
		return nil, err
	}

	cast := []CastMember{}
	doc.Find(rs.CastRoot).Find(rs.CastItem).Each(func(_ int, node *goquery.Selection) {
		if len(cast) >= maxCastEntries {
			return
		}
		member := CastMember{
			ID:   extract(node, rs.Cast["id"]),
			Img:  extract(node, rs.Cast["img"]),
			Name: firstToken(extract(node, rs.Cast["name"])),
			Role: firstToken(extract(node, rs.Cast["role"])),
		}
		if member.ID == "" || member.Name == "" {
			return
		}
		if _, ok := castRoles[member.Role]; !ok {
			return
		}
		cast = append(cast, member)
	})
	return cast, nil
}

// ParseCelebrity extracts a celebrity detail page. Name is required; the
// short introduction falls back to the full biography block when absent.
func ParseCelebrity(body []byte, cid string, rs *RuleSet) (*CelebrityDetail, error) {
	doc, err := loadDocument(body)
	if err != nil {
		return nil, err
	}
	root := doc.Find(rs.CelebrityRoot)

	name := strings.TrimSpace(extract(root, rs.Celebrity["name"]))
	if name == "" {
		return nil, &MissingFieldError{Field: "name"}
	}
	if cid == "" {
		return nil, &MissingFieldError{Field: "id"}
	}

	intro := strings.TrimSpace(extract(root, rs.Celebrity["intro"]))
	if intro == "" {
		intro = strings.TrimSpace(extract(root, rs.Celebrity["intro_fallback"]))
	}

	return &CelebrityDetail{
		ID:            cid,
		Img:           extract(root, rs.Celebrity["img"]),
		Name:          name,
		Role:          strings.TrimSpace(extract(root, rs.Celebrity["role"])),
		Intro:         intro,
		Gender:        strings.TrimSpace(extract(root, rs.Celebrity["gender"])),
		Constellation: strings.TrimSpace(extract(root, rs.Celebrity["constellation"])),
		Birthdate:     strings.TrimSpace(extract(root, rs.Celebrity["birthdate"])),
		Birthplace:    strings.TrimSpace(extract(root, rs.Celebrity["birthplace"])),
		Nickname:      strings.TrimSpace(extract(root, rs.Celebrity["nickname"])),
		IMDB:          strings.TrimSpace(extract(root, rs.Celebrity["imdb"])),
		Family:        strings.TrimSpace(extract(root, rs.Celebrity["family"])),
	}, nil
}
