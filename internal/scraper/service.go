// Package scraper orchestrates the fetch, parse and cache pipeline behind
// each logical operation of the HTTP API. Operations build a cache key and
// delegate to the cache's single-flight population; they never retry.
package scraper

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/opendouban/douban-api/internal/cache"
	"github.com/opendouban/douban-api/internal/douban"
	"github.com/opendouban/douban-api/internal/fetcher"
)

const (
	defaultBaseURL     = "https://movie.douban.com"
	defaultSearchURL   = "https://www.douban.com/search"
	defaultSearchLimit = 3
)

// Config holds the upstream endpoints and the default search result limit.
type Config struct {
	BaseURL     string
	SearchURL   string
	SearchLimit int
}

// Service implements the scraping operations on top of a fetcher, a rule set
// and the shared resource cache.
type Service struct {
	fetcher fetcher.Fetcher
	rules   *douban.RuleSet
	cache   *cache.Cache[douban.Key, any]
	cfg     Config
	logger  *zap.Logger
}

// New builds a Service. The rule set is shared, read-only state constructed
// once at startup.
func New(f fetcher.Fetcher, rules *douban.RuleSet, store *cache.Cache[douban.Key, any], cfg Config, logger *zap.Logger) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = defaultSearchURL
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = defaultSearchLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		fetcher: f,
		rules:   rules,
		cache:   store,
		cfg:     cfg,
		logger:  logger,
	}
}

// Search returns up to count movie summaries for q (the configured default
// when count is zero). An empty query and a query with no matches both yield
// an empty, cacheable result. The full, unlimited list is what gets cached so
// different counts share one entry.
func (s *Service) Search(ctx context.Context, q string, count int) ([]douban.MovieSummary, error) {
	if q == "" {
		return []douban.MovieSummary{}, nil
	}
	key := douban.Key{Kind: douban.KindSearch, ID: q, Variant: douban.VariantBrief}
	v, err := s.cache.GetOrPopulate(ctx, key, func(ctx context.Context) (any, error) {
		res, err := s.fetcher.Fetch(ctx, s.cfg.SearchURL+"?q="+url.QueryEscape(q), douban.KindSearch)
		if err != nil {
			return nil, err
		}
		list, err := douban.ParseSearch(res.Body, s.rules)
		if err != nil {
			return nil, err
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	results := v.([]douban.MovieSummary)
	limit := count
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SearchFull searches and resolves the match to its full movie detail. When
// the query matches more than one movie the first match wins.
func (s *Service) SearchFull(ctx context.Context, q string, count int) ([]douban.MovieDetail, error) {
	results, err := s.Search(ctx, q, count)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []douban.MovieDetail{}, nil
	}
	detail, err := s.Movie(ctx, results[0].SID, true)
	if err != nil {
		return nil, err
	}
	return []douban.MovieDetail{*detail}, nil
}

// Movie returns the detail page for sid. The full variant additionally
// scrapes the cast page and embeds it; a failed cast pass degrades to an
// empty cast with CastComplete unset instead of failing the lookup. Brief and
// full lookups are independent cache entries.
func (s *Service) Movie(ctx context.Context, sid string, full bool) (*douban.MovieDetail, error) {
	kind, variant := douban.KindMovieBrief, douban.VariantBrief
	if full {
		kind, variant = douban.KindMovieFull, douban.VariantFull
	}
	key := douban.Key{Kind: kind, ID: sid, Variant: variant}
	v, err := s.cache.GetOrPopulate(ctx, key, func(ctx context.Context) (any, error) {
		res, err := s.fetcher.Fetch(ctx, fmt.Sprintf("%s/subject/%s/", s.cfg.BaseURL, sid), kind)
		if err != nil {
			return nil, err
		}
		detail, err := douban.ParseMovie(res.Body, sid, s.rules)
		if err != nil {
			return nil, err
		}
		if full {
			cast, castErr := s.Celebrities(ctx, sid)
			if castErr != nil {
				s.logger.Warn("cast page unavailable",
					zap.String("sid", sid),
					zap.Error(castErr),
				)
			} else {
				detail.Celebrities = cast
				detail.CastComplete = true
			}
		}
		return detail, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*douban.MovieDetail), nil
}

// Celebrities returns the cast page for movie sid in document order.
func (s *Service) Celebrities(ctx context.Context, sid string) ([]douban.CastMember, error) {
	key := douban.Key{Kind: douban.KindCelebrities, ID: sid, Variant: douban.VariantBrief}
	v, err := s.cache.GetOrPopulate(ctx, key, func(ctx context.Context) (any, error) {
		res, err := s.fetcher.Fetch(ctx, fmt.Sprintf("%s/subject/%s/celebrities", s.cfg.BaseURL, sid), douban.KindCelebrities)
		if err != nil {
			return nil, err
		}
		cast, err := douban.ParseCelebrities(res.Body, s.rules)
		if err != nil {
			return nil, err
		}
		return cast, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]douban.CastMember), nil
}

// Celebrity returns the detail page for celebrity cid.
func (s *Service) Celebrity(ctx context.Context, cid string) (*douban.CelebrityDetail, error) {
	key := douban.Key{Kind: douban.KindCelebrity, ID: cid, Variant: douban.VariantBrief}
	v, err := s.cache.GetOrPopulate(ctx, key, func(ctx context.Context) (any, error) {
		res, err := s.fetcher.Fetch(ctx, fmt.Sprintf("%s/celebrity/%s/", s.cfg.BaseURL, cid), douban.KindCelebrity)
		if err != nil {
			return nil, err
		}
		detail, err := douban.ParseCelebrity(res.Body, cid, s.rules)
		if err != nil {
			return nil, err
		}
		return detail, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*douban.CelebrityDetail), nil
}

// Photo streams the poster bytes for movie sid. The poster URL comes from the
// cached brief detail; the bytes themselves are memoized under the photo key.
func (s *Service) Photo(ctx context.Context, sid string) (*douban.Image, error) {
	brief, err := s.Movie(ctx, sid, false)
	if err != nil {
		return nil, err
	}
	if brief.Img == "" {
		return nil, douban.ErrNotFound
	}
	key := douban.Key{Kind: douban.KindPhoto, ID: sid, Variant: douban.VariantBrief}
	v, err := s.cache.GetOrPopulate(ctx, key, func(ctx context.Context) (any, error) {
		res, err := s.fetcher.Fetch(ctx, brief.Img, douban.KindPhoto)
		if err != nil {
			return nil, err
		}
		return &douban.Image{Data: res.Body, ContentType: res.ContentType}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*douban.Image), nil
}
