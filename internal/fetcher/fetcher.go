// Package fetcher defines the outbound document fetch contract.
package fetcher

import (
	"context"

	"github.com/opendouban/douban-api/internal/douban"
)

// Result is a fetched upstream document or image.
type Result struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

// Fetcher issues a single outbound GET for a resource URL. The kind selects
// request headers and the optional image-proxy rewrite. Implementations are
// safe for concurrent use and never block past their configured timeout.
type Fetcher interface {
	Fetch(ctx context.Context, url string, kind douban.Kind) (Result, error)
}
