// Package collyfetcher implements fetcher.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/opendouban/douban-api/internal/douban"
	"github.com/opendouban/douban-api/internal/fetcher"
	"github.com/opendouban/douban-api/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Origin    string
	Referer   string
	// ImageProxy, when set, replaces the scheme and host of photo URLs
	// before the request goes out; path and query are preserved.
	ImageProxy string
	Timeout    time.Duration
}

// Fetcher implements fetcher.Fetcher using the Colly collector. One base
// collector carries the shared transport; each fetch clones it.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	// Clones share the visited-URL store. Expired cache entries and failed
	// populations re-fetch the same URL, so revisits must stay allowed.
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. 404 maps to douban.ErrNotFound, other
// error statuses to douban.UpstreamError, and an exceeded request timeout to
// douban.ErrTimeout.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, kind douban.Kind) (fetcher.Result, error) {
	target := rawURL
	if kind == douban.KindPhoto && f.cfg.ImageProxy != "" {
		rewritten, err := rewriteHost(rawURL, f.cfg.ImageProxy)
		if err != nil {
			return fetcher.Result{}, fmt.Errorf("rewrite image url: %w", err)
		}
		target = rewritten
	}

	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		result    fetcher.Result
		errStatus int
		fetchErr  error
	)
	collector.OnRequest(func(r *colly.Request) {
		f.setHeaders(r, kind)
	})
	collector.OnResponse(func(r *colly.Response) {
		result = fetcher.Result{
			StatusCode:  r.StatusCode,
			Body:        append([]byte(nil), r.Body...),
			ContentType: r.Headers.Get("Content-Type"),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			errStatus = r.StatusCode
		}
		fetchErr = err
	})

	visitErr := runCollector(ctx, collector, target)

	switch {
	case errStatus == http.StatusNotFound:
		metrics.ObserveFetch(kind.String(), "not_found")
		return fetcher.Result{}, douban.ErrNotFound
	case errStatus >= 400:
		metrics.ObserveFetch(kind.String(), "upstream_error")
		return fetcher.Result{}, &douban.UpstreamError{Status: errStatus, Err: fetchErr}
	case visitErr != nil:
		if isTimeout(visitErr) || isTimeout(fetchErr) {
			metrics.ObserveFetch(kind.String(), "timeout")
			return fetcher.Result{}, douban.ErrTimeout
		}
		metrics.ObserveFetch(kind.String(), "upstream_error")
		return fetcher.Result{}, &douban.UpstreamError{Err: visitErr}
	}

	metrics.ObserveFetch(kind.String(), "ok")
	return result, nil
}

func (f *Fetcher) setHeaders(r *colly.Request, kind douban.Kind) {
	if kind == douban.KindPhoto {
		// The image host only checks the movie-site referer.
		if f.cfg.Referer != "" {
			r.Headers.Set("Referer", f.cfg.Referer)
		}
		return
	}
	if f.cfg.Origin != "" {
		r.Headers.Set("Origin", f.cfg.Origin)
	}
	if f.cfg.Referer != "" {
		r.Headers.Set("Referer", f.cfg.Referer)
	}
}

func runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func rewriteHost(rawURL, proxyBase string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	p, err := url.Parse(proxyBase)
	if err != nil {
		return "", err
	}
	u.Scheme = p.Scheme
	u.Host = p.Host
	return u.String(), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
