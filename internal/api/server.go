// Package api exposes the HTTP interface for the scraping service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opendouban/douban-api/internal/douban"
	"github.com/opendouban/douban-api/internal/metrics"
)

// Scraper is the slice of the scrape service the HTTP layer consumes.
type Scraper interface {
	Search(ctx context.Context, q string, count int) ([]douban.MovieSummary, error)
	SearchFull(ctx context.Context, q string, count int) ([]douban.MovieDetail, error)
	Movie(ctx context.Context, sid string, full bool) (*douban.MovieDetail, error)
	Celebrities(ctx context.Context, sid string) ([]douban.CastMember, error)
	Celebrity(ctx context.Context, cid string) (*douban.CelebrityDetail, error)
	Photo(ctx context.Context, sid string) (*douban.Image, error)
}

// Server wires HTTP handlers to the scrape service.
type Server struct {
	router  chi.Router
	scraper Scraper
	logger  *zap.Logger
}

const indexPayload = `接口列表：<br/>
/movies?q={movie_name}<br/>
/movies?q={movie_name}&type=full<br/>
/movies/{sid}<br/>
/movies/{sid}?type=full<br/>
/movies/{sid}/celebrities<br/>
/celebrities/{cid}<br/>
/photo/{sid}<br/>
`

// NewServer constructs a Server with middleware and routes.
func NewServer(scraper Scraper, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scraper: scraper,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/", s.index)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/movies", s.searchMovies)
	r.Route("/movies/{sid}", func(r chi.Router) {
		r.Get("/", s.getMovie)
		r.Get("/celebrities", s.getCelebrities)
	})
	r.Get("/celebrities/{cid}", s.getCelebrity)
	r.Get("/photo/{sid}", s.getPhoto)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(indexPayload)); err != nil {
		s.logger.Error("index write failed", zap.Error(err))
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The cache is in-memory and the upstream is probed lazily; once the
	// process serves, it is ready.
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) searchMovies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeJSON(w, http.StatusOK, []douban.MovieSummary{})
		return
	}
	count := 0
	if raw := r.URL.Query().Get("count"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			count = n
		}
	}

	if r.URL.Query().Get("type") == "full" {
		result, err := s.scraper.SearchFull(r.Context(), q, count)
		if err != nil {
			if douban.IsNotFound(err) {
				s.writeJSON(w, http.StatusOK, []douban.MovieDetail{})
				return
			}
			s.writeScrapeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, result)
		return
	}

	result, err := s.scraper.Search(r.Context(), q, count)
	if err != nil {
		if douban.IsNotFound(err) {
			s.writeJSON(w, http.StatusOK, []douban.MovieSummary{})
			return
		}
		s.writeScrapeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) getMovie(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	full := r.URL.Query().Get("type") == "full"
	detail, err := s.scraper.Movie(r.Context(), sid, full)
	if err != nil {
		s.writeScrapeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) getCelebrities(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	cast, err := s.scraper.Celebrities(r.Context(), sid)
	if err != nil {
		s.writeScrapeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cast)
}

func (s *Server) getCelebrity(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	detail, err := s.scraper.Celebrity(r.Context(), cid)
	if err != nil {
		s.writeScrapeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) getPhoto(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	img, err := s.scraper.Photo(r.Context(), sid)
	if err != nil {
		s.writeScrapeError(w, r, err)
		return
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if _, err := w.Write(img.Data); err != nil {
		s.logger.Error("photo write failed", zap.Error(err))
	}
}

// writeScrapeError maps pipeline errors onto the two caller-visible
// outcomes: not-found and upstream-unavailable.
func (s *Server) writeScrapeError(w http.ResponseWriter, r *http.Request, err error) {
	if douban.IsNotFound(err) {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Warn("upstream unavailable",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	s.writeError(w, http.StatusBadGateway, "upstream unavailable")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
