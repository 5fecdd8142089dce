// Package main wires together the scraping API service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/opendouban/douban-api/internal/api"
	"github.com/opendouban/douban-api/internal/cache"
	"github.com/opendouban/douban-api/internal/clock/system"
	"github.com/opendouban/douban-api/internal/config"
	"github.com/opendouban/douban-api/internal/douban"
	collyfetcher "github.com/opendouban/douban-api/internal/fetcher/colly"
	"github.com/opendouban/douban-api/internal/logging"
	"github.com/opendouban/douban-api/internal/scraper"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rules := douban.DefaultRules()
	fetch := collyfetcher.New(collyfetcher.Config{
		UserAgent:  cfg.Upstream.UserAgent,
		Origin:     cfg.Upstream.Origin,
		Referer:    cfg.Upstream.Referer,
		ImageProxy: cfg.Upstream.ImageProxy,
		Timeout:    cfg.FetchTimeout(),
	})
	store := cache.New[douban.Key, any](cfg.Cache.Capacity, cfg.CacheTTL(), system.New())
	svc := scraper.New(fetch, rules, store, scraper.Config{
		BaseURL:     cfg.Upstream.BaseURL,
		SearchURL:   cfg.Upstream.SearchURL,
		SearchLimit: cfg.Search.Limit,
	}, logger.Named("scraper"))

	apiServer := api.NewServer(svc, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
