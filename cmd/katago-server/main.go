// Package main provides the KataGo analysis server entry point.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goban-app/katago-server/internal/api"
	"github.com/goban-app/katago-server/internal/cache"
	"github.com/goban-app/katago-server/internal/config"
	"github.com/goban-app/katago-server/internal/engine"
	"github.com/goban-app/katago-server/internal/logging"
	"github.com/goban-app/katago-server/internal/metrics"
	"github.com/goban-app/katago-server/internal/middleware"
	"github.com/goban-app/katago-server/pkg/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New("katago-server", cfg.LogLevel, cfg.LogFormat)
	logger.WithFields(map[string]interface{}{
		"version": version.FullVersion(),
		"addr":    cfg.ListenAddr(),
	}).Info("starting katago-server")

	var stats *metrics.Metrics
	if cfg.MetricsEnabled {
		stats = metrics.New("katago-server")
	}

	eng, err := engine.New(engine.Config{
		Binary:            cfg.KatagoPath,
		ModelPath:         cfg.ModelPath,
		HumanModelPath:    cfg.HumanModelPath,
		ConfigPath:        cfg.EngineConfig,
		QueryTimeout:      cfg.QueryTimeout,
		KeepaliveInterval: cfg.KeepaliveEvery,
		RestartBackoff:    cfg.RestartBackoff,
		MaxRestarts:       cfg.MaxRestarts,
		InitWait:          cfg.EngineInitWait,
	}, logger, stats)
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer eng.Close()

	var resultCache *cache.Cache
	if cfg.CacheRedisAddr != "" {
		resultCache = cache.New(cfg.CacheRedisAddr, cfg.CacheRedisPassword, cfg.CacheRedisDB, cfg.CacheTTL, logger)
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := resultCache.Ping(pingCtx); err != nil {
			logger.WithError(err).Warn("analysis cache unreachable, continuing without it")
		}
		cancel()
		defer resultCache.Close()
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimitEnabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitBurst, logger)
	}

	server := api.NewServer(eng, resultCache, stats, logger)
	router := server.Router(api.RouterConfig{
		ServiceName:    "katago-server",
		MetricsEnabled: cfg.MetricsEnabled,
		RateLimiter:    limiter,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.QueryTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{"addr": httpServer.Addr}).Info("HTTP server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	case sig := <-sigCh:
		logger.WithFields(map[string]interface{}{"signal": sig.String()}).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown incomplete")
	}

	eng.Close()
	logger.Info("shutdown complete")
}
