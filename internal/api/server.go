// Package api exposes the analysis engine over HTTP.
package api

import (
	"fmt"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goban-app/katago-server/internal/middleware"
	"github.com/goban-app/katago-server/pkg/version"
)

// RouterConfig selects the optional middleware applied to the API routes.
type RouterConfig struct {
	ServiceName    string
	MetricsEnabled bool
	RateLimiter    *middleware.RateLimiter
}

// Router assembles the route table with the standard middleware chain.
func (s *Server) Router(cfg RouterConfig) *mux.Router {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "katago-server"
	}

	r := mux.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(s.log).Handler)
	r.Use(middleware.LoggingMiddleware(s.log))
	r.Use(middleware.NewCORSMiddleware(nil).Handler)
	if cfg.MetricsEnabled && s.stats != nil {
		r.Use(middleware.MetricsMiddleware(cfg.ServiceName, s.stats))
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Handler)
	}

	health := middleware.NewHealthChecker(version.Version)
	health.RegisterCheck("engine", func() error {
		if !s.engine.IsAlive() {
			return fmt.Errorf("engine is not running")
		}
		return nil
	})

	r.HandleFunc("/analyze", s.handleAnalyze).Methods("POST", "OPTIONS")
	r.HandleFunc("/clear-cache", s.handleClearCache).Methods("POST", "OPTIONS")
	r.HandleFunc("/version", s.handleVersion).Methods("GET")
	r.HandleFunc("/health", health.Handler()).Methods("GET")
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	return r
}
