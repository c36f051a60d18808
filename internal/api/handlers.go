package api

import (
	"context"
	"net/http"

	"github.com/goban-app/katago-server/internal/cache"
	"github.com/goban-app/katago-server/internal/engine"
	"github.com/goban-app/katago-server/internal/httputil"
	"github.com/goban-app/katago-server/internal/logging"
	"github.com/goban-app/katago-server/internal/metrics"
	"github.com/goban-app/katago-server/pkg/version"
)

// Analyzer is the engine surface the API consumes.
type Analyzer interface {
	Analyze(ctx context.Context, req *engine.Request) (*engine.Response, error)
	ClearCache(ctx context.Context) error
	QueryVersion(ctx context.Context) (string, error)
	IsAlive() bool
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	engine Analyzer
	cache  *cache.Cache
	stats  *metrics.Metrics
	log    *logging.Logger
}

// NewServer creates the API server. cache and stats may be nil.
func NewServer(eng Analyzer, resultCache *cache.Cache, stats *metrics.Metrics, log *logging.Logger) *Server {
	return &Server{
		engine: eng,
		cache:  resultCache,
		stats:  stats,
		log:    log,
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalysisRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteErrorResponse(w, r, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
		return
	}

	engReq := req.ToEngine()

	// Only id-less requests hit the cache: a cached line carries the id of
	// the request that produced it, and callers who supply ids expect them
	// echoed back.
	var key string
	if req.ID == "" && s.cache != nil {
		key = cache.Key(engReq)
		if resp, ok := s.cache.Get(r.Context(), key); ok {
			s.stats.RecordCacheHit()
			httputil.WriteJSON(w, http.StatusOK, resp)
			return
		}
		s.stats.RecordCacheMiss()
	}

	resp, err := s.engine.Analyze(r.Context(), engReq)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	if key != "" {
		s.cache.Set(r.Context(), key, resp)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearCache(r.Context()); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, StatusResponse{Status: "accepted"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	engineVersion, err := s.engine.QueryVersion(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, VersionResponse{
		EngineVersion: engineVersion,
		ServerVersion: version.Version,
	})
}

// writeEngineError maps the engine error taxonomy onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := engine.CodeOf(err)
	status := http.StatusInternalServerError

	switch code {
	case engine.CodeEngineDead, engine.CodeStartFailed:
		status = http.StatusServiceUnavailable
	case engine.CodeTimeout:
		status = http.StatusRequestTimeout
	case engine.CodeDuplicateID:
		status = http.StatusConflict
	case engine.CodeEngineError, engine.CodeProtocolError:
		status = http.StatusBadGateway
	}

	if code == "" {
		// Not an engine error; usually a canceled request context.
		if r.Context().Err() != nil {
			s.log.WithContext(r.Context()).WithError(err).Debug("request canceled")
			return
		}
		s.log.WithContext(r.Context()).WithError(err).Error("analysis failed")
		httputil.WriteErrorResponse(w, r, status, "INTERNAL", "internal server error", nil)
		return
	}

	s.log.WithContext(r.Context()).WithError(err).Warn("engine operation failed")
	httputil.WriteErrorResponse(w, r, status, string(code), err.Error(), nil)
}
