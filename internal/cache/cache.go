// Package cache provides an optional Redis-backed cache for analysis
// results, keyed by the position and analysis controls. Engine searches are
// expensive and deterministic enough at fixed visit budgets that repeated
// positions (opening review, teaching tools) are worth short-circuiting.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/goban-app/katago-server/internal/engine"
	"github.com/goban-app/katago-server/internal/logging"
)

const keyPrefix = "katago:analysis:"

// Cache is a Redis-backed analysis result cache.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log *logging.Logger
}

// New creates a cache client. The connection is verified lazily; a Redis
// outage degrades to cache misses rather than failing requests.
func New(addr, password string, db int, ttl time.Duration, log *logging.Logger) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Cache{rdb: rdb, ttl: ttl, log: log}
}

// Ping verifies the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the Redis client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// cacheKeyFields are the request fields that define the cached position;
// the correlation id is deliberately excluded.
type cacheKeyFields struct {
	Moves            []string               `json:"moves"`
	InitialStones    []string               `json:"initialStones"`
	InitialPlayer    string                 `json:"initialPlayer"`
	Rules            string                 `json:"rules"`
	Komi             *float64               `json:"komi"`
	BoardXSize       int                    `json:"boardXSize"`
	BoardYSize       int                    `json:"boardYSize"`
	MaxVisits        int                    `json:"maxVisits"`
	IncludeOwnership bool                   `json:"includeOwnership"`
	IncludePolicy    bool                   `json:"includePolicy"`
	IncludePVVisits  bool                   `json:"includePvVisits"`
	AnalyzeTurns     []int                  `json:"analyzeTurns"`
	OverrideSettings map[string]interface{} `json:"overrideSettings"`
}

// Key derives a deterministic cache key from a request.
func Key(req *engine.Request) string {
	fields := cacheKeyFields{
		Moves:            req.Moves,
		InitialStones:    req.InitialStones,
		InitialPlayer:    req.InitialPlayer,
		Rules:            req.Rules,
		Komi:             req.Komi,
		BoardXSize:       req.BoardXSize,
		BoardYSize:       req.BoardYSize,
		MaxVisits:        req.MaxVisits,
		IncludeOwnership: req.IncludeOwnership,
		IncludePolicy:    req.IncludePolicy,
		IncludePVVisits:  req.IncludePVVisits,
		AnalyzeTurns:     req.AnalyzeTurns,
		OverrideSettings: req.OverrideSettings,
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached response for key, if any.
func (c *Cache) Get(ctx context.Context, key string) (*engine.Response, bool) {
	if key == "" {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("cache get failed")
		}
		return nil, false
	}
	var resp engine.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		c.log.WithError(err).Warn("cache entry corrupt, ignoring")
		return nil, false
	}
	return &resp, true
}

// Set stores resp under key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, resp *engine.Response) {
	if key == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("cache set failed")
	}
}
