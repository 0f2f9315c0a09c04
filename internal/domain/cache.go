package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require taskID for strict per-task isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, taskID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, taskID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, taskID string, key string) error

	// GetCatalog retrieves a cached tool catalog snapshot.
	GetCatalog(ctx context.Context, taskID string) ([]*MonitorTool, error)

	// SetCatalog caches a tool catalog snapshot for scoring runs.
	SetCatalog(ctx context.Context, taskID string, tools []*MonitorTool, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns the new
	// value. Used for per-task evaluation counters in a time window.
	IncrementCounter(ctx context.Context, taskID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
