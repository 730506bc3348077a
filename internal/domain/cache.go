package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations. Peregrine uses it to
// serve recently computed velocity snapshots; staleness within the TTL is an
// accepted non-determinism of the velocity windows.
type Cache interface {
	// Get retrieves a value from cache. Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetVelocity retrieves a cached velocity snapshot for a user.
	// Returns nil, nil on a miss.
	GetVelocity(ctx context.Context, userID string) (*VelocityData, error)

	// SetVelocity caches a computed velocity snapshot.
	SetVelocity(ctx context.Context, userID string, data *VelocityData, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" yaml:"type"`

	// Local LRU cache settings
	LocalMaxSize int           `json:"localMaxSize" yaml:"local_max_size"`
	LocalTTL     time.Duration `json:"localTtl" yaml:"-"`

	// Redis settings
	RedisAddr     string `json:"redisAddr" yaml:"redis_addr"`
	RedisPassword string `json:"redisPassword" yaml:"redis_password"`
	RedisDB       int    `json:"redisDb" yaml:"redis_db"`

	// Two-phase settings: check local LRU first, then Redis.
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enable_two_phase"`
}
