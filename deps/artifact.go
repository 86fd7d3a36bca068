package deps

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InstallationArtifact references a built isolated environment satisfying a
// dependency set, keyed by the set hash. Created on successful install,
// reused on cache hit, removed on cleanup or rollback of a failed build.
type InstallationArtifact struct {
	Hash      string    `json:"hash"`
	Ecosystem Ecosystem `json:"ecosystem"`
	Location  string    `json:"location"`
	Packages  []string  `json:"packages"`
	CreatedAt time.Time `json:"created_at"`
}

// ArtifactCache is the read-through, write-once-per-hash artifact index.
type ArtifactCache interface {
	Get(ctx context.Context, hash string) (*InstallationArtifact, bool, error)
	Put(ctx context.Context, artifact *InstallationArtifact) error
	Delete(ctx context.Context, hash string) error
}

// MemoryArtifactCache is a process-local artifact index.
type MemoryArtifactCache struct {
	mu        sync.RWMutex
	artifacts map[string]*InstallationArtifact
}

var _ ArtifactCache = (*MemoryArtifactCache)(nil)

// NewMemoryArtifactCache creates an empty in-memory cache.
func NewMemoryArtifactCache() *MemoryArtifactCache {
	return &MemoryArtifactCache{artifacts: make(map[string]*InstallationArtifact)}
}

// Get implements ArtifactCache.
func (c *MemoryArtifactCache) Get(_ context.Context, hash string) (*InstallationArtifact, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	artifact, ok := c.artifacts[hash]
	return artifact, ok, nil
}

// Put implements ArtifactCache.
func (c *MemoryArtifactCache) Put(_ context.Context, artifact *InstallationArtifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts[artifact.Hash] = artifact
	return nil
}

// Delete implements ArtifactCache.
func (c *MemoryArtifactCache) Delete(_ context.Context, hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.artifacts, hash)
	return nil
}

// RedisArtifactCache is a shared artifact index for multi-node deployments.
// Artifacts are stored as JSON under a key prefix with an optional TTL.
type RedisArtifactCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

var _ ArtifactCache = (*RedisArtifactCache)(nil)

// NewRedisArtifactCache creates a Redis-backed artifact cache. A zero TTL
// keeps artifacts until explicit cleanup.
func NewRedisArtifactCache(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisArtifactCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "skillforge:artifact:"
	}
	return &RedisArtifactCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "artifact_cache")),
	}
}

// Get implements ArtifactCache.
func (c *RedisArtifactCache) Get(ctx context.Context, hash string) (*InstallationArtifact, bool, error) {
	data, err := c.client.Get(ctx, c.keyPrefix+hash).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("artifact cache get: %w", err)
	}

	var artifact InstallationArtifact
	if err := json.Unmarshal([]byte(data), &artifact); err != nil {
		return nil, false, fmt.Errorf("artifact cache decode: %w", err)
	}
	return &artifact, true, nil
}

// Put implements ArtifactCache.
func (c *RedisArtifactCache) Put(ctx context.Context, artifact *InstallationArtifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("artifact cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.keyPrefix+artifact.Hash, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("artifact cache put: %w", err)
	}
	return nil
}

// Delete implements ArtifactCache.
func (c *RedisArtifactCache) Delete(ctx context.Context, hash string) error {
	if err := c.client.Del(ctx, c.keyPrefix+hash).Err(); err != nil {
		return fmt.Errorf("artifact cache delete: %w", err)
	}
	return nil
}
