package deps

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/skillforge/types"
)

// Lock is a granted installation lock. At most one granted lock exists per
// key at any time; expiry is the sole recovery mechanism for a crashed holder.
type Lock struct {
	Key        string    `json:"key"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// LockConfig bounds lock acquisition and holding.
type LockConfig struct {
	// WaitTimeout bounds how long Acquire may block before failing with a
	// LOCK_TIMEOUT error.
	WaitTimeout time.Duration `yaml:"wait_timeout" json:"wait_timeout"`

	// TTL is how long a granted lock lives before it expires.
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// RetryInterval is the poll interval while waiting for a held lock.
	RetryInterval time.Duration `yaml:"retry_interval" json:"retry_interval"`
}

// UnmarshalYAML accepts durations in "30s" form. Absent keys keep the values
// already present, so a partial lock section overlays cleanly onto defaults.
func (c *LockConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		WaitTimeout   string `yaml:"wait_timeout"`
		TTL           string `yaml:"ttl"`
		RetryInterval string `yaml:"retry_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	fields := []struct {
		raw    string
		target *time.Duration
	}{
		{raw.WaitTimeout, &c.WaitTimeout},
		{raw.TTL, &c.TTL},
		{raw.RetryInterval, &c.RetryInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parse lock duration %q: %w", f.raw, err)
		}
		*f.target = d
	}
	return nil
}

// DefaultLockConfig returns the default lock bounds.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		WaitTimeout:   30 * time.Second,
		TTL:           5 * time.Minute,
		RetryInterval: 50 * time.Millisecond,
	}
}

func (c LockConfig) withDefaults() LockConfig {
	def := DefaultLockConfig()
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = def.WaitTimeout
	}
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	return c
}

// LockManager serializes installation attempts per lock key. Acquire blocks
// up to the configured wait timeout and then fails with a typed error; it
// never hangs indefinitely.
type LockManager interface {
	Acquire(ctx context.Context, key string) (*Lock, error)
	Release(ctx context.Context, lock *Lock) error
}

// MemoryLockManager is a single-process lock table. Sufficient for
// single-node deployments; multi-node deployments use RedisLockManager.
type MemoryLockManager struct {
	config LockConfig
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*Lock
}

var _ LockManager = (*MemoryLockManager)(nil)

// NewMemoryLockManager creates an in-memory lock table.
func NewMemoryLockManager(config LockConfig, logger *zap.Logger) *MemoryLockManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryLockManager{
		config: config.withDefaults(),
		logger: logger.With(zap.String("component", "install_lock")),
		locks:  make(map[string]*Lock),
	}
}

// Acquire grants the lock for key, waiting up to the configured bound for a
// current holder to release or expire.
func (m *MemoryLockManager) Acquire(ctx context.Context, key string) (*Lock, error) {
	deadline := time.Now().Add(m.config.WaitTimeout)

	for {
		if lock, ok := m.tryAcquire(key); ok {
			return lock, nil
		}

		if time.Now().After(deadline) {
			return nil, types.Errorf(types.ErrLockTimeout,
				"timed out waiting for installation lock %s", key).WithRetryable(true)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.config.RetryInterval):
		}
	}
}

func (m *MemoryLockManager) tryAcquire(key string) (*Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, held := m.locks[key]; held && existing.ExpiresAt.After(now) {
		return nil, false
	}

	lock := &Lock{
		Key:        key,
		Holder:     uuid.NewString(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.config.TTL),
	}
	m.locks[key] = lock
	return lock, true
}

// Release frees the lock if the caller still holds it. Releasing an expired
// or stolen lock is a harmless no-op.
func (m *MemoryLockManager) Release(_ context.Context, lock *Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, held := m.locks[lock.Key]; held && current.Holder == lock.Holder {
		delete(m.locks, lock.Key)
	}
	return nil
}

// releaseScript deletes the lock key only if the caller is still the holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLockManager is a cross-process lock table built on SET NX PX with an
// ownership-checked release. Use this when the engine runs on more than one
// node.
type RedisLockManager struct {
	client    *redis.Client
	keyPrefix string
	config    LockConfig
	logger    *zap.Logger
}

var _ LockManager = (*RedisLockManager)(nil)

// NewRedisLockManager creates a Redis-backed lock manager.
func NewRedisLockManager(client *redis.Client, keyPrefix string, config LockConfig, logger *zap.Logger) *RedisLockManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "skillforge:lock:"
	}
	return &RedisLockManager{
		client:    client,
		keyPrefix: keyPrefix,
		config:    config.withDefaults(),
		logger:    logger.With(zap.String("component", "install_lock_redis")),
	}
}

// Acquire grants the lock via SET NX, polling until the wait bound.
func (m *RedisLockManager) Acquire(ctx context.Context, key string) (*Lock, error) {
	holder := uuid.NewString()
	redisKey := m.keyPrefix + key
	deadline := time.Now().Add(m.config.WaitTimeout)

	for {
		now := time.Now()
		ok, err := m.client.SetNX(ctx, redisKey, holder, m.config.TTL).Result()
		if err != nil {
			return nil, types.Errorf(types.ErrLockTimeout,
				"acquire installation lock %s", key).WithCause(err).WithRetryable(true)
		}
		if ok {
			return &Lock{
				Key:        key,
				Holder:     holder,
				AcquiredAt: now,
				ExpiresAt:  now.Add(m.config.TTL),
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, types.Errorf(types.ErrLockTimeout,
				"timed out waiting for installation lock %s", key).WithRetryable(true)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.config.RetryInterval):
		}
	}
}

// Release deletes the lock key if the caller still holds it.
func (m *RedisLockManager) Release(ctx context.Context, lock *Lock) error {
	_, err := releaseScript.Run(ctx, m.client, []string{m.keyPrefix + lock.Key}, lock.Holder).Result()
	if err != nil && err != redis.Nil {
		m.logger.Warn("lock release failed",
			zap.String("key", lock.Key),
			zap.Error(err))
		return err
	}
	return nil
}
