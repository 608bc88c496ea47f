package refresh

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nimburion/tabular/pkg/observability/logger"
)

const (
	defaultRedisPrefix           = "tabular:lock"
	defaultRedisOperationTimeout = 3 * time.Second
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisLockProviderConfig configures destination locks backed by Redis.
type RedisLockProviderConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
}

func (c *RedisLockProviderConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
}

// RedisLockProvider locks with SET NX PX and releases or renews only while the stored
// token still matches.
type RedisLockProvider struct {
	client *redis.Client
	log    logger.Logger
	config RedisLockProviderConfig
	// owned is true when the provider opened the client and must close it.
	owned bool
}

// NewRedisLockProvider connects to cfg.URL and returns a lock provider.
func NewRedisLockProvider(cfg RedisLockProviderConfig, log logger.Logger) (*RedisLockProvider, error) {
	if log == nil {
		return nil, refreshError(ErrInvalidArgument, "logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, refreshError(ErrInvalidArgument, "redis url is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(refreshError(ErrValidation, "parse redis url failed"), err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(refreshError(ErrRetryable, "ping redis failed"), err)
	}

	return &RedisLockProvider{client: client, log: log, config: cfg, owned: true}, nil
}

// NewRedisLockProviderFromClient shares an existing client, typically the store's.
// Close leaves the client open.
func NewRedisLockProviderFromClient(client *redis.Client, cfg RedisLockProviderConfig, log logger.Logger) *RedisLockProvider {
	cfg.normalize()
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisLockProvider{client: client, log: log, config: cfg}
}

// Acquire attempts to take key for ttl. It reports false without error when the key is held.
func (p *RedisLockProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (*LockLease, bool, error) {
	if p == nil || p.client == nil {
		return nil, false, refreshError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, refreshError(ErrInvalidArgument, "lock key is required")
	}
	if ttl <= 0 {
		return nil, false, refreshError(ErrInvalidArgument, "ttl must be > 0")
	}

	token := uuid.NewString()
	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	acquired, err := p.client.SetNX(opCtx, p.fullKey(key), token, ttl).Result()
	if err != nil {
		return nil, false, errors.Join(refreshError(ErrRetryable, "acquire lock failed"), err)
	}
	if !acquired {
		return nil, false, nil
	}

	return &LockLease{
		Key:      key,
		Token:    token,
		ExpireAt: time.Now().UTC().Add(ttl),
	}, true, nil
}

// Renew extends lock expiry when token still matches.
func (p *RedisLockProvider) Renew(ctx context.Context, lease *LockLease, ttl time.Duration) error {
	if p == nil || p.client == nil {
		return refreshError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	if err := validateLease(lease); err != nil {
		return err
	}
	if ttl <= 0 {
		return refreshError(ErrInvalidArgument, "ttl must be > 0")
	}

	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	result, err := renewScript.Run(opCtx, p.client, []string{p.fullKey(lease.Key)}, lease.Token, ttl.Milliseconds()).Int64()
	if err != nil {
		return errors.Join(refreshError(ErrRetryable, "renew lock failed"), err)
	}
	if result == 0 {
		return refreshError(ErrConflict, "lock renew rejected")
	}

	lease.ExpireAt = time.Now().UTC().Add(ttl)
	return nil
}

// Release unlocks the key if the lease token matches.
func (p *RedisLockProvider) Release(ctx context.Context, lease *LockLease) error {
	if p == nil || p.client == nil {
		return refreshError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	if err := validateLease(lease); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	result, err := releaseScript.Run(opCtx, p.client, []string{p.fullKey(lease.Key)}, lease.Token).Int64()
	if err != nil {
		return errors.Join(refreshError(ErrRetryable, "release lock failed"), err)
	}
	if result == 0 {
		return refreshError(ErrConflict, "lock release rejected")
	}
	return nil
}

// HealthCheck verifies Redis connectivity.
func (p *RedisLockProvider) HealthCheck(ctx context.Context) error {
	if p == nil || p.client == nil {
		return refreshError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	if err := p.client.Ping(opCtx).Err(); err != nil {
		return errors.Join(refreshError(ErrRetryable, "redis healthcheck failed"), err)
	}
	return nil
}

// Close closes the client when the provider opened it.
func (p *RedisLockProvider) Close() error {
	if p == nil || p.client == nil || !p.owned {
		return nil
	}
	return p.client.Close()
}

func (p *RedisLockProvider) fullKey(key string) string {
	return strings.TrimRight(p.config.Prefix, ":") + ":" + strings.TrimSpace(key)
}

func validateLease(lease *LockLease) error {
	if lease == nil {
		return refreshError(ErrInvalidArgument, "lease is required")
	}
	if strings.TrimSpace(lease.Key) == "" || strings.TrimSpace(lease.Token) == "" {
		return refreshError(ErrInvalidArgument, "lease key and token are required")
	}
	return nil
}
