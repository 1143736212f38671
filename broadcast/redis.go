// Package broadcast's Redis-backed Manager stores published blobs under a
// generated key and destroys them with a non-blocking, error-swallowing
// DEL — grounded on the teacher's adapter/redis Publish retry-with-backoff
// discipline, adapted from pub/sub fire-and-forget to a get/set/delete
// artifact store.
package broadcast

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yikf/shuffletrack/tlog"
)

// DefaultKeyPrefix namespaces broadcast keys within a shared Redis instance.
const DefaultKeyPrefix = "shuffletrack:broadcast:"

// DefaultTimeout is the per-operation timeout applied to Redis calls.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the number of retry attempts on a failed publish.
const DefaultRetries = 3

// RedisConfig configures the Redis-backed broadcast manager.
type RedisConfig struct {
	// URL is the Redis connection URL (required). Format:
	// redis://[:password@]host:port[/db]
	URL string
	// KeyPrefix namespaces keys (default DefaultKeyPrefix).
	KeyPrefix string
	// Timeout is the per-operation timeout (default DefaultTimeout).
	Timeout time.Duration
	// Retries is the number of retry attempts on a failed publish
	// (default DefaultRetries).
	Retries int
	// TTL is an optional expiry applied to published artifacts as a
	// backstop against leaks if Destroy is never called (e.g. process
	// crash between cache invalidation and destroy). Zero means no TTL.
	TTL time.Duration
}

// RedisManager is a Manager backed by Redis SET/GET/DEL.
type RedisManager struct {
	config RedisConfig
	client *goredis.Client
	logger *tlog.Logger
	nextID int64
}

// NewRedisManager creates a Redis-backed broadcast manager from the given
// config. Returns an error if the URL is empty or invalid.
func NewRedisManager(cfg RedisConfig, logger *tlog.Logger) (*RedisManager, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("broadcast: redis manager requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("broadcast: invalid redis URL: %w", err)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("broadcast: retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if logger == nil {
		logger = tlog.Noop()
	}
	return &RedisManager{
		config: cfg,
		client: goredis.NewClient(opts),
		logger: logger,
	}, nil
}

// New publishes data under a generated key, retrying with exponential
// backoff on transient failures, matching the teacher's adapter/redis
// Publish discipline.
func (m *RedisManager) New(ctx context.Context, data []byte, _ bool) (Handle, error) {
	id := fmt.Sprintf("%s%d", m.config.KeyPrefix, atomic.AddInt64(&m.nextID, 1))

	var lastErr error
	attempts := 1 + m.config.Retries
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("broadcast: context canceled: %w", err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("broadcast: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		setCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		lastErr = m.client.Set(setCtx, id, data, m.config.TTL).Err()
		cancel()

		if lastErr == nil {
			return &redisHandle{mgr: m, id: id}, nil
		}
	}
	return nil, fmt.Errorf("broadcast: publish failed after %d attempts: %w", attempts, lastErr)
}

// Get implements Manager's fetch-by-id for readers that only have the
// wire-carried id and never held the Handle.
func (m *RedisManager) Get(ctx context.Context, id string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()
	b, err := m.client.Get(fetchCtx, id).Bytes()
	if err != nil {
		return nil, fmt.Errorf("broadcast: fetch %s: %w", id, err)
	}
	return b, nil
}

// Close releases the underlying Redis client.
func (m *RedisManager) Close() error {
	return m.client.Close()
}

type redisHandle struct {
	mgr *RedisManager
	id  string
}

func (h *redisHandle) ID() string { return h.id }

func (h *redisHandle) Fetch(ctx context.Context) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, h.mgr.config.Timeout)
	defer cancel()
	b, err := h.mgr.client.Get(fetchCtx, h.id).Bytes()
	if err != nil {
		return nil, fmt.Errorf("broadcast: fetch %s: %w", h.id, err)
	}
	return b, nil
}

// Destroy deletes the artifact. Per spec.md §4.1/§7, broadcast destruction
// errors must never cascade into the catalog's mutating path: this method
// applies its own short timeout and logs-and-swallows rather than
// propagating.
func (h *redisHandle) Destroy(ctx context.Context) error {
	delCtx, cancel := context.WithTimeout(ctx, h.mgr.config.Timeout)
	defer cancel()
	if err := h.mgr.client.Del(delCtx, h.id).Err(); err != nil {
		h.mgr.logger.Warn("broadcast destroy failed", map[string]any{
			"id":    h.id,
			"error": err.Error(),
		})
		return nil
	}
	return nil
}
