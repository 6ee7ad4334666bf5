package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/simaogato/financik-backend/internal/domain"
)

const keyPrefix = "financik:balance:"

// LocalBalanceCache keeps last known balances in process memory
type LocalBalanceCache struct {
	lru    *LRUCache[string, domain.Money]
	logger *zap.Logger
}

// NewLocalBalanceCache creates an in-process balance cache
func NewLocalBalanceCache(maxSize int, ttl time.Duration, logger *zap.Logger) *LocalBalanceCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalBalanceCache{
		lru:    NewLRUCache[string, domain.Money](maxSize, ttl),
		logger: logger.With(zap.String("component", "balance_cache")),
	}
}

func (c *LocalBalanceCache) Get(_ context.Context, accountID string) (domain.Money, bool) {
	return c.lru.Get(accountID)
}

func (c *LocalBalanceCache) Set(_ context.Context, accountID string, amount domain.Money) {
	c.lru.Set(accountID, amount)
}

// RunCleaner drops expired entries every interval until ctx is done
func (c *LocalBalanceCache) RunCleaner(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := c.lru.CleanExpired(); removed > 0 {
				stats := c.lru.Stats()
				c.logger.Debug("expired cached balances dropped",
					zap.Int("removed", removed),
					zap.Int("size", c.lru.Size()),
					zap.Uint64("hits", stats.Hits),
					zap.Uint64("misses", stats.Misses),
					zap.Uint64("evictions", stats.Evictions))
			}
		}
	}
}

// RedisBalanceCache shares last known balances between server instances
// Values are integer cents. Redis failures are logged and treated as misses.
type RedisBalanceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisBalanceCache wraps a redis client
func NewRedisBalanceCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisBalanceCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBalanceCache{client: client, ttl: ttl, logger: logger.With(zap.String("component", "balance_cache"))}
}

// NewRedisClient creates a single-node client for addr
func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
}

func (c *RedisBalanceCache) Get(ctx context.Context, accountID string) (domain.Money, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+accountID).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Zero, false
	}
	if err != nil {
		c.logger.Warn("balance cache read failed", zap.String("account_id", accountID), zap.Error(err))
		return domain.Zero, false
	}

	cents, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.logger.Warn("corrupt cached balance", zap.String("account_id", accountID), zap.String("value", raw))
		return domain.Zero, false
	}
	return domain.NewMoneyFromCents(cents), true
}

func (c *RedisBalanceCache) Set(ctx context.Context, accountID string, amount domain.Money) {
	err := c.client.Set(ctx, keyPrefix+accountID, strconv.FormatInt(amount.Cents(), 10), c.ttl).Err()
	if err != nil {
		c.logger.Warn("balance cache write failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

var (
	_ domain.BalanceCache = (*LocalBalanceCache)(nil)
	_ domain.BalanceCache = (*RedisBalanceCache)(nil)
)
