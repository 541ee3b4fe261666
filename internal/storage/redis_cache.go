package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/route-watch/internal/config"
	"github.com/example/route-watch/internal/logging"
	"github.com/example/route-watch/internal/models"
)

const keyPrefix = "route-watch:notified:"

func NotifiedKey(rideID string) string { return keyPrefix + rideID }

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB})
}

// RedisMirror keeps a copy of notified rides in Redis, keyed by ride ID.
// It is a cache only; the primary ledger stays authoritative.
type RedisMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisMirror(rdb *redis.Client, ttl time.Duration) *RedisMirror {
	return &RedisMirror{rdb: rdb, ttl: ttl}
}

// Remember stores the ride snapshot unless the key is already present.
func (m *RedisMirror) Remember(ctx context.Context, ride models.NotifiedRide) error {
	b, err := json.Marshal(ride)
	if err != nil {
		return err
	}
	return m.rdb.SetNX(ctx, NotifiedKey(ride.RideID), b, m.ttl).Err()
}

func (m *RedisMirror) Known(ctx context.Context, rideID string) (bool, error) {
	n, err := m.rdb.Exists(ctx, NotifiedKey(rideID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CachedLedger answers Has from Redis when it can and falls through to the
// primary ledger otherwise. Redis errors are logged and never surface.
type CachedLedger struct {
	primary Ledger
	cache   *RedisMirror
	log     logging.Logger
}

func NewCachedLedger(primary Ledger, cache *RedisMirror, log logging.Logger) *CachedLedger {
	return &CachedLedger{primary: primary, cache: cache, log: log.With(map[string]interface{}{"component": "ledger_cache"})}
}

func (c *CachedLedger) Has(ctx context.Context, rideID string) (bool, error) {
	known, err := c.cache.Known(ctx, rideID)
	if err != nil {
		c.log.Warn("redis lookup failed, using primary ledger", map[string]interface{}{"ride_id": rideID, "error": err})
	} else if known {
		return true, nil
	}

	has, err := c.primary.Has(ctx, rideID)
	if err != nil || !has {
		return has, err
	}
	// Warm the cache for the next cycle; the primary already said yes.
	c.remember(ctx, models.NotifiedRide{RideID: rideID})
	return true, nil
}

func (c *CachedLedger) Record(ctx context.Context, ride models.NotifiedRide) error {
	err := c.primary.Record(ctx, ride)
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		return err
	}
	c.remember(ctx, ride)
	return err
}

func (c *CachedLedger) Recent(ctx context.Context, limit int) ([]models.NotifiedRide, error) {
	return c.primary.Recent(ctx, limit)
}

func (c *CachedLedger) Ping(ctx context.Context) error { return c.primary.Ping(ctx) }

func (c *CachedLedger) remember(ctx context.Context, ride models.NotifiedRide) {
	if err := c.cache.Remember(ctx, ride); err != nil {
		c.log.Warn("redis write failed", map[string]interface{}{"ride_id": ride.RideID, "error": err})
	}
}
