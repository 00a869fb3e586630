package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"time"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// MarkOnce claims key for ttl and reports whether this caller got it first.
func MarkOnce(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

// Release undoes MarkOnce so a failed attempt can be retried.
func Release(ctx context.Context, rdb *redis.Client, key string) error {
	return rdb.Del(ctx, key).Err()
}

// AvailabilityCache keeps short-lived availability snapshots keyed by a
// per-raffle version. Invalidate bumps the version instead of deleting, so a
// snapshot computed before the bump can never be served after it. Redis
// errors are logged and degrade to cache misses.
type AvailabilityCache struct {
	R   *redis.Client
	Log *logrus.Entry
}

func (c *AvailabilityCache) Version(ctx context.Context, raffleID string) (int64, bool) {
	v, err := c.R.Get(ctx, fmt.Sprintf(KeyAvailabilityVersion, raffleID)).Int64()
	switch {
	case err == redis.Nil:
		return 0, true
	case err != nil:
		c.Log.WithError(err).Warn("availability version get")
		return 0, false
	}
	return v, true
}

func (c *AvailabilityCache) Get(ctx context.Context, raffleID string, version int64) ([]int, bool) {
	b, err := c.R.Get(ctx, fmt.Sprintf(KeyAvailability, raffleID, version)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.Log.WithError(err).Warn("availability cache get")
		}
		return nil, false
	}
	var nums []int
	if err := json.Unmarshal(b, &nums); err != nil {
		return nil, false
	}
	return nums, true
}

func (c *AvailabilityCache) Set(ctx context.Context, raffleID string, version int64, nums []int) {
	b, _ := json.Marshal(nums)
	if err := c.R.Set(ctx, fmt.Sprintf(KeyAvailability, raffleID, version), b, TTLAvailability).Err(); err != nil {
		c.Log.WithError(err).Warn("availability cache set")
	}
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, raffleID string) {
	key := fmt.Sprintf(KeyAvailabilityVersion, raffleID)
	pipe := c.R.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, TTLAvailabilityVersion)
	if _, err := pipe.Exec(ctx); err != nil {
		c.Log.WithError(err).Warn("availability cache invalidate")
	}
}

// StatusCache holds the rendered reservation status for GET /checkout/{reference}.
type StatusCache struct {
	R   *redis.Client
	Log *logrus.Entry
}

func (c *StatusCache) Get(ctx context.Context, ref string) ([]byte, bool) {
	b, err := c.R.Get(ctx, fmt.Sprintf(KeyReservationStatus, ref)).Bytes()
	if err != nil || len(b) == 0 {
		return nil, false
	}
	return b, true
}

func (c *StatusCache) Set(ctx context.Context, ref string, body []byte) {
	if err := c.R.Set(ctx, fmt.Sprintf(KeyReservationStatus, ref), body, TTLStatusCache).Err(); err != nil {
		c.Log.WithError(err).Warn("status cache set")
	}
}

func (c *StatusCache) Forget(ctx context.Context, ref string) {
	if err := c.R.Del(ctx, fmt.Sprintf(KeyReservationStatus, ref)).Err(); err != nil {
		c.Log.WithError(err).Warn("status cache forget")
	}
}

// Dedup claims event ids per consuming service.
type Dedup struct {
	R       *redis.Client
	Service string
}

func (d *Dedup) Claim(ctx context.Context, eventID string) (bool, error) {
	return MarkOnce(ctx, d.R, fmt.Sprintf(KeyDedup, d.Service, eventID), TTLDedup)
}

func (d *Dedup) Release(ctx context.Context, eventID string) error {
	return Release(ctx, d.R, fmt.Sprintf(KeyDedup, d.Service, eventID))
}
