package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const fulfilledKeyPrefix = "fulfilled:"

func InitRedis(url string, logger *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", opts.Addr))
	return rdb, nil
}

// SessionDeduper remembers fulfilled checkout sessions for a bounded window.
type SessionDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionDeduper(rdb *redis.Client, ttl time.Duration) *SessionDeduper {
	return &SessionDeduper{rdb: rdb, ttl: ttl}
}

// Claim reports whether this caller is the first to fulfil sessionID.
func (d *SessionDeduper) Claim(ctx context.Context, sessionID string) (bool, error) {
	return d.rdb.SetNX(ctx, fulfilledKeyPrefix+sessionID, time.Now().UTC().Unix(), d.ttl).Result()
}

// Release forgets a claim so a redelivered notification is fulfilled again.
func (d *SessionDeduper) Release(ctx context.Context, sessionID string) error {
	return d.rdb.Del(ctx, fulfilledKeyPrefix+sessionID).Err()
}
