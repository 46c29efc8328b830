package repository

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RateLimitRepository interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type rateLimitRepository struct {
	rdb *redis.Client
}

func NewRateLimitRepository(rdb *redis.Client) RateLimitRepository {
	return &rateLimitRepository{rdb: rdb}
}

// Allow implements a fixed-window counter with INCR + EXPIRE. Fails open:
// a Redis outage never locks users out.
func (r *rateLimitRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	// Hash the key for privacy (it may contain an IP or email).
	hashed := fmt.Sprintf("ratelimit:%x", sha256.Sum256([]byte(key)))

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	count, err := r.rdb.Incr(ctx, hashed).Result()
	if err != nil {
		return true, nil
	}
	if count == 1 {
		r.rdb.Expire(ctx, hashed, window)
	}

	return count <= int64(limit), nil
}
