package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	transferRateLimitScope = "ledger_transfer"
	defaultRateLimitPrefix = "transfa:rate_limit"
)

// TransferAllowance is the outcome of metering one transfer attempt.
type TransferAllowance struct {
	Attempts   int
	Limit      int
	RetryAfter time.Duration
}

// Allowed reports whether the attempt fits inside the current window.
func (a TransferAllowance) Allowed() bool {
	return a.Limit <= 0 || a.Attempts <= a.Limit
}

// RetryAfterSeconds rounds the rest of the window up to whole seconds.
func (a TransferAllowance) RetryAfterSeconds() int {
	seconds := int(math.Ceil(a.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// RedisTransferRateLimiter counts transfer attempts per initiating customer in
// fixed windows shared by every service instance. Each window gets its own
// counter key which expires shortly after the window closes.
type RedisTransferRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisTransferRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisTransferRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	if window < time.Second {
		window = time.Second
	}
	return &RedisTransferRateLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (r *RedisTransferRateLimiter) windowKey(initiatorID int64, windowStart time.Time) string {
	return fmt.Sprintf("%s:%s:%d:%d", r.prefix, transferRateLimitScope, initiatorID, windowStart.Unix())
}

// ConsumeTransfer records one attempt by the initiator. Without a client or a
// positive limit every attempt is allowed and Redis is not touched.
func (r *RedisTransferRateLimiter) ConsumeTransfer(ctx context.Context, initiatorID int64) (TransferAllowance, error) {
	if r == nil || r.client == nil || r.limit <= 0 {
		return TransferAllowance{}, nil
	}

	now := r.now()
	windowStart := now.Truncate(r.window)
	windowEnd := windowStart.Add(r.window)
	key := r.windowKey(initiatorID, windowStart)

	var attempts *redis.IntCmd
	if _, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		attempts = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, windowEnd.Add(time.Second))
		return nil
	}); err != nil {
		return TransferAllowance{}, fmt.Errorf("failed to meter transfer for initiator %d: %w", initiatorID, err)
	}

	return TransferAllowance{
		Attempts:   int(attempts.Val()),
		Limit:      r.limit,
		RetryAfter: windowEnd.Sub(now),
	}, nil
}
