package dispatcher

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfoutline/internal/metrics"
)

const (
	breakerOpen     = "open"
	breakerHalfOpen = "half_open"
	breakerTTL      = 10 * time.Minute
)

// CircuitBreaker is shared by all workers through a Redis hash at
// "cb:<name>". Cooldown doubles per consecutive failure up to maxBackoff.
type CircuitBreaker struct {
	redis       *redis.Client
	key         string
	name        string
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
}

func NewCircuitBreaker(client *redis.Client, name string, baseBackoff, maxBackoff time.Duration) *CircuitBreaker {
	if baseBackoff <= 0 {
		baseBackoff = 30 * time.Second
	}
	if maxBackoff < baseBackoff {
		maxBackoff = baseBackoff
	}
	return &CircuitBreaker{
		redis:       client,
		key:         "cb:" + name,
		name:        name,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		now:         time.Now,
	}
}

// Open records a failure and returns the cooldown.
func (cb *CircuitBreaker) Open(ctx context.Context) time.Duration {
	failures, _ := cb.redis.HIncrBy(ctx, cb.key, "failures", 1).Result()

	backoff := cb.baseBackoff
	for i := int64(1); i < failures && backoff < cb.maxBackoff; i++ {
		backoff *= 2
	}
	if backoff > cb.maxBackoff {
		backoff = cb.maxBackoff
	}

	now := cb.now()
	pipe := cb.redis.TxPipeline()
	pipe.HSet(ctx, cb.key, map[string]any{
		"state":     breakerOpen,
		"retry_at":  now.Add(backoff).Unix(),
		"opened_at": now.Unix(),
	})
	pipe.Expire(ctx, cb.key, breakerTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("breaker", cb.name).Msg("failed to persist circuit breaker")
	}
	metrics.BreakerOpened()

	log.Warn().
		Str("breaker", cb.name).
		Dur("cooldown", backoff).
		Int64("failures", failures).
		Msg("circuit breaker OPENED")
	return backoff
}

// IsOpen reports whether calls should be held back and for how long. An
// expired cooldown moves the breaker to half-open and lets one call through.
func (cb *CircuitBreaker) IsOpen(ctx context.Context) (bool, time.Duration) {
	res, err := cb.redis.HMGet(ctx, cb.key, "state", "retry_at").Result()
	if err != nil || len(res) != 2 {
		return false, 0
	}
	state, _ := res[0].(string)
	if state != breakerOpen {
		return false, 0
	}
	retryAtStr, _ := res[1].(string)
	retryAt, _ := strconv.ParseInt(retryAtStr, 10, 64)

	remaining := time.Unix(retryAt, 0).Sub(cb.now())
	if remaining <= 0 {
		cb.redis.HSet(ctx, cb.key, "state", breakerHalfOpen)
		log.Info().Str("breaker", cb.name).Msg("circuit breaker moved to HALF-OPEN")
		return false, 0
	}
	return true, remaining
}

// Close resets the breaker after a success.
func (cb *CircuitBreaker) Close(ctx context.Context) {
	state, _ := cb.redis.HGet(ctx, cb.key, "state").Result()
	if state == "" {
		return
	}
	cb.redis.Del(ctx, cb.key)
	metrics.BreakerClosed()
	log.Info().Str("breaker", cb.name).Msg("circuit breaker CLOSED (reset)")
}
