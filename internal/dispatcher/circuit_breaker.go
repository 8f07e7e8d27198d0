package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// CircuitBreaker manages per provider:engine breaker state in Redis so all
// workers observe the same cooldowns.
type CircuitBreaker struct {
	redis       *redis.Client
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(redisClient *redis.Client, baseBackoff, maxBackoff time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		redis:       redisClient,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
}

// Open opens the circuit breaker for a provider:engine combination.
func (cb *CircuitBreaker) Open(ctx context.Context, provider, engine string) {
	key := fmt.Sprintf("cb:%s:%s", provider, engine)

	failuresStr, _ := cb.redis.HGet(ctx, key, "failures").Result()
	failures, _ := strconv.Atoi(failuresStr)
	failures++

	// Exponential backoff: 30s, 60s, 120s, 240s, max 5m
	backoff := cb.baseBackoff
	for i := 1; i < failures; i++ {
		backoff *= 2
		if backoff > cb.maxBackoff {
			backoff = cb.maxBackoff
			break
		}
	}

	retryAt := time.Now().Add(backoff).Unix()

	cb.redis.HSet(ctx, key, map[string]interface{}{
		"state":     "open",
		"retry_at":  retryAt,
		"failures":  failures,
		"opened_at": time.Now().Unix(),
	})
	cb.redis.Expire(ctx, key, 10*time.Minute)

	log.Warn().
		Str("provider", provider).
		Str("engine", engine).
		Dur("cooldown", backoff).
		Int("failures", failures).
		Time("retry_at", time.Unix(retryAt, 0)).
		Msg("circuit breaker OPENED")
}

// IsOpen checks if circuit breaker is open for a provider:engine.
func (cb *CircuitBreaker) IsOpen(ctx context.Context, provider, engine string) bool {
	key := fmt.Sprintf("cb:%s:%s", provider, engine)

	state, err := cb.redis.HGet(ctx, key, "state").Result()
	if err != nil || state == "" {
		// no breaker record means closed
		return false
	}
	if state != "open" {
		return false
	}

	retryAtStr, _ := cb.redis.HGet(ctx, key, "retry_at").Result()
	retryAt, _ := strconv.ParseInt(retryAtStr, 10, 64)

	if time.Now().Unix() >= retryAt {
		// cooldown expired, allow a probe request
		cb.redis.HSet(ctx, key, "state", "half_open")

		log.Info().
			Str("provider", provider).
			Str("engine", engine).
			Msg("circuit breaker moved to HALF-OPEN")
		return false
	}

	return true
}

// Close resets the circuit breaker on success.
func (cb *CircuitBreaker) Close(ctx context.Context, provider, engine string) {
	key := fmt.Sprintf("cb:%s:%s", provider, engine)

	state, _ := cb.redis.HGet(ctx, key, "state").Result()
	if state == "" || state == "closed" {
		return
	}

	cb.redis.Del(ctx, key)

	log.Info().
		Str("provider", provider).
		Str("engine", engine).
		Msg("circuit breaker CLOSED (reset)")
}
