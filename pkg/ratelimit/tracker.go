package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// KeyPrefix namespaces the Redis state of every scope.
const KeyPrefix = "scrolltable:ratelimit:"

// DefaultThrottleDelay is the pause applied to a request in the warning band.
const DefaultThrottleDelay = time.Second

var (
	remainingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scrolltable_ratelimit_remaining",
		Help: "Requests remaining in the current rate limit window",
	}, []string{"scope"})

	blocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrolltable_ratelimit_blocks_total",
		Help: "Total number of requests blocked by the rate limit",
	}, []string{"scope"})

	throttlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrolltable_ratelimit_throttles_total",
		Help: "Total number of requests throttled by the rate limit",
	}, []string{"scope"})
)

// Tracker monitors the request budget of one scope and gates requests.
type Tracker struct {
	redis         *redis.Client
	scope         string
	throttleDelay time.Duration
	logger        zerolog.Logger
}

// NewTracker creates a tracker for scope, typically the endpoint host.
func NewTracker(redisClient *redis.Client, scope string, logger zerolog.Logger) *Tracker {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Tracker{
		redis:         redisClient,
		scope:         scope,
		throttleDelay: DefaultThrottleDelay,
		logger:        logger.With().Str("component", "ratelimit").Str("scope", scope).Logger(),
	}
}

// WithThrottleDelay sets the pause applied in the warning band.
func (t *Tracker) WithThrottleDelay(d time.Duration) *Tracker {
	t.throttleDelay = d
	return t
}

// Scope returns the scope the tracker gates.
func (t *Tracker) Scope() string {
	return t.scope
}

func (t *Tracker) key() string {
	return KeyPrefix + t.scope
}

// GetState retrieves the current state from Redis.
// Returns a default healthy state if none has been recorded.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	fields, err := t.redis.HGetAll(ctx, t.key()).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	if len(fields) == 0 {
		t.logger.Debug().Msg("No rate limit state in Redis, assuming healthy")
		return healthyState(), nil
	}

	remaining, err := strconv.Atoi(fields[fieldRemaining])
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	resetAt, err := strconv.ParseInt(fields[fieldResetAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse reset_at: %w", err)
	}
	updatedAt, err := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	state := &State{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetAt, 0),
		LastUpdate: time.UnixMilli(updatedAt),
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders stores the budget reported by a response.
// Responses without X-RateLimit-Remaining are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	now := time.Now()
	state := &State{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()

	// The hash outlives the window by a minute so a stale budget never blocks.
	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, t.key(),
		fieldRemaining, remain,
		fieldResetAt, state.ResetAt.Unix(),
		fieldUpdatedAt, now.UnixMilli(),
	)
	pipe.Expire(ctx, t.key(), time.Duration(resetSeconds)*time.Second+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	remainingGauge.WithLabelValues(t.scope).Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit critical - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit warning - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remain).
			Bool("is_healthy", state.IsHealthy).
			Msg("Rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a request may be sent now.
// In the warning band it waits throttleDelay first, returning the context
// error if ctx ends while waiting.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, err
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Rate limit critical - blocking request")

		blocksTotal.WithLabelValues(t.scope).Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Rate limit warning - throttling request")

		throttlesTotal.WithLabelValues(t.scope).Inc()

		timer := time.NewTimer(t.throttleDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}

// Reset clears the stored state of the scope.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.redis.Del(ctx, t.key()).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("reset rate limit state: %w", err)
	}
	return nil
}
