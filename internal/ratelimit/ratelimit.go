// ABOUTME: Token bucket admission control keyed by (client, endpoint)
// ABOUTME: Bucket state lives in the KV store; refill math uses the monotonic clock

package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/marketmind/internal/store"
)

// Preset defines a token bucket shape. Capacity is RequestsPerMinute+Burst
// tokens; the bucket refills at RequestsPerMinute/60 tokens per second.
type Preset struct {
	RequestsPerMinute int
	Burst             int
}

// Capacity returns the maximum token count for the bucket.
func (p Preset) Capacity() float64 {
	return float64(p.RequestsPerMinute + p.Burst)
}

// RefillRate returns tokens added per second of elapsed time.
func (p Preset) RefillRate() float64 {
	return float64(p.RequestsPerMinute) / 60.0
}

// Decision is the outcome of an admission check.
// RetryAfter is zero when unset: either the request was admitted, or the
// bucket never refills so no finite wait would help.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	Degraded   bool // backing store was unavailable; policy fallback applied
}

// bucketState is the persisted bucket snapshot.
type bucketState struct {
	Tokens     float64 `json:"tokens"`
	LastRefill int64   `json:"last_refill"` // unix nanoseconds
}

// State is kept for a bounded window; an untouched bucket simply
// reinitializes at full capacity.
const stateTTL = 5 * time.Minute

const lockStripes = 64

// Limiter is a per-(client, endpoint) token bucket admission controller.
// Concurrent admits against the same bucket are serialized by striped
// in-process locks so a token is never double-spent.
type Limiter struct {
	kv        store.KV
	presets   map[string]Preset
	endpoints map[string]string // endpoint name -> preset name
	failOpen  bool
	now       func() time.Time
	locks     [lockStripes]sync.Mutex
	logger    *slog.Logger
}

// New creates a Limiter. endpoints maps endpoint names to preset names;
// an endpoint with no mapping is not rate limited. failOpen selects the
// degraded-mode policy when the KV store is unavailable.
func New(kv store.KV, presets map[string]Preset, endpoints map[string]string, failOpen bool, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		kv:        kv,
		presets:   presets,
		endpoints: endpoints,
		failOpen:  failOpen,
		now:       time.Now,
		logger:    logger.With("component", "ratelimit"),
	}
}

// Admit attempts to spend one token from the bucket for (clientKey, endpoint).
// It never returns an error: store failures degrade to the configured
// fail-open or fail-closed policy.
func (l *Limiter) Admit(ctx context.Context, clientKey, endpoint string) Decision {
	presetName, governed := l.endpoints[endpoint]
	if !governed {
		return Decision{Allowed: true}
	}
	preset, ok := l.presets[presetName]
	if !ok {
		l.logger.Warn("endpoint references unknown preset, admitting", "endpoint", endpoint, "preset", presetName)
		return Decision{Allowed: true, Degraded: true}
	}

	key := bucketKey(clientKey, endpoint)

	stripe := &l.locks[stripeFor(key)]
	stripe.Lock()
	defer stripe.Unlock()

	capacity := preset.Capacity()
	rate := preset.RefillRate()
	now := l.now()

	state, err := l.loadState(ctx, key, capacity, now)
	if err != nil {
		return l.degraded(endpoint, clientKey, err)
	}

	// Refill from elapsed time, capped at capacity. Never refilled by
	// request volume.
	elapsed := now.Sub(time.Unix(0, state.LastRefill))
	if elapsed > 0 {
		state.Tokens = min(capacity, state.Tokens+elapsed.Seconds()*rate)
	}
	state.LastRefill = now.UnixNano()

	decision := Decision{}
	if state.Tokens >= 1 {
		state.Tokens--
		decision.Allowed = true
	} else if rate > 0 {
		decision.RetryAfter = time.Duration((1 - state.Tokens) / rate * float64(time.Second))
	}
	decision.Remaining = int(state.Tokens)

	if err := l.saveState(ctx, key, state); err != nil {
		// The decision stands; only persistence degraded.
		l.logger.Warn("failed to persist bucket state", "key", key, "error", err)
		decision.Degraded = true
	}

	if !decision.Allowed {
		l.logger.Warn("admission rejected",
			"client", clientKey,
			"endpoint", endpoint,
			"retry_after", decision.RetryAfter)
	}

	return decision
}

// Reset clears the bucket for (clientKey, endpoint).
func (l *Limiter) Reset(ctx context.Context, clientKey, endpoint string) error {
	return l.kv.Delete(ctx, bucketKey(clientKey, endpoint))
}

// loadState fetches the persisted bucket, or a full bucket for a new key.
func (l *Limiter) loadState(ctx context.Context, key string, capacity float64, now time.Time) (*bucketState, error) {
	raw, err := l.kv.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return &bucketState{Tokens: capacity, LastRefill: now.UnixNano()}, nil
	}
	if err != nil {
		return nil, err
	}

	var state bucketState
	if err := json.Unmarshal(raw, &state); err != nil {
		// Corrupt state: reinitialize rather than reject forever
		l.logger.Warn("corrupt bucket state, reinitializing", "key", key, "error", err)
		return &bucketState{Tokens: capacity, LastRefill: now.UnixNano()}, nil
	}
	return &state, nil
}

func (l *Limiter) saveState(ctx context.Context, key string, state *bucketState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding bucket state: %w", err)
	}
	return l.kv.Set(ctx, key, raw, stateTTL)
}

// degraded applies the configured policy when the store is unreachable.
func (l *Limiter) degraded(endpoint, clientKey string, err error) Decision {
	if l.failOpen {
		l.logger.Warn("rate limit store unavailable, admitting",
			"endpoint", endpoint, "client", clientKey, "error", err)
		return Decision{Allowed: true, Degraded: true}
	}
	l.logger.Warn("rate limit store unavailable, rejecting",
		"endpoint", endpoint, "client", clientKey, "error", err)
	return Decision{Degraded: true}
}

func bucketKey(clientKey, endpoint string) string {
	return "ratelimit:" + endpoint + ":" + clientKey
}

func stripeFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % lockStripes)
}
