package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/cadence/internal/reconciliation/domain"
	"github.com/redis/go-redis/v9"
)

const (
	stateInFlight = "inflight"
	stateDone     = "done"
)

// releaseScript deletes the key only while it is still in flight, so a
// late Release never erases a completed marker.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisWindow shares the window across every instance through Redis keys
// with expiry.
type RedisWindow struct {
	client      redis.UniversalClient
	prefix      string
	window      time.Duration
	inflightTTL time.Duration
}

// NewRedisWindow creates a window on client. Keys are namespaced by prefix.
func NewRedisWindow(client redis.UniversalClient, prefix string, window, inflightTTL time.Duration) *RedisWindow {
	if prefix == "" {
		prefix = "cadence:dedup:"
	}
	return &RedisWindow{
		client:      client,
		prefix:      prefix,
		window:      window,
		inflightTTL: inflightTTL,
	}
}

func (w *RedisWindow) Claim(ctx context.Context, key string) (domain.ClaimState, error) {
	k := w.prefix + key
	acquired, err := w.client.SetNX(ctx, k, stateInFlight, w.inflightTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("dedup claim %s: %w", key, err)
	}
	if acquired {
		return domain.ClaimAcquired, nil
	}

	state, err := w.client.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between SETNX and GET; try once more.
		acquired, err = w.client.SetNX(ctx, k, stateInFlight, w.inflightTTL).Result()
		if err != nil {
			return 0, fmt.Errorf("dedup claim %s: %w", key, err)
		}
		if acquired {
			return domain.ClaimAcquired, nil
		}
		return domain.ClaimInFlight, nil
	case err != nil:
		return 0, fmt.Errorf("dedup lookup %s: %w", key, err)
	case state == stateDone:
		return domain.ClaimDuplicate, nil
	default:
		return domain.ClaimInFlight, nil
	}
}

func (w *RedisWindow) Complete(ctx context.Context, key string) error {
	if err := w.client.Set(ctx, w.prefix+key, stateDone, w.window).Err(); err != nil {
		return fmt.Errorf("dedup complete %s: %w", key, err)
	}
	return nil
}

func (w *RedisWindow) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, w.client, []string{w.prefix + key}, stateInFlight).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("dedup release %s: %w", key, err)
	}
	return nil
}

// Ping checks the Redis connection for health reporting.
func (w *RedisWindow) Ping(ctx context.Context) error {
	return w.client.Ping(ctx).Err()
}
