// Package dedup implements the recent-event window used to drop
// redelivered gateway notifications.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/felixgeelhaar/cadence/internal/reconciliation/domain"
	sharedDomain "github.com/felixgeelhaar/cadence/internal/shared/domain"
	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	done    bool
	expires time.Time
}

// LRUWindow is an in-process window bounded by capacity and age.
// It only deduplicates within one process.
type LRUWindow struct {
	mu          sync.Mutex
	cache       *lru.Cache[string, entry]
	window      time.Duration
	inflightTTL time.Duration
	clock       sharedDomain.Clock
}

// NewLRUWindow creates a window holding up to capacity keys. Completed keys
// live for window; in-flight claims lapse after inflightTTL so a crashed
// handler cannot block redelivery forever.
func NewLRUWindow(capacity int, window, inflightTTL time.Duration, clock sharedDomain.Clock) (*LRUWindow, error) {
	if capacity <= 0 {
		capacity = 10000
	}
	cache, err := lru.New[string, entry](capacity)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = sharedDomain.SystemClock{}
	}
	return &LRUWindow{
		cache:       cache,
		window:      window,
		inflightTTL: inflightTTL,
		clock:       clock,
	}, nil
}

func (w *LRUWindow) Claim(ctx context.Context, key string) (domain.ClaimState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	if e, ok := w.cache.Get(key); ok && now.Before(e.expires) {
		if e.done {
			return domain.ClaimDuplicate, nil
		}
		return domain.ClaimInFlight, nil
	}
	w.cache.Add(key, entry{expires: now.Add(w.inflightTTL)})
	return domain.ClaimAcquired, nil
}

func (w *LRUWindow) Complete(ctx context.Context, key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cache.Add(key, entry{done: true, expires: w.clock.Now().Add(w.window)})
	return nil
}

func (w *LRUWindow) Release(ctx context.Context, key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.cache.Peek(key); ok && !e.done {
		w.cache.Remove(key)
	}
	return nil
}

// Len returns the number of tracked keys, expired ones included.
func (w *LRUWindow) Len() int {
	return w.cache.Len()
}
