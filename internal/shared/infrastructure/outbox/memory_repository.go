package outbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps outbox messages in process memory.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	msgs   map[int64]*Message
}

// NewMemoryRepository creates an empty in-memory outbox.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{msgs: make(map[int64]*Message)}
}

func (r *MemoryRepository) SaveBatch(ctx context.Context, msgs []*Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range msgs {
		r.nextID++
		msg.ID = r.nextID
		stored := *msg
		r.msgs[stored.ID] = &stored
	}
	return nil
}

func (r *MemoryRepository) GetUnpublished(ctx context.Context, now time.Time, limit int) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Message
	for _, msg := range r.msgs {
		if msg.PublishedAt != nil || msg.DeadLetteredAt != nil {
			continue
		}
		if msg.NextRetryAt != nil && msg.NextRetryAt.After(now) {
			continue
		}
		c := *msg
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	return r.update(id, func(m *Message) { m.PublishedAt = &at })
}

func (r *MemoryRepository) MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	return r.update(id, func(m *Message) {
		m.RetryCount++
		m.LastError = &errMsg
		m.NextRetryAt = &nextRetryAt
	})
}

func (r *MemoryRepository) MarkDead(ctx context.Context, id int64, reason string, at time.Time) error {
	return r.update(id, func(m *Message) {
		m.DeadLetteredAt = &at
		m.DeadLetterReason = &reason
	})
}

func (r *MemoryRepository) DeleteOld(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, msg := range r.msgs {
		if msg.PublishedAt != nil && msg.PublishedAt.Before(before) {
			delete(r.msgs, id)
			n++
		}
	}
	return n, nil
}

// All returns every stored message in insertion order.
func (r *MemoryRepository) All() []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Message, 0, len(r.msgs))
	for _, msg := range r.msgs {
		c := *msg
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryRepository) update(id int64, fn func(*Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg, ok := r.msgs[id]; ok {
		fn(msg)
	}
	return nil
}
