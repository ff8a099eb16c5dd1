// Package queue is the persisted FIFO of calls waiting for delivery.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/kon-rad/webtrack/internal/call"
	"github.com/kon-rad/webtrack/internal/storage"
)

const (
	StorageKey      = "api_queue"
	DefaultCapacity = 1000
)

// Queue keeps its in-memory order identical to the stored order: every
// mutation rewrites the whole stored array before returning.
//
// Only Len is safe to call from other goroutines; the drain loop owns
// everything else.
type Queue struct {
	log       *slog.Logger
	store     *storage.Store
	registry  *call.Registry
	capacity  int
	items     []json.RawMessage
	depth     atomic.Int64
	discarded atomic.Int64
}

// New hydrates the queue from store. Missing or malformed data yields an
// empty queue.
func New(ctx context.Context, log *slog.Logger, store *storage.Store, registry *call.Registry, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		log:      log,
		store:    store,
		registry: registry,
		capacity: capacity,
	}
	q.items = q.load(ctx)
	q.depth.Store(int64(len(q.items)))
	return q
}

func (q *Queue) load(ctx context.Context) []json.RawMessage {
	raw, ok := q.store.Get(ctx, StorageKey)
	if !ok || raw == "" {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		q.log.Warn("persisted queue is malformed, starting empty", "error", err)
		return nil
	}
	return items
}

// Enqueue appends c and persists the queue. It reports false, leaving the
// queue untouched, when c is not a valid call or the queue is full.
func (q *Queue) Enqueue(ctx context.Context, c call.Call) bool {
	if len(q.items) >= q.capacity {
		q.log.Debug("queue full, dropping call", "capacity", q.capacity)
		return false
	}
	raw, err := call.Marshal(c)
	if err != nil {
		q.log.Debug("rejecting call", "error", err)
		return false
	}
	q.items = append(q.items, raw)
	q.persist(ctx)
	return true
}

// Peek returns the head without removing it, or nil when the queue is empty.
// Heads that no longer decode are discarded so they cannot block the queue.
func (q *Queue) Peek(ctx context.Context) call.Call {
	for len(q.items) > 0 {
		c, err := q.registry.Decode(q.items[0])
		if err == nil {
			return c
		}
		q.log.Warn("discarding undecodable queued call", "error", err)
		q.discarded.Add(1)
		q.items = q.items[1:]
		q.persist(ctx)
	}
	return nil
}

// Dequeue removes and returns the head, or nil when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) call.Call {
	c := q.Peek(ctx)
	if c == nil {
		return nil
	}
	q.items = q.items[1:]
	q.persist(ctx)
	return c
}

// Entry describes one stored call. Raw is set for entries that no longer
// decode.
type Entry struct {
	Call call.Call
	Raw  json.RawMessage
}

// Entries lists the queue in delivery order without modifying it.
func (q *Queue) Entries() []Entry {
	out := make([]Entry, 0, len(q.items))
	for _, raw := range q.items {
		c, err := q.registry.Decode(raw)
		if err != nil {
			out = append(out, Entry{Raw: raw})
			continue
		}
		out = append(out, Entry{Call: c})
	}
	return out
}

func (q *Queue) IsEmpty() bool {
	return len(q.items) == 0
}

func (q *Queue) Len() int {
	return int(q.depth.Load())
}

func (q *Queue) Capacity() int {
	return q.capacity
}

// Discarded counts heads dropped because they could not be decoded.
func (q *Queue) Discarded() int64 {
	return q.discarded.Load()
}

func (q *Queue) persist(ctx context.Context) {
	if len(q.items) == 0 {
		q.items = nil
	}
	data, err := json.Marshal(q.items)
	if err != nil {
		q.log.Warn("encode queue failed", "error", err)
		return
	}
	if q.items == nil {
		data = []byte("[]")
	}
	q.store.Set(ctx, StorageKey, string(data))
	q.depth.Store(int64(len(q.items)))
}
