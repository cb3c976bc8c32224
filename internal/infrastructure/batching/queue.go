// Package batching implements the update batching queue: repeated updates for
// the same key within a debounce window are coalesced into a single flush,
// protecting the persistence layer from write bursts.
package batching

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Payload is one pending update with its arrival timestamp.
type Payload struct {
	Value      interface{}
	EnqueuedAt time.Time
}

// FlushFunc processes the full ordered list of pending payloads for a key.
// It is called exactly once per debounce window; an error is logged and the
// batch is dropped, not requeued (at-most-once delivery per window).
type FlushFunc func(ctx context.Context, key string, payloads []Payload) error

// Config configures a Queue.
type Config struct {
	// Delay is the debounce window. Every enqueue for a key cancels the
	// key's pending timer and schedules a new one.
	Delay time.Duration

	// FlushTimeout bounds a single flush call.
	FlushTimeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// Defaults applied when a Config field is zero.
const (
	DefaultDelay        = 20 * time.Second
	DefaultFlushTimeout = 30 * time.Second
)

// ══════════════════════════════════════════════════════════════════════════════
// QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// Queue coalesces per-key updates over a debounce window. Timers for
// different keys are independent; within a key, payloads flush in arrival
// order and each new enqueue explicitly cancels the previous timer.
type Queue struct {
	delay        time.Duration
	flushTimeout time.Duration
	flush        FlushFunc
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	wg      sync.WaitGroup
}

// entry is the pending state for one key: the ordered payloads and the
// cancellable scheduled flush.
type entry struct {
	payloads []Payload
	timer    *time.Timer
}

// NewQueue creates a Queue that delivers batches to flush.
func NewQueue(flush FlushFunc, cfg Config) *Queue {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Queue{
		delay:        cfg.Delay,
		flushTimeout: cfg.FlushTimeout,
		flush:        flush,
		logger:       cfg.Logger.With("component", "batching_queue"),
		now:          time.Now,
		entries:      make(map[string]*entry),
	}
}

// Enqueue appends a payload to the key's pending list and resets the key's
// debounce timer. Safe for concurrent use; enqueues for different keys never
// block each other beyond the map lock.
func (q *Queue) Enqueue(key string, value interface{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("enqueue on closed queue dropped", "key", key)
		return
	}

	// q.wg holds one count per armed timer; the count is released by the
	// timer callback, or here in detach when the timer is stopped before
	// firing. Counting at arm time means Close can never observe a zero
	// group while a flush is about to start.
	e, ok := q.entries[key]
	if !ok {
		e = &entry{}
		q.entries[key] = e
		q.wg.Add(1)
	} else if !e.timer.Stop() {
		// The previous timer already fired; its callback releases its
		// own count, so the replacement timer needs a fresh one.
		q.wg.Add(1)
	}

	e.payloads = append(e.payloads, Payload{Value: value, EnqueuedAt: q.now()})
	e.timer = time.AfterFunc(q.delay, func() { q.fire(key) })
}

// fire is the timer callback: detach the key's batch and flush it.
func (q *Queue) fire(key string) {
	defer q.wg.Done()

	payloads := q.detach(key)
	if payloads == nil {
		return
	}
	q.deliver(key, payloads)
}

// detach removes and returns the key's pending payloads, stopping its timer.
// Returns nil when the key has no pending entry (already flushed).
func (q *Queue) detach(key string) []Payload {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[key]
	if !ok {
		return nil
	}
	if e.timer.Stop() {
		// The armed timer will never run its callback; release its count.
		q.wg.Done()
	}
	delete(q.entries, key)
	return e.payloads
}

// deliver invokes the flush function. Errors are logged and the batch is
// dropped; the next activity for the key starts a fresh window.
func (q *Queue) deliver(key string, payloads []Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), q.flushTimeout)
	defer cancel()

	if err := q.flush(ctx, key, payloads); err != nil {
		q.logger.Error("batch flush failed, dropping batch",
			"key", key, "payloads", len(payloads), "error", err)
		return
	}

	q.logger.Debug("batch flushed", "key", key, "payloads", len(payloads))
}

// ForceFlush flushes the key's pending batch immediately, if any.
// Exposed for test determinism and shutdown paths.
func (q *Queue) ForceFlush(key string) {
	if payloads := q.detach(key); payloads != nil {
		q.deliver(key, payloads)
	}
}

// FlushAll flushes every pending batch immediately.
func (q *Queue) FlushAll() {
	q.mu.Lock()
	keys := make([]string, 0, len(q.entries))
	for key := range q.entries {
		keys = append(keys, key)
	}
	q.mu.Unlock()

	for _, key := range keys {
		q.ForceFlush(key)
	}
}

// PendingKeys returns the number of keys with a pending batch.
func (q *Queue) PendingKeys() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close flushes all pending batches and stops accepting new updates.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.FlushAll()
	q.wg.Wait()
}
