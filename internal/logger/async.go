package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes and stops buffered log output.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// queued pairs a record with the handler chain that must encode it, so
// handlers derived via WithAttrs or WithGroup share one queue.
type queued struct {
	handler slog.Handler
	rec     slog.Record
}

type asyncQueue struct {
	mu      sync.RWMutex // guards closed against concurrent sends
	closed  bool
	ch      chan queued
	workers sync.WaitGroup
	dropped atomic.Int64
	base    slog.Handler
}

// AsyncHandler moves record encoding off the request path. A full queue
// drops the record instead of blocking the caller; Close reports the number
// of dropped records once.
type AsyncHandler struct {
	inner slog.Handler
	q     *asyncQueue
}

// NewAsyncHandler starts workers goroutines (at least one) draining a queue
// of size records into inner.
func NewAsyncHandler(inner slog.Handler, size, workers int) *AsyncHandler {
	q := &asyncQueue{ch: make(chan queued, size), base: inner}
	workers = max(workers, 1)
	q.workers.Add(workers)
	for range workers {
		go func() {
			defer q.workers.Done()
			for item := range q.ch {
				_ = item.handler.Handle(context.Background(), item.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, q: q}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	item := queued{handler: h.inner, rec: rec.Clone()}

	h.q.mu.RLock()
	defer h.q.mu.RUnlock()
	if h.q.closed {
		h.q.dropped.Add(1)
		return nil
	}
	select {
	case h.q.ch <- item:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// Dropped returns how many records were discarded so far.
func (h *AsyncHandler) Dropped() int64 {
	return h.q.dropped.Load()
}

// Close drains the queue and waits for the workers. Later records are
// dropped. Calling Close again is a no-op.
func (h *AsyncHandler) Close() {
	h.q.mu.Lock()
	if h.q.closed {
		h.q.mu.Unlock()
		return
	}
	h.q.closed = true
	close(h.q.ch)
	h.q.mu.Unlock()

	h.q.workers.Wait()
	if n := h.q.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log records dropped", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.q.base.Handle(context.Background(), rec)
	}
}
