package logger

import (
	"context"
	"log/slog"
	"sync"
)

// AsyncHandler buffers records on a channel and hands them to the wrapped
// handler from a single background goroutine, taking logging off the
// request/processing hot path.
type AsyncHandler struct {
	next    slog.Handler
	records chan asyncRecord
	drop    bool
	once    sync.Once
	done    chan struct{}
}

type asyncRecord struct {
	ctx context.Context
	r   slog.Record
}

// NewAsyncHandler starts a background worker draining into next. If drop is
// true, records are discarded when the buffer is full instead of blocking
// the caller.
func NewAsyncHandler(next slog.Handler, bufferSize int, drop bool) *AsyncHandler {
	h := &AsyncHandler{
		next:    next,
		records: make(chan asyncRecord, bufferSize),
		drop:    drop,
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *AsyncHandler) run() {
	defer close(h.done)
	for rec := range h.records {
		_ = h.next.Handle(rec.ctx, rec.r)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(ctx context.Context, r slog.Record) error {
	rec := asyncRecord{ctx: ctx, r: r.Clone()}
	if h.drop {
		select {
		case h.records <- rec:
		default:
			// buffer full, drop rather than block the caller
		}
		return nil
	}
	h.records <- rec
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{next: h.next.WithAttrs(attrs), records: h.records, drop: h.drop, done: h.done}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{next: h.next.WithGroup(name), records: h.records, drop: h.drop, done: h.done}
}

// Close stops accepting new records and waits for the buffer to drain.
func (h *AsyncHandler) Close() {
	h.once.Do(func() {
		close(h.records)
	})
	<-h.done
}
