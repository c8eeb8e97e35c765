package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vnmchuo/ai-cost-gateway/internal/ledger"
)

// UsageWriter appends usage records off the request path through a buffered
// queue. The proxy must never wait on the ledger to return a response; it
// enqueues and moves on. After each append the optional hook runs, which is
// where post-call budget re-evaluation happens.
type UsageWriter struct {
	store ledger.Store
	after func(ctx context.Context, rec *ledger.Record)
	log   *zap.SugaredLogger

	ch     chan *ledger.Record
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func NewUsageWriter(store ledger.Store, buffer int, after func(ctx context.Context, rec *ledger.Record), log *zap.SugaredLogger) *UsageWriter {
	if buffer <= 0 {
		buffer = 256
	}
	return &UsageWriter{
		store: store,
		after: after,
		log:   log,
		ch:    make(chan *ledger.Record, buffer),
	}
}

// Start launches the drain loop. It runs until Close.
func (w *UsageWriter) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for rec := range w.ch {
			w.write(rec)
		}
	}()
}

// Enqueue hands a record to the writer. When the queue is full, or the writer
// has already been closed, the record is written synchronously rather than
// dropped: the ledger is the audit trail and losing records silently would
// corrupt spend computation.
func (w *UsageWriter) Enqueue(rec *ledger.Record) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.write(rec)
		return
	}
	select {
	case w.ch <- rec:
		w.mu.Unlock()
	default:
		w.mu.Unlock()
		w.log.Warnw("usage queue full, writing synchronously", "tenant_id", rec.TenantID)
		w.write(rec)
	}
}

func (w *UsageWriter) write(rec *ledger.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.store.Append(ctx, rec); err != nil {
		w.log.Errorw("failed to append usage record",
			"tenant_id", rec.TenantID, "provider", rec.Provider, "error", err)
		return
	}

	if w.after != nil {
		w.after(ctx, rec)
	}
}

// Close drains the queue and waits for in-flight writes. Enqueue remains safe
// after Close; late records are written synchronously.
func (w *UsageWriter) Close() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.ch)
	})
	w.wg.Wait()
}
