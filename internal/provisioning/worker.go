package provisioning

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portalgate/internal/store"
)

// Reconciler advances one custom hostname record. Provisioner satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, id uuid.UUID) error
}

// Worker periodically scans for due records and reconciles them on a fixed pool
// of goroutines. A record is never processed by two goroutines at once.
type Worker struct {
	store      store.Store
	reconciler Reconciler
	workers    int
	interval   time.Duration
	batchSize  int

	queue    chan uuid.UUID
	inflight sync.Map

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(st store.Store, reconciler Reconciler, workers int, interval time.Duration) *Worker {
	if workers <= 0 {
		workers = 1
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Worker{
		store:      st,
		reconciler: reconciler,
		workers:    workers,
		interval:   interval,
		batchSize:  100,
		queue:      make(chan uuid.UUID, workers*16),
	}
}

// Start launches the scan loop and the pool. Calling Start twice is a no-op.
func (w *Worker) Start(parent context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel

	w.wg.Add(w.workers + 1)
	for i := 0; i < w.workers; i++ {
		go w.run(ctx)
	}
	go w.loop(ctx)
	slog.Info("provisioning worker started", "workers", w.workers, "interval", w.interval)
}

// Close stops scanning and waits for in-flight reconciles to finish.
func (w *Worker) Close() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	return nil
}

// Enqueue schedules id for reconciliation without blocking. Records already queued
// or running are skipped; a full queue drops the request and the next scan picks it up.
func (w *Worker) Enqueue(id uuid.UUID) bool {
	if _, loaded := w.inflight.LoadOrStore(id, struct{}{}); loaded {
		return false
	}
	select {
	case w.queue <- id:
		return true
	default:
		w.inflight.Delete(id)
		return false
	}
}

// Hint implements resolver.Hinter.
func (w *Worker) Hint(id uuid.UUID) {
	w.Enqueue(id)
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.Scan(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Scan enqueues every record whose next check is due and returns how many were queued.
func (w *Worker) Scan(ctx context.Context) int {
	due, err := w.store.ListDueCustomHostnames(ctx, time.Now().UTC(), w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("listing due custom hostnames", "error", err)
		}
		return 0
	}
	n := 0
	for _, rec := range due {
		if w.Enqueue(rec.ID) {
			n++
		}
	}
	return n
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-w.queue:
			w.process(ctx, id)
		}
	}
}

func (w *Worker) process(ctx context.Context, id uuid.UUID) {
	defer w.inflight.Delete(id)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic reconciling custom hostname", "record_id", id, "error", r)
		}
	}()
	if err := w.reconciler.Reconcile(ctx, id); err != nil && ctx.Err() == nil {
		slog.Error("reconciling custom hostname", "record_id", id, "error", err)
	}
}
