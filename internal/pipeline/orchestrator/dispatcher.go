package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/metrics"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/queue"
)

// DispatcherConfig holds worker pool tuning.
type DispatcherConfig struct {
	// Workers bounds concurrent task processing.
	Workers int
	// PollInterval is the fallback wakeup when no enqueue signal arrives.
	PollInterval time.Duration
}

// DefaultDispatcherConfig returns the production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:      10,
		PollInterval: 5 * time.Second,
	}
}

// Dispatcher feeds the worker pool from the pending index in priority order.
// Delayed retries re-enter through timer callbacks, never a blocking wait in
// a worker.
type Dispatcher struct {
	cfg     DispatcherConfig
	orc     *Orchestrator
	pending *queue.PendingIndex

	running atomic.Bool
	stop    chan struct{}
	wake    chan struct{}
	slots   chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	timers map[string]*time.Timer

	log *slog.Logger
}

// NewDispatcher creates a dispatcher over the shared pending index.
func NewDispatcher(cfg DispatcherConfig, pending *queue.PendingIndex) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultDispatcherConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultDispatcherConfig().PollInterval
	}
	return &Dispatcher{
		cfg:     cfg,
		pending: pending,
		stop:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		slots:   make(chan struct{}, cfg.Workers),
		timers:  make(map[string]*time.Timer),
		log:     slog.Default().With("component", "dispatcher"),
	}
}

// Bind attaches the orchestrator. Separate from the constructor because the
// orchestrator needs the dispatcher as its scheduler.
func (d *Dispatcher) Bind(orc *Orchestrator) {
	d.orc = orc
}

// Start runs the dispatch loop until the context is cancelled or Stop is
// called.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already running")
	}
	defer d.running.Store(false)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.log.Info("dispatcher started", "workers", d.cfg.Workers)
	for {
		d.drain(ctx)
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return nil
		case <-d.stop:
			d.wg.Wait()
			return nil
		case <-d.wake:
		case <-ticker.C:
		}
	}
}

// Stop signals the loop to exit and cancels outstanding retry timers.
// In-flight workers finish their current task.
func (d *Dispatcher) Stop() error {
	if d.running.CompareAndSwap(true, false) {
		close(d.stop)
	}

	d.mu.Lock()
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()
	return nil
}

// Enqueue adds a task to the pending set for immediate dispatch.
func (d *Dispatcher) Enqueue(id string, priority domain.Priority, queuedAt time.Time) {
	d.pending.Add(id, priority, queuedAt)
	metrics.QueueDepth.Set(float64(d.pending.Len()))
	d.wakeUp()
}

// ScheduleRetry re-enqueues a task after the backoff delay.
func (d *Dispatcher) ScheduleRetry(id string, priority domain.Priority, queuedAt time.Time, delay time.Duration) {
	if delay <= 0 {
		d.Enqueue(id, priority, queuedAt)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.timers[id]; ok {
		prev.Stop()
	}
	d.timers[id] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, id)
		d.mu.Unlock()
		d.Enqueue(id, priority, queuedAt)
	})
}

// Position returns the 1-based pending position of a task, 0 if not pending.
func (d *Dispatcher) Position(id string) int {
	return d.pending.Position(id)
}

func (d *Dispatcher) wakeUp() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// drain dispatches pending tasks while worker slots are free.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		default:
		}

		id := d.pending.Next()
		if id == "" {
			return
		}

		select {
		case d.slots <- struct{}{}:
		default:
			return
		}

		d.pending.Remove(id)
		metrics.QueueDepth.Set(float64(d.pending.Len()))

		d.wg.Add(1)
		metrics.ActiveWorkers.Inc()
		go func(taskID string) {
			defer func() {
				metrics.ActiveWorkers.Dec()
				<-d.slots
				d.wg.Done()
				d.wakeUp()
			}()
			if err := d.orc.Process(ctx, taskID); err != nil {
				d.log.Error("task processing error", "task_id", taskID, "error", err)
			}
		}(id)
	}
}
