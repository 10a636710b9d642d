package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/domain"
	"github.com/aescanero/dagplan/pkg/ports"
)

// RunExecutor drives one submitted run to a terminal phase. Implemented by
// the orchestrator manager.
type RunExecutor interface {
	ExecuteRun(ctx context.Context, runID string) error
}

// Pool consumes run-request events and executes runs on a bounded set of
// worker goroutines. The pool holds the single topic subscription and feeds
// a buffered queue so each run is picked up by exactly one worker.
type Pool struct {
	size     int
	eventBus ports.EventBus
	executor RunExecutor
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	health   *HealthMonitor

	queue   chan string
	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker is a single run-executing goroutine.
type worker struct {
	id     string
	pool   *Pool
	mu     sync.RWMutex
	status WorkerStatus
}

// WorkerStatus is a worker's current state.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a worker pool.
func NewPool(
	size int,
	eventBus ports.EventBus,
	executor RunExecutor,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:     size,
		eventBus: eventBus,
		executor: executor,
		metrics:  metrics,
		logger:   logger,
		queue:    make(chan string, size*4),
		workers:  make([]*worker, size),
		ctx:      ctx,
		cancel:   cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start subscribes to the run-requests topic and launches the workers.
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	if err := p.eventBus.Subscribe(p.ctx, domain.TopicRunRequests, p.handleRunRequest); err != nil {
		return fmt.Errorf("failed to subscribe to run requests: %w", err)
	}

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:     fmt.Sprintf("worker-%d", i),
			pool:   p,
			status: WorkerStatusIdle,
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Shutdown stops the workers and waits for in-flight runs.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of every worker.
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// Snapshot counts worker states and the queued runs waiting for one.
func (p *Pool) Snapshot() PoolSnapshot {
	snap := PoolSnapshot{
		Size:       p.size,
		QueueDepth: len(p.queue),
		Taken:      time.Now().UTC(),
	}
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		switch w.status {
		case WorkerStatusIdle:
			snap.Idle++
		case WorkerStatusBusy:
			snap.Busy++
		case WorkerStatusStopped:
			snap.Stopped++
		}
		w.mu.RUnlock()
	}
	return snap
}

// handleRunRequest queues a submitted run for execution.
func (p *Pool) handleRunRequest(ctx context.Context, event domain.Event) error {
	if event.Type != domain.EventTypeRunSubmitted {
		return nil
	}

	select {
	case p.queue <- event.RunID:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Info("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.status = WorkerStatusStopped
			w.mu.Unlock()
			w.pool.logger.Info("worker stopped", zap.String("worker_id", w.id))
			return

		case runID := <-w.pool.queue:
			w.executeRun(ctx, runID)
		}
	}
}

func (w *worker) executeRun(ctx context.Context, runID string) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.status = WorkerStatusIdle
		w.mu.Unlock()
	}()

	w.pool.logger.Info("executing run",
		zap.String("worker_id", w.id),
		zap.String("run_id", runID))

	start := time.Now()
	if err := w.pool.executor.ExecuteRun(ctx, runID); err != nil {
		w.pool.logger.Error("run execution failed",
			zap.String("worker_id", w.id),
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}

	w.pool.logger.Info("run execution finished",
		zap.String("worker_id", w.id),
		zap.String("run_id", runID),
		zap.Duration("duration", time.Since(start)))
}
