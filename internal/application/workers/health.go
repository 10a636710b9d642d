package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// PoolSnapshot is a point-in-time view of worker states and queue depth.
type PoolSnapshot struct {
	Size       int
	Idle       int
	Busy       int
	Stopped    int
	QueueDepth int
	Taken      time.Time
}

// Healthy reports whether the pool can still pick up queued runs.
func (s PoolSnapshot) Healthy() bool {
	return s.Stopped == 0 && s.Idle > 0
}

// HealthMonitor periodically snapshots the pool, logs the counts and
// records them on the metrics collector.
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewHealthMonitor creates a monitor over the pool.
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the monitoring loop. Starting twice is a no-op.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop ends the monitoring loop. Stopping twice is a no-op.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
}

func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.observe()
		}
	}
}

func (h *HealthMonitor) observe() {
	snap := h.pool.Snapshot()

	h.logger.Info("worker pool status",
		zap.Int("size", snap.Size),
		zap.Int("idle", snap.Idle),
		zap.Int("busy", snap.Busy),
		zap.Int("stopped", snap.Stopped),
		zap.Int("queue_depth", snap.QueueDepth),
		zap.Bool("healthy", snap.Healthy()))

	h.pool.metrics.SetWorkerCounts(snap.Idle, snap.Busy, snap.Stopped)

	if snap.Stopped > 0 {
		h.logger.Warn("worker pool lost workers",
			zap.Int("stopped", snap.Stopped),
			zap.Int("size", snap.Size))
	}
	if snap.Idle == 0 && snap.QueueDepth > 0 {
		h.logger.Warn("worker pool saturated, runs queueing",
			zap.Int("queue_depth", snap.QueueDepth),
			zap.Int("size", snap.Size))
	}
}
