package database

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Health check statuses
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusStarting  = "starting"
	StatusShutdown  = "shutdown"
)

// HealthStatus represents the result of one reachability check
type HealthStatus struct {
	Status       string        `json:"status"`
	Timestamp    time.Time     `json:"timestamp"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
}

// PingFunc probes a backend.
type PingFunc func(ctx context.Context) error

// HealthChecker pings a backend periodically and reports transitions from
// unhealthy to healthy to its recovery listeners.
type HealthChecker struct {
	ping   PingFunc
	logger *zap.Logger

	mu         sync.RWMutex
	status     *HealthStatus
	onRecover  []func()
	isActive   int32
	isShutdown int32

	stopCh   chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	checkInterval   time.Duration
	timeoutDuration time.Duration
}

// NewHealthChecker creates a checker; monitoring starts with StartMonitoring.
func NewHealthChecker(manager *Manager, logger *zap.Logger) *HealthChecker {
	interval := 30 * time.Second
	if manager.config != nil && manager.config.PingInterval > 0 {
		interval = manager.config.PingInterval
	}
	return NewPingHealthChecker(func(ctx context.Context) error {
		db := manager.DB()
		if db == nil {
			return errors.New("remote database is closed")
		}
		return db.PingContext(ctx)
	}, interval, logger)
}

// NewPingHealthChecker builds a checker around an arbitrary probe.
func NewPingHealthChecker(ping PingFunc, interval time.Duration, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthChecker{
		ping:            ping,
		logger:          logger,
		stopCh:          make(chan struct{}),
		stopped:         make(chan struct{}),
		checkInterval:   interval,
		timeoutDuration: 5 * time.Second,
	}
}

// OnRecover registers fn to run whenever a check succeeds after a failed
// one. Listeners run synchronously on the checking goroutine.
func (hc *HealthChecker) OnRecover(fn func()) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onRecover = append(hc.onRecover, fn)
}

// Check probes the backend once and records the result.
func (hc *HealthChecker) Check(ctx context.Context) *HealthStatus {
	if atomic.LoadInt32(&hc.isShutdown) == 1 {
		return &HealthStatus{Status: StatusShutdown, Timestamp: time.Now()}
	}

	ctx, cancel := context.WithTimeout(ctx, hc.timeoutDuration)
	defer cancel()

	start := time.Now()
	status := &HealthStatus{Status: StatusHealthy, Timestamp: start}
	if err := hc.ping(ctx); err != nil {
		status.Status = StatusUnhealthy
		status.Error = err.Error()
	}
	status.ResponseTime = time.Since(start)

	hc.mu.Lock()
	previous := hc.status
	hc.status = status
	listeners := append([]func(){}, hc.onRecover...)
	hc.mu.Unlock()

	if previous != nil && previous.Status != status.Status {
		hc.logger.Info("Remote health status changed",
			zap.String("from", previous.Status),
			zap.String("to", status.Status),
			zap.Duration("response_time", status.ResponseTime),
		)
		if previous.Status == StatusUnhealthy && status.Status == StatusHealthy {
			for _, fn := range listeners {
				fn()
			}
		}
	}

	return status
}

// StartMonitoring begins background checks. It is a no-op when already
// running or stopped.
func (hc *HealthChecker) StartMonitoring() {
	if atomic.LoadInt32(&hc.isShutdown) == 1 || !atomic.CompareAndSwapInt32(&hc.isActive, 0, 1) {
		return
	}
	go hc.startPeriodicChecks()
	hc.logger.Info("Background health monitoring started", zap.Duration("interval", hc.checkInterval))
}

func (hc *HealthChecker) startPeriodicChecks() {
	defer close(hc.stopped)

	hc.Check(context.Background())

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.Check(context.Background())
		case <-hc.stopCh:
			return
		}
	}
}

// Stop ends background monitoring.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() {
		atomic.StoreInt32(&hc.isShutdown, 1)
		close(hc.stopCh)
		if atomic.LoadInt32(&hc.isActive) == 1 {
			select {
			case <-hc.stopped:
			case <-time.After(5 * time.Second):
				hc.logger.Warn("Health checker stop timeout")
			}
		}
	})
}

// GetLastStatus returns the last recorded check.
func (hc *HealthChecker) GetLastStatus() *HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	if hc.status == nil {
		return &HealthStatus{Status: StatusStarting, Timestamp: time.Now()}
	}
	return hc.status
}

// IsReachable reports whether the backend is worth calling: the last
// check succeeded or none has finished yet.
func (hc *HealthChecker) IsReachable() bool {
	switch hc.GetLastStatus().Status {
	case StatusHealthy, StatusStarting:
		return true
	default:
		return false
	}
}
