package queue

import (
	"context"
	"sync"
	"time"

	"badgehub/internal/models"
	"badgehub/internal/remote"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// FlusherConfig tunes background flushing.
type FlusherConfig struct {
	// Interval is the delay between flushes while the remote keeps up.
	Interval time.Duration
	// MaxBackoff caps the delay after flushes that make no progress.
	MaxBackoff time.Duration
}

// Flusher drains the queue in the background, on a timer and on Nudge.
// While flushes make no progress the timer backs off exponentially up to
// MaxBackoff; the first success resets it.
type Flusher struct {
	queue   *Queue
	adapter remote.Adapter
	cfg     FlusherConfig
	logger  *zap.Logger

	nudge  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewFlusher creates a flusher; call Start to run it.
func NewFlusher(q *Queue, adapter remote.Adapter, cfg FlusherConfig, logger *zap.Logger) *Flusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.Interval {
		cfg.MaxBackoff = cfg.Interval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Flusher{
		queue:   q,
		adapter: adapter,
		cfg:     cfg,
		logger:  logger,
		nudge:   make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the background loop.
func (f *Flusher) Start() {
	f.startOnce.Do(func() {
		go f.run()
		f.logger.Info("Queue flusher started",
			zap.Duration("interval", f.cfg.Interval),
			zap.Duration("max_backoff", f.cfg.MaxBackoff),
		)
	})
}

// Nudge asks for a flush as soon as possible. It never blocks; nudges
// arriving while one is pending collapse into it.
func (f *Flusher) Nudge() {
	select {
	case f.nudge <- struct{}{}:
	default:
	}
}

// FlushNow flushes synchronously on the caller's goroutine.
func (f *Flusher) FlushNow(ctx context.Context) (succeeded, remaining []models.QueuedOperation, err error) {
	return f.queue.Flush(ctx, f.adapter)
}

// Pending lists the operations still waiting for the remote.
func (f *Flusher) Pending(ctx context.Context) ([]models.QueuedOperation, error) {
	return f.queue.Pending(ctx)
}

// Stop ends the loop and waits for an in-flight flush to return.
func (f *Flusher) Stop(ctx context.Context) error {
	f.stopOnce.Do(func() {
		f.cancel()
		// Never started: nothing will close done.
		f.startOnce.Do(func() { close(f.done) })
	})

	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Flusher) run() {
	defer close(f.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.Interval
	bo.MaxInterval = f.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	timer := time.NewTimer(f.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-timer.C:
		case <-f.nudge:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		next := f.cfg.Interval
		if f.flushOnce() {
			bo.Reset()
		} else {
			next = bo.NextBackOff()
		}
		timer.Reset(next)
	}
}

// flushOnce reports whether the queue is healthy: something was delivered
// or nothing was pending.
func (f *Flusher) flushOnce() bool {
	succeeded, remaining, err := f.queue.Flush(f.ctx, f.adapter)
	if err != nil {
		if f.ctx.Err() == nil {
			f.logger.Error("Queue flush failed", zap.Error(err))
		}
		return false
	}
	if len(succeeded) == 0 && len(remaining) > 0 {
		f.logger.Debug("Queue flush made no progress", zap.Int("remaining", len(remaining)))
		return false
	}
	return true
}
