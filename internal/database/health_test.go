package database

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthCheckerRecoveryCallback(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	hc := NewPingHealthChecker(func(ctx context.Context) error {
		if failing.Load() {
			return errors.New("connection refused")
		}
		return nil
	}, 0, nil)

	var recovered int32
	hc.OnRecover(func() { atomic.AddInt32(&recovered, 1) })

	ctx := context.Background()
	assert.Equal(t, StatusStarting, hc.GetLastStatus().Status)
	assert.True(t, hc.IsReachable(), "unchecked backends are tried")

	status := hc.Check(ctx)
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "connection refused", status.Error)
	assert.False(t, hc.IsReachable())

	failing.Store(false)
	assert.Equal(t, StatusHealthy, hc.Check(ctx).Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&recovered))

	// healthy -> healthy is not a recovery
	hc.Check(ctx)
	assert.Equal(t, int32(1), atomic.LoadInt32(&recovered))
	assert.True(t, hc.IsReachable())

	hc.Stop()
	assert.Equal(t, StatusShutdown, hc.Check(ctx).Status)
}

