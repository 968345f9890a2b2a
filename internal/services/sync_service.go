package services

import (
	"context"
	"time"

	"badgehub/internal/database"
	"badgehub/internal/models"

	"go.uber.org/zap"
)

// QueueFlusher flushes the offline queue on demand.
type QueueFlusher interface {
	FlushNow(ctx context.Context) (succeeded, remaining []models.QueuedOperation, err error)
	Pending(ctx context.Context) ([]models.QueuedOperation, error)
}

// syncService implements SyncService
type syncService struct {
	flusher QueueFlusher
	health  *database.HealthChecker
	logger  *zap.Logger
}

// NewSyncService creates the sync service. health may be nil when no
// remote is configured.
func NewSyncService(flusher QueueFlusher, health *database.HealthChecker, logger *zap.Logger) SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &syncService{
		flusher: flusher,
		health:  health,
		logger:  logger,
	}
}

// Flush runs one flush on the caller's goroutine.
func (s *syncService) Flush(ctx context.Context) (*FlushResponse, error) {
	start := time.Now()
	succeeded, remaining, err := s.flusher.FlushNow(ctx)
	if err != nil {
		return nil, NewLocalStoreError("failed to flush offline queue", err)
	}

	s.logger.Debug("Manual flush completed",
		zap.Int("succeeded", len(succeeded)),
		zap.Int("remaining", len(remaining)),
	)

	return &FlushResponse{
		Succeeded: len(succeeded),
		Remaining: len(remaining),
		Duration:  time.Since(start),
	}, nil
}

// Status reports the queue depth and the remote's last known health.
func (s *syncService) Status(ctx context.Context) (*SyncStatusResponse, error) {
	pending, err := s.pending(ctx)
	if err != nil {
		return nil, err
	}

	status := &SyncStatusResponse{
		Pending:      len(pending),
		RemoteStatus: "unconfigured",
	}
	if s.health != nil {
		status.RemoteStatus = s.health.GetLastStatus().Status
	}
	if len(pending) > 0 {
		status.OldestError = pending[0].LastError
	}
	return status, nil
}

func (s *syncService) pending(ctx context.Context) ([]models.QueuedOperation, error) {
	pending, err := s.flusher.Pending(ctx)
	if err != nil {
		return nil, NewLocalStoreError("failed to read offline queue", err)
	}
	return pending, nil
}
