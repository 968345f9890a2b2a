// Package queue is the durable outbox for remote writes. Operations are
// stored in the local database and deleted only after the remote
// confirms them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"badgehub/internal/models"
	"badgehub/internal/remote"
	"badgehub/internal/repositories"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// Queue is a FIFO of pending remote writes.
//
// Flush visits a snapshot of the queue head to tail and applies each
// operation on its own. A failure moves that operation to the tail, so a
// poison record never blocks the ones behind it; delivery order under a
// partial outage is therefore not preserved. Enqueue is safe from any
// goroutine; one Flush runs at a time.
type Queue struct {
	repo      repositories.QueueRepository
	logger    *zap.Logger
	batchSize int
	opTimeout time.Duration
	now       func() time.Time

	flushMu sync.Mutex
}

// Config tunes flushing.
type Config struct {
	// BatchSize caps how many operations one Flush visits.
	BatchSize int
	// OperationTimeout bounds each remote call made by Flush.
	OperationTimeout time.Duration
}

// New creates a queue over repo.
func New(repo repositories.QueueRepository, cfg Config, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	return &Queue{
		repo:      repo,
		logger:    logger,
		batchSize: cfg.BatchSize,
		opTimeout: cfg.OperationTimeout,
		now:       time.Now,
	}
}

// NewOperation builds a queued operation with a fresh id around payload.
func NewOperation(kind models.OperationKind, payload interface{}) (models.QueuedOperation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.QueuedOperation{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return models.QueuedOperation{}, fmt.Errorf("failed to generate operation id: %w", err)
	}
	return models.QueuedOperation{
		ID:         id.String(),
		Kind:       kind,
		Payload:    data,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Enqueue appends op at the tail.
func (q *Queue) Enqueue(ctx context.Context, op models.QueuedOperation) error {
	return q.EnqueueTx(ctx, nil, op)
}

// EnqueueTx appends op inside the caller's local transaction, making the
// operation durable together with the write it mirrors.
func (q *Queue) EnqueueTx(ctx context.Context, tx repositories.DBTX, op models.QueuedOperation) error {
	if op.ID == "" {
		return fmt.Errorf("queued operation id is required")
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = q.now().UTC()
	}
	if err := q.repo.Append(ctx, tx, &op); err != nil {
		return err
	}
	q.logger.Debug("Operation queued",
		zap.String("operation_id", op.ID),
		zap.String("kind", string(op.Kind)),
	)
	return nil
}

// Ack removes an operation confirmed outside Flush.
func (q *Queue) Ack(ctx context.Context, id string) error {
	return q.repo.Delete(ctx, id)
}

// Len returns the number of pending operations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.repo.Count(ctx)
}

// Pending lists pending operations head first.
func (q *Queue) Pending(ctx context.Context) ([]models.QueuedOperation, error) {
	return q.repo.List(ctx, 0)
}

// Flush tries every operation in the current snapshot once. succeeded are
// the operations confirmed and removed; remaining is the queue afterwards.
// err is set only when the local queue itself cannot be read or updated.
func (q *Queue) Flush(ctx context.Context, adapter remote.Adapter) (succeeded, remaining []models.QueuedOperation, err error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	snapshot, err := q.repo.List(ctx, q.batchSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read queue: %w", err)
	}

	succeeded = make([]models.QueuedOperation, 0, len(snapshot))
	for _, op := range snapshot {
		if ctx.Err() != nil {
			break
		}

		applyErr := q.apply(ctx, adapter, op)
		if applyErr == nil {
			if err := q.repo.Delete(ctx, op.ID); err != nil {
				return succeeded, nil, fmt.Errorf("failed to remove confirmed operation: %w", err)
			}
			succeeded = append(succeeded, op)
			continue
		}

		if !errors.Is(applyErr, remote.ErrNotConfigured) {
			q.logger.Warn("Queued operation failed, requeued at tail",
				zap.String("operation_id", op.ID),
				zap.String("kind", string(op.Kind)),
				zap.Int("attempts", op.Attempts+1),
				zap.Error(applyErr),
			)
		}
		if err := q.repo.MoveToTail(ctx, op.ID, applyErr.Error()); err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return succeeded, nil, fmt.Errorf("failed to requeue operation: %w", err)
		}
	}

	remaining, err = q.repo.List(ctx, 0)
	if err != nil {
		return succeeded, nil, fmt.Errorf("failed to read queue: %w", err)
	}

	if len(succeeded) > 0 {
		q.logger.Info("Queue flushed",
			zap.Int("succeeded", len(succeeded)),
			zap.Int("remaining", len(remaining)),
		)
	}
	return succeeded, remaining, nil
}

// apply dispatches one operation to the adapter by kind.
func (q *Queue) apply(ctx context.Context, adapter remote.Adapter, op models.QueuedOperation) error {
	ctx, cancel := context.WithTimeout(ctx, q.opTimeout)
	defer cancel()

	switch op.Kind {
	case models.OperationAwardUpsert:
		var award models.Award
		if err := json.Unmarshal(op.Payload, &award); err != nil {
			return fmt.Errorf("corrupt %s payload: %w", op.Kind, err)
		}
		return adapter.UpsertAward(ctx, award)
	case models.OperationProgressUpsert:
		var progress models.Progress
		if err := json.Unmarshal(op.Payload, &progress); err != nil {
			return fmt.Errorf("corrupt %s payload: %w", op.Kind, err)
		}
		return adapter.UpsertProgress(ctx, progress)
	case models.OperationAnalyticsEvent:
		var event models.AnalyticsEvent
		if err := json.Unmarshal(op.Payload, &event); err != nil {
			return fmt.Errorf("corrupt %s payload: %w", op.Kind, err)
		}
		return adapter.RecordAnalyticsEvent(ctx, event)
	case models.OperationActivityRecord:
		var event models.Event
		if err := json.Unmarshal(op.Payload, &event); err != nil {
			return fmt.Errorf("corrupt %s payload: %w", op.Kind, err)
		}
		return adapter.RecordActivity(ctx, event)
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}
