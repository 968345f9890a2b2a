// Package activity exposes users' event history to the evaluator. Each
// feature writes into the same log; the evaluator only reads through
// Source.
package activity

import (
	"context"
	"errors"
	"sync"

	"badgehub/internal/models"
	"badgehub/internal/remote"
	"badgehub/internal/repositories"

	"go.uber.org/zap"
)

// Source reads a user's events from one named source. An empty source
// name reads every source. No data is an empty slice, not an error.
type Source interface {
	GetEventsForUser(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error)

func (f SourceFunc) GetEventsForUser(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error) {
	return f(ctx, userID, source, filter)
}

// ===============================
// LOCAL
// ===============================

type localSource struct {
	repo repositories.ActivityRepository
}

// NewLocalSource reads the local activity log.
func NewLocalSource(repo repositories.ActivityRepository) Source {
	return &localSource{repo: repo}
}

func (s *localSource) GetEventsForUser(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error) {
	return s.repo.ListForUser(ctx, userID, source, filter)
}

// ===============================
// REMOTE
// ===============================

type remoteSource struct {
	adapter remote.Adapter
}

// NewRemoteSource reads the shared activity log through the adapter.
func NewRemoteSource(adapter remote.Adapter) Source {
	return &remoteSource{adapter: adapter}
}

func (s *remoteSource) GetEventsForUser(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error) {
	return s.adapter.GetEventsForUser(ctx, userID, source, filter)
}

// ===============================
// AVAILABILITY
// ===============================

// ErrUnavailable is returned by a gated source while its backend is down.
var ErrUnavailable = errors.New("activity source unavailable")

type gatedSource struct {
	next      Source
	available func() bool
}

// WhenAvailable skips next while available reports false, so a backend
// known to be down costs nothing instead of a timeout.
func WhenAvailable(next Source, available func() bool) Source {
	if available == nil {
		return next
	}
	return &gatedSource{next: next, available: available}
}

func (s *gatedSource) GetEventsForUser(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error) {
	if !s.available() {
		return nil, ErrUnavailable
	}
	return s.next.GetEventsForUser(ctx, userID, source, filter)
}

// ===============================
// COMPOSITE
// ===============================

// Snapshotter is a Source that can pin one read per backend for a user.
type Snapshotter interface {
	Snapshot(userID string) Source
}

type compositeSource struct {
	sources []Source
	logger  *zap.Logger
}

// NewCompositeSource merges several sources, deduplicating events by id.
// It returns whatever the reachable sources produced and fails only when
// every source fails.
func NewCompositeSource(logger *zap.Logger, sources ...Source) Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &compositeSource{sources: sources, logger: logger}
}

func (s *compositeSource) GetEventsForUser(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error) {
	results := make([]sourceRead, len(s.sources))
	for i, src := range s.sources {
		results[i].events, results[i].err = src.GetEventsForUser(ctx, userID, source, filter)
		s.logFailure(userID, source, results[i].err)
	}
	return merge(results, func(models.Event) bool { return true })
}

// Snapshot returns a view of userID's activity that reads every backend
// once, on first use, and answers later queries from memory. A backend
// that failed is not asked again. The view is meant for one evaluation
// pass and must not outlive it.
func (s *compositeSource) Snapshot(userID string) Source {
	return &snapshotSource{parent: s, userID: userID}
}

func (s *compositeSource) logFailure(userID, source string, err error) {
	if err == nil || errors.Is(err, remote.ErrNotConfigured) || errors.Is(err, ErrUnavailable) {
		return
	}
	s.logger.Debug("Activity source unavailable",
		zap.String("user_id", userID),
		zap.String("source", source),
		zap.Error(err),
	)
}

type sourceRead struct {
	events []models.Event
	err    error
}

type snapshotSource struct {
	parent *compositeSource
	userID string

	mu    sync.Mutex
	reads []sourceRead
}

func (s *snapshotSource) GetEventsForUser(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error) {
	if userID != s.userID {
		return s.parent.GetEventsForUser(ctx, userID, source, filter)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reads == nil {
		s.reads = make([]sourceRead, len(s.parent.sources))
		for i, src := range s.parent.sources {
			s.reads[i].events, s.reads[i].err = src.GetEventsForUser(ctx, userID, "", nil)
			s.parent.logFailure(userID, "", s.reads[i].err)
		}
	}

	return merge(s.reads, func(e models.Event) bool {
		return (source == "" || e.Source == source) && e.Matches(filter)
	})
}

// merge joins per-backend reads, keeping events accepted by keep and
// dropping repeated ids. It fails only when every read failed.
func merge(reads []sourceRead, keep func(models.Event) bool) ([]models.Event, error) {
	var (
		merged = make([]models.Event, 0)
		seen   = make(map[string]struct{})
		errs   []error
	)

	for _, read := range reads {
		if read.err != nil {
			errs = append(errs, read.err)
			continue
		}
		for _, e := range read.events {
			if !keep(e) {
				continue
			}
			if e.ID != "" {
				if _, dup := seen[e.ID]; dup {
					continue
				}
				seen[e.ID] = struct{}{}
			}
			merged = append(merged, e)
		}
	}

	if len(reads) > 0 && len(errs) == len(reads) {
		return nil, errors.Join(errs...)
	}
	return merged, nil
}
