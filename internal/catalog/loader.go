// Package catalog loads the badge rule catalog once per process.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"badgehub/internal/cache"
	"badgehub/internal/models"
	"badgehub/internal/remote"
	"badgehub/internal/validation"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Source names where the loaded catalog came from.
type Source string

const (
	SourceNone    Source = ""
	SourceRemote  Source = "remote"
	SourceCache   Source = "cache"
	SourceBundled Source = "bundled"
)

// CacheKey is the shared cache entry holding the last good remote catalog.
const CacheKey = "badgehub:catalog:v1"

// Options configures a Loader.
type Options struct {
	// UseMockCatalog serves the bundled catalog without contacting the
	// remote.
	UseMockCatalog bool
	// FetchRetries is how many times a failed remote fetch is retried.
	FetchRetries int
	// CacheTTL bounds how long a remote catalog stays in the shared cache.
	CacheTTL time.Duration
}

// Loader resolves the catalog from the remote, then the shared cache,
// then the bundled copy. The first result is kept for the loader's
// lifetime; concurrent first callers share a single load.
type Loader struct {
	remote  remote.Adapter
	shared  cache.Cache
	opts    Options
	logger  *zap.Logger
	bundled func() ([]models.Rule, error)

	group singleflight.Group

	mu     sync.RWMutex
	rules  []models.Rule
	source Source
}

// NewLoader creates a loader. shared may be nil.
func NewLoader(adapter remote.Adapter, shared cache.Cache, opts Options, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if adapter == nil {
		adapter = remote.Unconfigured{}
	}
	return &Loader{
		remote:  adapter,
		shared:  shared,
		opts:    opts,
		logger:  logger,
		bundled: Bundled,
	}
}

// LoadRules returns the catalog. The returned slice is a copy; callers may
// reorder it freely.
func (l *Loader) LoadRules(ctx context.Context) ([]models.Rule, error) {
	if rules, ok := l.cached(); ok {
		return rules, nil
	}

	ch := l.group.DoChan("catalog", func() (interface{}, error) {
		if rules, ok := l.cached(); ok {
			return rules, nil
		}
		// A caller leaving early must not abort the load for the others.
		return l.load(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]models.Rule)), nil
	}
}

// Source reports where the loaded catalog came from, or SourceNone before
// the first load.
func (l *Loader) Source() Source {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.source
}

func (l *Loader) cached() ([]models.Rule, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.rules == nil {
		return nil, false
	}
	return clone(l.rules), true
}

func (l *Loader) store(rules []models.Rule, source Source) []models.Rule {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules = rules
	l.source = source
	l.logger.Info("Rule catalog loaded",
		zap.String("source", string(source)),
		zap.Int("rules", len(rules)),
	)
	return rules
}

func (l *Loader) load(ctx context.Context) ([]models.Rule, error) {
	if !l.opts.UseMockCatalog {
		rules, err := l.fetchRemote(ctx)
		if err == nil {
			l.remember(ctx, rules)
			return l.store(rules, SourceRemote), nil
		}
		l.logger.Warn("Remote rule catalog unavailable, falling back", zap.Error(err))

		if rules, ok := l.lastKnownGood(ctx); ok {
			return l.store(rules, SourceCache), nil
		}
	}

	rules, err := l.bundled()
	if err != nil {
		// Packaging defect: nothing is cached so the next call retries.
		return nil, fmt.Errorf("bundled rule catalog is unusable: %w", err)
	}
	return l.store(rules, SourceBundled), nil
}

func (l *Loader) fetchRemote(ctx context.Context) ([]models.Rule, error) {
	var rules []models.Rule
	operation := func() error {
		fetched, err := l.remote.FetchRuleCatalog(ctx)
		if errors.Is(err, remote.ErrNotConfigured) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		if len(fetched) == 0 {
			return backoff.Permanent(errors.New("remote catalog is empty"))
		}
		if err := validation.ValidateRules(fetched); err != nil {
			return backoff.Permanent(fmt.Errorf("remote catalog is malformed: %w", err))
		}
		rules = fetched
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second

	retries := l.opts.FetchRetries
	if retries < 0 {
		retries = 0
	}

	err := backoff.RetryNotify(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx),
		func(err error, d time.Duration) {
			l.logger.Debug("Remote catalog fetch failed, retrying",
				zap.Error(err),
				zap.Duration("backoff", d))
		},
	)
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (l *Loader) remember(ctx context.Context, rules []models.Rule) {
	if l.shared == nil {
		return
	}
	if err := cache.SetJSON(ctx, l.shared, CacheKey, rules, l.opts.CacheTTL); err != nil {
		l.logger.Warn("Failed to cache rule catalog", zap.Error(err))
	}
}

func (l *Loader) lastKnownGood(ctx context.Context) ([]models.Rule, bool) {
	if l.shared == nil {
		return nil, false
	}
	var rules []models.Rule
	found, err := cache.GetJSON(ctx, l.shared, CacheKey, &rules)
	if err != nil {
		l.logger.Warn("Cached rule catalog is corrupt", zap.Error(err))
		l.evict(ctx)
		return nil, false
	}
	if !found || len(rules) == 0 {
		return nil, false
	}
	if err := validation.ValidateRules(rules); err != nil {
		l.logger.Warn("Cached rule catalog is invalid", zap.Error(err))
		l.evict(ctx)
		return nil, false
	}
	return rules, true
}

// evict drops an unusable cache entry so other processes stop reading it.
func (l *Loader) evict(ctx context.Context) {
	if err := l.shared.Delete(ctx, CacheKey); err != nil {
		l.logger.Warn("Failed to evict cached rule catalog", zap.Error(err))
	}
}

func clone(rules []models.Rule) []models.Rule {
	out := make([]models.Rule, len(rules))
	copy(out, rules)
	return out
}
