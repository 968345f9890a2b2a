// Package remotetest provides an in-memory remote.Adapter for tests.
package remotetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"badgehub/internal/models"
	"badgehub/internal/remote"
)

// ErrUnavailable is the default injected failure.
var ErrUnavailable = errors.New("remote unavailable")

// Fake is a concurrency-safe in-memory adapter with failure injection.
type Fake struct {
	mu sync.Mutex

	awards    map[string]models.Award
	progress  map[string]models.Progress
	analytics map[string]models.AnalyticsEvent
	activity  map[string]models.Event

	rules      []models.Rule
	catalogErr error
	events     []models.Event
	eventsErr  error

	writeErr    error
	failBadges  map[string]bool
	delay       time.Duration
	catalogHits int32
	awardCalls  int32
}

var _ remote.Adapter = (*Fake)(nil)

// New returns an empty, healthy fake.
func New() *Fake {
	return &Fake{
		awards:     make(map[string]models.Award),
		progress:   make(map[string]models.Progress),
		analytics:  make(map[string]models.AnalyticsEvent),
		activity:   make(map[string]models.Event),
		failBadges: make(map[string]bool),
	}
}

func key(userID, badgeID string) string {
	return userID + "\x00" + badgeID
}

// FailWrites makes every write and Ping return err; nil heals the fake.
func (f *Fake) FailWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// FailBadge makes UpsertAward fail for one badge only.
func (f *Fake) FailBadge(badgeID string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failBadges[badgeID] = fail
}

// SetDelay makes every call block for d or until its context ends.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// SetCatalog sets the rules returned by FetchRuleCatalog, or its error.
func (f *Fake) SetCatalog(rules []models.Rule, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = rules
	f.catalogErr = err
}

// SetEvents sets the remote activity log, or the error reading it.
func (f *Fake) SetEvents(events []models.Event, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = events
	f.eventsErr = err
}

// CatalogHits returns how many times FetchRuleCatalog ran.
func (f *Fake) CatalogHits() int {
	return int(atomic.LoadInt32(&f.catalogHits))
}

// AwardCalls returns how many times UpsertAward ran.
func (f *Fake) AwardCalls() int {
	return int(atomic.LoadInt32(&f.awardCalls))
}

// Awards returns a copy of the stored awards.
func (f *Fake) Awards() []models.Award {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Award, 0, len(f.awards))
	for _, a := range f.awards {
		out = append(out, a)
	}
	return out
}

// HasAward reports whether the award reached the fake.
func (f *Fake) HasAward(userID, badgeID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.awards[key(userID, badgeID)]
	return ok
}

// Progress returns the stored progress for one badge.
func (f *Fake) Progress(userID, badgeID string) (models.Progress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.progress[key(userID, badgeID)]
	return p, ok
}

// AnalyticsCount returns the number of analytics events received.
func (f *Fake) AnalyticsCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.analytics)
}

// ActivityCount returns the number of activity events received.
func (f *Fake) ActivityCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.activity)
}

func (f *Fake) wait(ctx context.Context) error {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *Fake) UpsertAward(ctx context.Context, award models.Award) error {
	atomic.AddInt32(&f.awardCalls, 1)
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.failBadges[award.BadgeID] {
		return ErrUnavailable
	}
	if _, ok := f.awards[key(award.UserID, award.BadgeID)]; !ok {
		f.awards[key(award.UserID, award.BadgeID)] = award
	}
	return nil
}

func (f *Fake) UpsertProgress(ctx context.Context, progress models.Progress) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.progress[key(progress.UserID, progress.BadgeID)] = progress
	return nil
}

func (f *Fake) RecordAnalyticsEvent(ctx context.Context, event models.AnalyticsEvent) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.analytics[event.ID] = event
	return nil
}

func (f *Fake) RecordActivity(ctx context.Context, event models.Event) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.activity[event.ID] = event
	return nil
}

func (f *Fake) FetchRuleCatalog(ctx context.Context) ([]models.Rule, error) {
	atomic.AddInt32(&f.catalogHits, 1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.catalogErr != nil {
		return nil, f.catalogErr
	}
	return append([]models.Rule(nil), f.rules...), nil
}

func (f *Fake) GetEventsForUser(ctx context.Context, userID, source string, filter map[string]string) ([]models.Event, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	out := make([]models.Event, 0)
	for _, e := range f.events {
		if e.UserID != userID || (source != "" && e.Source != source) {
			continue
		}
		if e.Matches(filter) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeErr
}

func (f *Fake) Close() error {
	return nil
}
