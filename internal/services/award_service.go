package services

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"badgehub/internal/catalog"
	"badgehub/internal/events"
	"badgehub/internal/models"
	"badgehub/internal/queue"
	"badgehub/internal/remote"
	"badgehub/internal/repositories"
	"badgehub/internal/validation"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// awardService implements AwardService over the local store. The local
// store is authoritative; the remote only ever receives copies through
// the queue.
type awardService struct {
	repos     *repositories.Collection
	catalog   RuleCatalog
	evaluator RuleEvaluator
	queue     *queue.Queue
	remote    remote.Adapter
	events    events.EventBus
	nudger    FlushNudger
	locks     *userLocks
	logger    *zap.Logger
	config    *AwardServiceConfig
}

// AwardServiceConfig holds award service configuration
type AwardServiceConfig struct {
	// RemoteTimeout bounds the immediate remote push of one call's awards.
	RemoteTimeout time.Duration `json:"remote_timeout"`
	// Clock returns the award time. Defaults to time.Now.
	Clock func() time.Time `json:"-"`
}

// DefaultAwardConfig returns default award service configuration
func DefaultAwardConfig() *AwardServiceConfig {
	return &AwardServiceConfig{
		RemoteTimeout: 3 * time.Second,
		Clock:         time.Now,
	}
}

// NewAwardService creates the award engine. adapter may be
// remote.Unconfigured; bus and nudger may be nil.
func NewAwardService(
	repos *repositories.Collection,
	ruleCatalog RuleCatalog,
	evaluator RuleEvaluator,
	q *queue.Queue,
	adapter remote.Adapter,
	bus events.EventBus,
	nudger FlushNudger,
	logger *zap.Logger,
	config *AwardServiceConfig,
) AwardService {
	if config == nil {
		config = DefaultAwardConfig()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = DefaultAwardConfig().RemoteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if adapter == nil {
		adapter = remote.Unconfigured{}
	}

	return &awardService{
		repos:     repos,
		catalog:   ruleCatalog,
		evaluator: evaluator,
		queue:     q,
		remote:    adapter,
		events:    bus,
		nudger:    nudger,
		locks:     newUserLocks(),
		logger:    logger,
		config:    config,
	}
}

// pendingAward is a committed award and the outbox entry that mirrors it.
type pendingAward struct {
	award models.Award
	opID  string
}

// ===============================
// EVALUATION
// ===============================

// EvaluateAndAward bootstraps seeds, evaluates the trigger's rules in
// priority order and commits newly met awards. The returned awards are
// exactly those inserted by this call; concurrent calls for one user never
// return the same badge twice.
func (s *awardService) EvaluateAndAward(ctx context.Context, userID string, trigger models.TriggerType, triggerContext map[string]interface{}) ([]models.Award, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, NewValidationError("user id is required", nil)
	}
	if strings.TrimSpace(string(trigger)) == "" {
		return nil, NewValidationError("trigger type is required", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, NewCanceledError(err)
	}

	rules, err := s.catalog.LoadRules(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewCanceledError(ctx.Err())
		}
		return nil, NewCatalogError("failed to load rule catalog", err)
	}
	selected := selectRules(rules, trigger)

	unlock, err := s.locks.lock(ctx, userID)
	if err != nil {
		return nil, NewCanceledError(err)
	}
	defer unlock()

	if err := s.bootstrap(ctx, userID); err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return []models.Award{}, nil
	}

	owned, err := s.ownedBadges(ctx, userID)
	if err != nil {
		return nil, err
	}

	evalContext := evaluationContext(trigger, triggerContext)
	now := s.config.Clock().UTC()

	unowned := make([]models.Rule, 0, len(selected))
	for _, rule := range selected {
		if !owned[rule.BadgeID] {
			unowned = append(unowned, rule)
		}
	}
	results := s.evaluator.EvaluateAll(ctx, unowned, userID, evalContext)

	candidates := make([]models.Award, 0, len(unowned))
	progress := make([]models.Progress, 0, len(unowned))
	for i, rule := range unowned {
		result := results[i]
		progress = append(progress, models.Progress{
			UserID:    userID,
			BadgeID:   rule.BadgeID,
			Current:   result.Current,
			Required:  result.Required,
			UpdatedAt: now,
		})
		if !result.Awarded {
			continue
		}

		candidates = append(candidates, models.Award{
			UserID:    userID,
			BadgeID:   rule.BadgeID,
			AwardedAt: now,
			Context:   maps.Clone(evalContext),
		})
	}

	// Nothing is written for a caller that has already gone away.
	if err := ctx.Err(); err != nil {
		return nil, NewCanceledError(err)
	}

	committed, err := s.commit(ctx, candidates, progress)
	if err != nil {
		return nil, err
	}

	s.push(ctx, committed)

	awards := make([]models.Award, 0, len(committed))
	for _, pending := range committed {
		awards = append(awards, pending.award)
	}
	s.notify(ctx, awards, trigger)

	if len(awards) > 0 {
		s.logger.Info("Badges awarded",
			zap.String("user_id", userID),
			zap.String("trigger", string(trigger)),
			zap.Strings("badge_ids", badgeIDs(awards)),
		)
	}

	return awards, nil
}

// selectRules keeps the trigger's rules ordered by ascending effective
// priority; equal priorities keep catalog order.
func selectRules(rules []models.Rule, trigger models.TriggerType) []models.Rule {
	selected := make([]models.Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.TriggerType == trigger {
			selected = append(selected, rule)
		}
	}
	slices.SortStableFunc(selected, func(a, b models.Rule) int {
		return cmp.Compare(a.EffectivePriority(), b.EffectivePriority())
	})
	return selected
}

// evaluationContext copies the caller's context and stamps the trigger.
func evaluationContext(trigger models.TriggerType, triggerContext map[string]interface{}) map[string]interface{} {
	evalContext := maps.Clone(triggerContext)
	if evalContext == nil {
		evalContext = make(map[string]interface{}, 1)
	}
	evalContext[models.ContextKeyTrigger] = string(trigger)
	return evalContext
}

func (s *awardService) ownedBadges(ctx context.Context, userID string) (map[string]bool, error) {
	awards, err := s.repos.Award.ListByUser(ctx, userID)
	if err != nil {
		return nil, storeError(ctx, "failed to read awards", err)
	}
	owned := make(map[string]bool, len(awards))
	for _, award := range awards {
		owned[award.BadgeID] = true
	}
	return owned, nil
}

// bootstrap grants a user's seeded awards when they hold none yet. Seeded
// awards are not returned or announced; they reach the remote through the
// queue.
func (s *awardService) bootstrap(ctx context.Context, userID string) error {
	count, err := s.repos.Award.CountByUser(ctx, userID)
	if err != nil {
		return storeError(ctx, "failed to count awards", err)
	}
	if count > 0 {
		return nil
	}

	seeds, err := s.repos.Seed.ListForUser(ctx, userID)
	if err != nil {
		return storeError(ctx, "failed to read award seeds", err)
	}
	if len(seeds) == 0 {
		return nil
	}

	now := s.config.Clock().UTC()
	seeded := 0
	err = s.repos.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, seed := range seeds {
			award := models.Award{
				UserID:    seed.UserID,
				BadgeID:   seed.BadgeID,
				AwardedAt: now,
				Context:   maps.Clone(seed.Context),
			}
			inserted, err := s.repos.Award.Insert(ctx, tx, &award)
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}
			if _, err := s.enqueue(ctx, tx, models.OperationAwardUpsert, award); err != nil {
				return err
			}
			seeded++
		}
		return nil
	})
	if err != nil {
		return storeError(ctx, "failed to seed default awards", err)
	}

	if seeded > 0 {
		s.logger.Info("Default awards seeded", zap.String("user_id", userID), zap.Int("count", seeded))
		s.nudge()
	}
	return nil
}

// commit writes awards, progress and their outbox entries in one local
// transaction. Only awards actually inserted are returned.
func (s *awardService) commit(ctx context.Context, candidates []models.Award, progress []models.Progress) ([]pendingAward, error) {
	if len(candidates) == 0 && len(progress) == 0 {
		return nil, nil
	}

	var committed []pendingAward
	err := s.repos.WithTransaction(ctx, func(tx *sql.Tx) error {
		committed = committed[:0]

		for i := range progress {
			changed, err := s.repos.Progress.Upsert(ctx, tx, &progress[i])
			if err != nil {
				return err
			}
			if changed {
				if _, err := s.enqueue(ctx, tx, models.OperationProgressUpsert, progress[i]); err != nil {
					return err
				}
			}
		}

		for i := range candidates {
			inserted, err := s.repos.Award.Insert(ctx, tx, &candidates[i])
			if err != nil {
				return err
			}
			if !inserted {
				s.logger.Debug("Award already present",
					zap.String("user_id", candidates[i].UserID),
					zap.String("badge_id", candidates[i].BadgeID),
				)
				continue
			}
			opID, err := s.enqueue(ctx, tx, models.OperationAwardUpsert, candidates[i])
			if err != nil {
				return err
			}
			committed = append(committed, pendingAward{award: candidates[i], opID: opID})
		}
		return nil
	})
	if err != nil {
		return nil, storeError(ctx, "failed to commit awards", err)
	}
	return committed, nil
}

func (s *awardService) enqueue(ctx context.Context, tx repositories.DBTX, kind models.OperationKind, payload interface{}) (string, error) {
	op, err := queue.NewOperation(kind, payload)
	if err != nil {
		return "", err
	}
	if err := s.queue.EnqueueTx(ctx, tx, op); err != nil {
		return "", err
	}
	return op.ID, nil
}

// push sends committed awards to the remote right away. The local commit
// already happened, so the caller's cancellation no longer applies; one
// remote timeout covers the whole batch. Whatever is not confirmed in
// time stays queued for the flusher.
func (s *awardService) push(ctx context.Context, committed []pendingAward) {
	if len(committed) == 0 {
		return
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.RemoteTimeout)
	defer cancel()

	pushed := 0
	for i, pending := range committed {
		if pushCtx.Err() != nil {
			s.logger.Warn("Remote award push ran out of time, left queued",
				zap.String("user_id", pending.award.UserID),
				zap.Int("queued", len(committed)-i),
			)
			break
		}
		if err := s.remote.UpsertAward(pushCtx, pending.award); err != nil {
			if !errors.Is(err, remote.ErrNotConfigured) {
				s.logger.Warn("Remote award push failed, left queued",
					zap.String("user_id", pending.award.UserID),
					zap.String("badge_id", pending.award.BadgeID),
					zap.Error(err),
				)
			}
			continue
		}
		if err := s.queue.Ack(context.WithoutCancel(ctx), pending.opID); err != nil {
			s.logger.Warn("Failed to remove confirmed award operation",
				zap.String("operation_id", pending.opID),
				zap.Error(err),
			)
			continue
		}
		pushed++
	}

	if pushed > 0 {
		s.nudge()
	}
}

func (s *awardService) notify(ctx context.Context, awards []models.Award, trigger models.TriggerType) {
	if s.events == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, award := range awards {
		if err := s.events.Publish(detached, events.NewBadgeAwardedEvent(award, trigger)); err != nil {
			s.logger.Warn("Failed to publish badge awarded event",
				zap.String("user_id", award.UserID),
				zap.String("badge_id", award.BadgeID),
				zap.Error(err),
			)
		}
	}
}

func (s *awardService) nudge() {
	if s.nudger != nil {
		s.nudger.Nudge()
	}
}

// ===============================
// ACTIVITY
// ===============================

// RecordActivity stores the event locally, queues its remote copy and runs
// the trigger it fires with the event attributes as trigger context.
func (s *awardService) RecordActivity(ctx context.Context, req *RecordActivityRequest) (*RecordActivityResponse, error) {
	if req == nil {
		return nil, NewValidationError("activity request is required", nil)
	}
	if err := validation.ValidateStruct(req); err != nil {
		return nil, NewValidationError("invalid activity request", err)
	}

	event := req.Event
	if event.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, NewInternalError("failed to generate event id")
		}
		event.ID = id.String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.config.Clock()
	}
	event.OccurredAt = event.OccurredAt.UTC()

	err := s.repos.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := s.repos.Activity.Record(ctx, tx, &event); err != nil {
			return err
		}
		_, err := s.enqueue(ctx, tx, models.OperationActivityRecord, event)
		return err
	})
	if err != nil {
		return nil, storeError(ctx, "failed to record activity", err)
	}
	s.nudge()

	trigger := req.TriggerType
	if trigger == "" {
		trigger = models.TriggerForSource(event.Source)
	}

	awards, err := s.EvaluateAndAward(ctx, event.UserID, trigger, event.Attributes)
	if err != nil {
		return nil, err
	}

	return &RecordActivityResponse{Event: event, Awards: awards}, nil
}

// ===============================
// READ SIDE
// ===============================

// GetAwards lists a user's awards in award order.
func (s *awardService) GetAwards(ctx context.Context, userID string) ([]models.Award, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, NewValidationError("user id is required", nil)
	}
	awards, err := s.repos.Award.ListByUser(ctx, userID)
	if err != nil {
		return nil, NewLocalStoreError("failed to read awards", err)
	}
	return awards, nil
}

// GetProgress lists a user's progress rows for badges not yet awarded.
func (s *awardService) GetProgress(ctx context.Context, userID string) ([]models.Progress, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, NewValidationError("user id is required", nil)
	}

	progress, err := s.repos.Progress.ListByUser(ctx, userID)
	if err != nil {
		return nil, NewLocalStoreError("failed to read progress", err)
	}
	owned, err := s.ownedBadges(ctx, userID)
	if err != nil {
		return nil, err
	}

	open := progress[:0]
	for _, p := range progress {
		if !owned[p.BadgeID] {
			open = append(open, p)
		}
	}
	return open, nil
}

// GetCatalog returns the active rules.
func (s *awardService) GetCatalog(ctx context.Context) (*CatalogResponse, error) {
	rules, err := s.catalog.LoadRules(ctx)
	if err != nil {
		return nil, NewCatalogError("failed to load rule catalog", err)
	}

	response := &CatalogResponse{Rules: rules, Source: string(catalog.SourceNone)}
	if sourced, ok := s.catalog.(interface{ Source() catalog.Source }); ok {
		response.Source = string(sourced.Source())
	}
	return response, nil
}

// SeedAwards validates and stores default awards. They are granted on the
// user's next evaluation if the user holds no awards by then.
func (s *awardService) SeedAwards(ctx context.Context, seeds []models.AwardSeed) error {
	for i := range seeds {
		if err := validation.ValidateStruct(&seeds[i]); err != nil {
			return NewValidationError("invalid award seed", err).WithDetails("index", i)
		}
	}
	if len(seeds) == 0 {
		return nil
	}
	if err := s.repos.Seed.Upsert(ctx, seeds); err != nil {
		return NewLocalStoreError("failed to store award seeds", err)
	}
	s.logger.Info("Award seeds stored", zap.Int("count", len(seeds)))
	return nil
}

// storeError classifies a failed local call. A call that failed because
// its context ended is reported as canceled, not as a store fault.
func storeError(ctx context.Context, message string, err error) *ServiceError {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return NewCanceledError(err)
	}
	return NewLocalStoreError(message, err)
}

func badgeIDs(awards []models.Award) []string {
	ids := make([]string, len(awards))
	for i, award := range awards {
		ids[i] = award.BadgeID
	}
	return ids
}
