package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"badgehub/internal/activity"
	"badgehub/internal/appinfo"
	"badgehub/internal/cache"
	"badgehub/internal/catalog"
	"badgehub/internal/config"
	"badgehub/internal/database"
	"badgehub/internal/evaluator"
	"badgehub/internal/events"
	"badgehub/internal/queue"
	"badgehub/internal/remote"
	"badgehub/internal/repositories"

	"go.uber.org/zap"
)

// ServiceCollection holds every service and the infrastructure they share
type ServiceCollection struct {
	// Core Services
	AwardService AwardService `json:"-"`
	SyncService  SyncService  `json:"-"`

	// Repository Collection
	Repositories *repositories.Collection `json:"-"`

	// Infrastructure Components
	Cache     cache.Cache             `json:"-"`
	EventBus  events.EventBus         `json:"-"`
	Remote    remote.Adapter          `json:"-"`
	Catalog   *catalog.Loader         `json:"-"`
	Evaluator *evaluator.Evaluator    `json:"-"`
	Queue     *queue.Queue            `json:"-"`
	Flusher   *queue.Flusher          `json:"-"`
	Logger    *zap.Logger             `json:"-"`
	Config    *config.Config          `json:"-"`
	Local     *database.LocalStore    `json:"-"`
	DBManager *database.Manager       `json:"-"`
	health    *database.HealthChecker `json:"-"`

	// Service Management
	startTime   time.Time  `json:"-"`
	mu          sync.Mutex `json:"-"`
	initialized bool       `json:"-"`
	started     bool       `json:"-"`
}

// ServiceHealth represents the health status of the service collection
type ServiceHealth struct {
	Status       string                   `json:"status"`
	Version      string                   `json:"version"`
	Timestamp    time.Time                `json:"timestamp"`
	Dependencies map[string]ServiceStatus `json:"dependencies"`
	Uptime       time.Duration            `json:"uptime"`
	PendingSync  int                      `json:"pending_sync"`
	CatalogFrom  string                   `json:"catalog_source,omitempty"`
	Issues       []string                 `json:"issues,omitempty"`
}

// ServiceStatus represents the status of an individual dependency
type ServiceStatus struct {
	Name         string        `json:"name"`
	Status       string        `json:"status"` // healthy, unhealthy, unconfigured
	LastCheck    time.Time     `json:"last_check"`
	ResponseTime time.Duration `json:"response_time"`
	Error        string        `json:"error,omitempty"`
}

// NewServiceCollection wires the engine. remoteManager may be nil, in
// which case every remote write stays queued locally.
func NewServiceCollection(
	local *database.LocalStore,
	remoteManager *database.Manager,
	cfg *config.Config,
	logger *zap.Logger,
) (*ServiceCollection, error) {
	if local == nil {
		return nil, fmt.Errorf("local store is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	collection := &ServiceCollection{
		Local:     local,
		DBManager: remoteManager,
		Config:    cfg,
		Logger:    logger,
		startTime: time.Now(),
	}

	if err := collection.initializeInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}

	if err := collection.initializeRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := collection.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	collection.initialized = true
	logger.Info("Service collection initialized successfully",
		zap.Bool("remote_configured", remoteManager != nil),
		zap.String("cache_provider", cfg.Cache.Provider),
	)

	return collection, nil
}

// ===============================
// INITIALIZATION
// ===============================

func (sc *ServiceCollection) initializeInfrastructure() error {
	sc.Logger.Info("Initializing infrastructure components")

	sharedCache, err := cache.NewCache(cache.FromAppConfig(sc.Config.Cache), sc.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	sc.Cache = sharedCache

	sc.EventBus = events.NewEventBus(events.DefaultEventBusConfig(), sc.Logger)

	if sc.DBManager != nil {
		sc.Remote = remote.NewPostgresAdapter(sc.DBManager, sc.Logger)
		sc.health = sc.DBManager.Health()
	} else {
		sc.Remote = remote.Unconfigured{}
	}

	sc.Logger.Info("Infrastructure components initialized")
	return nil
}

func (sc *ServiceCollection) initializeRepositories() error {
	sc.Logger.Info("Initializing repositories")

	var err error
	sc.Repositories, err = repositories.NewCollection(sc.Local, sc.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository collection: %w", err)
	}

	sc.Logger.Info("Repositories initialized")
	return nil
}

// newActivitySource reads the local activity log and, when shared is set,
// the remote log. The remote is skipped while reachable reports it down.
func newActivitySource(local repositories.ActivityRepository, shared remote.Adapter, reachable func() bool, logger *zap.Logger) activity.Source {
	sources := []activity.Source{activity.NewLocalSource(local)}
	if shared != nil {
		sources = append(sources, activity.WhenAvailable(activity.NewRemoteSource(shared), reachable))
	}
	return activity.NewCompositeSource(logger, sources...)
}

func (sc *ServiceCollection) initializeServices() error {
	sc.Logger.Info("Initializing services")

	engineCfg := sc.Config.Engine
	bounded := remote.WithTimeout(sc.Remote, engineCfg.RemoteTimeout())

	location, err := engineCfg.StreakLocation()
	if err != nil {
		return err
	}

	var (
		shared    remote.Adapter
		reachable func() bool
	)
	if sc.DBManager != nil {
		shared = bounded
		if sc.health != nil {
			reachable = sc.health.IsReachable
		}
	}
	sc.Evaluator = evaluator.New(
		newActivitySource(sc.Repositories.Activity, shared, reachable, sc.Logger),
		evaluator.WithLocation(location),
		evaluator.WithLogger(sc.Logger),
	)

	sc.Catalog = catalog.NewLoader(bounded, sc.Cache, catalog.Options{
		UseMockCatalog: engineCfg.UseMockCatalog,
		CacheTTL:       sc.Config.Cache.TTL,
	}, sc.Logger)

	sc.Queue = queue.New(sc.Repositories.Queue, queue.Config{
		BatchSize:        sc.Config.Queue.BatchSize,
		OperationTimeout: sc.Config.Queue.OperationTimeout,
	}, sc.Logger)

	sc.Flusher = queue.NewFlusher(sc.Queue, sc.Remote, queue.FlusherConfig{
		Interval:   sc.Config.Queue.FlushInterval,
		MaxBackoff: sc.Config.Queue.MaxBackoff,
	}, sc.Logger)

	sc.AwardService = NewAwardService(
		sc.Repositories,
		sc.Catalog,
		sc.Evaluator,
		sc.Queue,
		sc.Remote,
		sc.EventBus,
		sc.Flusher,
		sc.Logger,
		&AwardServiceConfig{RemoteTimeout: engineCfg.RemoteTimeout()},
	)

	sc.SyncService = NewSyncService(sc.Flusher, sc.health, sc.Logger)

	if err := sc.EventBus.Subscribe(events.EventTypeBadgeAwarded, NewAnalyticsRecorder(sc.Queue, sc.Logger)); err != nil {
		return fmt.Errorf("failed to subscribe analytics recorder: %w", err)
	}

	sc.Logger.Info("All services initialized")
	return nil
}

// ===============================
// LIFECYCLE
// ===============================

// Start launches the event bus, the queue flusher and remote health
// monitoring. A remote recovery triggers an immediate flush.
func (sc *ServiceCollection) Start(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.initialized {
		return fmt.Errorf("service collection not initialized")
	}
	if sc.started {
		return nil
	}

	sc.Logger.Info("Starting service collection")

	if err := sc.EventBus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	if sc.health != nil {
		sc.health.OnRecover(func() {
			sc.Logger.Info("Remote reachable again, flushing offline queue")
			sc.Flusher.Nudge()
		})
		sc.health.StartMonitoring()
	}

	sc.Flusher.Start()
	sc.Flusher.Nudge()

	sc.started = true
	sc.Logger.Info("Service collection started successfully")
	return nil
}

// Shutdown stops background work. Queued operations stay in the local
// store for the next run.
func (sc *ServiceCollection) Shutdown(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.Logger.Info("Shutting down service collection")

	var shutdownErrors []error

	if sc.Flusher != nil {
		if err := sc.Flusher.Stop(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("flusher shutdown: %w", err))
		}
	}

	if sc.started {
		if err := sc.EventBus.Stop(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("event bus shutdown: %w", err))
		}
	}

	if sc.health != nil {
		sc.health.Stop()
	}

	if sc.Cache != nil {
		if err := sc.Cache.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("cache shutdown: %w", err))
		}
	}

	sc.started = false

	if len(shutdownErrors) > 0 {
		sc.Logger.Error("Service collection shutdown completed with errors", zap.Errors("errors", shutdownErrors))
		return errors.Join(shutdownErrors...)
	}

	sc.Logger.Info("Service collection shutdown completed successfully")
	return nil
}

// ===============================
// HEALTH
// ===============================

// HealthCheck reports the state of the local store, remote, cache and
// event bus. Only a failing local store makes the engine unhealthy; the
// rest degrade it.
func (sc *ServiceCollection) HealthCheck(ctx context.Context) (*ServiceHealth, error) {
	health := &ServiceHealth{
		Status:       "healthy",
		Version:      appinfo.Get().Version,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]ServiceStatus),
		Uptime:       time.Since(sc.startTime),
		CatalogFrom:  string(sc.Catalog.Source()),
	}

	localStatus := probe(ctx, "local_store", sc.Local.Health)
	health.Dependencies[localStatus.Name] = localStatus

	cacheStatus := probe(ctx, "cache", sc.Cache.Health)
	health.Dependencies[cacheStatus.Name] = cacheStatus

	busStatus := probe(ctx, "event_bus", func(context.Context) error { return sc.EventBus.Health() })
	health.Dependencies[busStatus.Name] = busStatus

	remoteStatus := ServiceStatus{Name: "remote", Status: "unconfigured", LastCheck: time.Now()}
	if sc.health != nil {
		last := sc.health.GetLastStatus()
		remoteStatus.Status = last.Status
		remoteStatus.LastCheck = last.Timestamp
		remoteStatus.ResponseTime = last.ResponseTime
		remoteStatus.Error = last.Error
	}
	health.Dependencies[remoteStatus.Name] = remoteStatus

	for _, status := range health.Dependencies {
		if status.Status == "healthy" || status.Status == "unconfigured" || status.Status == database.StatusStarting {
			continue
		}
		health.Issues = append(health.Issues, fmt.Sprintf("%s: %s", status.Name, status.Error))
		if health.Status == "healthy" {
			health.Status = "degraded"
		}
	}
	if localStatus.Status != "healthy" {
		health.Status = "unhealthy"
	}

	if pending, err := sc.Queue.Len(ctx); err == nil {
		health.PendingSync = pending
	}

	sc.Logger.Debug("Health check completed",
		zap.String("status", health.Status),
		zap.Int("issues", len(health.Issues)),
	)

	return health, nil
}

func probe(ctx context.Context, name string, check func(context.Context) error) ServiceStatus {
	start := time.Now()
	status := ServiceStatus{Name: name, Status: "healthy", LastCheck: start}
	if err := check(ctx); err != nil {
		status.Status = "unhealthy"
		status.Error = err.Error()
	}
	status.ResponseTime = time.Since(start)
	return status
}
