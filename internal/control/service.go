// Package control wires the pipeline together and exposes the ingress API.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/tcynic/resonant-pipeline/internal/core/config"
	"github.com/tcynic/resonant-pipeline/internal/core/domain"
	"github.com/tcynic/resonant-pipeline/internal/infra/budget"
	"github.com/tcynic/resonant-pipeline/internal/infra/completion"
	redisclient "github.com/tcynic/resonant-pipeline/internal/infra/redis"
	"github.com/tcynic/resonant-pipeline/internal/infra/storage"
	"github.com/tcynic/resonant-pipeline/internal/infra/storage/memory"
	"github.com/tcynic/resonant-pipeline/internal/infra/storage/postgres"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/admission"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/breaker"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/deadletter"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/fallback"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/health"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/orchestrator"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/queue"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/retrypolicy"
)

// Service is the main application struct managing the pipeline lifecycle.
type Service struct {
	cfg *config.AppConfig

	tasks      storage.TaskRepository
	dispatcher *orchestrator.Dispatcher
	dlq        *deadletter.Handler
	capacity   *admission.Controller
	budget     budget.Tracker
	breakers   *breaker.Registry
	monitor    *health.Monitor

	server  *Server
	grpcSrv *health.GRPCServer

	db    *postgres.DB
	redis *redisclient.Client
	log   *slog.Logger
}

// repoLoad derives live load figures from the task store.
type repoLoad struct {
	tasks storage.TaskRepository
}

func (l *repoLoad) QueuedCount(ctx context.Context) (int, error) {
	return l.tasks.CountByStatus(ctx, domain.TaskStatusQueued)
}

func (l *repoLoad) ProcessingCount(ctx context.Context) (int, error) {
	return l.tasks.CountByStatus(ctx, domain.TaskStatusProcessing)
}

func (l *repoLoad) AverageWait(ctx context.Context) (time.Duration, error) {
	return l.tasks.AverageQueueWait(ctx)
}

// NewService creates a Service with all dependencies initialized.
func NewService(cfg *config.AppConfig) (*Service, error) {
	// 1. Initialize Storage
	var tasks storage.TaskRepository
	var entries storage.EntryStore
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		// Goose needs the raw *sql.DB the sqlx handle wraps.
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		tasks = postgres.NewTaskRepo(db)
		entries = postgres.NewEntryRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		tasks = memory.NewTaskRepo()
		entries = memory.NewEntryStore()
		slog.Info("Using Memory storage")
	}

	// 2. Dead letter record store: Redis when configured, memory otherwise.
	var redisClient *redisclient.Client
	var records deadletter.RecordStore
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		records = redisclient.NewDeadLetterRepo(redisClient)
		slog.Info("Using Redis dead letter store")
	} else {
		records = memory.NewDeadLetterStore()
		slog.Info("Using Memory dead letter store")
	}

	// 3. Pipeline components
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold:    cfg.Pipeline.BreakerFailureThreshold,
		MonitoringWindow:    cfg.Pipeline.BreakerMonitoringWindow.Std(),
		Cooldown:            cfg.Pipeline.BreakerCooldown.Std(),
		HalfOpenMaxAttempts: cfg.Pipeline.BreakerHalfOpenMaxAttempts,
	})

	capacity := admission.NewController(admission.Config{
		MaxQueueSize:  cfg.Pipeline.MaxQueueSize,
		MaxProcessing: cfg.Pipeline.MaxConcurrentProcessing,
	}, &repoLoad{tasks: tasks})

	tracker := budget.NewTracker(cfg.Budget)

	pending := queue.NewPendingIndex()
	dispatcher := orchestrator.NewDispatcher(orchestrator.DispatcherConfig{
		Workers:      cfg.Pipeline.MaxConcurrentProcessing,
		PollInterval: cfg.Pipeline.PollInterval.Std(),
	}, pending)

	dlq := deadletter.NewHandler(tasks, records, func(ctx context.Context, t *domain.AnalysisTask) error {
		dispatcher.Enqueue(t.ID, t.Priority, t.QueuedAt)
		return nil
	})

	svc := completion.NewClient(completion.Config{
		APIKey:      cfg.Completion.APIKey,
		BaseURL:     cfg.Completion.BaseURL,
		Model:       cfg.Completion.Model,
		CallTimeout: cfg.Completion.CallTimeout.Std(),
		Temperature: cfg.Completion.Temperature,
	})

	orc := orchestrator.New(
		orchestrator.Config{FallbackEnabled: cfg.Pipeline.FallbackEnabled},
		tasks, entries, svc, breakers,
		retrypolicy.NewEngine(retrypolicy.DefaultConfig()),
		fallback.NewAnalyzer(),
		dlq, tracker, dispatcher,
	)
	dispatcher.Bind(orc)

	// 4. Health and ingress surfaces
	monitor := health.NewMonitor(capacity, breakers, records, cfg.Health)

	s := &Service{
		cfg:        cfg,
		tasks:      tasks,
		dispatcher: dispatcher,
		dlq:        dlq,
		capacity:   capacity,
		budget:     tracker,
		breakers:   breakers,
		monitor:    monitor,
		db:         db,
		redis:      redisClient,
		log:        slog.Default().With("component", "control"),
	}
	s.server = NewServer(s, cfg.Server)
	s.grpcSrv = health.NewGRPCServer(monitor, cfg.Server.GRPCPort)

	return s, nil
}

// Start launches the dispatcher, servers and background collectors.
func (s *Service) Start(ctx context.Context) error {
	if err := s.rehydrate(ctx); err != nil {
		s.log.Warn("Failed to rehydrate pending queue", "error", err)
	}

	go func() {
		if err := s.dispatcher.Start(ctx); err != nil {
			s.log.Error("Dispatcher failed", "error", err)
		}
	}()

	go func() {
		if err := s.server.Start(); err != nil {
			s.log.Error("HTTP server failed", "error", err)
		}
	}()

	go func() {
		if err := s.grpcSrv.Start(ctx); err != nil {
			s.log.Error("gRPC health server failed", "error", err)
		}
	}()

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	return nil
}

// Stop shuts the service down, letting in-flight tasks finish.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping pipeline service...")

	if err := s.dispatcher.Stop(); err != nil {
		s.log.Warn("Failed to stop dispatcher", "error", err)
	}
	s.grpcSrv.Stop()

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}

	return s.server.Stop(ctx)
}

// rehydrate reloads queued tasks into the pending index after a restart.
// Tasks with a future NextRetryAt go back on the retry timer instead.
func (s *Service) rehydrate(ctx context.Context) error {
	queued, err := s.tasks.ListByStatus(ctx, domain.TaskStatusQueued, s.cfg.Pipeline.MaxQueueSize)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, t := range queued {
		if t.NextRetryAt != nil && t.NextRetryAt.After(now) {
			s.dispatcher.ScheduleRetry(t.ID, t.Priority, t.QueuedAt, t.NextRetryAt.Sub(now))
			continue
		}
		s.dispatcher.Enqueue(t.ID, t.Priority, t.QueuedAt)
	}

	if len(queued) > 0 {
		s.log.Info("Rehydrated pending queue", "count", len(queued))
	}
	return nil
}
