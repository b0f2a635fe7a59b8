// Package control wires the application together and manages its
// lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/sentinel/internal/attribution"
	"github.com/vietddude/sentinel/internal/audit"
	"github.com/vietddude/sentinel/internal/core/config"
	"github.com/vietddude/sentinel/internal/dispatch"
	"github.com/vietddude/sentinel/internal/health"
	"github.com/vietddude/sentinel/internal/infra/billing"
	redisclient "github.com/vietddude/sentinel/internal/infra/redis"
	"github.com/vietddude/sentinel/internal/infra/storage"
	"github.com/vietddude/sentinel/internal/infra/storage/memory"
	"github.com/vietddude/sentinel/internal/infra/storage/postgres"
	"github.com/vietddude/sentinel/internal/lock"
	"github.com/vietddude/sentinel/internal/scheduler"
	"github.com/vietddude/sentinel/internal/vault"
)

// Sentinel is the main application struct that manages component
// lifecycles.
type Sentinel struct {
	cfg          *config.AppConfig
	hunter       *audit.Hunter
	pulse        *dispatch.Pulse
	sched        *scheduler.Scheduler
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger
}

// NewSentinel creates a Sentinel instance with all dependencies
// initialized. The vault self-test runs here: a broken key is fatal at
// startup, never discovered mid-scan.
func NewSentinel(cfg *config.AppConfig) (*Sentinel, error) {
	log := slog.Default()

	vlt, err := vault.NewFromHex(cfg.Vault.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to init vault: %w", err)
	}
	if err := vlt.SelfTest(); err != nil {
		return nil, fmt.Errorf("vault self-test failed: %w", err)
	}

	// 1. Storage
	var (
		ghosts storage.GhostRepository
		jobs   storage.ScanJobRepository
		locks  storage.LockRepository
		syslog storage.SystemLogRepository
		creds  storage.CredentialRepository
		db     *postgres.DB
	)
	if cfg.Storage.Mode == "memory" || cfg.Database.URL == "" {
		store := memory.NewMemoryStorage()
		ghosts = memory.NewGhostRepo(store)
		jobs = memory.NewScanJobRepo(store)
		locks = memory.NewLockRepo(store)
		syslog = memory.NewSystemLogRepo(store)
		creds = memory.NewCredentialRepo(store)
		log.Info("Using Memory storage")
	} else {
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		// Goose needs the raw *sql.DB that sqlx wraps.
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		ghosts = postgres.NewGhostRepo(db)
		jobs = postgres.NewScanJobRepo(db)
		locks = postgres.NewLockRepo(db)
		syslog = postgres.NewSystemLogRepo(db)
		creds = postgres.NewCredentialRepo(db)
		log.Info("Using PostgreSQL storage")
	}

	// 2. Merchant guard (optional, redis-backed)
	var guard audit.MerchantGuard
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		guard = redisclient.NewMerchantGuard(redisClient)
		log.Info("Merchant guard enabled")
	} else {
		log.Info("No redis configured, merchant guard disabled")
	}

	// 3. Engines
	source := billing.NewHTTPSource(cfg.Billing.Endpoint, cfg.Billing.PageSize, cfg.Billing.Timeout)
	tracker := audit.NewTracker(jobs, guard)
	hunter := audit.NewHunter(cfg.Hunter, source, vlt, ghosts, jobs, creds, syslog, tracker)
	pulse := dispatch.NewPulse(cfg.Pulse, ghosts, vlt, dispatch.NewLogMailer())
	resolver := attribution.NewResolver(ghosts)

	// 4. Scheduler
	lockMgr := lock.NewManager(locks, cfg.Scheduler.LockTTL)
	sched := scheduler.New(lockMgr, syslog)
	sched.Register(scheduler.JobFunc{JobName: audit.JobName, Fn: hunter.HarvestAll}, cfg.Scheduler.HarvestInterval)
	sched.Register(pulse, cfg.Scheduler.PulseInterval)

	// 5. HTTP surface
	var ping func(ctx context.Context) error
	if db != nil {
		ping = db.Health
	}
	healthServer := health.NewServer(cfg.Server.Port, tracker, hunter, resolver, ghosts, ping)

	return &Sentinel{
		cfg:          cfg,
		hunter:       hunter,
		pulse:        pulse,
		sched:        sched,
		healthServer: healthServer,
		db:           db,
		redisClient:  redisClient,
		log:          log,
	}, nil
}

// Start starts the HTTP server, the scheduler and the metrics
// collectors.
func (s *Sentinel) Start(ctx context.Context) error {
	go func() {
		if err := s.healthServer.Start(); err != nil {
			s.log.Error("HTTP server failed", "error", err)
		}
	}()

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	if err := s.sched.Start(ctx); err != nil {
		return err
	}

	s.log.Info("Sentinel started", "port", s.cfg.Server.Port)
	return nil
}

// Stop shuts everything down, waiting for in-flight job ticks.
func (s *Sentinel) Stop(ctx context.Context) error {
	s.log.Info("Stopping Sentinel...")

	s.sched.Stop()

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}

	return s.healthServer.Stop(ctx)
}
