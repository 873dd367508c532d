// Command warden runs the approval-gated action execution core: it wires
// the audit log, approval governor, circuit breakers, retry engine, health
// tracking, the operation queue and the orchestrator, then serves until
// interrupted.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warden-systems/warden/core/pkg/alert"
	"github.com/warden-systems/warden/core/pkg/approval"
	"github.com/warden-systems/warden/core/pkg/audit"
	"github.com/warden-systems/warden/core/pkg/breaker"
	"github.com/warden-systems/warden/core/pkg/config"
	"github.com/warden-systems/warden/core/pkg/executor"
	"github.com/warden-systems/warden/core/pkg/gate"
	"github.com/warden-systems/warden/core/pkg/health"
	"github.com/warden-systems/warden/core/pkg/observability"
	"github.com/warden-systems/warden/core/pkg/queue"
	"github.com/warden-systems/warden/core/pkg/retry"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

func main() {
	if err := run(); err != nil {
		slog.Error("warden exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Audit log with durable sink.
	log := audit.NewLog()
	log.AddHandler(audit.NewWriterSink(os.Stdout))

	auditDB, err := sql.Open("sqlite", cfg.AuditDBPath)
	if err != nil {
		return err
	}
	defer auditDB.Close()
	auditStore, err := audit.NewSQLiteStore(auditDB)
	if err != nil {
		return err
	}
	log.AddHandler(auditStore.Handler(func(err error) {
		logger.Error("audit persist failed", "error", err)
	}))

	// Telemetry.
	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "warden-core",
		ServiceVersion: "1.0.0",
		Environment:    envName(),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Enabled:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		Insecure:       true,
	})
	if err != nil {
		return err
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()
	log.AddHandler(obs.AuditSink())

	// Long-term evidence retention: ship periodic audit packs to object
	// storage when a bucket is configured.
	var archiver *audit.S3Archiver
	if cfg.AuditS3Bucket != "" {
		archiver, err = audit.NewS3Archiver(ctx, audit.S3ArchiverConfig{
			Bucket:   cfg.AuditS3Bucket,
			Region:   cfg.AuditS3Region,
			Endpoint: cfg.AuditS3Endpoint,
			Prefix:   cfg.AuditS3Prefix,
		})
		if err != nil {
			return err
		}
	}

	// Human-visible alerts.
	escalator := alert.Multi{
		alert.NewWriterEscalator(os.Stderr),
		alert.NewFileEscalator(cfg.AlertDir),
	}

	// Per-service profiles tune retries and breakers.
	profiles, err := config.LoadProfiles(cfg.ProfileDir)
	if err != nil {
		return err
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Window:           cfg.BreakerWindow,
		Cooldown:         cfg.BreakerCooldown,
	})
	breakers.OnStateChange(func(service string, from, to breaker.State) {
		logger.Info("breaker transition", "service", service, "from", from, "to", to)
		obs.RecordBreakerTransition(service, string(from), string(to))
		_, _ = log.Record(context.Background(), "", service, audit.StageBreaker, string(to), nil,
			map[string]string{"from": string(from)})
	})

	policies := make(map[string]retry.Policy, len(profiles))
	for service, p := range profiles {
		policies[service] = retry.Policy{
			BaseDelay:      p.Retry.BaseDelay,
			MaxDelay:       p.Retry.MaxDelay,
			MaxJitter:      p.Retry.MaxJitter,
			MaxAttempts:    p.Retry.MaxAttempts,
			AttemptTimeout: p.Retry.AttemptTimeout,
			RateLimitCap:   p.Retry.RateLimitCap,
		}
		if p.Breaker.FailureThreshold > 0 {
			breakers.Configure(service, breaker.Config{
				FailureThreshold: p.Breaker.FailureThreshold,
				Window:           p.Breaker.Window,
				Cooldown:         p.Breaker.Cooldown,
			})
		}
	}
	engine := retry.NewEngine(breakers, log, policies)

	tracker := health.NewTracker(health.Config{
		Window:    cfg.HealthWindow,
		Threshold: cfg.HealthThreshold,
	}, log)
	monitor := health.NewMonitor(tracker, breakers, escalator, 0)

	// Approval store: Postgres when configured, in-memory otherwise.
	var store approval.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		pg := approval.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		store = pg
	} else {
		store = approval.NewMemoryStore()
	}

	payees := approval.NewAuditPayeeSource(log, approval.DefaultPolicyConfig().PayeeLookback)
	classifier, err := approval.NewClassifier(approval.DefaultPolicyConfig(), payees)
	if err != nil {
		return err
	}
	governor := approval.NewGovernor(store, classifier, log, cfg.ApprovalExpiry)

	// Operation queue: Redis when configured, in-memory otherwise.
	var opQueue queue.Queue
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		opQueue = queue.NewRedisQueue(client, cfg.QueueCapacity)
	} else {
		opQueue = queue.NewMemoryQueue(cfg.QueueCapacity)
	}

	exec := executor.New(executor.Config{
		Live:          !cfg.GlobalDryRun,
		Workers:       cfg.Workers,
		SweepInterval: cfg.SweepInterval,
		DrainRate:     cfg.DrainRate,
		DrainBurst:    cfg.DrainBurst,
	}, executor.Deps{
		Governor:  governor,
		Gate:      gate.New(log),
		Engine:    engine,
		Tracker:   tracker,
		Queue:     opQueue,
		Log:       log,
		Escalator: escalator,
		Observer:  obs,
	})

	logger.Info("warden core starting",
		"global_dry_run", cfg.GlobalDryRun,
		"workers", cfg.Workers,
		"queue_capacity", cfg.QueueCapacity,
		"profiles", len(profiles),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		exec.Run(ctx)
	}()
	if archiver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			archiveLoop(ctx, logger, audit.NewExporter(log), archiver, cfg.ArchiveInterval)
		}()
	}
	wg.Wait()

	logger.Info("warden core stopped")
	return nil
}

// archiveLoop uploads a fresh evidence pack on a fixed interval. Uploads
// are idempotent on checksum, so an unchanged trail costs one HeadObject.
func archiveLoop(ctx context.Context, logger *slog.Logger, exporter *audit.Exporter, archiver *audit.S3Archiver, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pack, checksum, err := exporter.GeneratePack(ctx, audit.ExportRequest{})
			if err != nil {
				logger.Error("evidence pack build failed", "error", err)
				continue
			}
			key, err := archiver.Archive(ctx, pack, checksum)
			if err != nil {
				logger.Error("evidence pack upload failed", "error", err)
				continue
			}
			logger.Info("evidence pack archived", "key", key, "bytes", len(pack))
		}
	}
}

func envName() string {
	if v := os.Getenv("WARDEN_ENV"); v != "" {
		return v
	}
	return "development"
}
