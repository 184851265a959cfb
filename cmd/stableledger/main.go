package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"StableLedger/internal/config"
	"StableLedger/internal/core"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/observability"
	"StableLedger/internal/persistence"
	"StableLedger/internal/projection"
	"StableLedger/internal/query"
	"StableLedger/internal/server"
	"StableLedger/migrations"

	"github.com/facebookgo/clock"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

func main() {
	logger := observability.NewLogger("main")
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("StableLedger stopped")
	}
}

func run(logger zerolog.Logger) error {
	logger.Info().Msg("StableLedger starting")
	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	var files fs.FS = migrations.FS
	if cfg.MigrationsDir != "" {
		files = os.DirFS(cfg.MigrationsDir)
	}
	applied, err := persistence.NewMigrator(db, files).Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Observability ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	clk := clock.New()
	health := observability.NewHealthChecker(clk)
	health.AddCheck("postgres", func() error {
		pingCtx, c := context.WithTimeout(context.Background(), time.Second)
		defer c()
		return db.PingContext(pingCtx)
	})

	// --- Deterministic core ---
	// Persistence blocks the core (backpressure); projections drop on full.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	ledgerCore := core.NewDeterministicCore(1, cfg.CoreConfig(), persistChan, projectionChan, dbChecker, metrics)
	ledgerCore.SetPayloadEncoder(ingestion.EncodeRequest)
	ledgerCore.SetLogger(observability.NewLogger("core"))

	// --- Recovery: snapshot + replay ---
	snapshots := persistence.NewSnapshotManager(db)
	recovered, err := persistence.NewRecovery(snapshots, ingestion.ParseEnvelope, metrics).Run(ctx, ledgerCore)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if recovered.SnapshotSequence == 0 {
		keys, err := dbChecker.RecentKeys(ctx, cfg.Engine.IdempotencyLRUCapacity)
		if err != nil {
			logger.Warn().Err(err).Msg("idempotency LRU warm-up failed")
		} else if len(keys) > 0 {
			ledgerCore.WarmLRU(keys)
			logger.Info().Int("keys", len(keys)).Msg("idempotency LRU warmed from event log")
		}
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	health.AddCheck("nats", func() error {
		if !nc.IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	// --- Services ---
	submitChan := make(chan core.Submission, 4096)
	ingest := ingestion.NewIngestService(submitChan, clk, metrics)
	queries := query.NewQueryService(db, metrics)
	svc := server.NewLedgerService(ledgerCore, ingest, queries, clk)
	srv, err := server.New(server.Deps{Service: svc, Metrics: metrics, Gatherer: registry, Health: health})
	if err != nil {
		return err
	}

	// Workers outlive ctx so they can drain what the core already applied.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var workers sync.WaitGroup
	errChan := make(chan error, 8)
	spawn := func(wg *sync.WaitGroup, name string, fn func() error) {
		if wg != nil {
			wg.Add(1)
		}
		go func() {
			if wg != nil {
				defer wg.Done()
			}
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	// 1. Outbound publisher, fed only with durable outputs.
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
	publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics)
	spawn(nil, "publisher", func() error { return publisher.Run(workerCtx) })

	// 2. Persistence worker
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout.Duration, metrics)
	persistWorker.OnFlushed(func(outs []core.CoreOutput) {
		for _, out := range outs {
			select {
			case publishChan <- ingestion.NewPublishableEvent(out):
			default:
				metrics.PublishDrops.Inc()
			}
		}
	})
	spawn(&workers, "persistence", func() error { return persistWorker.Run(workerCtx) })

	// 3. Projection worker
	projWorker := projection.NewProjectionWorker(db, projectionChan, ledgerCore.CreateSnapshotState, metrics)
	spawn(&workers, "projection", func() error { return projWorker.Run(workerCtx) })

	// 4. Core
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		ledgerCore.Run(ctx, submitChan)
	}()

	// 5. NATS -> core
	rawChan := make(chan ingestion.RawEvent, 4096)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, clk, metrics)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	go ingest.RunRaw(ctx, rawChan)

	// 6. Periodic snapshots
	snapshotter := persistence.NewSnapshotter(ledgerCore, snapshots, cfg.SnapshotInterval, cfg.SnapshotRetain, metrics)
	go snapshotter.Run(ctx, 10*time.Second)

	// 7. gRPC, HTTP gateway and ops
	spawn(nil, "grpc", func() error { return srv.StartGRPC(ctx, cfg.GRPCAddr) })
	spawn(nil, "http gateway", func() error { return srv.StartHTTPGateway(ctx, cfg.HTTPAddr) })
	spawn(nil, "ops", func() error { return srv.StartOps(ctx, cfg.OpsAddr) })

	health.SetReady(true)
	logger.Info().
		Int64("sequence", ledgerCore.GetSequence()).
		Int64("replayed", recovered.Replayed).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("ops", cfg.OpsAddr).
		Msg("StableLedger ready")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown: stop intake, drain, flush, final snapshot ---
	health.SetReady(false)
	cancel()
	subscriber.Stop()
	<-coreDone

	// The core was the only sender.
	close(persistChan)
	close(projectionChan)
	workers.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := snapshotter.Take(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", ledgerCore.GetSequence()).Msg("final snapshot saved")
	}

	stopWorkers()
	logger.Info().Msg("StableLedger shutdown complete")
	return runErr
}
