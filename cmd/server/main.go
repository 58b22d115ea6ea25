// Command server runs the relay: it accepts chat webhook events over HTTP,
// converts the actionable ones into durable file-based tasks, and serves the
// claim/done queue API the reply agents poll.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/vpetrov/go-avito-relay/internal/classify"
	"github.com/vpetrov/go-avito-relay/internal/config"
	"github.com/vpetrov/go-avito-relay/internal/eventlog"
	httpapi "github.com/vpetrov/go-avito-relay/internal/http"
	"github.com/vpetrov/go-avito-relay/internal/observability"
	"github.com/vpetrov/go-avito-relay/internal/repo"
	"github.com/vpetrov/go-avito-relay/internal/services"
	"github.com/vpetrov/go-avito-relay/internal/sysutil"
	"github.com/vpetrov/go-avito-relay/internal/taskstore"
)

const version = "0.1.0"

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// History + persisted suppression live in SQLite; both are optional.
	var db *gorm.DB
	if cfg.DBPath != "" {
		db, err = repo.OpenSQLite(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("sqlite open failed")
		}
		if err := repo.AutoMigrate(db); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
	} else {
		log.Warn().Msg("DB_PATH empty: history and persisted suppression disabled")
	}

	store, err := taskstore.New(cfg.Queue.TasksDir, cfg.Queue.LockSuffix)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Queue.TasksDir).Msg("task store init failed")
	}

	events, err := eventlog.Open(cfg.EventLog.Dir, cfg.EventLog.SegmentSize, cfg.EventLog.MaxSegments)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.EventLog.Dir).Msg("event log open failed")
	}

	var seen classify.SuppressionSet = classify.NewMemorySet()
	if cfg.SuppressPersist && db != nil {
		seen = &repo.SuppressionStore{DB: db}
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, db, store, events, seen, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	if cfg.Queue.LeaseTTL > 0 {
		queue := &services.QueueService{Store: store, Events: events}
		go runReaper(ctx, queue, cfg.Queue.LeaseTTL, cfg.Queue.ReapInterval)
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := events.Close(); err != nil {
		log.Error().Err(err).Msg("event log close")
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
}

// runReaper periodically requeues claims held longer than ttl. Only started
// when a lease TTL is configured; without it an orphaned claim stays claimed,
// which some operators prefer for manual triage.
func runReaper(ctx context.Context, queue *services.QueueService, ttl, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			freed, err := queue.ReapExpired(ctx, ttl)
			if err != nil {
				log.Error().Err(err).Msg("lease reap failed")
				continue
			}
			if len(freed) > 0 {
				log.Info().Strs("tasks", freed).Msg("expired claims requeued")
			}
		}
	}
}
