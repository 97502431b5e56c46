package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/bottlepoint/waterbot/api/controllers"
	"github.com/bottlepoint/waterbot/api/routes"
	"github.com/bottlepoint/waterbot/internal/bot"
	"github.com/bottlepoint/waterbot/internal/cron"
	"github.com/bottlepoint/waterbot/internal/households"
	"github.com/bottlepoint/waterbot/internal/invitations"
	"github.com/bottlepoint/waterbot/internal/ledger"
	"github.com/bottlepoint/waterbot/internal/users"
	"github.com/bottlepoint/waterbot/pkg/config"
	"github.com/bottlepoint/waterbot/pkg/db"
	"github.com/bottlepoint/waterbot/pkg/env"
	"github.com/bottlepoint/waterbot/pkg/logger"
	"github.com/bottlepoint/waterbot/pkg/metrics"
	"github.com/bottlepoint/waterbot/pkg/migrate"
	"github.com/bottlepoint/waterbot/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if cfg.FeatureFlags.UseMemoryStores {
		logg.Error(context.Background(), "cron worker needs redis", errors.New("pending invitations are process-local with "+config.EnvUseMemoryStores+"; the resident bot expires them itself"))
		os.Exit(1)
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	// Prompts were sent by the resident bot, so expiry edits go through its token.
	tg, err := bot.NewTelegram(cfg.Bot.Token, cfg.Bot.PollTimeout, cfg.Bot.Debug)
	if err != nil {
		logg.Error(context.Background(), "failed to connect to telegram", err)
		os.Exit(1)
	}

	conn := dbClient.DB()
	ledgerRepo := ledger.NewRepository(conn)
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		DB:             dbClient,
		Repo:           ledgerRepo,
		Metrics:        ledgerMetrics,
		DefaultBalance: cfg.Ledger.DefaultHouseholdBalance,
		MaxAttempts:    cfg.Ledger.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	invSvc, err := invitations.NewService(invitations.ServiceParams{
		DB:          dbClient,
		Store:       invitations.NewRedisStore(redisClient),
		Users:       users.NewRepository(conn),
		Households:  households.NewRepository(conn),
		Directory:   users.NewDirectory(conn),
		Messenger:   tg,
		TTL:         cfg.Sessions.VerificationTTL,
		BotUsername: cfg.Bot.ResidentBotUsername,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create invitation service", err)
		os.Exit(1)
	}

	jobs := cron.NewRegistry()
	expiry, err := cron.NewVerificationExpiryJob(cron.VerificationExpiryJobParams{
		Logger:      logg,
		Invitations: invSvc,
		BatchSize:   cfg.Cron.ExpiryBatch,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create verification expiry job", err)
		os.Exit(1)
	}
	if err := jobs.Register(expiry); err != nil {
		logg.Error(context.Background(), "failed to register verification expiry job", err)
		os.Exit(1)
	}
	if cfg.Cron.AuditEnabled {
		audit, err := cron.NewLedgerAuditJob(cron.LedgerAuditJobParams{
			Logger:  logg,
			Ledger:  ledgerSvc,
			Repo:    ledgerRepo,
			Metrics: ledgerMetrics,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create ledger audit job", err)
			os.Exit(1)
		}
		if err := jobs.Register(audit); err != nil {
			logg.Error(context.Background(), "failed to register ledger audit job", err)
			os.Exit(1)
		}
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+envOrLocal(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(registry),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
		"instance":    env.InstanceID(),
	})
	logg.Info(ctx, "starting cron worker")

	server := &http.Server{
		Addr: cfg.Ops.Addr,
		Handler: routes.NewOpsRouter(routes.OpsParams{
			Env:      cfg.App.Env,
			Logger:   logg,
			Gatherer: registry,
			Ready:    map[string]controllers.Pinger{"db": dbClient, "redis": redisClient},
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := service.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func envOrLocal(name string) string {
	if name == "" {
		return "local"
	}
	return name
}
