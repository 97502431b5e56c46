package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/bottlepoint/waterbot/api/controllers"
	"github.com/bottlepoint/waterbot/api/routes"
	"github.com/bottlepoint/waterbot/internal/analytics"
	"github.com/bottlepoint/waterbot/internal/bot"
	"github.com/bottlepoint/waterbot/internal/cron"
	"github.com/bottlepoint/waterbot/internal/employees"
	"github.com/bottlepoint/waterbot/internal/households"
	"github.com/bottlepoint/waterbot/internal/invitations"
	"github.com/bottlepoint/waterbot/internal/ledger"
	"github.com/bottlepoint/waterbot/internal/points"
	"github.com/bottlepoint/waterbot/internal/registration"
	"github.com/bottlepoint/waterbot/internal/session"
	"github.com/bottlepoint/waterbot/internal/users"
	"github.com/bottlepoint/waterbot/pkg/config"
	"github.com/bottlepoint/waterbot/pkg/db"
	"github.com/bottlepoint/waterbot/pkg/env"
	"github.com/bottlepoint/waterbot/pkg/logger"
	"github.com/bottlepoint/waterbot/pkg/maps"
	"github.com/bottlepoint/waterbot/pkg/metrics"
	"github.com/bottlepoint/waterbot/pkg/migrate"
	"github.com/bottlepoint/waterbot/pkg/qrcode"
	"github.com/bottlepoint/waterbot/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "bot"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	role := strings.ToLower(strings.TrimSpace(cfg.Bot.Role))
	cfg.Service.Kind = "bot-" + role

	logg = logger.New(logger.Options{
		ServiceName: cfg.Service.Kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

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

	var (
		redisClient *redis.Client
		sessions    session.Store
		pending     invitations.Store
		limiter     invitations.RateLimiter
		cronLock    cron.Lock
	)
	ready := map[string]controllers.Pinger{"db": dbClient, "redis": nil}
	if cfg.FeatureFlags.UseMemoryStores {
		logg.Warn(context.Background(), "using in-memory sessions and invitations; state is lost on restart")
		sessions = session.NewMemoryStore(cfg.Sessions.RegistrationTTL)
		pending = invitations.NewMemoryStore()
		cronLock = &cron.LocalLock{}
	} else {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		sessions = session.NewRedisStore(redisClient, role, cfg.Sessions.RegistrationTTL)
		pending = invitations.NewRedisStore(redisClient)
		limiter = redisClient
		ready["redis"] = redisClient
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ledgerMetrics := metrics.NewLedgerMetrics(registry)
	botMetrics := metrics.NewBotMetrics(registry)

	tg, err := bot.NewTelegram(cfg.Bot.Token, cfg.Bot.PollTimeout, cfg.Bot.Debug)
	if err != nil {
		logg.Error(context.Background(), "failed to connect to telegram", err)
		os.Exit(1)
	}

	conn := dbClient.DB()
	userRepo := users.NewRepository(conn)
	householdRepo := households.NewRepository(conn)
	pointRepo := points.NewRepository(conn)
	ledgerRepo := ledger.NewRepository(conn)
	directory := users.NewDirectory(conn)

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

	var geocoder registration.Geocoder
	if cfg.GoogleMaps.APIKey != "" {
		mapsClient, err := maps.NewClient(cfg.GoogleMaps.APIKey,
			maps.WithRegion(cfg.GoogleMaps.Region),
			maps.WithTimeout(cfg.GoogleMaps.Timeout),
		)
		if err != nil {
			logg.Error(context.Background(), "failed to create geocoding client", err)
			os.Exit(1)
		}
		geocoder = mapsClient
	} else {
		logg.Warn(context.Background(), "google maps api key not set; addresses are stored as typed")
	}

	var (
		table    bot.Routes
		cronJobs []cron.Job
	)
	switch role {
	case config.BotRoleResident:
		regSvc, err := registration.NewService(registration.ServiceParams{
			DB:         dbClient,
			Sessions:   sessions,
			Users:      userRepo,
			Households: householdRepo,
			Ledger:     ledgerSvc,
			Geocoder:   geocoder,
			Logger:     logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create registration service", err)
			os.Exit(1)
		}
		botUsername := tg.Username()
		if botUsername == "" {
			botUsername = cfg.Bot.ResidentBotUsername
		}
		invSvc, err := invitations.NewService(invitations.ServiceParams{
			DB:          dbClient,
			Store:       pending,
			Users:       userRepo,
			Households:  householdRepo,
			Directory:   directory,
			Messenger:   tg,
			Limiter:     limiter,
			TTL:         cfg.Sessions.VerificationTTL,
			BotUsername: botUsername,
			Logger:      logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create invitation service", err)
			os.Exit(1)
		}
		table = bot.ResidentRoutes(bot.ResidentDeps{
			Messenger:      tg,
			Sessions:       sessions,
			Registration:   regSvc,
			Invitations:    invSvc,
			Ledger:         ledgerSvc,
			Users:          userRepo,
			Points:         pointRepo,
			DefaultCollect: cfg.Ledger.DefaultCollectAmount,
		})
		if cfg.FeatureFlags.UseMemoryStores {
			// Pending invitations only live in this process, so the expiry job runs here.
			job, err := cron.NewVerificationExpiryJob(cron.VerificationExpiryJobParams{
				Logger:      logg,
				Invitations: invSvc,
				BatchSize:   cfg.Cron.ExpiryBatch,
			})
			if err != nil {
				logg.Error(context.Background(), "failed to create verification expiry job", err)
				os.Exit(1)
			}
			cronJobs = append(cronJobs, job)
		}
	case config.BotRoleEmployee:
		table = bot.EmployeeRoutes(bot.EmployeeDeps{
			Messenger: tg,
			Sessions:  sessions,
			Ledger:    ledgerSvc,
			Points:    pointRepo,
		})
	case config.BotRoleAdmin:
		employeeSvc, err := employees.NewService(employees.ServiceParams{
			DB:     dbClient,
			Repo:   employees.NewRepository(conn),
			Logger: logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create employee service", err)
			os.Exit(1)
		}
		table = bot.AdminRoutes(bot.AdminDeps{
			Messenger:           tg,
			Employees:           employeeSvc,
			Analytics:           analytics.NewService(conn),
			Points:              pointRepo,
			Ledger:              ledgerSvc,
			QR:                  qrcode.NewGenerator(cfg.Media.TempDir, cfg.Media.QRSize),
			Geocoder:            geocoder,
			EmployeeBotUsername: cfg.Bot.EmployeeBotUsername,
			MaxRosterBytes:      cfg.Media.MaxRosterSize,
			IsAdmin:             cfg.Bot.IsAdmin,
			Logger:              logg,
		})
	}

	router, err := bot.NewRouter(bot.RouterParams{
		Routes:    table,
		Messenger: tg,
		Sessions:  sessions,
		Directory: directory,
		Logger:    logg,
		Metrics:   botMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create router", err)
		os.Exit(1)
	}
	dispatcher := bot.NewDispatcher(router, logg, botMetrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"bot":         tg.Username(),
		"opsAddr":     cfg.Ops.Addr,
		"instance":    env.InstanceID(),
	})
	ctx = logg.WithBotRole(ctx, role)
	logg.Info(ctx, "starting bot")

	server := &http.Server{
		Addr: cfg.Ops.Addr,
		Handler: routes.NewOpsRouter(routes.OpsParams{
			Env:      cfg.App.Env,
			Logger:   logg,
			Gatherer: registry,
			Ready:    ready,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx, tg.Events(gctx))
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
	if len(cronJobs) > 0 {
		cronSvc, err := cron.NewService(cron.ServiceParams{
			Logger:   logg,
			Registry: cron.NewRegistry(cronJobs...),
			Lock:     cronLock,
			Metrics:  metrics.NewCronJobMetrics(registry),
			Interval: cfg.Cron.Interval,
		})
		if err != nil {
			logg.Error(ctx, "failed to create in-process cron service", err)
			os.Exit(1)
		}
		g.Go(func() error {
			if err := cronSvc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "bot stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "bot shutting down gracefully")
}
