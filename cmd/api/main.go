package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/verification-desk/internal/api/http"
	"github.com/spec-kit/verification-desk/internal/api/http/handlers"
	"github.com/spec-kit/verification-desk/internal/auth"
	"github.com/spec-kit/verification-desk/internal/config"
	"github.com/spec-kit/verification-desk/internal/events"
	"github.com/spec-kit/verification-desk/internal/observability"
	"github.com/spec-kit/verification-desk/internal/persistence"
	"github.com/spec-kit/verification-desk/internal/platform"
	"github.com/spec-kit/verification-desk/internal/platform/discord"
	"github.com/spec-kit/verification-desk/internal/ratelimit"
	"github.com/spec-kit/verification-desk/internal/repository"
	"github.com/spec-kit/verification-desk/internal/service"
	"github.com/spec-kit/verification-desk/internal/worker"
)

const cooldownKeyPrefix = "verification-desk:open-cooldown:"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var backend repository.TicketBackend = repository.NewFileBackend(cfg.Tickets.StateFile)
	if cfg.Tickets.StoreBackend == config.StoreBackendPostgres {
		backend = repository.NewPostgresBackend(pg.PoolHandle())
	}
	store := repository.NewTicketStore(backend, logger)
	store.Load(ctx)

	client, err := discord.New(ctx, cfg.Platform.BotToken, cfg.Platform.GuildID, logger)
	if err != nil {
		logger.Fatal("failed to reach discord", zap.Error(err))
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.Tickets.OpenCooldown())
	if redis.Enabled() {
		limiter = ratelimit.NewRedisLimiter(redis.Client, cooldownKeyPrefix, cfg.Tickets.OpenCooldown())
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, client, logger, metrics, cfg.Tickets.AuditChannel))

	var history repository.TicketHistoryRepository
	if pg.Enabled() {
		history = repository.NewTicketHistoryRepository(pg.PoolHandle())
		worker.StartHistoryWorker(dispatcher, history, logger)
	}

	verification := service.NewVerificationService(service.VerificationDependencies{
		Store:    store,
		Platform: client,
		Provisioner: service.NewChannelProvisioner(client, logger, service.ProvisionerConfig{
			CategoryName:         cfg.Tickets.CategoryName,
			ModeratorRoles:       cfg.Tickets.ModeratorRoles,
			ModeratorPermissions: cfg.Tickets.ModeratorPermissions,
		}),
		Archiver:   service.NewTranscriptArchiver(client, logger, cfg.Tickets.TranscriptDir),
		Dispatcher: dispatcher,
		Limiter:    limiter,
		History:    history,
		Logger:     logger,
		Policy: service.VerificationPolicy{
			MinAge:         cfg.Tickets.MinAge,
			ModeratorRoles: cfg.Tickets.ModeratorRoles,
			VerifiedRole:   cfg.Tickets.VerifiedRole,
			PendingRole:    cfg.Tickets.PendingRole,
			ApprovalGrace:  cfg.Tickets.ApprovalGrace(),
		},
	})
	verification.RecoverPending()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)

	dependencies := map[string]handlers.Pinger{"platform": platform.Probe{Client: client}}
	if pg.Enabled() {
		dependencies["postgres"] = pg
	}
	if redis.Enabled() {
		dependencies["redis"] = redis
	}

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, metrics, dependencies),
		Interactions:   handlers.NewInteractionsHandler(verification),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, client),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	verification.Close()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
