package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/maintenance-service/internal/api/http"
	"github.com/spec-kit/maintenance-service/internal/api/http/handlers"
	"github.com/spec-kit/maintenance-service/internal/auth"
	"github.com/spec-kit/maintenance-service/internal/config"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/media"
	"github.com/spec-kit/maintenance-service/internal/notify"
	"github.com/spec-kit/maintenance-service/internal/observability"
	"github.com/spec-kit/maintenance-service/internal/persistence"
	"github.com/spec-kit/maintenance-service/internal/policy"
	"github.com/spec-kit/maintenance-service/internal/repository"
	"github.com/spec-kit/maintenance-service/internal/service"
	"github.com/spec-kit/maintenance-service/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := observability.SetupTracing(ctx, cfg.App.Name, cfg.Telemetry, logger)

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool, persistence.DefaultMigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	rules := policy.DefaultAssignmentRules()
	if cfg.Workflow.PolicyFile != "" {
		file, err := config.LoadPolicyFile(cfg.Workflow.PolicyFile)
		if err != nil {
			logger.Fatal("failed to load policy file", zap.Error(err))
		}
		rules = policy.AssignmentRules(file.Rules())
	}

	metrics := observability.NewMetrics()
	store := repository.NewStore(pg.Pool)
	repos := store.Repos()
	audit := service.NewAuditService(repos.Audit, logger.Named("audit"))

	var mediaStore media.Store = media.DisabledStore{}
	if cfg.Media.Enabled() {
		cld, err := media.NewCloudinaryStore(cfg.Media)
		if err != nil {
			logger.Fatal("failed to init media store", zap.Error(err))
		}
		mediaStore = cld
	} else {
		logger.Warn("cloudinary not configured; evidence uploads disabled")
	}
	deletions := media.NewDeletionQueue(redis.Client, cfg.Media.DeletionQueueKey, mediaStore, logger.Named("media"))

	var channel notify.Channel = notify.NewLogChannel(logger.Named("notify"))
	if cfg.Push.Enabled() {
		channel = notify.NewFanout(
			notify.NewWebPushChannel(cfg.Push, repos.Subscriptions, repos.NotificationLogs, logger.Named("webpush")),
			channel,
		)
	}
	var mirror notify.Broadcaster
	if cfg.Slack.Enabled() {
		mirror = notify.NewSlackMirror(cfg.Slack.BotToken, cfg.Slack.Channel)
	}

	dispatcher := events.NewAsyncDispatcher(logger.Named("events"))
	notifications := service.NewNotificationService(cfg.Notification, service.NotificationDependencies{
		Users:         repos.Users,
		Subscriptions: repos.Subscriptions,
		Channel:       channel,
		Mirror:        mirror,
		Audit:         audit,
		Metrics:       metrics,
		Logger:        logger.Named("notifications"),
	})
	worker.StartNotificationWorker(notifications, dispatcher)

	sweeper := service.NewExpirationSweeper(service.RedactionPolicy{
		Retention:   cfg.Workflow.EvidenceRetention,
		Placeholder: cfg.Workflow.EvidencePlaceholderURL,
	}, service.ExpirationDependencies{
		Store:   store,
		Remover: deletions,
		Locker:  redis,
		Audit:   audit,
		Metrics: metrics,
		Logger:  logger.Named("sweeper"),
	})

	tickets := service.NewTicketService(cfg.Workflow, service.TicketDependencies{
		Store:      store,
		Policy:     policy.New(rules),
		Media:      mediaStore,
		Remover:    deletions,
		Dispatcher: dispatcher,
		Sweeper:    sweeper,
		Audit:      audit,
		Metrics:    metrics,
		Logger:     logger.Named("tickets"),
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authService := service.NewAuthService(repos.Users, tokens, audit, logger.Named("auth"))

	scheduler := worker.NewScheduler(redis, logger.Named("scheduler"))
	for _, job := range worker.HousekeepingJobs(cfg.Scheduler, audit, sweeper) {
		if err := scheduler.Add(job); err != nil {
			logger.Fatal("failed to schedule job", zap.Error(err))
		}
	}
	cleanup := worker.NewMediaCleanupWorker(deletions,
		mediaStore, time.Duration(cfg.Media.CleanupPollSeconds)*time.Second, logger.Named("media-cleanup"))

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		BodyLimit:    cfg.App.BodyLimitMB * 1024 * 1024,
		ErrorHandler: httptransport.ErrorHandler,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, metrics,
			handlers.Dependency{Name: "postgres", Pinger: pg},
			handlers.Dependency{Name: "redis", Pinger: redis, Optional: true},
		),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(tickets),
		Notifications:  handlers.NewNotificationsHandler(notifications),
		Audit:          handlers.NewAuditHandler(audit),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, repos.Users),
	})

	scheduler.Start()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return cleanup.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := scheduler.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		sweeper.Wait()
		if err := shutdownTracing(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
	}
}
