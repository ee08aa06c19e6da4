package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/anzac2cdo/roster-api/api/swagger"
	"github.com/anzac2cdo/roster-api/internal/handler"
	"github.com/anzac2cdo/roster-api/internal/middleware"
	"github.com/anzac2cdo/roster-api/internal/repository"
	"github.com/anzac2cdo/roster-api/internal/service"
	"github.com/anzac2cdo/roster-api/pkg/cache"
	"github.com/anzac2cdo/roster-api/pkg/config"
	"github.com/anzac2cdo/roster-api/pkg/database"
	"github.com/anzac2cdo/roster-api/pkg/jobs"
	"github.com/anzac2cdo/roster-api/pkg/logger"
	corsmiddleware "github.com/anzac2cdo/roster-api/pkg/middleware/cors"
	reqidmiddleware "github.com/anzac2cdo/roster-api/pkg/middleware/requestid"
	"github.com/anzac2cdo/roster-api/pkg/sessionguard"
	"github.com/anzac2cdo/roster-api/pkg/storage"
)

// @title ANZAC 2nd Commandos Roster API
// @version 1.0.0
// @description Roster, role authorization and legacy migration backend
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server exited", zap.Error(err))
	}
	logr.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Migrations.AutoApply {
		if err := database.Migrate(cfg.Database.URL(), logr); err != nil {
			return err
		}
	}

	rdb, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := build(ctx, cfg, logr, db, rdb)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: app.router, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		<-app.scheduler.Stop().Done()
		if app.queue != nil {
			app.queue.Stop()
		}
		return err
	})
	return g.Wait()
}

type application struct {
	router    *gin.Engine
	queue     *jobs.Queue
	scheduler *cron.Cron
}

func build(ctx context.Context, cfg *config.Config, logr *zap.Logger, db *sqlx.DB, rdb *redis.Client) (*application, error) {
	metrics := service.NewMetricsService()
	validate := validator.New()

	personnelRepo := repository.NewPersonnelRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	roleAssignmentRepo := repository.NewRoleAssignmentRepository(db)
	schoolRepo := repository.NewSchoolRepository(db)
	schoolAssignmentRepo := repository.NewSchoolAssignmentRepository(db)
	rankRepo := repository.NewRankRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	eventRepo := repository.NewEventRepository(db)
	migrationRepo := repository.NewMigrationRepository(db)
	sessionStore := repository.NewSessionStore(rdb)

	rosterCache := service.NewCacheService(repository.NewCacheRepository(rdb, logr), metrics, cfg.Cache.RosterTTL, logr, true)

	catalog := service.NewRoleCatalogService(roleRepo, service.CatalogConfig{TTL: cfg.Cache.CatalogTTL, Size: cfg.Cache.CatalogSize}, metrics, logr)
	if seeded, err := catalog.SeedDefaults(ctx); err != nil {
		return nil, fmt.Errorf("seed role catalog: %w", err)
	} else if seeded > 0 {
		logr.Info("seeded role catalog", zap.Int("roles", seeded))
	}

	authz := service.NewAuthorizationService(personnelRepo, roleAssignmentRepo, catalog, schoolAssignmentRepo, schoolRepo, metrics, logr)
	sessions := service.NewSessionService(personnelRepo, sessionStore, cfg.Sessions.RevocationTTL, auditRepo, logr)

	guard := sessionguard.Install(sessions.ForceSignOut, sessionguard.Config{
		Window:    cfg.Sessions.GuardWindow,
		Size:      cfg.Sessions.GuardSize,
		Logger:    logr,
		OnTrigger: metrics.RecordForcedSignOut,
	})

	authSvc := service.NewAuthService(personnelRepo, authz, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "roster-api",
	})
	personnelSvc := service.NewPersonnelService(personnelRepo, rankRepo, authz, sessions, rosterCache, auditRepo, validate, logr)
	roleAssignments := service.NewRoleAssignmentService(authz, personnelRepo, catalog, roleAssignmentRepo, auditRepo, rosterCache, logr)
	schoolAssignments := service.NewSchoolAssignmentService(authz, catalog, roleAssignmentRepo, schoolRepo, schoolAssignmentRepo, auditRepo, logr)
	schoolSvc := service.NewSchoolService(schoolRepo, personnelRepo, authz, authz, auditRepo, validate, logr)
	eventSvc := service.NewEventService(eventRepo, authz, auditRepo, validate, logr)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Sessions.PurgeSchedule, func() {
		purged, err := sessions.PurgeRefreshTokens(context.Background(), cfg.JWT.RefreshExpiration)
		if err != nil {
			logr.Warn("refresh token purge failed", zap.Error(err))
			return
		}
		logr.Info("purged refresh tokens", zap.Int64("count", purged))
	}); err != nil {
		return nil, fmt.Errorf("schedule refresh token purge: %w", err)
	}

	routes := handler.Routes{
		JWT:       middleware.JWT(authSvc, sessions),
		Authz:     authz,
		Auth:      handler.NewAuthHandler(authSvc),
		Roles:     handler.NewRoleHandler(catalog, roleAssignments),
		Personnel: handler.NewPersonnelHandler(personnelSvc, schoolAssignments, schoolSvc),
		Schools:   handler.NewSchoolHandler(schoolSvc, schoolAssignments),
		Events:    handler.NewEventHandler(eventSvc),
	}
	if cfg.Migrations.EndpointEnabled {
		routes.Migrations = handler.NewMigrationHandler(service.NewMigrationService(migrationRepo, catalog, auditRepo, metrics, logr))
	}

	var queue *jobs.Queue
	if cfg.Exports.Enabled {
		exportJobs, q, err := buildExports(ctx, cfg, logr, db, personnelRepo, authz, auditRepo, metrics, validate, scheduler)
		if err != nil {
			return nil, err
		}
		queue = q
		routes.Exports = handler.NewExportHandler(exportJobs)
	}
	scheduler.Start()

	r := gin.New()
	r.Use(reqidmiddleware.Middleware())
	r.Use(middleware.Recovery(guard, logr))
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.RequestMeta())
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.SessionGuard(guard, logr))

	ops := handler.NewMetricsHandler(metrics, map[string]handler.Pinger{
		"postgres": db,
		"redis":    handler.PingerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	})
	r.GET("/health", ops.Health)
	r.GET("/ready", ops.Ready)
	r.GET("/metrics", ops.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	routes.Register(r.Group(cfg.APIPrefix))

	return &application{router: r, queue: queue, scheduler: scheduler}, nil
}

func buildExports(
	ctx context.Context,
	cfg *config.Config,
	logr *zap.Logger,
	db *sqlx.DB,
	roster *repository.PersonnelRepository,
	authz *service.AuthorizationService,
	audit *repository.AuditRepository,
	metrics *service.MetricsService,
	validate *validator.Validate,
	scheduler *cron.Cron,
) (*service.ExportJobService, *jobs.Queue, error) {
	store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return nil, nil, fmt.Errorf("init export storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exporter := service.NewExportService(roster, store, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		Retention: cfg.Exports.Retention,
	}, logr)

	jobRepo := repository.NewExportJobRepository(db)
	worker := service.NewExportWorker(jobRepo, exporter, metrics, logr)
	queue := jobs.NewQueue("roster_export", worker.Handle, jobs.QueueConfig{
		Workers:       cfg.Exports.WorkerConcurrency,
		BufferSize:    64,
		MaxRetries:    cfg.Exports.WorkerRetries,
		RetryDelay:    2 * time.Second,
		MaxRetryDelay: time.Minute,
		OnDiscard:     worker.Discard,
		Logger:        logr,
	})
	queue.Start(ctx)

	exportJobs := service.NewExportJobService(jobRepo, authz, queue, exporter, audit, validate, logr, cfg.Exports.Retention)
	exportJobs.RecoverPendingJobs(ctx)

	if _, err := scheduler.AddFunc(cfg.Exports.CleanupSchedule, func() {
		exportJobs.CleanupExpired(context.Background())
	}); err != nil {
		return nil, nil, fmt.Errorf("schedule export cleanup: %w", err)
	}
	return exportJobs, queue, nil
}
