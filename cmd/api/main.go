package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"dreamGarden/internal/api"
	"dreamGarden/internal/auth"
	"dreamGarden/internal/config"
	"dreamGarden/internal/database"
	"dreamGarden/internal/identity"
	"dreamGarden/internal/logging"
	"dreamGarden/internal/media"
	"dreamGarden/internal/portfolio"
	"dreamGarden/internal/record"
	"dreamGarden/internal/storage"
	"dreamGarden/internal/student"
	"dreamGarden/internal/tasks"
)

func main() {
	cfg := config.MustLoad()

	logger := logging.New(os.Stdout, cfg.Log)
	slog.SetDefault(logger)
	log.Printf("api bootstrapped with db host=%s port=%d db=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := database.InitDatabase(cfg.Database, cfg.Log.SQL)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Printf("database migrated")

	storageClient, err := storage.NewClient(context.Background(), cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	authService, err := auth.LoadAuthService(cfg.Auth)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	retries := cfg.Portfolio.ReadRetries
	scheduler := tasks.NewScheduler(asynqClient, cfg.Portfolio.RegenerateAfter)
	resolver := identity.NewResolver(db, retries)
	registry := student.NewRegistry(db, retries)
	records := record.NewStore(db, registry, scheduler, logger, retries)
	tracker := media.NewTracker(db, records, scheduler, logger)
	uploader := media.NewUploader(storageClient, media.ClamdScanner{Addr: cfg.Upload.ClamdAddr}, redisClient, registry, cfg.Upload, logger)
	cache := portfolio.NewRedisCache(redisClient, cfg.Portfolio.CacheTTL)
	aggregator := portfolio.NewAggregator(db, registry, cache, logger, cfg.Portfolio.TopCompetencies, retries)

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("unwrap database: %v", err)
	}
	health := api.NewHealthHandler(map[string]api.HealthCheck{
		"database": sqlDB.PingContext,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		"storage":  storageClient.Ping,
	}, logger)

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, cfg.API, api.Handlers{
		Me:        api.NewMeHandler(resolver),
		Students:  api.NewStudentHandler(registry),
		Records:   api.NewRecordHandler(records, tracker),
		Media:     api.NewMediaHandler(uploader),
		Portfolio: api.NewPortfolioHandler(aggregator, registry, scheduler, storageClient),
		Catalog:   api.NewCatalogHandler(db),
		Health:    health,
		Ws:        api.NewWsHandler(api.RedisNotifications{Client: redisClient}, authService, resolver, registry, logger, cfg.API.AllowedOrigins),
	}, authService, resolver)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("api listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start api server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", slog.Any("error", err))
	}
	logger.Info("api stopped")
}
