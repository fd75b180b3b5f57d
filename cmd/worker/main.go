package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"dreamGarden/internal/config"
	"dreamGarden/internal/database"
	"dreamGarden/internal/logging"
	"dreamGarden/internal/metrics"
	"dreamGarden/internal/pdf"
	"dreamGarden/internal/portfolio"
	"dreamGarden/internal/storage"
	"dreamGarden/internal/student"
	"dreamGarden/internal/tasks"
	"dreamGarden/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := logging.New(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database, cfg.Log.SQL)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(context.Background(), cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	retries := cfg.Portfolio.ReadRetries
	registry := student.NewRegistry(db, retries)
	cache := portfolio.NewRedisCache(redisClient, cfg.Portfolio.CacheTTL)
	aggregator := portfolio.NewAggregator(db, registry, cache, logger, cfg.Portfolio.TopCompetencies, retries)
	notifier := worker.NewNotifier(redisClient)

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
	})

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypePortfolioRegenerate, worker.NewRegenerateTaskHandler(aggregator, registry, notifier, logger))
	mux.Handle(tasks.TypePortfolioPDF, worker.NewPDFTaskHandler(aggregator, registry, storageClient, pdf.NewRenderer(cfg.Worker.PDFRenderTimeout).Render, notifier, logger))

	if cfg.Worker.MetricsPort > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Worker.MetricsPort)
			if err := http.ListenAndServe(addr, metrics.Handler()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	logger.Info("worker service started", slog.String("redis_addr", redisAddr))
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
