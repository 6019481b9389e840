package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/mediacache/internal/api/handler"
	"github.com/hszk-dev/mediacache/internal/api/middleware"
	"github.com/hszk-dev/mediacache/internal/config"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/cache"
	"github.com/hszk-dev/mediacache/internal/infrastructure/origin"
	"github.com/hszk-dev/mediacache/internal/infrastructure/postgres"
	"github.com/hszk-dev/mediacache/internal/infrastructure/queue"
	"github.com/hszk-dev/mediacache/internal/infrastructure/storage"
	"github.com/hszk-dev/mediacache/internal/mediacache"
	"github.com/hszk-dev/mediacache/internal/source"
	"github.com/hszk-dev/mediacache/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type handlers struct {
	health   *handler.HealthHandler
	asset    *handler.AssetHandler
	stream   *handler.StreamHandler
	prefetch *handler.PrefetchHandler
	cache    *handler.CacheHandler
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg.Log, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	slog.SetDefault(logger)

	// Without a span cache playback still works, straight from the origin.
	spanCache, err := mediacache.Open(ctx, cfg.Cache.StorageRoot, cfg.Cache.Capacity.Int64(),
		mediacache.WithMaxSpanBytes(cfg.Cache.MaxSpanSize.Int64()))
	if err != nil {
		logger.Error("span cache unavailable, streaming without cache",
			slog.String("storage_root", cfg.Cache.StorageRoot),
			slog.String("error", err.Error()),
		)
		spanCache = nil
	} else {
		defer spanCache.Close()
		logger.Info("opened span cache",
			slog.String("storage_root", cfg.Cache.StorageRoot),
			slog.String("capacity", cfg.Cache.Capacity.String()),
		)
	}

	checks := map[string]handler.Pinger{}

	router := origin.NewRouter()
	router.Handle(origin.NewHTTPFetcher(
		origin.WithClient(&http.Client{Timeout: cfg.Origin.Timeout}),
		origin.WithMaxRedirects(cfg.Origin.MaxRedirects),
	), "http", "https")

	if cfg.MinIO.Enabled {
		objects, err := storage.NewFetcher(ctx, storage.ClientConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to MinIO: %w", err)
		}
		router.Handle(objects, storage.Scheme)
		checks["minio"] = objects.Ping
		logger.Info("connected to MinIO", slog.String("bucket", objects.Bucket()))
	}

	factory := source.NewFactory(spanCache, router,
		source.NewRequestConfigurator(cfg.Origin.DefaultUserAgent),
		source.FactoryConfig{SegmentBytes: cfg.Cache.SegmentSize.Int64()},
	)

	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()
	checks["postgres"] = pgClient.Ping
	logger.Info("connected to PostgreSQL")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	logger.Info("connected to Redis")

	assetSvc := usecase.NewCachedAssetService(
		usecase.NewAssetService(postgres.NewAssetRepository(pgClient.Pool())),
		cache.NewRedisAssetCache(redisClient),
		usecase.CachedAssetServiceConfig{CacheTTL: cfg.Cache.AssetTTL},
	)

	var (
		mq          repository.MessageQueue
		queueClient *queue.Client
	)
	if cfg.Prefetch.Enabled {
		queueClient, err = queue.NewClient(ctx, queue.DefaultClientConfig(cfg.RabbitMQ.URL()))
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		defer queueClient.Close()
		mq = queueClient
		logger.Info("connected to RabbitMQ")
	}

	prefetchSvc := usecase.NewPrefetchService(assetSvc, factory, mq,
		usecase.PrefetchServiceConfig{MaxRetries: cfg.Prefetch.MaxRetries})

	var admin handler.CacheAdmin
	if spanCache != nil {
		admin = spanCache
	}
	h := handlers{
		health:   handler.NewHealthHandler(spanCache != nil, checks),
		asset:    handler.NewAssetHandler(assetSvc),
		stream:   handler.NewStreamHandler(usecase.NewStreamService(assetSvc, factory)),
		prefetch: handler.NewPrefetchHandler(prefetchSvc),
		cache:    handler.NewCacheHandler(admin),
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      setupRouter(logger, h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	// Tracks the prefetch consumer, which runs tasks inline.
	var wg sync.WaitGroup
	if queueClient != nil {
		logger.Info("starting prefetch worker")
		startPrefetchWorker(ctx, &wg, queueClient, prefetchSvc, errCh)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	// Stop consuming; in-flight prefetches see the cancellation and finish.
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all in-flight tasks completed")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, some tasks may not have completed")
	}

	logger.Info("server stopped")
	return nil
}

// startPrefetchWorker consumes prefetch tasks until ctx is cancelled. wg is
// released once the consumer and the task it is running have returned.
func startPrefetchWorker(ctx context.Context, wg *sync.WaitGroup, mq repository.MessageQueue, svc usecase.PrefetchService, errCh chan<- error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := mq.ConsumePrefetchTasks(ctx, func(task repository.PrefetchTask) error {
			return svc.ProcessTask(ctx, task)
		})
		if err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("consumer error: %w", err)
		}
	}()
}

func setupRouter(logger *slog.Logger, h handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", h.health.Live)
	r.Get("/ready", h.health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/assets", func(r chi.Router) {
			r.Post("/", h.asset.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.asset.Get)
				r.Delete("/", h.asset.Delete)
				r.Get("/stream", h.stream.Stream)
				r.Post("/prefetch", h.prefetch.Prefetch)
			})
		})
		r.Route("/cache", func(r chi.Router) {
			r.Get("/", h.cache.Stats)
			r.Post("/evict", h.cache.Evict)
		})
	})

	return r
}
