package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/livingatlas/occsearch/internal/config"
	"github.com/livingatlas/occsearch/internal/db"
	dbMemory "github.com/livingatlas/occsearch/internal/db/memory"
	dbRedis "github.com/livingatlas/occsearch/internal/db/redis"
	"github.com/livingatlas/occsearch/internal/domain"
	"github.com/livingatlas/occsearch/internal/export"
	"github.com/livingatlas/occsearch/internal/index"
	logpkg "github.com/livingatlas/occsearch/internal/logger"
	"github.com/livingatlas/occsearch/internal/metrics"
	"github.com/livingatlas/occsearch/internal/qid"
	"github.com/livingatlas/occsearch/internal/queue"
	"github.com/livingatlas/occsearch/internal/rewrite"
	"github.com/livingatlas/occsearch/internal/search"
	chiTransport "github.com/livingatlas/occsearch/internal/transport/chi"
	"github.com/livingatlas/occsearch/internal/transport/names"
	"github.com/livingatlas/occsearch/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting occsearch API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("index_url", cfg.Index.BaseURL),
	)

	// Create the permanent store based on driver
	var store db.Store
	switch cfg.Database.Driver {
	case "redis":
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:     cfg.Database.Addrs,
			Password:  cfg.Database.Password,
			KeyPrefix: cfg.Database.KeyPrefix,
		})
	case "memory":
		store = dbMemory.NewStore()
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Store not ready", zap.Error(err))
	}
	logger.Info("Connected to store")

	// Index client behind the retry wrapper
	idx := index.NewRetrying(
		index.NewHTTPClient(index.HTTPConfig{
			BaseURL:    cfg.Index.BaseURL,
			Collection: cfg.Index.Collection,
			Timeout:    time.Duration(cfg.Index.RequestTimeoutSec) * time.Second,
		}, logger),
		cfg.Index.MaxRetries,
		time.Duration(cfg.Index.RetryWaitMs)*time.Millisecond,
		logger,
	)

	// Query-context cache with its eviction worker
	qidCache := qid.NewCache(store, qid.Options{
		MaxBytes:         cfg.QidCache.MaxSizeBytes,
		MinBytes:         cfg.QidCache.MinSizeBytes,
		LargestCacheable: cfg.QidCache.LargestCacheable,
	}, logger)
	qidCache.Start()
	defer qidCache.Stop()

	// Rewriter with its lookup collaborators
	var resolver rewrite.NameResolver
	if cfg.Lookup.NameMatchingURL != "" {
		resolver = names.NewClient(names.Config{
			BaseURL: cfg.Lookup.NameMatchingURL,
			Timeout: time.Duration(cfg.Lookup.TimeoutSec) * time.Second,
		}, logger)
	}
	rewriter := rewrite.NewRewriter(qidCache, resolver, rewrite.MapLabels{}, rewrite.Options{}, logger)

	executor := search.NewExecutor(idx, rewriter, nil, search.Options{}, logger)

	// Export pipeline and the offline queue behind it
	var quotas export.QuotaProvider
	if cfg.Export.EnforceQuotas {
		quotas = export.NewStoreQuotas(store, logger)
	}
	pipeline := export.NewPipeline(idx, rewriter, quotas, export.Options{
		BatchSize:  cfg.Export.BatchSize,
		Workers:    cfg.Export.Workers,
		MaxRows:    cfg.Export.MaxRows,
		Throttle:   time.Duration(cfg.Export.ThrottleMs) * time.Millisecond,
		SplitField: cfg.Export.SplitField,
	}, logger)
	exportSvc := export.NewService(pipeline, store, logger)

	jobQueue, err := queue.NewQueue(cfg.Export.QueueDir, cfg.Export.Dir, logger)
	if err != nil {
		logger.Fatal("Failed to open export queue", zap.Error(err))
	}

	classes := make([]queue.WorkerOptions, len(cfg.Export.WorkerPools))
	counts := make([]int, len(cfg.Export.WorkerPools))
	for i, wp := range cfg.Export.WorkerPools {
		classes[i] = queue.WorkerOptions{
			MaxRows:   wp.MaxRows,
			JobType:   domain.JobType(wp.Type),
			PollDelay: time.Duration(cfg.Export.PollDelayMs) * time.Millisecond,
		}
		counts[i] = wp.Count
	}
	pool := queue.NewPool(jobQueue, exportSvc, nil, classes, counts, logger)
	pool.Start(ctx)
	defer pool.Stop()

	// HTTP surface
	server := chiTransport.NewServer(executor, qidCache, jobQueue, store, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
