// Package main is the entry point for the ranking API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/feedforge/rankmix/internal/affinity"
	"github.com/feedforge/rankmix/internal/analytics"
	"github.com/feedforge/rankmix/internal/api"
	"github.com/feedforge/rankmix/internal/cache"
	"github.com/feedforge/rankmix/internal/collab"
	"github.com/feedforge/rankmix/internal/config"
	"github.com/feedforge/rankmix/internal/content"
	"github.com/feedforge/rankmix/internal/db"
	"github.com/feedforge/rankmix/internal/event"
	"github.com/feedforge/rankmix/internal/experiment"
	"github.com/feedforge/rankmix/internal/health"
	"github.com/feedforge/rankmix/internal/impression"
	"github.com/feedforge/rankmix/internal/middleware"
	"github.com/feedforge/rankmix/internal/ranking"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Rankmix API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, loadErrs := config.Load(*configFile)
	if len(loadErrs) > 0 {
		for _, err := range loadErrs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}
	if validationErrs := cfg.Validate(); len(validationErrs) > 0 {
		for _, err := range validationErrs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	ctx := context.Background()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	// Cache backend: Redis when configured, in-process otherwise.
	var cacheStore cache.Store
	var cacheChecker api.HealthChecker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		cacheStore = cache.NewRedisStore(client)
		cacheChecker = health.NewRedisChecker(client)
		logger.Info("using redis cache")
	} else {
		cacheStore = cache.NewMemoryStore()
		logger.Info("using in-process cache")
	}

	// Data sources and scoring engines.
	catalog := content.NewPostgresSource(conn)
	events := event.NewPostgresSource(conn)
	affinityEngine := affinity.NewEngine(affinity.NewAggregator(events, catalog))
	collabEngine := collab.NewEngine(events, catalog)
	collabEngine.SetMinNeighborSimilarity(cfg.MinSimilarity)

	weights, weightsVersion, err := ranking.LoadCalibration(cfg.WeightsFile)
	if err != nil {
		logger.Warn("weight calibration fell back to defaults", "error", err)
	}

	mixer := ranking.NewMixer(catalog, events, affinityEngine, collabEngine, cacheStore, ranking.MixerConfig{
		Weights:            weights,
		WeightsVersion:     weightsVersion,
		ColdStartThreshold: cfg.ColdStartThreshold,
		EngineBudget:       time.Duration(cfg.EngineBudgetMS) * time.Millisecond,
		CacheTTL:           time.Duration(cfg.RankCacheTTLSec) * time.Second,
		Logger:             logger,
	})

	impressionStore := impression.NewPostgresStore(conn)
	recorder := impression.NewRecorder(impressionStore)
	manager := experiment.NewManager(experiment.NewPostgresStore(conn), recorder, logger)
	profiles := affinity.NewAggregator(events, catalog)

	// Prometheus metrics.
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}
	monitorMetrics := analytics.NewMetrics()
	if err := monitorMetrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register monitor metrics", "error", err)
		os.Exit(1)
	}

	// Background analytics monitor.
	var monitor *analytics.Monitor
	if cfg.MonitorEnabled {
		var notifier analytics.Notifier
		if cfg.NotificationsEnabled {
			notifier = &analytics.LogNotifier{Logger: logger}
		}
		monitor = analytics.NewMonitor(analytics.MonitorConfig{
			Logger:  logger,
			Metrics: monitorMetrics,
		}, manager, recorder, cacheStore, notifier)
		if err := monitor.Start(ctx); err != nil {
			logger.Error("failed to start analytics monitor", "error", err)
			os.Exit(1)
		}
	}

	// HTTP handlers.
	recommendationHandlers := api.NewRecommendationHandlers(mixer, collabEngine)
	impressionHandlers := api.NewImpressionHandlers(recorder, impressionStore)
	experimentHandlers := api.NewExperimentHandlers(manager)
	analyticsHandlers := api.NewAnalyticsHandlers(recorder, monitor, cacheStore, collabEngine, profiles)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:      health.NewDBChecker(conn),
		CacheChecker:   cacheChecker,
		MetricsEnabled: true,
	})

	rateLimit := middleware.RateLimiter(
		middleware.NewInMemoryRateLimitStore(),
		middleware.DefaultRecommendationLimit(),
		middleware.UserKeyFunc(),
	)

	mux := http.NewServeMux()
	mux.Handle("/recommendations/", rateLimit(http.HandlerFunc(recommendationHandlers.GetRecommendations)))
	mux.HandleFunc("/cache/warmup", recommendationHandlers.WarmupCache)
	mux.HandleFunc("/impressions", impressionHandlers.CreateImpression)
	mux.HandleFunc("/impressions/", impressionHandlers.HandleImpressionByID)
	mux.HandleFunc("/experiments", experimentHandlers.HandleExperiments)
	mux.HandleFunc("/experiments/", experimentHandlers.HandleExperimentByID)
	mux.HandleFunc("/analytics/dashboard", analyticsHandlers.Dashboard)
	mux.HandleFunc("/analytics/algorithms/", analyticsHandlers.AlgorithmStats)
	mux.HandleFunc("/users/", analyticsHandlers.HandleUserStats)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Only handle exact root path, everything else returns 404
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"rankmix-api","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Apply middleware: RequestID -> Logging -> HTTPMetrics -> CORS
	handler := middleware.RequestID(
		middleware.Logging(logger)(
			middleware.HTTPMetrics(httpMetrics)(
				middleware.CORS(middleware.CORSConfig{})(mux))))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	if monitor != nil {
		monitor.Stop()
	}

	// Create context with timeout for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
