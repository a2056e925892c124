package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/nathanyu/donut-exchange/internal/agent"
	"github.com/nathanyu/donut-exchange/internal/domain"
	"github.com/nathanyu/donut-exchange/internal/engine"
	"github.com/nathanyu/donut-exchange/internal/handler"
	"github.com/nathanyu/donut-exchange/internal/ledger"
	"github.com/nathanyu/donut-exchange/internal/middleware"
	"github.com/nathanyu/donut-exchange/internal/notify"
	"github.com/nathanyu/donut-exchange/internal/stats"
	"github.com/nathanyu/donut-exchange/internal/sweeper"
	"github.com/nathanyu/donut-exchange/internal/telemetry"
)

func main() {
	logger := telemetry.NewLogger("donut-exchange")
	logger.Info("starting donut exchange service")

	_, tracerCleanup, err := telemetry.InitTracer("donut-exchange", logger)
	if err != nil {
		logger.Error("tracer init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer tracerCleanup()

	// --- Core components ---

	notifier := notify.New(logger.With(slog.String("component", "notifier")))
	book := ledger.New()
	eng := engine.New(book, notifier, logger.With(slog.String("component", "engine")))

	seedMarket(eng, book, logger)

	// --- Event consumers ---

	var rdb *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		logger.Info("leaderboard mirror enabled", slog.String("redis_addr", addr))
	}
	tracker := stats.New(rdb, logger.With(slog.String("component", "stats")))
	notifier.Subscribe(tracker)

	if url := os.Getenv("NATS_URL"); url != "" {
		pub, err := notify.NewNATSPublisher(url, logger.With(slog.String("component", "nats")))
		if err != nil {
			logger.Error("nats connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pub.Close()
		notifier.Subscribe(pub)
		logger.Info("nats event egress enabled", slog.String("url", url))
	}

	// --- Background workers ---

	swp := sweeper.New(eng, notifier,
		logger.With(slog.String("component", "sweeper")),
		envDuration("SWEEP_INTERVAL_SECONDS", sweeper.DefaultInterval))
	swp.Start()
	defer swp.Stop()

	supplier := agent.NewSupplier(eng, book,
		logger.With(slog.String("component", "supplier")),
		envDuration("SUPPLY_INTERVAL_SECONDS", agent.DefaultSupplyInterval))
	restocker := agent.NewRestocker(eng, book,
		logger.With(slog.String("component", "restocker")),
		envDuration("RESTOCK_INTERVAL_SECONDS", agent.DefaultRestockInterval))

	if os.Getenv("AGENTS_DISABLED") == "" {
		supplier.Start()
		defer supplier.Stop()
		restocker.InitializeDefaults()
		restocker.Start()
		defer restocker.Stop()
	}

	// --- HTTP Server ---

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	r := gin.Default()
	r.Use(middleware.PrometheusMiddleware())

	h := handler.New(eng, book, tracker, restocker)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// --- Metrics Server ---

	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		metricsPort = "9090"
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    ":" + metricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server listening", slog.String("port", metricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	go func() {
		logger.Info("http server listening", slog.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// --- Graceful shutdown ---

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http server shutdown", slog.String("error", err.Error()))
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
	}

	logger.Info("donut exchange service stopped")
}

// seedMarket registers the default catalog and a few starting outlets
// so the simulation has something to trade the moment it boots.
func seedMarket(eng *engine.Engine, book *ledger.Ledger, logger *slog.Logger) {
	instruments := []domain.Instrument{
		{InstrumentID: "glazed", Name: "Glazed", Description: "Classic glazed donut"},
		{InstrumentID: "chocolate", Name: "Chocolate", Description: "Chocolate frosted donut"},
		{InstrumentID: "jelly", Name: "Jelly", Description: "Jelly filled donut"},
	}
	for _, inst := range instruments {
		if err := eng.RegisterInstrument(inst); err != nil {
			logger.Error("register instrument", slog.String("error", err.Error()))
		}
	}

	outlets := []struct {
		id, name, location string
	}{
		{"outlet-downtown", "Downtown Donuts", "Downtown"},
		{"outlet-airport", "Airside Snacks", "Airport Terminal 2"},
		{"outlet-harbor", "Harbor Holes", "Harborfront"},
	}
	for _, o := range outlets {
		if _, err := book.CreateOutlet(o.id, o.name, o.location, handler.DefaultStartingBalance); err != nil {
			logger.Error("create outlet", slog.String("error", err.Error()))
		}
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
