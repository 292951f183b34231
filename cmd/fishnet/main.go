// Package main is the entry point for the fishnet-go client.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lichess-org/fishnet-go/internal/api"
	"github.com/lichess-org/fishnet-go/internal/config"
	"github.com/lichess-org/fishnet-go/internal/engine"
	"github.com/lichess-org/fishnet-go/internal/observability"
	"github.com/lichess-org/fishnet-go/internal/queue"
	"github.com/lichess-org/fishnet-go/internal/stats"
	"github.com/lichess-org/fishnet-go/internal/worker"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const (
	exitOK = iota
	exitInitFailure
	exitRejected
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("fishnet-go\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n", version, buildTime, gitCommit)
		return exitOK
	}

	runID := uuid.NewString()
	logger := observability.NewStandardLogger("fishnet", observability.LogLevelInfo).
		With(map[string]interface{}{"run_id": runID})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", map[string]interface{}{"error": err.Error()})
		return exitInitFailure
	}
	logger = observability.NewStandardLogger("fishnet", observability.ParseLevel(cfg.Verbosity)).
		With(map[string]interface{}{"run_id": runID})

	if _, err := os.Stat(cfg.EnginePath); err != nil {
		logger.Error("engine binary not found", map[string]interface{}{"path": cfg.EnginePath, "error": err.Error()})
		return exitInitFailure
	}

	var metrics observability.MetricsClient = observability.NewNoopMetrics()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		promMetrics := observability.NewPrometheusMetrics("fishnet")
		metrics = promMetrics
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped unexpectedly", map[string]interface{}{"error": err.Error()})
			}
		}()
		logger.Info("metrics server listening", map[string]interface{}{"addr": cfg.MetricsAddr})
	}

	tracer := observability.SpanStarter(observability.NewTracer("fishnet"))

	statsRecorder := stats.New(cfg.StatsFile, cfg.ResolvedCores(), logger.WithPrefix("stats"), metrics)

	client := api.NewClient(cfg.Endpoint, cfg.APIKey, fmt.Sprintf("fishnet-go/%s", version),
		api.EngineInfo{Name: "Stockfish", Hash: 32, Threads: 1},
		logger.WithPrefix("api"), metrics, tracer)

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 15*time.Second)
	probeStatus := client.Status(probeCtx)
	probeCancel()
	if probeStatus == nil {
		logger.Error("initial connectivity probe to remote failed", map[string]interface{}{"endpoint": cfg.Endpoint})
		return exitInitFailure
	}

	backlog := queue.BacklogConfig{User: cfg.UserBacklog, System: cfg.SystemBacklog}
	q := queue.New(cfg.ResolvedCores(), client, statsRecorder, cfg.MaxBackoff, backlog, logger.WithPrefix("queue"), metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cores := cfg.ResolvedCores()
	logger.Info("starting workers", map[string]interface{}{"cores": cores})

	var wg sync.WaitGroup
	for i := 0; i < cores; i++ {
		opts := engine.Options{
			Path:        cfg.EnginePath,
			VariantPath: cfg.VariantEnginePath,
			Logger:      logger.WithPrefix(fmt.Sprintf("engine.%d", i)),
			Metrics:     metrics,
		}
		w := worker.New(i, q, opts, cfg.MaxBackoff)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining in-flight work", nil)
		q.ShutdownSoon()
		select {
		case <-drained:
		case <-time.After(30 * time.Second):
			logger.Warn("workers did not drain in time, shutting down anyway", nil)
		}
	case <-drained:
		logger.Info("all workers stopped", nil)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	q.Shutdown(shutdownCtx)

	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	_ = metrics.Close()
	logger.Info("shutdown complete", nil)
	return exitOK
}
