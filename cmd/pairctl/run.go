package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pairLedger/internal/config"
	"pairLedger/internal/metrics"
	"pairLedger/internal/simulate"
	"pairLedger/internal/snapshot"
	"pairLedger/internal/storage"
	"pairLedger/internal/storage/postgres"
)

func runScenario(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadRun(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Scenario == "" {
		return fmt.Errorf("scenario path is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}

	sc, err := simulate.LoadScenario(cfg.Scenario)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pairMetrics := metrics.NewPairMetrics(reg, cfg.MetricsNamespace)
	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer shutdown()
	}

	opts := []simulate.Option{simulate.WithLogger(logger), simulate.WithMetrics(pairMetrics)}
	if cfg.StateIn != "" {
		world, err := (&snapshot.FileStore{Path: cfg.StateIn}).Load()
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		opts = append(opts, simulate.WithState(world))
	}

	logger.Info("scenario start",
		zap.String("scenario", cfg.Scenario),
		zap.String("name", sc.Name),
		zap.Int("steps", len(sc.Steps)),
		zap.String("state_in", cfg.StateIn),
		zap.String("out", cfg.Out),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)

	runner, err := simulate.NewRunner(sc, opts...)
	if err != nil {
		return err
	}
	result, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if err := removeIfExists(cfg.Out); err != nil {
		return err
	}
	if err := storage.NewJsonlStorage(cfg.Out).PutLogBatch(result.Logs); err != nil {
		return err
	}
	if cfg.ReservesOut != "" {
		if err := removeIfExists(cfg.ReservesOut); err != nil {
			return err
		}
		if err := storage.NewJsonlStorage(cfg.ReservesOut).PutReserveSnapshots(result.Reserves); err != nil {
			return err
		}
	}
	if cfg.StateOut != "" {
		if err := (&snapshot.FileStore{Path: cfg.StateOut}).Save(result.World); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
	}
	if cfg.PGDSN != "" {
		if err := persistRun(ctx, cfg.PGDSN, result); err != nil {
			return err
		}
	}

	logger.Info("scenario complete",
		zap.Int("steps", len(result.Steps)),
		zap.Int("logs", len(result.Logs)),
		zap.Int("pairs", len(result.Pairs)),
		zap.Int("reserve_snapshots", len(result.Reserves)),
		zap.Uint64("block", result.World.BlockNumber),
		zap.String("state_out", cfg.StateOut),
	)
	return nil
}

func persistRun(ctx context.Context, dsn string, result simulate.Result) error {
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := store.UpsertPairs(ctx, result.Pairs); err != nil {
		return err
	}
	return store.InsertReserveSnapshots(ctx, result.Reserves)
}

// serveMetrics exposes reg on /metrics until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("metrics server listening", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	return nil
}
