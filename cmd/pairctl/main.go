package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "pairctl",
		Short:        "Constant-product pair simulator and V2 log toolkit",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return loadEnv(envFile)
		},
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("env-file", ".env", "optional dotenv file loaded before config")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a YAML scenario against an in-process registry",
		RunE:  runScenario,
	}

	runCmd.Flags().String("scenario", "", "scenario YAML path")
	runCmd.Flags().String("out", "./data/logs.jsonl", "output raw logs JSONL path")
	runCmd.Flags().String("reserves-out", "", "optional reserve snapshots JSONL path")
	runCmd.Flags().String("state-in", "", "optional world snapshot to resume from")
	runCmd.Flags().String("state-out", "./data/state.json", "final world snapshot path")
	runCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for pairs and reserve snapshots")
	runCmd.Flags().String("metrics-addr", "", "optional listen address for /metrics, e.g. :9100")
	runCmd.Flags().String("metrics-namespace", "pairledger", "Prometheus metric namespace")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Index V2 factory and pair logs from an RPC node",
		RunE:  runIndexer,
	}

	indexCmd.Flags().String("rpc", "", "RPC URL")
	indexCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	indexCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	indexCmd.Flags().StringSlice("factory", nil, "factory addresses whose PairCreated logs add pairs (comma-separated)")
	indexCmd.Flags().StringSlice("pair", nil, "pair addresses (comma-separated)")
	indexCmd.Flags().StringSlice("topic0", nil, "pair event filter as event names or topic0 hashes (comma-separated), default Mint,Burn,Swap,Sync")
	indexCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	indexCmd.Flags().String("out", "./data/logs.jsonl", "output JSONL path")
	indexCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	indexCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	indexCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for discovered pairs")
	indexCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	indexCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	indexCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(indexCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw logs into typed events",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("rpc", "", "optional RPC URL for pairs whose PairCreated log is not in the input")
	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/typed_events.jsonl", "output typed events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().Int("pair-cache-size", 4096, "pair metadata cache entries")
	decodeCmd.Flags().Int("token-cache-size", 4096, "token metadata cache entries")
	decodeCmd.Flags().Bool("include-live-meta", false, "include getReserves at the log block (requires archive RPC for historical accuracy)")
	decodeCmd.Flags().Int("max-retries", 3, "maximum retry attempts for RPC lookups")
	decodeCmd.Flags().Duration("retry-backoff", 250*time.Millisecond, "initial retry backoff")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	aggregateCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate typed events into window metrics",
		RunE:  runAggregate,
	}

	aggregateCmd.Flags().String("rpc", "", "optional RPC URL for token decimals and missing reserves")
	aggregateCmd.Flags().String("in", "", "input typed events JSONL")
	aggregateCmd.Flags().String("window", "5m", "aggregation window (e.g. 1m, 5m, 1h)")
	aggregateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	aggregateCmd.Flags().Int("batch-size", 1000, "batch size for DB writes")
	aggregateCmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	aggregateCmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	aggregateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(aggregateCmd)

	forkCmd := &cobra.Command{
		Use:   "fork",
		Short: "Load on-chain V2 pair state into a world snapshot",
		RunE:  runFork,
	}

	forkCmd.Flags().String("rpc", "", "RPC URL")
	forkCmd.Flags().StringSlice("pair", nil, "pair addresses (comma-separated)")
	forkCmd.Flags().Uint64("block", 0, "block to read state at, 0 means latest")
	forkCmd.Flags().String("out", "./data/state.json", "output world snapshot path")
	forkCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	forkCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	forkCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(forkCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnv reads a dotenv file into the process environment so PAIRCTL_*
// variables in it reach the config loaders. A missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
