package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pairLedger/internal/chain"
	"pairLedger/internal/config"
	"pairLedger/internal/dex"
	"pairLedger/internal/indexer"
	"pairLedger/internal/snapshot"
)

func runFork(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFork(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	pairs, err := indexer.ParseAddresses(cfg.Pairs)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return fmt.Errorf("pair list is required")
	}

	ctx, stop := signalContext()
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	logger.Info("fork start",
		zap.String("rpc", cfg.RPCURL),
		zap.Int("pairs", len(pairs)),
		zap.Uint64("block", cfg.Block),
		zap.String("out", cfg.Out),
	)

	world, err := dex.FetchPairState(ctx, chainClient, dex.ForkConfig{
		Pairs:       pairs,
		BlockNumber: cfg.Block,
		Retry:       cfg.Retry(),
	}, logger)
	if err != nil {
		return err
	}

	if err := (&snapshot.FileStore{Path: cfg.Out}).Save(world); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	logger.Info("fork complete",
		zap.Uint64("chain_id", world.ChainID),
		zap.Uint64("block", world.BlockNumber),
		zap.Int("tokens", len(world.Tokens)),
		zap.Int("pairs", len(world.Pairs)),
		zap.String("factory", world.Factory),
	)
	return nil
}
