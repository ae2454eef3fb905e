package indexer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"pairLedger/internal/chain"
	"pairLedger/internal/dex"
	"pairLedger/internal/model"
	"pairLedger/internal/storage"
)

// RunConfig holds runtime settings for the indexer. Factories are followed
// through PairCreated logs; every pair they create is indexed from the block
// it appears in. Pairs are indexed from FromBlock.
type RunConfig struct {
	FromBlock         uint64
	ToBlock           uint64
	Factories         []common.Address
	Pairs             []common.Address
	Topic0            []common.Hash
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	Retry             chain.RetryPolicy
}

// PairStore receives pairs discovered from factory logs.
type PairStore interface {
	UpsertPairs(ctx context.Context, pairs []model.Pair) error
}

// Runner streams V2 pair logs from the chain and writes them to storage.
type Runner struct {
	cfg        RunConfig
	chain      *chain.Client
	storage    storage.Storage
	pairStore  PairStore
	logger     *zap.Logger
	decoder    *dex.PairDecoder
	createdID  common.Hash
	topic0     []common.Hash
	pairs      map[common.Address]struct{}
	pairOrder  []common.Address
	seen       map[string]struct{}
	checkpoint *CheckpointStore
}

// NewRunner builds a Runner with its dependencies. pairStore may be nil.
func NewRunner(cfg RunConfig, chainClient *chain.Client, storageSink storage.Storage, pairStore PairStore, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	decoder, err := dex.NewPairDecoder()
	if err != nil {
		return nil, err
	}
	pairABI, err := dex.PairABI()
	if err != nil {
		return nil, err
	}
	factoryABI, err := dex.FactoryABI()
	if err != nil {
		return nil, err
	}

	topic0 := cfg.Topic0
	if len(topic0) == 0 {
		for _, name := range []string{"Mint", "Burn", "Swap", "Sync"} {
			topic0 = append(topic0, pairABI.Events[name].ID)
		}
	}

	r := &Runner{
		cfg:        cfg,
		chain:      chainClient,
		storage:    storageSink,
		pairStore:  pairStore,
		logger:     logger,
		decoder:    decoder,
		createdID:  factoryABI.Events["PairCreated"].ID,
		topic0:     topic0,
		pairs:      make(map[common.Address]struct{}),
		seen:       make(map[string]struct{}),
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
	}
	for _, pair := range cfg.Pairs {
		r.track(pair)
	}
	return r, nil
}

// Pairs returns the pairs being indexed, in discovery order.
func (r *Runner) Pairs() []common.Address {
	return append([]common.Address(nil), r.pairOrder...)
}

// Run executes the indexing loop.
func (r *Runner) Run(ctx context.Context) error {
	if r.chain == nil {
		return fmt.Errorf("chain client is nil")
	}
	if r.storage == nil {
		return fmt.Errorf("storage is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if len(r.cfg.Factories) == 0 && len(r.cfg.Pairs) == 0 {
		return fmt.Errorf("at least one factory or pair address is required")
	}

	chainID, err := r.chain.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	chainIDValue := chainID.Uint64()

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := r.chain.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	cp, ok, err := r.checkpoint.Load()
	if err != nil {
		return err
	}
	if ok && cp.LastProcessedBlock >= from {
		pairs, err := cp.PairAddresses()
		if err != nil {
			return err
		}
		from = cp.LastProcessedBlock + 1
		for _, pair := range pairs {
			r.track(pair)
		}
		r.logger.Info("resume from checkpoint",
			zap.Uint64("last_processed", cp.LastProcessedBlock),
			zap.Uint64("from", from),
			zap.Int("pairs", len(r.pairOrder)),
		)
	}

	if from > to {
		r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	r.logger.Info("sync range",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("batches", len(ranges)),
	)

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.logger.Info("fetch logs",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Uint64("blocks", blockRange.Blocks()),
		)

		logs, err := r.fetchBatch(ctx, chainIDValue, blockRange)
		if err != nil {
			return err
		}

		ingestedAt := time.Now().UTC()
		records := make([]model.LogRecord, 0, len(logs))
		for i := range logs {
			log := &logs[i]
			if r.isDuplicate(log) {
				continue
			}

			ts, err := r.blockTimestampWithRetry(ctx, log.BlockNumber)
			if err != nil {
				return fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
			}
			records = append(records, model.NewLogRecord(chainIDValue, log, ts, ingestedAt))
		}

		if err := r.storage.PutLogBatch(records); err != nil {
			return fmt.Errorf("store logs: %w", err)
		}

		if err := r.checkpoint.Save(blockRange.To, r.pairHexes()); err != nil {
			return err
		}

		r.logger.Info("batch complete",
			zap.Int("logs", len(records)),
			zap.Int("pairs", len(r.pairOrder)),
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
		)
	}

	return nil
}

// fetchBatch reads factory logs first so pairs created inside the range are
// queried in the same pass. The result is ordered by block and log index.
func (r *Runner) fetchBatch(ctx context.Context, chainID uint64, blockRange BlockRange) ([]types.Log, error) {
	var logs []types.Log
	if len(r.cfg.Factories) > 0 {
		created, err := r.filterLogsWithRetry(ctx, blockRange, r.cfg.Factories, []common.Hash{r.createdID})
		if err != nil {
			return nil, fmt.Errorf("filter factory logs: %w", err)
		}
		discovered := r.discoverPairs(chainID, created)
		if len(discovered) > 0 && r.pairStore != nil {
			if err := r.pairStore.UpsertPairs(ctx, discovered); err != nil {
				return nil, fmt.Errorf("store pairs: %w", err)
			}
		}
		logs = append(logs, created...)
	}

	if len(r.pairOrder) > 0 {
		pairLogs, err := r.filterLogsWithRetry(ctx, blockRange, r.Pairs(), r.topic0)
		if err != nil {
			return nil, fmt.Errorf("filter pair logs: %w", err)
		}
		logs = append(logs, pairLogs...)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
	return logs, nil
}

func (r *Runner) discoverPairs(chainID uint64, logs []types.Log) []model.Pair {
	var discovered []model.Pair
	for i := range logs {
		record := model.NewLogRecord(chainID, &logs[i], 0, time.Time{})
		event, err := r.decoder.Decode(record, dex.DecodeContext{Logger: r.logger})
		if err != nil {
			r.logger.Warn("skip undecodable factory log",
				zap.String("tx_hash", record.TxHash),
				zap.Uint64("log_index", record.LogIndex),
				zap.Error(err),
			)
			continue
		}
		created, ok := event.Decoded.(model.PairCreatedEventData)
		if !ok {
			continue
		}
		pair := common.HexToAddress(created.Pair)
		if !r.track(pair) {
			continue
		}
		discovered = append(discovered, model.Pair{
			ChainID:        chainID,
			Address:        pair.Hex(),
			Factory:        record.Address,
			Token0:         created.Token0,
			Token1:         created.Token1,
			FirstSeenBlock: record.BlockNumber,
		})
		r.logger.Info("pair discovered",
			zap.String("pair", pair.Hex()),
			zap.String("token0", created.Token0),
			zap.String("token1", created.Token1),
			zap.Uint64("block", record.BlockNumber),
		)
	}
	return discovered
}

func (r *Runner) track(pair common.Address) bool {
	if _, ok := r.pairs[pair]; ok {
		return false
	}
	r.pairs[pair] = struct{}{}
	r.pairOrder = append(r.pairOrder, pair)
	return true
}

func (r *Runner) pairHexes() []string {
	out := make([]string, 0, len(r.pairOrder))
	for _, pair := range r.pairOrder {
		out = append(out, pair.Hex())
	}
	return out
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, blockRange BlockRange, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	var logs []types.Log
	err := chain.WithRetry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var err error
		logs, err = r.chain.FilterLogs(ctx, blockRange.From, blockRange.To, addresses, topic0)
		if err != nil {
			r.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		}
		return err
	})
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := chain.WithRetry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var err error
		ts, err = r.chain.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}

func (r *Runner) isDuplicate(log *types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}
