package aggregate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pairLedger/internal/chain"
	"pairLedger/internal/dex"
	"pairLedger/internal/model"
)

const feeMethodInput = "v2_input_3_per_1000"

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds uint64
	BatchSize     int
	RecomputeFrom uint64
	StateStore    StateStore
}

// MetricsStore persists pairs and window metrics.
type MetricsStore interface {
	UpsertPairs(ctx context.Context, pairs []model.Pair) error
	UpsertWindowMetrics(ctx context.Context, metrics []model.PairWindowMetrics) error
}

// Aggregator aggregates typed events into pair window metrics.
type Aggregator struct {
	cfg          Config
	store        MetricsStore
	chainClient  *chain.Client
	logger       *zap.Logger
	tokens       *dex.TokenMetaCache
	accumulators map[string]*Accumulator
	pairSeen     map[string]model.Pair
	lastReserves map[string][2]*big.Int
}

// NewAggregator builds an Aggregator. chainClient is optional; it resolves
// token decimals and reserves that the event stream does not carry.
func NewAggregator(cfg Config, store MetricsStore, chainClient *chain.Client, logger *zap.Logger) (*Aggregator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tokens, err := dex.NewTokenMetaCache(0)
	if err != nil {
		return nil, err
	}

	return &Aggregator{
		cfg:          cfg,
		store:        store,
		chainClient:  chainClient,
		logger:       logger,
		tokens:       tokens,
		accumulators: make(map[string]*Accumulator),
		pairSeen:     make(map[string]model.Pair),
		lastReserves: make(map[string][2]*big.Int),
	}, nil
}

// SetTokenMeta seeds token metadata so decimals need no RPC lookup.
func (a *Aggregator) SetTokenMeta(meta model.TokenMeta) {
	if meta.Address == "" {
		return
	}
	a.tokens.Set(common.HexToAddress(meta.Address), meta)
}

// Run executes aggregation over a typed events JSONL file.
func (a *Aggregator) Run(ctx context.Context, inputPath string) error {
	if a.store == nil {
		return fmt.Errorf("store is nil")
	}
	if a.cfg.WindowSeconds == 0 {
		return fmt.Errorf("window seconds must be > 0")
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = 1000
	}

	startTs, err := a.loadStartTimestamp(ctx)
	if err != nil {
		return err
	}

	file, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	batch := make([]model.PairWindowMetrics, 0, a.cfg.BatchSize)
	pairs := make([]model.Pair, 0, 256)
	maxTs := startTs
	var total, windows, skipped, failed int

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		var record model.TypedEventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			failed++
			a.logger.Warn("decode typed event", zap.Error(err))
			continue
		}

		if record.Timestamp <= startTs {
			skipped++
			continue
		}

		if strings.EqualFold(record.EventName, model.EventPairCreated) {
			pair, err := a.registerCreated(record)
			if err != nil {
				failed++
				a.logger.Warn("aggregate event", zap.Error(err), zap.String("factory", record.Address), zap.String("event", record.EventName))
				continue
			}
			if pair != nil {
				pairs = append(pairs, *pair)
			}
			continue
		}

		windowStart := windowStart(record.Timestamp, a.cfg.WindowSeconds)
		windowEnd := windowStart + a.cfg.WindowSeconds

		accKey := pairKey(record.Address)
		acc := a.accumulators[accKey]
		if acc == nil {
			acc = NewAccumulator(record, windowStart, windowEnd)
			a.accumulators[accKey] = acc
		} else if acc.WindowStart != windowStart {
			metrics, pair := a.flushAccumulator(ctx, acc)
			if metrics != nil {
				batch = append(batch, *metrics)
				windows++
			}
			if pair != nil {
				pairs = append(pairs, *pair)
			}
			acc = NewAccumulator(record, windowStart, windowEnd)
			a.accumulators[accKey] = acc
		}

		if err := acc.AddEvent(record); err != nil {
			failed++
			a.logger.Warn("aggregate event", zap.Error(err), zap.String("pair", record.Address), zap.String("event", record.EventName))
			continue
		}

		if record.Timestamp > maxTs {
			maxTs = record.Timestamp
		}

		if len(batch) >= a.cfg.BatchSize {
			if err := a.flushBatches(ctx, batch, pairs); err != nil {
				return err
			}
			batch = batch[:0]
			pairs = pairs[:0]

			if err := a.saveState(ctx); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}

	for _, acc := range a.accumulators {
		metrics, pair := a.flushAccumulator(ctx, acc)
		if metrics != nil {
			batch = append(batch, *metrics)
			windows++
		}
		if pair != nil {
			pairs = append(pairs, *pair)
		}
	}
	a.accumulators = make(map[string]*Accumulator)

	if len(batch) > 0 || len(pairs) > 0 {
		if err := a.flushBatches(ctx, batch, pairs); err != nil {
			return err
		}
	}

	a.cfg.RecomputeFrom = maxTs
	if err := a.saveState(ctx); err != nil {
		return err
	}

	a.logger.Info("aggregate complete",
		zap.Int("total", total),
		zap.Int("windows", windows),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	return nil
}

func (a *Aggregator) loadStartTimestamp(ctx context.Context) (uint64, error) {
	if a.cfg.RecomputeFrom > 0 {
		return a.cfg.RecomputeFrom - 1, nil
	}
	if a.cfg.StateStore == nil {
		return 0, nil
	}
	last, ok, err := a.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}

func (a *Aggregator) saveState(ctx context.Context) error {
	if a.cfg.StateStore == nil {
		return nil
	}

	if len(a.accumulators) == 0 {
		return a.cfg.StateStore.Save(ctx, a.cfg.RecomputeFrom)
	}

	safeTs := minOpenWindowStart(a.accumulators)
	if safeTs > 0 {
		safeTs = safeTs - 1
	}
	if safeTs == 0 {
		safeTs = a.cfg.RecomputeFrom
	}
	return a.cfg.StateStore.Save(ctx, safeTs)
}

func (a *Aggregator) flushBatches(ctx context.Context, batch []model.PairWindowMetrics, pairs []model.Pair) error {
	if len(pairs) > 0 {
		if err := a.store.UpsertPairs(ctx, pairs); err != nil {
			return err
		}
	}
	if len(batch) > 0 {
		if err := a.store.UpsertWindowMetrics(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) flushAccumulator(ctx context.Context, acc *Accumulator) (*model.PairWindowMetrics, *model.Pair) {
	if acc == nil {
		return nil, nil
	}

	pairMeta := acc.PairMeta
	if pairMeta.Token0 == "" || pairMeta.Token1 == "" {
		a.logger.Warn("missing pair meta", zap.String("pair", acc.PairAddress))
		return nil, nil
	}

	pairRecord := a.registerPair(acc)

	decimals0, err := a.tokenDecimals(ctx, pairMeta.Token0)
	if err != nil {
		a.logger.Warn("token0 decimals", zap.String("token", pairMeta.Token0), zap.Error(err))
	}
	decimals1, err := a.tokenDecimals(ctx, pairMeta.Token1)
	if err != nil {
		a.logger.Warn("token1 decimals", zap.String("token", pairMeta.Token1), zap.Error(err))
	}

	tvl0, tvl1, tvlMethod := a.closingReserves(ctx, acc)
	var tvl0Str, tvl1Str *string
	if tvl0 != nil && tvl1 != nil {
		val0 := formatTokenAmount(tvl0, decimals0)
		val1 := formatTokenAmount(tvl1, decimals1)
		tvl0Str, tvl1Str = &val0, &val1
	}
	if acc.Reserve0 != nil && acc.Reserve1 != nil {
		a.lastReserves[pairKey(acc.PairAddress)] = [2]*big.Int{acc.Reserve0, acc.Reserve1}
	}

	feeRate0, feeRate1 := computeFeeRates(acc.Fee0, acc.Fee1, tvl0, tvl1)
	apr := computeAPR(acc.Fee0, acc.Fee1, tvl0, tvl1, a.cfg.WindowSeconds)

	metrics := &model.PairWindowMetrics{
		ChainID:        acc.ChainID,
		PairAddress:    acc.PairAddress,
		WindowSizeSecs: int64(a.cfg.WindowSeconds),
		WindowStart:    time.Unix(int64(acc.WindowStart), 0).UTC(),
		WindowEnd:      time.Unix(int64(acc.WindowEnd), 0).UTC(),
		SwapCount:      acc.SwapCount,
		Volume0:        formatTokenAmount(acc.Volume0, decimals0),
		Volume1:        formatTokenAmount(acc.Volume1, decimals1),
		Fee0:           formatTokenAmount(acc.Fee0, decimals0),
		Fee1:           formatTokenAmount(acc.Fee1, decimals1),
		FeeRate0:       feeRate0,
		FeeRate1:       feeRate1,
		TVL0:           tvl0Str,
		TVL1:           tvl1Str,
		APR:            apr,
		FeeMethod:      feeMethodInput,
		TVLMethod:      tvlMethod,
	}

	return metrics, pairRecord
}

func (a *Aggregator) registerCreated(record model.TypedEventRecord) (*model.Pair, error) {
	payload, err := record.Payload()
	if err != nil {
		return nil, err
	}
	created, ok := payload.(model.PairCreatedEventData)
	if !ok {
		return nil, fmt.Errorf("event %s is not PairCreated", record.EventName)
	}
	return a.remember(model.Pair{
		ChainID:        record.ChainID,
		Address:        created.Pair,
		Factory:        record.Address,
		Token0:         created.Token0,
		Token1:         created.Token1,
		FirstSeenBlock: record.BlockNumber,
	}), nil
}

func (a *Aggregator) registerPair(acc *Accumulator) *model.Pair {
	return a.remember(model.Pair{
		ChainID:        acc.ChainID,
		Address:        acc.PairAddress,
		Token0:         acc.PairMeta.Token0,
		Token1:         acc.PairMeta.Token1,
		FirstSeenBlock: acc.FirstBlock,
	})
}

// remember returns the pair when it is new or adds information, nil otherwise.
func (a *Aggregator) remember(pair model.Pair) *model.Pair {
	key := pairKey(pair.Address)
	existing, ok := a.pairSeen[key]
	if ok {
		if pair.Factory == "" {
			pair.Factory = existing.Factory
		}
		if existing.FirstSeenBlock <= pair.FirstSeenBlock && existing.Factory == pair.Factory {
			return nil
		}
		if existing.FirstSeenBlock < pair.FirstSeenBlock {
			pair.FirstSeenBlock = existing.FirstSeenBlock
		}
	}

	a.pairSeen[key] = pair
	return &pair
}

func windowStart(ts uint64, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}

func pairKey(address string) string {
	return strings.ToLower(address)
}

func minOpenWindowStart(acc map[string]*Accumulator) uint64 {
	var min uint64
	for _, entry := range acc {
		if entry == nil {
			continue
		}
		if min == 0 || entry.WindowStart < min {
			min = entry.WindowStart
		}
	}
	return min
}
