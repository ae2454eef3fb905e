package indexer

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"pairLedger/internal/chain"
	"pairLedger/internal/dex"
	"pairLedger/internal/model"
)

type filterArgs struct {
	FromBlock *hexutil.Big     `json:"fromBlock"`
	ToBlock   *hexutil.Big     `json:"toBlock"`
	Address   []common.Address `json:"address"`
	Topics    [][]common.Hash  `json:"topics"`
}

// fakeEth serves a fixed set of logs over eth_getLogs.
type fakeEth struct {
	latest uint64
	logs   []types.Log
}

func (f *fakeEth) ChainId(ctx context.Context) (*hexutil.Big, error) {
	return (*hexutil.Big)(big.NewInt(56)), nil
}

func (f *fakeEth) BlockNumber(ctx context.Context) (hexutil.Uint64, error) {
	return hexutil.Uint64(f.latest), nil
}

func (f *fakeEth) GetBlockByNumber(ctx context.Context, number gethrpc.BlockNumber, fullTx bool) (*types.Header, error) {
	return &types.Header{
		Number:     big.NewInt(number.Int64()),
		Time:       1_000 + uint64(number.Int64()),
		Difficulty: big.NewInt(0),
	}, nil
}

func (f *fakeEth) GetLogs(ctx context.Context, args filterArgs) ([]types.Log, error) {
	from := args.FromBlock.ToInt().Uint64()
	to := args.ToBlock.ToInt().Uint64()
	out := []types.Log{}
	for _, log := range f.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if len(args.Address) > 0 && !containsAddress(args.Address, log.Address) {
			continue
		}
		if len(args.Topics) > 0 && len(args.Topics[0]) > 0 && !containsHash(args.Topics[0], log.Topics[0]) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func containsAddress(list []common.Address, want common.Address) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, want common.Hash) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

type memorySink struct {
	records []model.LogRecord
}

func (m *memorySink) PutLogBatch(logs []model.LogRecord) error {
	m.records = append(m.records, logs...)
	return nil
}

type memoryPairs struct {
	pairs []model.Pair
}

func (m *memoryPairs) UpsertPairs(ctx context.Context, pairs []model.Pair) error {
	m.pairs = append(m.pairs, pairs...)
	return nil
}

func stampedLog(t *testing.T, log *types.Log, err error, block uint64, index uint) types.Log {
	t.Helper()
	if err != nil {
		t.Fatalf("encode log: %v", err)
	}
	log.BlockNumber = block
	log.Index = index
	log.TxHash = common.BigToHash(new(big.Int).SetUint64(block*100 + uint64(index)))
	log.BlockHash = common.BigToHash(new(big.Int).SetUint64(block))
	return *log
}

func TestRunnerFollowsFactory(t *testing.T) {
	pairABI, err := dex.PairABI()
	if err != nil {
		t.Fatalf("pair abi: %v", err)
	}
	factoryABI, err := dex.FactoryABI()
	if err != nil {
		t.Fatalf("factory abi: %v", err)
	}

	factory := common.HexToAddress("0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73")
	pair := common.HexToAddress("0x1111111111111111111111111111111111111111")
	other := common.HexToAddress("0x9999999999999999999999999999999999999999")
	token0 := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	token1 := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	created, err := dex.EncodeLog(factoryABI, "PairCreated", factory, token0, token1, pair, uint64(1))
	createdLog := stampedLog(t, created, err, 10, 0)
	sync, err := dex.EncodeLog(pairABI, "Sync", pair, uint256.NewInt(100), uint256.NewInt(400))
	syncLog := stampedLog(t, sync, err, 10, 1)
	swap, err := dex.EncodeLog(pairABI, "Swap", pair, other, uint256.NewInt(10), uint256.NewInt(0), uint256.NewInt(0), uint256.NewInt(36), other)
	swapLog := stampedLog(t, swap, err, 12, 0)
	stray, err := dex.EncodeLog(pairABI, "Sync", other, uint256.NewInt(1), uint256.NewInt(1))
	strayLog := stampedLog(t, stray, err, 11, 0)

	fe := &fakeEth{latest: 20, logs: []types.Log{syncLog, createdLog, strayLog, swapLog}}
	srv := gethrpc.NewServer()
	if err := srv.RegisterName("eth", fe); err != nil {
		t.Fatalf("register rpc service: %v", err)
	}
	client := chain.NewClientFromRPC(gethrpc.DialInProc(srv))
	defer client.Close()

	sink := &memorySink{}
	pairs := &memoryPairs{}
	checkpointPath := filepath.Join(t.TempDir(), "checkpoint.json")
	cfg := RunConfig{
		FromBlock:         1,
		Factories:         []common.Address{factory},
		BatchSize:         5,
		CheckpointPath:    checkpointPath,
		CheckpointEnabled: true,
	}
	runner, err := NewRunner(cfg, client, sink, pairs, nil)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(sink.records) != 3 {
		t.Fatalf("record count mismatch: %d", len(sink.records))
	}
	if sink.records[0].Topics[0] != factoryABI.Events["PairCreated"].ID.Hex() {
		t.Fatalf("PairCreated must come first: %+v", sink.records[0])
	}
	if sink.records[1].LogIndex != 1 || sink.records[2].BlockNumber != 12 {
		t.Fatalf("ordering mismatch: %+v", sink.records)
	}
	if sink.records[2].ChainID != 56 || sink.records[2].Timestamp != 1_012 {
		t.Fatalf("envelope mismatch: %+v", sink.records[2])
	}

	if len(pairs.pairs) != 1 {
		t.Fatalf("pair store mismatch: %+v", pairs.pairs)
	}
	got := pairs.pairs[0]
	if got.Address != pair.Hex() || got.Factory != factory.Hex() || got.Token1 != token1.Hex() || got.FirstSeenBlock != 10 {
		t.Fatalf("discovered pair mismatch: %+v", got)
	}

	resumed, err := NewRunner(cfg, client, &memorySink{}, nil, nil)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	if err := resumed.Run(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if tracked := resumed.Pairs(); len(tracked) != 1 || tracked[0] != pair {
		t.Fatalf("pairs not restored from checkpoint: %v", tracked)
	}
}

func TestRunnerRequiresAddresses(t *testing.T) {
	runner, err := NewRunner(RunConfig{BatchSize: 1}, &chain.Client{}, &memorySink{}, nil, nil)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	if err := runner.Run(context.Background()); err == nil {
		t.Fatalf("expected error without factories or pairs")
	}
}
