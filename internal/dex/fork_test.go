package dex

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"pairLedger/internal/chain"
)

type callArgs struct {
	To    *common.Address `json:"to"`
	Data  *hexutil.Bytes  `json:"data"`
	Input *hexutil.Bytes  `json:"input"`
}

type callResponder func(to common.Address, method string, args []interface{}) ([]interface{}, error)

// fakeEth serves eth_chainId, eth_getBlockByNumber and eth_call.
type fakeEth struct {
	chainID uint64
	header  *types.Header
	respond callResponder
	abis    []abi.ABI
	calls   int
}

func (f *fakeEth) ChainId(ctx context.Context) (*hexutil.Big, error) {
	return (*hexutil.Big)(new(big.Int).SetUint64(f.chainID)), nil
}

func (f *fakeEth) GetBlockByNumber(ctx context.Context, number gethrpc.BlockNumber, fullTx bool) (*types.Header, error) {
	return f.header, nil
}

func (f *fakeEth) Call(ctx context.Context, args callArgs, _ gethrpc.BlockNumberOrHash) (hexutil.Bytes, error) {
	f.calls++
	var data []byte
	switch {
	case args.Input != nil:
		data = *args.Input
	case args.Data != nil:
		data = *args.Data
	}
	if args.To == nil || len(data) < 4 {
		return nil, fmt.Errorf("bad call")
	}
	for _, parsed := range f.abis {
		method, err := parsed.MethodById(data[:4])
		if err != nil {
			continue
		}
		inputs, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, err
		}
		out, err := f.respond(*args.To, method.Name, inputs)
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(out...)
	}
	return nil, fmt.Errorf("unknown selector %x", data[:4])
}

func newFakeChain(t *testing.T, fe *fakeEth) *chain.Client {
	t.Helper()
	pairABI, err := PairABI()
	if err != nil {
		t.Fatalf("pair abi: %v", err)
	}
	erc20ABI, err := ERC20ABI()
	if err != nil {
		t.Fatalf("erc20 abi: %v", err)
	}
	factoryABI, err := FactoryABI()
	if err != nil {
		t.Fatalf("factory abi: %v", err)
	}
	fe.abis = []abi.ABI{pairABI, erc20ABI, factoryABI}

	srv := gethrpc.NewServer()
	if err := srv.RegisterName("eth", fe); err != nil {
		t.Fatalf("register rpc service: %v", err)
	}
	client := chain.NewClientFromRPC(gethrpc.DialInProc(srv))
	t.Cleanup(client.Close)
	return client
}

var (
	forkPair    = common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	forkFactory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	forkToken0  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	forkToken1  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

func v2Responder(to common.Address, method string, args []interface{}) ([]interface{}, error) {
	switch to {
	case forkPair:
		switch method {
		case "token0":
			return []interface{}{forkToken0}, nil
		case "token1":
			return []interface{}{forkToken1}, nil
		case "factory":
			return []interface{}{forkFactory}, nil
		case "getReserves":
			return []interface{}{big.NewInt(5_000_000), big.NewInt(2_000), uint32(1_699_999_990)}, nil
		case "price0CumulativeLast":
			return []interface{}{big.NewInt(111)}, nil
		case "price1CumulativeLast":
			return []interface{}{big.NewInt(222)}, nil
		case "kLast":
			return []interface{}{big.NewInt(9_000_000_000)}, nil
		case "totalSupply":
			return []interface{}{big.NewInt(100_000)}, nil
		case "balanceOf":
			return []interface{}{big.NewInt(1000)}, nil
		}
	case forkToken0, forkToken1:
		symbol := "USDC"
		decimals := uint8(6)
		balance := big.NewInt(5_000_010)
		if to == forkToken1 {
			symbol, decimals, balance = "WETH", 18, big.NewInt(2_000)
		}
		switch method {
		case "decimals":
			return []interface{}{decimals}, nil
		case "symbol", "name":
			return []interface{}{symbol}, nil
		case "totalSupply":
			return []interface{}{big.NewInt(1_000_000_000)}, nil
		case "balanceOf":
			if args[0].(common.Address) != forkPair {
				return []interface{}{big.NewInt(0)}, nil
			}
			return []interface{}{balance}, nil
		}
	case forkFactory:
		if method == "feeTo" {
			return []interface{}{common.Address{}}, nil
		}
	}
	return nil, fmt.Errorf("unexpected call %s on %s", method, to.Hex())
}

func TestFetchPairState(t *testing.T) {
	fe := &fakeEth{
		chainID: 1,
		header: &types.Header{
			Number:     big.NewInt(19_000_000),
			Time:       1_700_000_000,
			Difficulty: big.NewInt(0),
		},
		respond: v2Responder,
	}
	client := newFakeChain(t, fe)

	world, err := FetchPairState(context.Background(), client, ForkConfig{Pairs: []common.Address{forkPair}}, nil)
	if err != nil {
		t.Fatalf("fetch pair state: %v", err)
	}

	if world.ChainID != 1 || world.BlockNumber != 19_000_000 || world.BlockTimestamp != 1_700_000_000 {
		t.Fatalf("block context mismatch: %+v", world)
	}
	if world.Factory != forkFactory.Hex() {
		t.Fatalf("factory mismatch: %s", world.Factory)
	}
	if len(world.Pairs) != 1 || len(world.Tokens) != 2 {
		t.Fatalf("unexpected sizes: pairs=%d tokens=%d", len(world.Pairs), len(world.Tokens))
	}

	pair := world.Pairs[0]
	if pair.Token0 != forkToken0.Hex() || pair.Token1 != forkToken1.Hex() {
		t.Fatalf("tokens mismatch: %+v", pair)
	}
	if pair.Reserve0 != "5000000" || pair.Reserve1 != "2000" || pair.BlockTimestampLast != 1_699_999_990 {
		t.Fatalf("reserves mismatch: %+v", pair)
	}
	if pair.KLast != "9000000000" || pair.Price1CumulativeLast != "222" {
		t.Fatalf("accumulators mismatch: %+v", pair)
	}
	if pair.Shares.TotalSupply != "100000" || pair.Shares.Balances[common.Address{}.Hex()] != "1000" {
		t.Fatalf("shares mismatch: %+v", pair.Shares)
	}

	usdc := world.Tokens[0]
	if usdc.Symbol != "USDC" || usdc.Decimals != 6 || usdc.Balances[forkPair.Hex()] != "5000010" {
		t.Fatalf("token0 mismatch: %+v", usdc)
	}
}

func TestFetchPairStateRequiresPairs(t *testing.T) {
	client := newFakeChain(t, &fakeEth{respond: v2Responder})
	if _, err := FetchPairState(context.Background(), client, ForkConfig{}, nil); err == nil {
		t.Fatalf("expected error without pairs")
	}
}

func TestFetchPairMetaRetries(t *testing.T) {
	failures := 2
	fe := &fakeEth{respond: func(to common.Address, method string, args []interface{}) ([]interface{}, error) {
		if failures > 0 {
			failures--
			return nil, fmt.Errorf("temporarily unavailable")
		}
		return v2Responder(to, method, args)
	}}
	client := newFakeChain(t, fe)

	meta, err := FetchPairMeta(context.Background(), client, forkPair, chain.RetryPolicy{MaxRetries: 3, Backoff: 1})
	if err != nil {
		t.Fatalf("fetch pair meta: %v", err)
	}
	if meta.Token0 != forkToken0.Hex() || meta.Token1 != forkToken1.Hex() {
		t.Fatalf("meta mismatch: %+v", meta)
	}
	if fe.calls != 4 {
		t.Fatalf("calls mismatch: %d", fe.calls)
	}
}
