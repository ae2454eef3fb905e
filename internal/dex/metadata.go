package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pairLedger/internal/chain"
	"pairLedger/internal/model"
)

// FetchPairMeta loads the pair's token addresses from chain.
func FetchPairMeta(ctx context.Context, chainClient *chain.Client, pair common.Address, retry chain.RetryPolicy) (model.PairMeta, error) {
	if chainClient == nil {
		return model.PairMeta{}, fmt.Errorf("chain client is nil")
	}

	pairABI, err := PairABI()
	if err != nil {
		return model.PairMeta{}, fmt.Errorf("parse pair abi: %w", err)
	}

	values, err := callMethod(ctx, chainClient, pair, pairABI, "token0", nil, retry)
	if err != nil {
		return model.PairMeta{}, err
	}
	token0, err := asAddress(values[0])
	if err != nil {
		return model.PairMeta{}, fmt.Errorf("token0: %w", err)
	}

	values, err = callMethod(ctx, chainClient, pair, pairABI, "token1", nil, retry)
	if err != nil {
		return model.PairMeta{}, err
	}
	token1, err := asAddress(values[0])
	if err != nil {
		return model.PairMeta{}, fmt.Errorf("token1: %w", err)
	}

	return model.PairMeta{Token0: token0.Hex(), Token1: token1.Hex()}, nil
}

// FetchPairReserves reads getReserves at a block height; zero means latest.
func FetchPairReserves(ctx context.Context, chainClient *chain.Client, pair common.Address, blockNumber uint64, retry chain.RetryPolicy) (*big.Int, *big.Int, error) {
	reserve0, reserve1, _, err := fetchReserves(ctx, chainClient, pair, blockPointer(blockNumber), retry)
	return reserve0, reserve1, err
}

// FetchBalance reads an ERC20 balance at a block height; nil means latest.
func FetchBalance(ctx context.Context, chainClient *chain.Client, token, owner common.Address, block *big.Int) (*big.Int, error) {
	if chainClient == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	erc20ABI, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := callMethod(ctx, chainClient, token, erc20ABI, "balanceOf", block, chain.RetryPolicy{}, owner)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

func fetchReserves(ctx context.Context, chainClient *chain.Client, pair common.Address, block *big.Int, retry chain.RetryPolicy) (*big.Int, *big.Int, uint32, error) {
	if chainClient == nil {
		return nil, nil, 0, fmt.Errorf("chain client is nil")
	}
	pairABI, err := PairABI()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("parse pair abi: %w", err)
	}
	values, err := callMethod(ctx, chainClient, pair, pairABI, "getReserves", block, retry)
	if err != nil {
		return nil, nil, 0, err
	}
	if len(values) != 3 {
		return nil, nil, 0, fmt.Errorf("unexpected getReserves values: %d", len(values))
	}
	reserve0, err := asBigInt(values[0])
	if err != nil {
		return nil, nil, 0, fmt.Errorf("reserve0: %w", err)
	}
	reserve1, err := asBigInt(values[1])
	if err != nil {
		return nil, nil, 0, fmt.Errorf("reserve1: %w", err)
	}
	ts, err := asBigInt(values[2])
	if err != nil {
		return nil, nil, 0, fmt.Errorf("block timestamp last: %w", err)
	}
	return reserve0, reserve1, uint32(ts.Uint64()), nil
}

func callMethod(ctx context.Context, chainClient *chain.Client, to common.Address, parsed abi.ABI, method string, block *big.Int, retry chain.RetryPolicy, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}

	var resp []byte
	err = chain.WithRetry(ctx, retry, func(ctx context.Context) error {
		var err error
		resp, err = chainClient.CallContract(ctx, msg, block)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func cacheTokenMeta(ctx context.Context, dctx DecodeContext, token common.Address) {
	if _, ok := dctx.TokenMetaCache.Get(token); ok {
		return
	}
	meta, err := FetchTokenMeta(ctx, dctx.Chain, token, nil, dctx.Logger)
	if err != nil && dctx.Logger != nil {
		dctx.Logger.Warn("token metadata fetch failed", zap.String("token", token.Hex()), zap.Error(err))
	}
	dctx.TokenMetaCache.Set(token, meta)
}

// FetchTokenMeta loads token metadata via ERC20 calls at a block height (nil
// means latest).
func FetchTokenMeta(ctx context.Context, chainClient *chain.Client, token common.Address, block *big.Int, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	if chainClient == nil {
		return meta, fmt.Errorf("chain client is nil")
	}

	stringABI, err := ERC20ABI()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32Instance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	call := func(method string, parsed abi.ABI) ([]interface{}, error) {
		return callMethod(ctx, chainClient, token, parsed, method, block, chain.RetryPolicy{})
	}

	values, err := call("decimals", stringABI)
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals

	if values, err := call("symbol", stringABI); err == nil {
		if symbol, ok := values[0].(string); ok {
			meta.Symbol = symbol
		}
	} else if values, err := call("symbol", bytes32ABI); err == nil {
		if symbol, ok := bytes32ToString(values[0]); ok {
			meta.Symbol = symbol
		}
	} else if logger != nil {
		logger.Debug("symbol call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	if values, err := call("name", stringABI); err == nil {
		if name, ok := values[0].(string); ok {
			meta.Name = name
		}
	} else if values, err := call("name", bytes32ABI); err == nil {
		if name, ok := bytes32ToString(values[0]); ok {
			meta.Name = name
		}
	} else if logger != nil {
		logger.Debug("name call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	return meta, nil
}

func blockPointer(blockNumber uint64) *big.Int {
	if blockNumber == 0 {
		return nil
	}
	return new(big.Int).SetUint64(blockNumber)
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("decimals out of range: %s", v.String())
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
