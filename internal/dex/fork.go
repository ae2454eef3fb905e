package dex

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pairLedger/internal/chain"
	"pairLedger/internal/model"
)

// ForkConfig selects the pairs and block to load.
type ForkConfig struct {
	Pairs       []common.Address
	BlockNumber uint64
	Retry       chain.RetryPolicy
}

// FetchPairState reads the state of V2 pairs and their tokens at one block
// and returns it as a world snapshot. Token snapshots carry only the pairs'
// balances; pair share snapshots carry only the locked minimum.
func FetchPairState(ctx context.Context, chainClient *chain.Client, cfg ForkConfig, logger *zap.Logger) (model.WorldSnapshot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chainClient == nil {
		return model.WorldSnapshot{}, fmt.Errorf("chain client is nil")
	}
	if len(cfg.Pairs) == 0 {
		return model.WorldSnapshot{}, fmt.Errorf("at least one pair is required")
	}

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return model.WorldSnapshot{}, fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return model.WorldSnapshot{}, fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	header, err := chainClient.HeaderByNumber(ctx, blockPointer(cfg.BlockNumber))
	if err != nil {
		return model.WorldSnapshot{}, fmt.Errorf("get header: %w", err)
	}
	block := new(big.Int).Set(header.Number)

	pairABI, err := PairABI()
	if err != nil {
		return model.WorldSnapshot{}, err
	}
	erc20ABI, err := ERC20ABI()
	if err != nil {
		return model.WorldSnapshot{}, err
	}

	world := model.WorldSnapshot{
		ChainID:        chainID.Uint64(),
		BlockNumber:    header.Number.Uint64(),
		BlockTimestamp: header.Time,
		TakenAt:        time.Now().UTC().Format(time.RFC3339Nano),
	}
	tokens := make(map[common.Address]*model.TokenSnapshot)
	var tokenOrder []common.Address

	for _, pair := range cfg.Pairs {
		meta, err := FetchPairMeta(ctx, chainClient, pair, cfg.Retry)
		if err != nil {
			return model.WorldSnapshot{}, fmt.Errorf("pair %s: %w", pair.Hex(), err)
		}
		reserve0, reserve1, tsLast, err := fetchReserves(ctx, chainClient, pair, block, cfg.Retry)
		if err != nil {
			return model.WorldSnapshot{}, fmt.Errorf("pair %s: %w", pair.Hex(), err)
		}
		uint256View := func(parsed abi.ABI, method string, args ...interface{}) (*big.Int, error) {
			values, err := callMethod(ctx, chainClient, pair, parsed, method, block, cfg.Retry, args...)
			if err != nil {
				return nil, err
			}
			return asBigInt(values[0])
		}
		price0, err := uint256View(pairABI, "price0CumulativeLast")
		if err != nil {
			return model.WorldSnapshot{}, fmt.Errorf("pair %s: %w", pair.Hex(), err)
		}
		price1, err := uint256View(pairABI, "price1CumulativeLast")
		if err != nil {
			return model.WorldSnapshot{}, fmt.Errorf("pair %s: %w", pair.Hex(), err)
		}
		kLast, err := uint256View(pairABI, "kLast")
		if err != nil {
			return model.WorldSnapshot{}, fmt.Errorf("pair %s: %w", pair.Hex(), err)
		}
		totalSupply, err := uint256View(pairABI, "totalSupply")
		if err != nil {
			return model.WorldSnapshot{}, fmt.Errorf("pair %s: %w", pair.Hex(), err)
		}
		locked, err := uint256View(erc20ABI, "balanceOf", common.Address{})
		if err != nil {
			return model.WorldSnapshot{}, fmt.Errorf("pair %s: %w", pair.Hex(), err)
		}

		if world.Factory == "" {
			if values, err := callMethod(ctx, chainClient, pair, pairABI, "factory", block, cfg.Retry); err == nil {
				if factory, err := asAddress(values[0]); err == nil {
					world.Factory = factory.Hex()
					world.FeeTo = fetchFeeTo(ctx, chainClient, factory, block, cfg.Retry, logger)
				}
			} else {
				logger.Debug("factory call failed", zap.String("pair", pair.Hex()), zap.Error(err))
			}
		}

		for _, tokenHex := range []string{meta.Token0, meta.Token1} {
			token := common.HexToAddress(tokenHex)
			snap, ok := tokens[token]
			if !ok {
				snap, err = fetchTokenSnapshot(ctx, chainClient, token, block, cfg.Retry, logger)
				if err != nil {
					return model.WorldSnapshot{}, fmt.Errorf("token %s: %w", token.Hex(), err)
				}
				tokens[token] = snap
				tokenOrder = append(tokenOrder, token)
			}
			values, err := callMethod(ctx, chainClient, token, erc20ABI, "balanceOf", block, cfg.Retry, pair)
			if err != nil {
				return model.WorldSnapshot{}, fmt.Errorf("token %s balance of %s: %w", token.Hex(), pair.Hex(), err)
			}
			balance, err := asBigInt(values[0])
			if err != nil {
				return model.WorldSnapshot{}, err
			}
			snap.Balances[pair.Hex()] = balance.String()
		}

		shares := model.TokenSnapshot{
			Address:     pair.Hex(),
			Name:        "Uniswap V2",
			Symbol:      "UNI-V2",
			Decimals:    18,
			TotalSupply: totalSupply.String(),
			Balances:    map[string]string{},
		}
		if locked.Sign() > 0 {
			shares.Balances[common.Address{}.Hex()] = locked.String()
		}
		world.Pairs = append(world.Pairs, model.PairSnapshot{
			Address:              pair.Hex(),
			Token0:               meta.Token0,
			Token1:               meta.Token1,
			Reserve0:             reserve0.String(),
			Reserve1:             reserve1.String(),
			BlockTimestampLast:   tsLast,
			Price0CumulativeLast: price0.String(),
			Price1CumulativeLast: price1.String(),
			KLast:                kLast.String(),
			Shares:               shares,
		})
		logger.Info("pair state loaded",
			zap.String("pair", pair.Hex()),
			zap.String("reserve0", reserve0.String()),
			zap.String("reserve1", reserve1.String()),
			zap.Uint64("block", world.BlockNumber),
		)
	}

	for _, token := range tokenOrder {
		world.Tokens = append(world.Tokens, *tokens[token])
	}
	return world, nil
}

func fetchTokenSnapshot(ctx context.Context, chainClient *chain.Client, token common.Address, block *big.Int, retry chain.RetryPolicy, logger *zap.Logger) (*model.TokenSnapshot, error) {
	meta, err := FetchTokenMeta(ctx, chainClient, token, block, logger)
	if err != nil {
		return nil, err
	}
	erc20ABI, err := ERC20ABI()
	if err != nil {
		return nil, err
	}
	values, err := callMethod(ctx, chainClient, token, erc20ABI, "totalSupply", block, retry)
	if err != nil {
		return nil, err
	}
	supply, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	snap := meta.Snapshot(supply.String())
	return &snap, nil
}

func fetchFeeTo(ctx context.Context, chainClient *chain.Client, factory common.Address, block *big.Int, retry chain.RetryPolicy, logger *zap.Logger) string {
	factoryABI, err := FactoryABI()
	if err != nil {
		return ""
	}
	values, err := callMethod(ctx, chainClient, factory, factoryABI, "feeTo", block, retry)
	if err != nil {
		logger.Debug("feeTo call failed", zap.String("factory", factory.Hex()), zap.Error(err))
		return ""
	}
	feeTo, err := asAddress(values[0])
	if err != nil {
		return ""
	}
	return feeTo.Hex()
}
