package aggregate

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pairLedger/internal/chain"
	"pairLedger/internal/dex"
)

const (
	tvlMethodSync    = "sync_reserves"
	tvlMethodCarried = "sync_reserves_carried"
	tvlMethodLive    = "live_meta_reserves"
	tvlMethodBlock   = "balance_of_block"
	tvlMethodLatest  = "balance_of_latest"
	tvlMethodNone    = "unavailable"
)

// closingReserves picks the best available closing reserves for a window:
// the window's own Sync, the last Sync seen earlier, decoder live metadata,
// then token balances read over RPC.
func (a *Aggregator) closingReserves(ctx context.Context, acc *Accumulator) (*big.Int, *big.Int, string) {
	if acc.Reserve0 != nil && acc.Reserve1 != nil {
		return acc.Reserve0, acc.Reserve1, tvlMethodSync
	}
	if last, ok := a.lastReserves[pairKey(acc.PairAddress)]; ok {
		return last[0], last[1], tvlMethodCarried
	}
	if acc.PairMeta.Reserve0 != "" && acc.PairMeta.Reserve1 != "" {
		reserve0, err0 := parseBigInt(acc.PairMeta.Reserve0)
		reserve1, err1 := parseBigInt(acc.PairMeta.Reserve1)
		if err0 == nil && err1 == nil {
			return reserve0, reserve1, tvlMethodLive
		}
	}
	if a.chainClient != nil && acc.LastBlock > 0 {
		balance0, balance1, method, err := a.fetchTVL(ctx, acc.PairMeta.Token0, acc.PairMeta.Token1, acc.PairAddress, acc.LastBlock)
		if err == nil {
			return balance0, balance1, method
		}
		a.logger.Debug("tvl fetch failed", zap.String("pair", acc.PairAddress), zap.Error(err))
	}
	return nil, nil, tvlMethodNone
}

func (a *Aggregator) fetchTVL(ctx context.Context, token0, token1, pairAddr string, blockNumber uint64) (*big.Int, *big.Int, string, error) {
	if !common.IsHexAddress(token0) || !common.IsHexAddress(token1) || !common.IsHexAddress(pairAddr) {
		return nil, nil, tvlMethodNone, fmt.Errorf("invalid address")
	}

	pair := common.HexToAddress(pairAddr)
	blockPtr := new(big.Int).SetUint64(blockNumber)

	bal0, err0 := balanceOf(ctx, a.chainClient, common.HexToAddress(token0), pair, blockPtr)
	bal1, err1 := balanceOf(ctx, a.chainClient, common.HexToAddress(token1), pair, blockPtr)
	if err0 == nil && err1 == nil {
		return bal0, bal1, tvlMethodBlock, nil
	}

	bal0, err0 = balanceOf(ctx, a.chainClient, common.HexToAddress(token0), pair, nil)
	bal1, err1 = balanceOf(ctx, a.chainClient, common.HexToAddress(token1), pair, nil)
	if err0 == nil && err1 == nil {
		return bal0, bal1, tvlMethodLatest, nil
	}

	return nil, nil, tvlMethodNone, fmt.Errorf("balanceOf failed")
}

func balanceOf(ctx context.Context, chainClient *chain.Client, token common.Address, owner common.Address, blockNumber *big.Int) (*big.Int, error) {
	if chainClient == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	return dex.FetchBalance(ctx, chainClient, token, owner, blockNumber)
}
