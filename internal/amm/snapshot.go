package amm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"pairLedger/internal/model"
	"pairLedger/internal/uq112x112"
)

// Snapshot exports the pair state.
func (p *Pair) Snapshot() model.PairSnapshot {
	return model.PairSnapshot{
		Address:              p.address.Hex(),
		Token0:               p.token0.Hex(),
		Token1:               p.token1.Hex(),
		Reserve0:             p.state.reserve0.Dec(),
		Reserve1:             p.state.reserve1.Dec(),
		BlockTimestampLast:   p.state.blockTimestampLast,
		Price0CumulativeLast: p.state.price0CumulativeLast.Dec(),
		Price1CumulativeLast: p.state.price1CumulativeLast.Dec(),
		KLast:                p.state.kLast.Dec(),
		Shares:               p.shares.Snapshot(),
	}
}

// Restore loads a snapshot into a pair that has not been initialized. It
// binds the tokens, so the pair must not be initialized again. Restore is
// not journaled.
func (p *Pair) Restore(snap model.PairSnapshot) error {
	if p.initialized {
		return ErrAlreadyInitialized
	}
	if !common.IsHexAddress(snap.Token0) || !common.IsHexAddress(snap.Token1) {
		return fmt.Errorf("restore %s: invalid token address", snap.Address)
	}

	var state pairState
	reserve0, err := model.ParseUint256(snap.Reserve0)
	if err != nil {
		return fmt.Errorf("reserve0: %w", err)
	}
	reserve1, err := model.ParseUint256(snap.Reserve1)
	if err != nil {
		return fmt.Errorf("reserve1: %w", err)
	}
	if !uq112x112.InRange(reserve0) || !uq112x112.InRange(reserve1) {
		return fmt.Errorf("restore %s: %w", snap.Address, ErrOverflow)
	}
	price0, err := model.ParseUint256(snap.Price0CumulativeLast)
	if err != nil {
		return fmt.Errorf("price0 cumulative: %w", err)
	}
	price1, err := model.ParseUint256(snap.Price1CumulativeLast)
	if err != nil {
		return fmt.Errorf("price1 cumulative: %w", err)
	}
	kLast, err := model.ParseUint256(snap.KLast)
	if err != nil {
		return fmt.Errorf("kLast: %w", err)
	}
	state.reserve0.Set(reserve0)
	state.reserve1.Set(reserve1)
	state.blockTimestampLast = snap.BlockTimestampLast
	state.price0CumulativeLast.Set(price0)
	state.price1CumulativeLast.Set(price1)
	state.kLast.Set(kLast)

	if err := p.shares.Restore(snap.Shares); err != nil {
		return fmt.Errorf("restore shares: %w", err)
	}
	p.token0 = common.HexToAddress(snap.Token0)
	p.token1 = common.HexToAddress(snap.Token1)
	p.initialized = true
	p.state = state
	return nil
}
