package amm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// feeTo returns the protocol fee recipient, or the zero address when the
// factory does not provide one.
func (p *Pair) feeTo() common.Address {
	source, ok := p.env.CodeAt(p.factory).(FeeSource)
	if !ok {
		return common.Address{}
	}
	return source.FeeTo()
}

// mintFee mints the protocol's share of sqrt(k) growth since kLast, which is
// one sixth of the growth, to the fee recipient. It reports whether the fee
// is on.
func (p *Pair) mintFee(reserve0, reserve1 *uint256.Int) (bool, error) {
	feeTo := p.feeTo()
	feeOn := feeTo != (common.Address{})
	if !feeOn {
		if !p.state.kLast.IsZero() {
			p.state.kLast.Clear()
		}
		return false, nil
	}
	if p.state.kLast.IsZero() {
		return true, nil
	}

	rootK := sqrt(new(uint256.Int).Mul(reserve0, reserve1))
	rootKLast := sqrt(&p.state.kLast)
	if !rootK.Gt(rootKLast) {
		return true, nil
	}

	numerator, err := mul(p.shares.TotalSupply(), new(uint256.Int).Sub(rootK, rootKLast))
	if err != nil {
		return false, err
	}
	denominator, err := add(new(uint256.Int).Mul(rootK, uint256.NewInt(5)), rootKLast)
	if err != nil {
		return false, err
	}
	liquidity, err := div(numerator, denominator)
	if err != nil {
		return false, err
	}
	if !liquidity.IsZero() {
		if err := p.shares.Mint(feeTo, liquidity); err != nil {
			return false, err
		}
	}
	return true, nil
}
