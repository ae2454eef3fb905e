package amm

import (
	"fmt"

	"github.com/holiman/uint256"

	"pairLedger/internal/uq112x112"
)

// update commits balances as the new reserves and, on the first update of a
// block interval, advances the price accumulators by the previous reserves'
// price times the elapsed time. The timestamp and the accumulators wrap.
func (p *Pair) update(balance0, balance1, reserve0, reserve1 *uint256.Int) error {
	if !uq112x112.InRange(balance0) || !uq112x112.InRange(balance1) {
		return fmt.Errorf("balances %s/%s: %w", balance0.Dec(), balance1.Dec(), ErrOverflow)
	}
	blockTimestamp := uint32(p.env.BlockTimestamp())
	elapsed := blockTimestamp - p.state.blockTimestampLast
	if elapsed > 0 && !reserve0.IsZero() && !reserve1.IsZero() {
		dt := uint256.NewInt(uint64(elapsed))
		price0 := uq112x112.Div(uq112x112.Encode(reserve1), reserve0)
		price1 := uq112x112.Div(uq112x112.Encode(reserve0), reserve1)
		p.state.price0CumulativeLast.Add(&p.state.price0CumulativeLast, price0.Mul(price0, dt))
		p.state.price1CumulativeLast.Add(&p.state.price1CumulativeLast, price1.Mul(price1, dt))
	}
	p.state.reserve0.Set(balance0)
	p.state.reserve1.Set(balance1)
	p.state.blockTimestampLast = blockTimestamp
	return p.emit("Sync", balance0, balance1)
}
