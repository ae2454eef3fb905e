package simulate

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"pairLedger/internal/amm"
	"pairLedger/internal/host"
)

type repayment struct {
	token  common.Address
	amount *uint256.Int
}

// flashBorrower is a swap callee that pays back a fixed amount from its own
// balance, optionally trying to re-enter the pair first. The re-entry
// outcome is kept in reentryErr and does not stop the repayment.
type flashBorrower struct {
	env     *host.Env
	address common.Address

	repay      []repayment
	reenter    string
	reentryErr error
}

var _ amm.SwapCallee = (*flashBorrower)(nil)

func (b *flashBorrower) SwapCall(call amm.SwapCall) error {
	if b.reenter != "" {
		pair, ok := b.env.CodeAt(call.Pair).(*amm.Pair)
		if !ok {
			return fmt.Errorf("callback from unknown pair %s", call.Pair.Hex())
		}
		if err := b.reenterPair(pair); err != nil {
			b.reentryErr = fmt.Errorf("reenter %s: %w", b.reenter, err)
		}
	}
	for _, r := range b.repay {
		asset, ok := b.env.CodeAt(r.token).(amm.Asset)
		if !ok {
			return fmt.Errorf("repay %s: %w", r.token.Hex(), amm.ErrUnknownAsset)
		}
		if _, err := asset.Transfer(b.address, call.Pair, r.amount); err != nil {
			return fmt.Errorf("repay %s: %w", r.token.Hex(), err)
		}
	}
	return nil
}

func (b *flashBorrower) reenterPair(pair *amm.Pair) error {
	switch b.reenter {
	case amm.OpSync:
		return pair.Sync(b.address)
	case amm.OpSkim:
		return pair.Skim(b.address, b.address)
	case amm.OpMint:
		_, err := pair.Mint(b.address, b.address)
		return err
	case amm.OpBurn:
		_, _, err := pair.Burn(b.address, b.address)
		return err
	case amm.OpSwap:
		return pair.Swap(b.address, uint256.NewInt(1), new(uint256.Int), b.address, nil)
	default:
		return fmt.Errorf("unsupported reentry %q", b.reenter)
	}
}
