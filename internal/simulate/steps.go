package simulate

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"pairLedger/internal/amm"
	"pairLedger/internal/model"
	"pairLedger/internal/token"
)

const defaultPermitWindow = 3600

var flashData = []byte("flash")

// apply performs one step inside an execution. It returns the pair the step
// touched, if any.
func (r *Runner) apply(step Step) (*amm.Pair, error) {
	switch step.Action {
	case ActionCreatePair:
		return r.createPair(step)
	case ActionTransfer:
		return nil, r.transfer(step)
	case ActionTransferFrom:
		return nil, r.transferFrom(step)
	case ActionMint:
		return r.mint(step)
	case ActionBurn:
		return r.burn(step)
	case ActionSwap:
		return r.swap(step)
	case ActionSwapExactIn:
		return r.swapExactIn(step)
	case ActionFlashSwap:
		return r.flashSwap(step)
	case ActionSkim:
		return r.skim(step)
	case ActionSync:
		return r.sync(step)
	case ActionAdvance:
		r.env.AdvanceTime(step.Seconds)
		return nil, nil
	case ActionSetFeeTo:
		return nil, r.setFeeTo(step)
	case ActionPermit:
		return nil, r.permit(step)
	default:
		return nil, fmt.Errorf("unknown action %q", step.Action)
	}
}

func (r *Runner) createPair(step Step) (*amm.Pair, error) {
	tokenA, err := r.token(step.TokenA)
	if err != nil {
		return nil, err
	}
	tokenB, err := r.token(step.TokenB)
	if err != nil {
		return nil, err
	}
	addr, err := r.registry.CreatePair(tokenA.Address(), tokenB.Address())
	if err != nil {
		return nil, err
	}
	r.firstSeen[addr] = r.env.BlockNumber()
	pair, _ := r.registry.Pair(addr)
	return pair, nil
}

func (r *Runner) transfer(step Step) error {
	from, err := r.account(step.Actor)
	if err != nil {
		return err
	}
	to, err := r.recipient(step)
	if err != nil {
		return err
	}
	asset, err := r.asset(step.Token)
	if err != nil {
		return err
	}
	value, err := parseAmount(step.Amount)
	if err != nil {
		return err
	}
	return send(asset, from, to, value)
}

func (r *Runner) transferFrom(step Step) error {
	spender, err := r.account(step.Actor)
	if err != nil {
		return err
	}
	from, err := r.account(step.From)
	if err != nil {
		return err
	}
	to, err := r.recipient(step)
	if err != nil {
		return err
	}
	ledger, err := r.token(step.Token)
	if err != nil {
		return err
	}
	value, err := parseAmount(step.Amount)
	if err != nil {
		return err
	}
	_, err = ledger.TransferFrom(spender, from, to, value)
	return err
}

func (r *Runner) mint(step Step) (*amm.Pair, error) {
	pair, err := r.pair(step.Pair)
	if err != nil {
		return nil, err
	}
	sender, err := r.account(step.Actor)
	if err != nil {
		return nil, err
	}
	to, err := r.recipient(step)
	if err != nil {
		return nil, err
	}
	if err := r.deposit(pair, sender, step.Deposit); err != nil {
		return nil, err
	}
	if _, err := pair.Mint(sender, to); err != nil {
		return nil, err
	}
	return pair, nil
}

func (r *Runner) burn(step Step) (*amm.Pair, error) {
	pair, err := r.pair(step.Pair)
	if err != nil {
		return nil, err
	}
	sender, err := r.account(step.Actor)
	if err != nil {
		return nil, err
	}
	to, err := r.recipient(step)
	if err != nil {
		return nil, err
	}
	liquidity := pair.BalanceOf(sender)
	if step.Amount != "all" {
		if liquidity, err = parseAmount(step.Amount); err != nil {
			return nil, err
		}
	}
	if err := send(pair, sender, pair.Address(), liquidity); err != nil {
		return nil, err
	}
	if _, _, err := pair.Burn(sender, to); err != nil {
		return nil, err
	}
	return pair, nil
}

func (r *Runner) swap(step Step) (*amm.Pair, error) {
	pair, err := r.pair(step.Pair)
	if err != nil {
		return nil, err
	}
	sender, err := r.account(step.Actor)
	if err != nil {
		return nil, err
	}
	to, err := r.recipient(step)
	if err != nil {
		return nil, err
	}
	amount0Out, amount1Out, err := r.pairAmounts(pair, step.Out)
	if err != nil {
		return nil, err
	}
	if err := r.deposit(pair, sender, step.Deposit); err != nil {
		return nil, err
	}
	if err := pair.Swap(sender, amount0Out, amount1Out, to, nil); err != nil {
		return nil, err
	}
	return pair, nil
}

// swapExactIn sells amount of token for the quoted maximum of the other side.
func (r *Runner) swapExactIn(step Step) (*amm.Pair, error) {
	pair, err := r.pair(step.Pair)
	if err != nil {
		return nil, err
	}
	sender, err := r.account(step.Actor)
	if err != nil {
		return nil, err
	}
	to, err := r.recipient(step)
	if err != nil {
		return nil, err
	}
	in, err := r.token(step.Token)
	if err != nil {
		return nil, err
	}
	amountIn, err := parseAmount(step.Amount)
	if err != nil {
		return nil, err
	}
	reserve0, reserve1, _ := pair.GetReserves()
	zeroForOne := in.Address() == pair.Token0()
	if !zeroForOne && in.Address() != pair.Token1() {
		return nil, fmt.Errorf("token %s is not in pair %s", step.Token, step.Pair)
	}
	reserveIn, reserveOut := reserve0, reserve1
	if !zeroForOne {
		reserveIn, reserveOut = reserve1, reserve0
	}
	amountOut, err := amm.GetAmountOut(amountIn, reserveIn, reserveOut)
	if err != nil {
		return nil, err
	}
	if err := send(in, sender, pair.Address(), amountIn); err != nil {
		return nil, err
	}
	amount0Out, amount1Out := new(uint256.Int), amountOut
	if !zeroForOne {
		amount0Out, amount1Out = amountOut, new(uint256.Int)
	}
	if err := pair.Swap(sender, amount0Out, amount1Out, to, nil); err != nil {
		return nil, err
	}
	return pair, nil
}

// flashSwap borrows amount of token through a swap callback and pays back
// repay of the same token, the difference coming from the actor. The default
// repayment is the smallest that satisfies the fee-adjusted invariant.
func (r *Runner) flashSwap(step Step) (*amm.Pair, error) {
	pair, err := r.pair(step.Pair)
	if err != nil {
		return nil, err
	}
	sender, err := r.account(step.Actor)
	if err != nil {
		return nil, err
	}
	borrowed, err := r.token(step.Token)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(step.Amount)
	if err != nil {
		return nil, err
	}
	repay, err := flashRepayment(amount)
	if err != nil {
		return nil, err
	}
	if step.Repay != "" {
		if repay, err = parseAmount(step.Repay); err != nil {
			return nil, err
		}
	}

	borrower, err := r.borrower(sender)
	if err != nil {
		return nil, err
	}
	borrower.repay = []repayment{{token: borrowed.Address(), amount: repay}}
	borrower.reenter = step.Reenter
	borrower.reentryErr = nil
	if repay.Gt(amount) {
		if err := send(borrowed, sender, borrower.address, new(uint256.Int).Sub(repay, amount)); err != nil {
			return nil, err
		}
	}

	amount0Out, amount1Out := amount, new(uint256.Int)
	switch borrowed.Address() {
	case pair.Token0():
	case pair.Token1():
		amount0Out, amount1Out = new(uint256.Int), amount
	default:
		return nil, fmt.Errorf("token %s is not in pair %s", step.Token, step.Pair)
	}
	err = pair.Swap(sender, amount0Out, amount1Out, borrower.address, flashData)
	r.reentryErr = borrower.reentryErr
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// flashRepayment returns ceil(amount * 1000 / 997).
func flashRepayment(amount *uint256.Int) (*uint256.Int, error) {
	scaled, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(1000))
	if overflow {
		return nil, amm.ErrArithmetic
	}
	return new(uint256.Int).Add(new(uint256.Int).Div(scaled, uint256.NewInt(997)), uint256.NewInt(1)), nil
}

// borrower returns the actor's flash borrower, deploying it on first use.
// The deployment is journaled with the step that made it.
func (r *Runner) borrower(owner common.Address) (*flashBorrower, error) {
	addr := derivedAddress("pairLedger:flash:" + owner.Hex())
	switch code := r.env.CodeAt(addr).(type) {
	case *flashBorrower:
		return code, nil
	case nil:
		b := &flashBorrower{env: r.env, address: addr}
		if err := r.env.Deploy(addr, b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("borrower address %s is taken", addr.Hex())
	}
}

func (r *Runner) skim(step Step) (*amm.Pair, error) {
	pair, err := r.pair(step.Pair)
	if err != nil {
		return nil, err
	}
	sender, err := r.account(step.Actor)
	if err != nil {
		return nil, err
	}
	to, err := r.recipient(step)
	if err != nil {
		return nil, err
	}
	if err := pair.Skim(sender, to); err != nil {
		return nil, err
	}
	return pair, nil
}

func (r *Runner) sync(step Step) (*amm.Pair, error) {
	pair, err := r.pair(step.Pair)
	if err != nil {
		return nil, err
	}
	sender, err := r.account(step.Actor)
	if err != nil {
		return nil, err
	}
	if err := pair.Sync(sender); err != nil {
		return nil, err
	}
	return pair, nil
}

// setFeeTo points the protocol fee at an account; "none" turns it off.
func (r *Runner) setFeeTo(step Step) error {
	caller, err := r.account(step.Actor)
	if err != nil {
		return err
	}
	var feeTo common.Address
	if step.FeeTo != "none" {
		if feeTo, err = r.account(step.FeeTo); err != nil {
			return err
		}
	}
	return r.registry.SetFeeTo(caller, feeTo)
}

// permit signs an approval with the signer's key (the owner's unless signer
// is set) and submits it for the owner.
func (r *Runner) permit(step Step) error {
	ledger, err := r.token(step.Token)
	if err != nil {
		return err
	}
	owner, err := r.account(step.Actor)
	if err != nil {
		return err
	}
	spender, err := r.account(step.Spender)
	if err != nil {
		return err
	}
	value, err := parseAmount(step.Amount)
	if err != nil {
		return err
	}
	signerName := step.Signer
	if signerName == "" {
		signerName = step.Actor
	}
	if signerName == "" {
		signerName = defaultActor
	}
	if common.IsHexAddress(signerName) {
		return fmt.Errorf("cannot sign for raw address %s", signerName)
	}
	signer, err := r.actors.get(signerName)
	if err != nil {
		return err
	}

	deadline := permitDeadline(r.env.BlockTimestamp(), step.DeadlineIn)
	digest := ledger.PermitDigest(owner, spender, value, ledger.Nonce(owner), deadline)
	sig, err := crypto.Sign(digest.Bytes(), signer.key)
	if err != nil {
		return fmt.Errorf("sign permit: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return ledger.Permit(owner, spender, value, deadline, sig)
}

func permitDeadline(now uint64, in int64) uint64 {
	switch {
	case in == 0:
		return now + defaultPermitWindow
	case in > 0:
		return now + uint64(in)
	case uint64(-in) > now:
		return 0
	default:
		return now - uint64(-in)
	}
}

// deposit transfers the amounts, keyed by symbol, from sender to the pair in
// token0, token1 order.
func (r *Runner) deposit(pair *amm.Pair, sender common.Address, amounts map[string]string) error {
	amount0, amount1, err := r.pairAmounts(pair, amounts)
	if err != nil {
		return err
	}
	for i, value := range []*uint256.Int{amount0, amount1} {
		if value.IsZero() {
			continue
		}
		tokenAddr := pair.Token0()
		if i == 1 {
			tokenAddr = pair.Token1()
		}
		if err := send(r.tokenAddr[tokenAddr], sender, pair.Address(), value); err != nil {
			return err
		}
	}
	return nil
}

// pairAmounts splits a symbol-keyed amount map into token0 and token1
// amounts; missing entries are zero.
func (r *Runner) pairAmounts(pair *amm.Pair, amounts map[string]string) (*uint256.Int, *uint256.Int, error) {
	amount0, amount1 := new(uint256.Int), new(uint256.Int)
	for symbol, raw := range amounts {
		ledger, err := r.token(symbol)
		if err != nil {
			return nil, nil, err
		}
		value, err := parseAmount(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", symbol, err)
		}
		switch ledger.Address() {
		case pair.Token0():
			amount0 = value
		case pair.Token1():
			amount1 = value
		default:
			return nil, nil, fmt.Errorf("token %s is not in pair %s", symbol, pair.Address().Hex())
		}
	}
	return amount0, amount1, nil
}

func (r *Runner) token(symbol string) (*token.Ledger, error) {
	ledger, ok := r.tokens[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown token %q", symbol)
	}
	return ledger, nil
}

// pair resolves "A/B" in either order.
func (r *Runner) pair(name string) (*amm.Pair, error) {
	symbolA, symbolB, ok := strings.Cut(name, "/")
	if !ok {
		return nil, fmt.Errorf("pair %q is not SYMBOL/SYMBOL", name)
	}
	tokenA, err := r.token(symbolA)
	if err != nil {
		return nil, err
	}
	tokenB, err := r.token(symbolB)
	if err != nil {
		return nil, err
	}
	addr, ok := r.registry.GetPair(tokenA.Address(), tokenB.Address())
	if !ok {
		return nil, fmt.Errorf("no pair for %s", name)
	}
	pair, ok := r.registry.Pair(addr)
	if !ok {
		return nil, fmt.Errorf("pair %s not deployed", addr.Hex())
	}
	return pair, nil
}

// asset resolves a token symbol or, for "A/B", the pair's share token.
func (r *Runner) asset(name string) (amm.Asset, error) {
	if strings.Contains(name, "/") {
		pair, err := r.pair(name)
		if err != nil {
			return nil, err
		}
		return pair, nil
	}
	ledger, err := r.token(name)
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

func (r *Runner) account(ref string) (common.Address, error) {
	if ref == "" {
		ref = defaultActor
	}
	return r.actors.resolve(ref)
}

func (r *Runner) recipient(step Step) (common.Address, error) {
	if step.To != "" {
		return r.account(step.To)
	}
	return r.account(step.Actor)
}

func send(asset amm.Asset, from, to common.Address, value *uint256.Int) error {
	ok, err := asset.Transfer(from, to, value)
	if err != nil {
		return err
	}
	if !ok {
		return amm.ErrTransferFailed
	}
	return nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("amount is required")
	}
	return model.ParseUint256(strings.ReplaceAll(raw, "_", ""))
}
