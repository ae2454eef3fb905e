// Package amm implements a constant-product pair: two token reserves, a
// liquidity share token, a time-weighted price accumulator and an optional
// protocol fee.
package amm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"pairLedger/internal/host"
	"pairLedger/internal/token"
)

// MinimumLiquidity is minted to the zero address on the first deposit and can
// never be redeemed.
var MinimumLiquidity = uint256.NewInt(1000)

// ShareMetadata describes every pair's liquidity share token.
var ShareMetadata = token.Metadata{Name: "Uniswap V2", Symbol: "UNI-V2", Decimals: 18}

// Operation names used in logs and observer callbacks.
const (
	OpMint = "mint"
	OpBurn = "burn"
	OpSwap = "swap"
	OpSkim = "skim"
	OpSync = "sync"
)

// Asset is the token contract a pair holds reserves of.
type Asset interface {
	BalanceOf(holder common.Address) *uint256.Int
	// Transfer moves value and reports success. A false result is a failure
	// even without an error.
	Transfer(from, to common.Address, value *uint256.Int) (bool, error)
}

// SwapCall carries the arguments of a swap callback.
type SwapCall struct {
	Pair       common.Address
	Sender     common.Address
	Amount0Out *uint256.Int
	Amount1Out *uint256.Int
	Data       []byte
}

// SwapCallee receives optimistic swap outputs and must pay the pair before
// returning.
type SwapCallee interface {
	SwapCall(call SwapCall) error
}

// FeeSource reports the protocol fee recipient; the zero address turns the
// protocol fee off.
type FeeSource interface {
	FeeTo() common.Address
}

// Observer is notified of every guarded operation outcome.
type Observer interface {
	ObserveOperation(pair common.Address, op string, err error)
	ObserveReserves(pair common.Address, reserve0, reserve1 *uint256.Int)
}

// Option configures a Pair.
type Option func(*Pair)

// WithLogger sets the pair logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pair) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver sets the operation observer.
func WithObserver(o Observer) Option {
	return func(p *Pair) { p.observer = o }
}

// pairState is the mutable core state. It is copied by value when an
// operation begins, so fields must be replaced or mutated only through the
// value, never shared by pointer.
type pairState struct {
	reserve0           uint256.Int
	reserve1           uint256.Int
	blockTimestampLast uint32

	price0CumulativeLast uint256.Int
	price1CumulativeLast uint256.Int
	kLast                uint256.Int
}

// Pair is one constant-product pool. Tokens, callees and the fee source are
// resolved by address through the host.
type Pair struct {
	env     *host.Env
	address common.Address
	factory common.Address

	token0      common.Address
	token1      common.Address
	initialized bool

	shares *token.Ledger
	state  pairState
	guard  Guard

	logger   *zap.Logger
	observer Observer
}

// NewPair creates an uninitialized pair at address owned by factory.
func NewPair(env *host.Env, address, factory common.Address, opts ...Option) *Pair {
	p := &Pair{
		env:     env,
		address: address,
		factory: factory,
		shares:  token.NewLedger(env, address, ShareMetadata),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("pair", address.Hex()))
	return p
}

func (p *Pair) Address() common.Address { return p.address }
func (p *Pair) Factory() common.Address { return p.factory }
func (p *Pair) Token0() common.Address  { return p.token0 }
func (p *Pair) Token1() common.Address  { return p.token1 }

// BalanceOf returns holder's liquidity shares.
func (p *Pair) BalanceOf(holder common.Address) *uint256.Int {
	return p.shares.BalanceOf(holder)
}

// TotalSupply returns the outstanding liquidity shares.
func (p *Pair) TotalSupply() *uint256.Int {
	return p.shares.TotalSupply()
}

// Transfer moves liquidity shares.
func (p *Pair) Transfer(from, to common.Address, value *uint256.Int) (bool, error) {
	return p.shares.Transfer(from, to, value)
}

// GetReserves returns the recorded reserves and the 32-bit timestamp of the
// last reserve update.
func (p *Pair) GetReserves() (reserve0, reserve1 *uint256.Int, blockTimestampLast uint32) {
	return p.state.reserve0.Clone(), p.state.reserve1.Clone(), p.state.blockTimestampLast
}

func (p *Pair) Price0CumulativeLast() *uint256.Int { return p.state.price0CumulativeLast.Clone() }
func (p *Pair) Price1CumulativeLast() *uint256.Int { return p.state.price1CumulativeLast.Clone() }
func (p *Pair) KLast() *uint256.Int                { return p.state.kLast.Clone() }

// Locked reports whether an operation is in flight.
func (p *Pair) Locked() bool { return p.guard.Locked() }

// Initialize binds the pair's tokens. Only the factory may call it, once.
func (p *Pair) Initialize(caller, token0, token1 common.Address) error {
	if caller != p.factory {
		return ErrForbidden
	}
	if p.initialized {
		return ErrAlreadyInitialized
	}
	p.token0, p.token1, p.initialized = token0, token1, true
	p.env.Record(func() {
		p.token0, p.token1, p.initialized = common.Address{}, common.Address{}, false
	})
	return nil
}

// Mint issues liquidity shares to to for the tokens transferred into the pair
// since the last reserve update.
func (p *Pair) Mint(caller, to common.Address) (liquidity *uint256.Int, err error) {
	err = p.guarded(OpMint, func() error {
		liquidity, err = p.mint(caller, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	return liquidity, nil
}

func (p *Pair) mint(caller, to common.Address) (*uint256.Int, error) {
	asset0, asset1, err := p.assets()
	if err != nil {
		return nil, err
	}
	reserve0, reserve1 := p.state.reserve0.Clone(), p.state.reserve1.Clone()
	balance0 := asset0.BalanceOf(p.address)
	balance1 := asset1.BalanceOf(p.address)
	amount0, err := sub(balance0, reserve0)
	if err != nil {
		return nil, err
	}
	amount1, err := sub(balance1, reserve1)
	if err != nil {
		return nil, err
	}

	feeOn, err := p.mintFee(reserve0, reserve1)
	if err != nil {
		return nil, err
	}
	totalSupply := p.shares.TotalSupply()

	var liquidity *uint256.Int
	if totalSupply.IsZero() {
		product, err := mul(amount0, amount1)
		if err != nil {
			return nil, err
		}
		root := sqrt(product)
		if !root.Gt(MinimumLiquidity) {
			return nil, ErrInsufficientLiquidityMinted
		}
		liquidity = new(uint256.Int).Sub(root, MinimumLiquidity)
		if err := p.shares.Mint(common.Address{}, MinimumLiquidity); err != nil {
			return nil, err
		}
	} else {
		liquidity0, err := proportion(amount0, totalSupply, reserve0)
		if err != nil {
			return nil, err
		}
		liquidity1, err := proportion(amount1, totalSupply, reserve1)
		if err != nil {
			return nil, err
		}
		liquidity = minInt(liquidity0, liquidity1)
	}
	if liquidity.IsZero() {
		return nil, ErrInsufficientLiquidityMinted
	}
	if err := p.shares.Mint(to, liquidity); err != nil {
		return nil, err
	}

	if err := p.update(balance0, balance1, reserve0, reserve1); err != nil {
		return nil, err
	}
	if feeOn {
		p.refreshKLast()
	}
	if err := p.emit("Mint", caller, amount0, amount1); err != nil {
		return nil, err
	}
	return liquidity, nil
}

// Burn redeems the liquidity shares held by the pair itself and sends the
// underlying tokens to to.
func (p *Pair) Burn(caller, to common.Address) (amount0, amount1 *uint256.Int, err error) {
	err = p.guarded(OpBurn, func() error {
		amount0, amount1, err = p.burn(caller, to)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

func (p *Pair) burn(caller, to common.Address) (*uint256.Int, *uint256.Int, error) {
	asset0, asset1, err := p.assets()
	if err != nil {
		return nil, nil, err
	}
	reserve0, reserve1 := p.state.reserve0.Clone(), p.state.reserve1.Clone()
	balance0 := asset0.BalanceOf(p.address)
	balance1 := asset1.BalanceOf(p.address)
	liquidity := p.shares.BalanceOf(p.address)

	feeOn, err := p.mintFee(reserve0, reserve1)
	if err != nil {
		return nil, nil, err
	}
	totalSupply := p.shares.TotalSupply()

	// Pro rata on balances, not reserves, so surplus is shared too.
	amount0, err := proportion(liquidity, balance0, totalSupply)
	if err != nil {
		return nil, nil, err
	}
	amount1, err := proportion(liquidity, balance1, totalSupply)
	if err != nil {
		return nil, nil, err
	}
	if amount0.IsZero() || amount1.IsZero() {
		return nil, nil, ErrInsufficientLiquidityBurned
	}

	if err := p.shares.Burn(p.address, liquidity); err != nil {
		return nil, nil, err
	}
	if err := p.safeTransfer(asset0, p.token0, to, amount0); err != nil {
		return nil, nil, err
	}
	if err := p.safeTransfer(asset1, p.token1, to, amount1); err != nil {
		return nil, nil, err
	}
	balance0 = asset0.BalanceOf(p.address)
	balance1 = asset1.BalanceOf(p.address)

	if err := p.update(balance0, balance1, reserve0, reserve1); err != nil {
		return nil, nil, err
	}
	if feeOn {
		p.refreshKLast()
	}
	if err := p.emit("Burn", caller, amount0, amount1, to); err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// Swap sends the requested outputs to to, optionally calls back into to with
// data, and then requires the fee-adjusted constant product to hold on the
// resulting balances.
func (p *Pair) Swap(caller common.Address, amount0Out, amount1Out *uint256.Int, to common.Address, data []byte) error {
	return p.guarded(OpSwap, func() error {
		return p.swap(caller, amount0Out, amount1Out, to, data)
	})
}

func (p *Pair) swap(caller common.Address, amount0Out, amount1Out *uint256.Int, to common.Address, data []byte) error {
	if amount0Out == nil {
		amount0Out = new(uint256.Int)
	}
	if amount1Out == nil {
		amount1Out = new(uint256.Int)
	}
	if amount0Out.IsZero() && amount1Out.IsZero() {
		return ErrInsufficientOutputAmount
	}
	asset0, asset1, err := p.assets()
	if err != nil {
		return err
	}
	reserve0, reserve1 := p.state.reserve0.Clone(), p.state.reserve1.Clone()
	if !amount0Out.Lt(reserve0) || !amount1Out.Lt(reserve1) {
		return ErrInsufficientLiquidity
	}
	if to == p.token0 || to == p.token1 {
		return ErrInvalidTo
	}

	if !amount0Out.IsZero() {
		if err := p.safeTransfer(asset0, p.token0, to, amount0Out); err != nil {
			return err
		}
	}
	if !amount1Out.IsZero() {
		if err := p.safeTransfer(asset1, p.token1, to, amount1Out); err != nil {
			return err
		}
	}
	if len(data) > 0 {
		callee, ok := p.env.CodeAt(to).(SwapCallee)
		if !ok {
			return fmt.Errorf("swap to %s: %w", to.Hex(), ErrNoCallee)
		}
		err := callee.SwapCall(SwapCall{
			Pair:       p.address,
			Sender:     caller,
			Amount0Out: amount0Out.Clone(),
			Amount1Out: amount1Out.Clone(),
			Data:       data,
		})
		if err != nil {
			return fmt.Errorf("swap callback: %w", err)
		}
	}
	balance0 := asset0.BalanceOf(p.address)
	balance1 := asset1.BalanceOf(p.address)

	// Outputs are strictly below reserves, so these cannot underflow.
	amount0In := subFloor(balance0, new(uint256.Int).Sub(reserve0, amount0Out))
	amount1In := subFloor(balance1, new(uint256.Int).Sub(reserve1, amount1Out))
	if amount0In.IsZero() && amount1In.IsZero() {
		return ErrInsufficientInputAmount
	}

	adjusted0, err := feeAdjusted(balance0, amount0In)
	if err != nil {
		return err
	}
	adjusted1, err := feeAdjusted(balance1, amount1In)
	if err != nil {
		return err
	}
	product, err := mul(adjusted0, adjusted1)
	if err != nil {
		return err
	}
	// Reserves are below 2**112, so reserve0*reserve1*1000**2 fits.
	required := new(uint256.Int).Mul(reserve0, reserve1)
	required.Mul(required, uint256.NewInt(1_000_000))
	if product.Lt(required) {
		return ErrK
	}

	if err := p.update(balance0, balance1, reserve0, reserve1); err != nil {
		return err
	}
	return p.emit("Swap", caller, amount0In, amount1In, amount0Out, amount1Out, to)
}

// Skim sends any token balance above the recorded reserves to to.
func (p *Pair) Skim(caller, to common.Address) error {
	return p.guarded(OpSkim, func() error {
		asset0, asset1, err := p.assets()
		if err != nil {
			return err
		}
		excess0, err := sub(asset0.BalanceOf(p.address), &p.state.reserve0)
		if err != nil {
			return err
		}
		excess1, err := sub(asset1.BalanceOf(p.address), &p.state.reserve1)
		if err != nil {
			return err
		}
		if err := p.safeTransfer(asset0, p.token0, to, excess0); err != nil {
			return err
		}
		return p.safeTransfer(asset1, p.token1, to, excess1)
	})
}

// Sync sets the recorded reserves to the actual token balances.
func (p *Pair) Sync(caller common.Address) error {
	return p.guarded(OpSync, func() error {
		asset0, asset1, err := p.assets()
		if err != nil {
			return err
		}
		reserve0, reserve1 := p.state.reserve0.Clone(), p.state.reserve1.Clone()
		return p.update(asset0.BalanceOf(p.address), asset1.BalanceOf(p.address), reserve0, reserve1)
	})
}

// guarded runs fn holding the guard inside a transaction. Any error rolls
// back every change fn made, including those of nested calls.
func (p *Pair) guarded(op string, fn func() error) error {
	release, err := p.guard.Acquire()
	if err != nil {
		p.finish(op, err)
		return err
	}
	defer release()

	tx := p.begin()
	defer tx.rollback()

	if err := fn(); err != nil {
		p.finish(op, err)
		return err
	}
	tx.commit()
	p.finish(op, nil)
	return nil
}

func (p *Pair) finish(op string, err error) {
	if err != nil {
		p.logger.Debug("operation rejected", zap.String("op", op), zap.String("kind", string(Category(err))), zap.Error(err))
	} else {
		p.logger.Debug("operation committed",
			zap.String("op", op),
			zap.String("reserve0", p.state.reserve0.Dec()),
			zap.String("reserve1", p.state.reserve1.Dec()),
		)
	}
	if p.observer == nil {
		return
	}
	p.observer.ObserveOperation(p.address, op, err)
	if err == nil {
		p.observer.ObserveReserves(p.address, p.state.reserve0.Clone(), p.state.reserve1.Clone())
	}
}

func (p *Pair) assets() (Asset, Asset, error) {
	if !p.initialized {
		return nil, nil, ErrNotInitialized
	}
	asset0, err := p.asset(p.token0)
	if err != nil {
		return nil, nil, err
	}
	asset1, err := p.asset(p.token1)
	if err != nil {
		return nil, nil, err
	}
	return asset0, asset1, nil
}

func (p *Pair) asset(addr common.Address) (Asset, error) {
	asset, ok := p.env.CodeAt(addr).(Asset)
	if !ok {
		return nil, fmt.Errorf("token %s: %w", addr.Hex(), ErrUnknownAsset)
	}
	return asset, nil
}

func (p *Pair) safeTransfer(asset Asset, tokenAddr, to common.Address, value *uint256.Int) error {
	ok, err := asset.Transfer(p.address, to, value)
	if err != nil {
		return fmt.Errorf("%w: token %s: %v", ErrTransferFailed, tokenAddr.Hex(), err)
	}
	if !ok {
		return fmt.Errorf("%w: token %s returned false", ErrTransferFailed, tokenAddr.Hex())
	}
	return nil
}

func (p *Pair) refreshKLast() {
	p.state.kLast.Mul(&p.state.reserve0, &p.state.reserve1)
}

// proportion returns floor(amount * numerator / denominator).
func proportion(amount, numerator, denominator *uint256.Int) (*uint256.Int, error) {
	product, err := mul(amount, numerator)
	if err != nil {
		return nil, err
	}
	return div(product, denominator)
}

// feeAdjusted returns balance*1000 - amountIn*3.
func feeAdjusted(balance, amountIn *uint256.Int) (*uint256.Int, error) {
	scaled, err := mul(balance, uint256.NewInt(1000))
	if err != nil {
		return nil, err
	}
	fee, err := mul(amountIn, uint256.NewInt(3))
	if err != nil {
		return nil, err
	}
	return sub(scaled, fee)
}
