package amm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"pairLedger/internal/dex"
	"pairLedger/internal/token"
)

func TestInitializeOnlyFactoryOnce(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	other := NewPair(f.env, common.HexToAddress("0x00000000000000000000000000000000000000cc"), factoryAddr)
	require.ErrorIs(other.Initialize(alice, token0Addr, token1Addr), ErrForbidden)
	require.NoError(other.Initialize(factoryAddr, token0Addr, token1Addr))
	require.ErrorIs(other.Initialize(factoryAddr, token0Addr, token1Addr), ErrAlreadyInitialized)

	uninit := NewPair(f.env, common.HexToAddress("0x00000000000000000000000000000000000000cd"), factoryAddr)
	_, err := uninit.Mint(alice, alice)
	require.ErrorIs(err, ErrNotInitialized)
}

func TestFirstMint(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	liquidity := f.addLiquidity(alice, 2000, 2000)
	require.Equal(uint64(1000), liquidity.Uint64())
	require.Equal(uint64(1000), f.pair.BalanceOf(alice).Uint64())
	require.Equal(uint64(1000), f.pair.BalanceOf(common.Address{}).Uint64())
	require.Equal(uint64(2000), f.pair.TotalSupply().Uint64())

	r0, r1 := f.reserves()
	require.Equal(uint64(2000), r0)
	require.Equal(uint64(2000), r1)
	_, _, ts := f.pair.GetReserves()
	require.Equal(uint32(1000), ts)
}

func TestFirstMintBelowMinimumRollsBack(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	f.deposit(alice, 1000, 1000)
	_, err := f.pair.Mint(alice, alice)
	require.ErrorIs(err, ErrInsufficientLiquidityMinted)
	require.True(f.pair.TotalSupply().IsZero())
	r0, r1 := f.reserves()
	require.Zero(r0)
	require.Zero(r1)
	require.False(f.pair.Locked())
}

func TestProportionalMint(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.addLiquidity(alice, 2000, 2000)

	liquidity := f.addLiquidity(bob, 1000, 1000)
	require.Equal(uint64(1000), liquidity.Uint64())
	require.Equal(uint64(3000), f.pair.TotalSupply().Uint64())

	// Excess of one token is not rewarded.
	liquidity = f.addLiquidity(bob, 300, 3000)
	require.Equal(uint64(300), liquidity.Uint64())
}

func TestMintEmitsSyncThenMint(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.addLiquidity(alice, 2000, 2000)

	pairABI, err := dex.PairABI()
	require.NoError(err)
	logs := f.env.Logs()
	require.GreaterOrEqual(len(logs), 2)
	syncLog, mintLog := logs[len(logs)-2], logs[len(logs)-1]
	require.Equal(pairABI.Events["Sync"].ID, syncLog.Topics[0])
	require.Equal(pairABI.Events["Mint"].ID, mintLog.Topics[0])
	require.Equal(pairAddr, mintLog.Address)
	require.Equal(common.BytesToHash(alice.Bytes()), mintLog.Topics[1])
}

func TestSwapOutputFormula(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.deposit(alice, 1000, 1000)
	require.NoError(f.pair.Sync(alice))

	out, err := GetAmountOut(u(100), u(1000), u(1000))
	require.NoError(err)
	require.Equal(uint64(90), out.Uint64())

	require.NoError(f.token0.Mint(bob, u(100)))
	_, err = f.token0.Transfer(bob, pairAddr, u(100))
	require.NoError(err)

	require.ErrorIs(f.pair.Swap(bob, nil, u(91), bob, nil), ErrK)
	require.NoError(f.pair.Swap(bob, nil, out, bob, nil))

	require.Equal(uint64(90), f.token1.BalanceOf(bob).Uint64())
	r0, r1 := f.reserves()
	require.Equal(uint64(1100), r0)
	require.Equal(uint64(910), r1)
}

func TestSwapInvariantHolds(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.addLiquidity(alice, 5_000_000, 10_000_000)

	amounts := []uint64{1, 999, 12_345, 250_000, 1_000_000}
	for i, amountIn := range amounts {
		reserve0, reserve1, _ := f.pair.GetReserves()
		zeroForOne := i%2 == 0

		var out *uint256.Int
		var err error
		if zeroForOne {
			out, err = GetAmountOut(u(amountIn), reserve0, reserve1)
		} else {
			out, err = GetAmountOut(u(amountIn), reserve1, reserve0)
		}
		require.NoError(err)
		if out.IsZero() {
			continue
		}

		if zeroForOne {
			f.deposit(bob, amountIn, 0)
			require.NoError(f.pair.Swap(bob, nil, out, bob, nil))
		} else {
			f.deposit(bob, 0, amountIn)
			require.NoError(f.pair.Swap(bob, out, nil, bob, nil))
		}

		balance0, balance1, _ := f.pair.GetReserves()
		in0, in1 := u(0), u(0)
		if zeroForOne {
			in0 = u(amountIn)
		} else {
			in1 = u(amountIn)
		}
		adjusted0 := new(uint256.Int).Sub(new(uint256.Int).Mul(balance0, u(1000)), new(uint256.Int).Mul(in0, u(3)))
		adjusted1 := new(uint256.Int).Sub(new(uint256.Int).Mul(balance1, u(1000)), new(uint256.Int).Mul(in1, u(3)))
		lhs := new(uint256.Int).Mul(adjusted0, adjusted1)
		rhs := new(uint256.Int).Mul(new(uint256.Int).Mul(reserve0, reserve1), u(1_000_000))
		require.False(lhs.Lt(rhs), "swap %d broke the invariant", i)
	}
}

func TestSwapValidation(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.addLiquidity(alice, 10_000, 10_000)

	require.ErrorIs(f.pair.Swap(bob, nil, nil, bob, nil), ErrInsufficientOutputAmount)
	require.ErrorIs(f.pair.Swap(bob, u(10_000), nil, bob, nil), ErrInsufficientLiquidity)
	require.ErrorIs(f.pair.Swap(bob, nil, u(20_000), bob, nil), ErrInsufficientLiquidity)
	require.ErrorIs(f.pair.Swap(bob, u(1), nil, token0Addr, nil), ErrInvalidTo)
	require.ErrorIs(f.pair.Swap(bob, u(1), nil, token1Addr, nil), ErrInvalidTo)

	// Optimistic output is rolled back when nothing is paid.
	require.ErrorIs(f.pair.Swap(bob, u(10), nil, bob, nil), ErrInsufficientInputAmount)
	require.True(f.token0.BalanceOf(bob).IsZero())
	r0, r1 := f.reserves()
	require.Equal(uint64(10_000), r0)
	require.Equal(uint64(10_000), r1)

	// Data without a callee at the recipient.
	require.ErrorIs(f.pair.Swap(bob, u(10), nil, bob, []byte{1}), ErrNoCallee)
}

func TestBurnProRata(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.addLiquidity(alice, 2000, 2000)

	_, err := f.pair.Transfer(alice, pairAddr, u(1000))
	require.NoError(err)
	amount0, amount1, err := f.pair.Burn(alice, bob)
	require.NoError(err)
	require.Equal(uint64(1000), amount0.Uint64())
	require.Equal(uint64(1000), amount1.Uint64())
	require.Equal(uint64(1000), f.token0.BalanceOf(bob).Uint64())
	require.Equal(uint64(1000), f.token1.BalanceOf(bob).Uint64())

	// The locked minimum can never be redeemed.
	require.Equal(uint64(1000), f.pair.TotalSupply().Uint64())
	_, err = f.pair.Transfer(common.Address{}, pairAddr, u(1000))
	require.ErrorIs(err, token.ErrInvalidSender)
	_, _, err = f.pair.Burn(alice, bob)
	require.ErrorIs(err, ErrInsufficientLiquidityBurned)
	require.Equal(uint64(1000), f.pair.TotalSupply().Uint64())
}

func TestSharesOnlyChangeThroughPair(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.addLiquidity(alice, 2000, 2000)

	// Nothing resolvable at the pair address can issue or destroy shares.
	code := f.env.CodeAt(pairAddr)
	_, isLedger := code.(*token.Ledger)
	require.False(isLedger)
	_, canMint := code.(interface {
		Mint(common.Address, *uint256.Int) error
	})
	require.False(canMint)
	_, canBurn := code.(interface {
		Burn(common.Address, *uint256.Int) error
	})
	require.False(canBurn)

	// A burn with no shares sent in pays nothing out.
	_, _, err := f.pair.Burn(bob, bob)
	require.ErrorIs(err, ErrInsufficientLiquidityBurned)
	require.True(f.token0.BalanceOf(bob).IsZero())
	require.Equal(uint64(2000), f.pair.TotalSupply().Uint64())
	require.Equal(MinimumLiquidity.Uint64(), f.pair.BalanceOf(common.Address{}).Uint64())
}

func TestBurnDistributesSurplus(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.addLiquidity(alice, 2000, 2000)
	f.deposit(bob, 2000, 0)

	_, err := f.pair.Transfer(alice, pairAddr, u(1000))
	require.NoError(err)
	amount0, amount1, err := f.pair.Burn(alice, alice)
	require.NoError(err)
	require.Equal(uint64(2000), amount0.Uint64())
	require.Equal(uint64(1000), amount1.Uint64())
}

func TestSkimAndSync(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.addLiquidity(alice, 2000, 2000)
	f.deposit(bob, 50, 70)

	require.NoError(f.pair.Skim(bob, bob))
	require.Equal(uint64(50), f.token0.BalanceOf(bob).Uint64())
	require.Equal(uint64(70), f.token1.BalanceOf(bob).Uint64())
	r0, r1 := f.reserves()
	require.Equal(uint64(2000), r0)
	require.Equal(uint64(2000), r1)

	f.deposit(bob, 5, 0)
	require.NoError(f.pair.Sync(bob))
	r0, r1 = f.reserves()
	require.Equal(uint64(2005), r0)
	require.Equal(uint64(2000), r1)
}

func TestSyncRejectsOverflow(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	huge := new(uint256.Int).Lsh(u(1), 112)
	require.NoError(f.token0.Mint(pairAddr, huge))
	require.NoError(f.token1.Mint(pairAddr, u(1)))
	err := f.pair.Sync(alice)
	require.ErrorIs(err, ErrOverflow)
	require.Equal(KindArithmetic, Category(err))
	r0, _ := f.reserves()
	require.Zero(r0)
}

type reentrantCallee struct {
	pair   *Pair
	token0 *token.Ledger
	repay  *uint256.Int
	errs   map[string]error
	calls  []SwapCall
}

func (c *reentrantCallee) SwapCall(call SwapCall) error {
	c.calls = append(c.calls, call)
	_, c.errs[OpMint] = c.pair.Mint(calleeAddr, calleeAddr)
	_, _, c.errs[OpBurn] = c.pair.Burn(calleeAddr, calleeAddr)
	c.errs[OpSwap] = c.pair.Swap(calleeAddr, u(1), nil, calleeAddr, nil)
	c.errs[OpSkim] = c.pair.Skim(calleeAddr, calleeAddr)
	c.errs[OpSync] = c.pair.Sync(calleeAddr)
	if c.repay == nil {
		return nil
	}
	_, err := c.token0.Transfer(calleeAddr, call.Pair, c.repay)
	return err
}

func TestFlashSwapRejectsReentrancy(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.deposit(alice, 1000, 1000)
	require.NoError(f.pair.Sync(alice))

	callee := &reentrantCallee{pair: f.pair, token0: f.token0, repay: u(100), errs: map[string]error{}}
	require.NoError(f.env.Deploy(calleeAddr, callee))
	require.NoError(f.token0.Mint(calleeAddr, u(100)))

	require.NoError(f.pair.Swap(alice, nil, u(90), calleeAddr, []byte("flash")))
	require.Len(callee.calls, 1)
	require.Equal(alice, callee.calls[0].Sender)
	require.Equal(uint64(90), callee.calls[0].Amount1Out.Uint64())
	for _, op := range []string{OpMint, OpBurn, OpSwap, OpSkim, OpSync} {
		require.ErrorIs(callee.errs[op], ErrLocked, op)
	}
	require.Equal(uint64(90), f.token1.BalanceOf(calleeAddr).Uint64())
	require.False(f.pair.Locked())

	r0, r1 := f.reserves()
	require.Equal(uint64(1100), r0)
	require.Equal(uint64(910), r1)
}

func TestFlashSwapWithoutRepaymentRollsBack(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.deposit(alice, 1000, 1000)
	require.NoError(f.pair.Sync(alice))
	logsBefore := len(f.env.Logs())

	callee := &reentrantCallee{pair: f.pair, token0: f.token0, errs: map[string]error{}}
	require.NoError(f.env.Deploy(calleeAddr, callee))

	err := f.pair.Swap(alice, nil, u(90), calleeAddr, []byte("flash"))
	require.ErrorIs(err, ErrInsufficientInputAmount)
	require.True(f.token1.BalanceOf(calleeAddr).IsZero())
	require.Len(f.env.Logs(), logsBefore)
	require.False(f.pair.Locked())

	// The pair is usable again after the failure.
	require.NoError(f.pair.Sync(alice))
}

type failingAsset struct {
	*token.Ledger
	fail bool
}

func (a *failingAsset) Transfer(from, to common.Address, value *uint256.Int) (bool, error) {
	if a.fail {
		return false, nil
	}
	return a.Ledger.Transfer(from, to, value)
}

func TestTransferFailureRollsBack(t *testing.T) {
	require := require.New(t)
	failing := &failingAsset{}
	f := newFixtureWith(t, func(l *token.Ledger) any {
		failing.Ledger = l
		return failing
	})
	f.addLiquidity(alice, 2000, 2000)
	_, err := f.pair.Transfer(alice, pairAddr, u(500))
	require.NoError(err)

	failing.fail = true
	_, _, err = f.pair.Burn(alice, alice)
	require.ErrorIs(err, ErrTransferFailed)
	require.Equal(KindCollaborator, Category(err))

	require.Equal(uint64(500), f.pair.BalanceOf(pairAddr).Uint64())
	require.Equal(uint64(2000), f.pair.TotalSupply().Uint64())
	require.True(f.token0.BalanceOf(alice).IsZero())
	r0, r1 := f.reserves()
	require.Equal(uint64(2000), r0)
	require.Equal(uint64(2000), r1)

	failing.fail = false
	amount0, amount1, err := f.pair.Burn(alice, alice)
	require.NoError(err)
	require.Equal(uint64(500), amount0.Uint64())
	require.Equal(uint64(500), amount1.Uint64())
}

type recordingObserver struct {
	ops      []string
	errs     []error
	reserve0 *uint256.Int
}

func (o *recordingObserver) ObserveOperation(_ common.Address, op string, err error) {
	o.ops = append(o.ops, op)
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) ObserveReserves(_ common.Address, reserve0, _ *uint256.Int) {
	o.reserve0 = reserve0
}

func TestObserverSeesOutcomes(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	observer := &recordingObserver{}
	WithObserver(observer)(f.pair)

	f.addLiquidity(alice, 2000, 2000)
	require.Error(f.pair.Swap(alice, nil, nil, alice, nil))

	require.Equal([]string{OpMint, OpSwap}, observer.ops)
	require.NoError(observer.errs[0])
	require.ErrorIs(observer.errs[1], ErrInsufficientOutputAmount)
	require.Equal(uint64(2000), observer.reserve0.Uint64())
}

func TestSnapshotRestore(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.addLiquidity(alice, 4000, 9000)
	f.env.AdvanceTime(30)
	require.NoError(f.pair.Sync(alice))

	snap := f.pair.Snapshot()
	restored := NewPair(f.env, pairAddr, factoryAddr)
	require.NoError(restored.Restore(snap))

	r0, r1, ts := restored.GetReserves()
	require.Equal(uint64(4000), r0.Uint64())
	require.Equal(uint64(9000), r1.Uint64())
	require.Equal(uint32(1030), ts)
	require.True(restored.Price0CumulativeLast().Eq(f.pair.Price0CumulativeLast()))
	require.Equal(f.pair.TotalSupply(), restored.TotalSupply())
	require.Equal(token0Addr, restored.Token0())
	require.ErrorIs(restored.Restore(snap), ErrAlreadyInitialized)

	snap.Reserve0 = new(uint256.Int).Lsh(u(1), 112).Dec()
	require.ErrorIs(NewPair(f.env, pairAddr, factoryAddr).Restore(snap), ErrOverflow)
}
