package amm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"pairLedger/internal/host"
	"pairLedger/internal/token"
)

var (
	factoryAddr  = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	pairAddr     = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	token0Addr   = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	token1Addr   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice        = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	feeRecipient = common.HexToAddress("0x000000000000000000000000000000000000fee0")
	calleeAddr   = common.HexToAddress("0x00000000000000000000000000000000000ca11e")
)

type stubFactory struct {
	feeTo common.Address
}

func (f *stubFactory) FeeTo() common.Address { return f.feeTo }

type fixture struct {
	t       *testing.T
	env     *host.Env
	factory *stubFactory
	token0  *token.Ledger
	token1  *token.Ledger
	pair    *Pair
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, func(l *token.Ledger) any { return l })
}

// newFixtureWith deploys the code returned by wrap at token1's address.
func newFixtureWith(t *testing.T, wrap func(*token.Ledger) any) *fixture {
	t.Helper()
	require := require.New(t)

	env := host.New(host.Config{ChainID: 31337, BlockTimestamp: 1000}, nil)
	factory := &stubFactory{}
	require.NoError(env.Deploy(factoryAddr, factory))

	token0, err := token.Deploy(env, token0Addr, token.Metadata{Name: "Token 0", Symbol: "T0", Decimals: 18})
	require.NoError(err)
	token1 := token.NewLedger(env, token1Addr, token.Metadata{Name: "Token 1", Symbol: "T1", Decimals: 18})
	require.NoError(env.Deploy(token1Addr, wrap(token1)))

	pair := NewPair(env, pairAddr, factoryAddr)
	require.NoError(env.Deploy(pairAddr, pair))
	require.NoError(pair.Initialize(factoryAddr, token0Addr, token1Addr))

	return &fixture{t: t, env: env, factory: factory, token0: token0, token1: token1, pair: pair}
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// deposit mints fresh tokens to from and moves them into the pair.
func (f *fixture) deposit(from common.Address, amount0, amount1 uint64) {
	f.t.Helper()
	require := require.New(f.t)
	require.NoError(f.token0.Mint(from, u(amount0)))
	require.NoError(f.token1.Mint(from, u(amount1)))
	if amount0 > 0 {
		_, err := f.token0.Transfer(from, pairAddr, u(amount0))
		require.NoError(err)
	}
	if amount1 > 0 {
		_, err := f.token1.Transfer(from, pairAddr, u(amount1))
		require.NoError(err)
	}
}

func (f *fixture) addLiquidity(to common.Address, amount0, amount1 uint64) *uint256.Int {
	f.t.Helper()
	f.deposit(to, amount0, amount1)
	liquidity, err := f.pair.Mint(to, to)
	require.NoError(f.t, err)
	return liquidity
}

func (f *fixture) reserves() (uint64, uint64) {
	r0, r1, _ := f.pair.GetReserves()
	return r0.Uint64(), r1.Uint64()
}
