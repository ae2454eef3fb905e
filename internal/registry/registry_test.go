package registry

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"pairLedger/internal/amm"
	"pairLedger/internal/dex"
	"pairLedger/internal/host"
	"pairLedger/internal/model"
	"pairLedger/internal/token"
)

var (
	factoryAddr = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	setter      = common.HexToAddress("0x00000000000000000000000000000000000005e7")
	tokenA      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	tokenB      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice       = common.HexToAddress("0x000000000000000000000000000000000000a11c")
)

func newRegistry(t *testing.T) (*host.Env, *Registry) {
	t.Helper()
	env := host.New(host.Config{ChainID: 1, BlockTimestamp: 1000}, nil)
	r, err := New(env, factoryAddr, setter)
	require.NoError(t, err)
	return env, r
}

func TestPairForMatchesMainnet(t *testing.T) {
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	got, err := PairFor(factoryAddr, DefaultInitCodeHash, weth, usdc)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"), got)
}

func TestSortTokens(t *testing.T) {
	require := require.New(t)
	token0, token1, err := SortTokens(tokenA, tokenB)
	require.NoError(err)
	require.Equal(tokenB, token0)
	require.Equal(tokenA, token1)

	_, _, err = SortTokens(tokenA, tokenA)
	require.ErrorIs(err, amm.ErrIdenticalAddresses)
	_, _, err = SortTokens(common.Address{}, tokenA)
	require.ErrorIs(err, amm.ErrZeroAddress)
}

func TestCreatePair(t *testing.T) {
	require := require.New(t)
	env, r := newRegistry(t)

	addr, err := r.CreatePair(tokenA, tokenB)
	require.NoError(err)

	got, ok := r.GetPair(tokenA, tokenB)
	require.True(ok)
	require.Equal(addr, got)
	got, ok = r.GetPair(tokenB, tokenA)
	require.True(ok)
	require.Equal(addr, got)
	require.Equal(1, r.AllPairsLength())
	first, ok := r.AllPairs(0)
	require.True(ok)
	require.Equal(addr, first)

	pair, ok := r.Pair(addr)
	require.True(ok)
	require.Equal(tokenB, pair.Token0())
	require.Equal(tokenA, pair.Token1())
	require.Equal(pair, env.CodeAt(addr))
	require.ErrorIs(pair.Initialize(factoryAddr, tokenA, tokenB), amm.ErrAlreadyInitialized)

	_, err = r.CreatePair(tokenB, tokenA)
	require.ErrorIs(err, amm.ErrPairExists)

	factoryABI, err := dex.FactoryABI()
	require.NoError(err)
	logs := env.Logs()
	require.Len(logs, 1)
	require.Equal(factoryABI.Events["PairCreated"].ID, logs[0].Topics[0])
	require.Equal(common.BytesToHash(tokenB.Bytes()), logs[0].Topics[1])
	require.Equal(common.BytesToHash(tokenA.Bytes()), logs[0].Topics[2])
}

func TestCreatePairRevertedWithExecution(t *testing.T) {
	require := require.New(t)
	env, r := newRegistry(t)

	errLater := errors.New("later failure")
	err := env.Exec(func() error {
		if _, err := r.CreatePair(tokenA, tokenB); err != nil {
			return err
		}
		return errLater
	})
	require.ErrorIs(err, errLater)
	require.Zero(r.AllPairsLength())
	_, ok := r.GetPair(tokenA, tokenB)
	require.False(ok)
	require.Empty(env.Logs())

	_, err = r.CreatePair(tokenA, tokenB)
	require.NoError(err)
}

func TestFeeSettings(t *testing.T) {
	require := require.New(t)
	_, r := newRegistry(t)

	require.ErrorIs(r.SetFeeTo(alice, alice), amm.ErrForbidden)
	require.NoError(r.SetFeeTo(setter, alice))
	require.Equal(alice, r.FeeTo())

	require.ErrorIs(r.SetFeeToSetter(alice, alice), amm.ErrForbidden)
	require.NoError(r.SetFeeToSetter(setter, alice))
	require.Equal(alice, r.FeeToSetter())
	require.ErrorIs(r.SetFeeTo(setter, setter), amm.ErrForbidden)
}

func TestProtocolFeeFollowsRegistry(t *testing.T) {
	require := require.New(t)
	env, r := newRegistry(t)
	feeTo := common.HexToAddress("0x000000000000000000000000000000000000fee0")
	require.NoError(r.SetFeeTo(setter, feeTo))

	t0, err := token.Deploy(env, tokenB, token.Metadata{Symbol: "B"})
	require.NoError(err)
	t1, err := token.Deploy(env, tokenA, token.Metadata{Symbol: "A"})
	require.NoError(err)
	addr, err := r.CreatePair(tokenA, tokenB)
	require.NoError(err)
	pair, _ := r.Pair(addr)

	require.NoError(t0.Mint(addr, uint256.NewInt(10_000)))
	require.NoError(t1.Mint(addr, uint256.NewInt(10_000)))
	_, err = pair.Mint(alice, alice)
	require.NoError(err)
	require.Equal(uint64(100_000_000), pair.KLast().Uint64())
}

func TestSnapshotRestore(t *testing.T) {
	require := require.New(t)
	env, r := newRegistry(t)
	require.NoError(r.SetFeeTo(setter, alice))
	t0, err := token.Deploy(env, tokenB, token.Metadata{Symbol: "B"})
	require.NoError(err)
	t1, err := token.Deploy(env, tokenA, token.Metadata{Symbol: "A"})
	require.NoError(err)
	addr, err := r.CreatePair(tokenA, tokenB)
	require.NoError(err)
	pair, _ := r.Pair(addr)
	require.NoError(t0.Mint(addr, uint256.NewInt(4000)))
	require.NoError(t1.Mint(addr, uint256.NewInt(9000)))
	_, err = pair.Mint(alice, alice)
	require.NoError(err)

	var world model.WorldSnapshot
	r.Snapshot(&world)
	require.Equal(alice.Hex(), world.FeeTo)
	require.Len(world.Pairs, 1)

	freshEnv := host.New(host.Config{ChainID: 1}, nil)
	fresh, err := New(freshEnv, factoryAddr, common.Address{})
	require.NoError(err)
	require.NoError(fresh.Restore(world))

	got, ok := fresh.GetPair(tokenA, tokenB)
	require.True(ok)
	require.Equal(addr, got)
	restored, _ := fresh.Pair(addr)
	r0, r1, _ := restored.GetReserves()
	require.Equal(uint64(4000), r0.Uint64())
	require.Equal(uint64(9000), r1.Uint64())
	require.Equal(setter, fresh.FeeToSetter())
	require.Equal(alice, fresh.FeeTo())

	require.Error(fresh.Restore(world))
}
