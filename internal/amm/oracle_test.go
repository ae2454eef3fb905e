package amm

import (
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"pairLedger/internal/model"
	"pairLedger/internal/uq112x112"
)

func TestOracleAccumulatesPreviousPrice(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.deposit(alice, 1000, 2000)
	require.NoError(f.pair.Sync(alice))
	require.True(f.pair.Price0CumulativeLast().IsZero())

	f.env.AdvanceTime(10)
	require.NoError(f.pair.Sync(alice))

	want0 := new(uint256.Int).Mul(uq112x112.Q112, u(20))
	want1 := new(uint256.Int).Mul(uq112x112.Q112, u(5))
	require.True(f.pair.Price0CumulativeLast().Eq(want0))
	require.True(f.pair.Price1CumulativeLast().Eq(want1))

	// Same timestamp: no further accumulation.
	require.NoError(f.pair.Sync(alice))
	require.True(f.pair.Price0CumulativeLast().Eq(want0))
}

func TestOracleMonotonicWithNonzeroReserves(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.addLiquidity(alice, 10_000, 40_000)

	prev := f.pair.Price0CumulativeLast()
	for i := 0; i < 5; i++ {
		f.env.AdvanceTime(uint64(7 + i))
		f.deposit(bob, 100, 0)
		out, err := GetAmountOut(u(100), u(10_000+uint64(i)*100), u(40_000))
		require.NoError(err)
		require.NoError(f.pair.Swap(bob, nil, out, bob, nil))
		cur := f.pair.Price0CumulativeLast()
		require.True(cur.Gt(prev))
		prev = cur
		// Keep reserve1 stable for the next quote.
		f.deposit(bob, 0, out.Uint64())
		require.NoError(f.pair.Sync(bob))
	}
}

func TestOracleWrapsTimestampAndAccumulator(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	start := new(uint256.Int).Sub(new(uint256.Int), uq112x112.Q112) // 2**256 - Q112
	pair := NewPair(f.env, pairAddr, factoryAddr)
	require.NoError(pair.Restore(model.PairSnapshot{
		Address:              pairAddr.Hex(),
		Token0:               token0Addr.Hex(),
		Token1:               token1Addr.Hex(),
		Reserve0:             "1000",
		Reserve1:             "2000",
		BlockTimestampLast:   math.MaxUint32 - 4,
		Price0CumulativeLast: start.Dec(),
		Price1CumulativeLast: "0",
		KLast:                "0",
		Shares:               model.TokenSnapshot{TotalSupply: "0"},
	}))
	require.NoError(f.token0.Mint(pairAddr, u(1000)))
	require.NoError(f.token1.Mint(pairAddr, u(2000)))

	f.env.SetBlockTimestamp(1<<32 + 5)
	require.NoError(pair.Sync(alice))

	_, _, ts := pair.GetReserves()
	require.Equal(uint32(5), ts)

	cur := pair.Price0CumulativeLast()
	require.True(cur.Lt(start))
	diff := new(uint256.Int).Sub(cur, start)
	require.True(diff.Eq(new(uint256.Int).Mul(uq112x112.Q112, u(20))))
}
