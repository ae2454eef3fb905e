package simulate

import (
	"context"
	"fmt"
	"testing"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"pairLedger/internal/amm"
	"pairLedger/internal/dex"
	"pairLedger/internal/metrics"
	"pairLedger/internal/model"
)

func runScenario(t *testing.T, sc Scenario, opts ...Option) Result {
	t.Helper()
	runner, err := NewRunner(sc, opts...)
	require.NoError(t, err)
	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	return result
}

func tokenSnapshot(t *testing.T, world model.WorldSnapshot, symbol string) model.TokenSnapshot {
	t.Helper()
	for _, snap := range world.Tokens {
		if snap.Symbol == symbol {
			return snap
		}
	}
	t.Fatalf("token %s not in snapshot", symbol)
	return model.TokenSnapshot{}
}

func TestLifecycleScenario(t *testing.T) {
	require := require.New(t)
	sc, err := LoadScenario("testdata/lifecycle.yaml")
	require.NoError(err)

	result := runScenario(t, sc)
	require.Len(result.Steps, len(sc.Steps))
	for i, step := range sc.Steps {
		if step.ExpectError != "" {
			require.NotEmpty(result.Steps[i].Error, "step %d", i)
		} else {
			require.Empty(result.Steps[i].Error, "step %d", i)
		}
	}

	// The rejected re-entry leaves the outer flash swap standing.
	reentry := result.Steps[7]
	require.Equal(ActionFlashSwap, reentry.Action)
	require.Empty(reentry.Error)
	require.Contains(reentry.ReentryError, amm.ErrLocked.Error())

	alice := result.Accounts["alice"]
	bob := result.Accounts["bob"]
	require.NotEmpty(alice)
	require.NotEmpty(bob)

	usdc := tokenSnapshot(t, result.World, "USDC")
	weth := tokenSnapshot(t, result.World, "WETH")
	require.Equal(uint8(6), usdc.Decimals)
	require.Equal(uint8(18), weth.Decimals)
	require.Equal("999950", usdc.Balances[alice])
	require.Equal("99500", usdc.Balances[bob])
	require.Equal("994554", weth.Balances[alice])
	require.Equal("3626", weth.Balances[bob])

	require.Len(result.World.Pairs, 1)
	pair := result.World.Pairs[0]
	require.Equal("1000", pair.Shares.TotalSupply)
	require.Equal("1000", pair.Shares.Balances["0x0000000000000000000000000000000000000000"])
	require.Empty(pair.Shares.Balances[alice])

	require.Len(result.Pairs, 1)
	require.Equal(pair.Address, result.Pairs[0].Address)
	require.Equal(result.World.Factory, result.Pairs[0].Factory)
	require.Equal(uint64(1), result.Pairs[0].FirstSeenBlock)
}

func TestLogsCarryBlockTimestamps(t *testing.T) {
	require := require.New(t)
	sc, err := LoadScenario("testdata/lifecycle.yaml")
	require.NoError(err)
	result := runScenario(t, sc)

	decoder, err := dex.NewPairDecoder()
	require.NoError(err)
	pairCache, err := dex.NewPairMetaCache(8)
	require.NoError(err)
	ctx := dex.DecodeContext{PairMetaCache: pairCache}

	counts := make(map[string]int)
	var lastBurn *model.TypedEvent
	for i, record := range result.Logs {
		require.Equal(uint64(31337), record.ChainID)
		require.Equal(uint64(i), record.LogIndex)
		if len(record.Topics) == 0 || !decoder.CanDecode(record.Topics[0]) {
			continue
		}
		event, err := decoder.Decode(record, ctx)
		require.NoError(err)
		counts[event.EventName]++
		if event.EventName == "Burn" {
			lastBurn = event
		}
	}
	require.Equal(1, counts["PairCreated"])
	require.Equal(1, counts["Mint"])
	require.Equal(3, counts["Swap"])
	require.Equal(1, counts["Burn"])
	require.Equal(6, counts["Sync"])

	require.NotNil(lastBurn)
	require.Equal(uint64(2), lastBurn.BlockNumber)
	require.Equal(uint64(1_700_003_600), lastBurn.Timestamp)
	require.Equal(uint64(1_700_000_000), result.Logs[0].Timestamp)
}

func TestReserveSnapshotsFollowSteps(t *testing.T) {
	require := require.New(t)
	sc, err := LoadScenario("testdata/lifecycle.yaml")
	require.NoError(err)
	result := runScenario(t, sc)

	// create_pair, mint, swap_exact_in, both flash swaps, sync and burn each record one.
	require.Len(result.Reserves, 7)
	first := result.Reserves[0]
	require.Equal("0", first.Reserve0)
	require.Equal("0", first.TotalSupply)
	last := result.Reserves[len(result.Reserves)-1]
	require.Equal(uint64(2), last.BlockNumber)
	require.Equal(uint64(1_700_003_600), last.Timestamp)
	require.Equal("1000", last.TotalSupply)
}

func TestUnexpectedFailureStopsRun(t *testing.T) {
	sc, err := ParseScenario([]byte(`
tokens:
  - symbol: A
    balances: {alice: "1000"}
  - symbol: B
steps:
  - action: create_pair
    token_a: A
    token_b: B
  - action: swap_exact_in
    actor: alice
    pair: A/B
    token: A
    amount: "10"
`))
	require.NoError(t, err)
	runner, err := NewRunner(sc)
	require.NoError(t, err)
	_, err = runner.Run(context.Background())
	require.ErrorIs(t, err, amm.ErrInsufficientLiquidity)
	require.Contains(t, err.Error(), "step 1 (swap_exact_in)")
}

func TestExpectedFailureThatSucceedsStopsRun(t *testing.T) {
	sc, err := ParseScenario([]byte(`
tokens:
  - symbol: A
    balances: {alice: "10000"}
  - symbol: B
    balances: {alice: "10000"}
steps:
  - action: create_pair
    token_a: A
    token_b: B
  - action: mint
    actor: alice
    pair: A/B
    deposit: {A: "5000", B: "5000"}
    expect_error: invariant
`))
	require.NoError(t, err)
	runner, err := NewRunner(sc)
	require.NoError(t, err)
	_, err = runner.Run(context.Background())
	require.ErrorContains(t, err, "expected invariant, step succeeded")
}

func TestExpectReservesMismatch(t *testing.T) {
	sc, err := ParseScenario([]byte(`
tokens:
  - symbol: A
    balances: {alice: "10000"}
  - symbol: B
    balances: {alice: "10000"}
steps:
  - action: create_pair
    token_a: A
    token_b: B
  - action: mint
    actor: alice
    pair: B/A
    deposit: {A: "5000", B: "5000"}
    expect_reserves: {A: "5000", B: "4999"}
`))
	require.NoError(t, err)
	runner, err := NewRunner(sc)
	require.NoError(t, err)
	_, err = runner.Run(context.Background())
	require.ErrorContains(t, err, "reserve of B: want 4999, got 5000")
}

const reentryScenario = `
tokens:
  - symbol: A
    balances: {alice: "100000"}
  - symbol: B
    balances: {alice: "100000"}
steps:
  - action: create_pair
    token_a: A
    token_b: B
  - action: mint
    actor: alice
    pair: A/B
    deposit: {A: "10000", B: "10000"}
  - action: flash_swap
    actor: alice
    pair: A/B
    token: A
    amount: "1000"
    reenter: %s
    expect_reentry_error: %s
`

func TestFlashSwapSurvivesRejectedReentry(t *testing.T) {
	for _, op := range []string{amm.OpSync, amm.OpSkim, amm.OpMint, amm.OpBurn, amm.OpSwap} {
		t.Run(op, func(t *testing.T) {
			require := require.New(t)
			sc, err := ParseScenario([]byte(fmt.Sprintf(reentryScenario, op, "Locked")))
			require.NoError(err)
			result := runScenario(t, sc)

			flash := result.Steps[2]
			require.Empty(flash.Error)
			require.Contains(flash.ReentryError, amm.ErrLocked.Error())

			// The flash swap committed: 1000 out, 1004 back.
			last := result.Reserves[len(result.Reserves)-1]
			reserveA, reserveB := last.Reserve0, last.Reserve1
			if reserveIndex(t, result, "A") == "1" {
				reserveA, reserveB = reserveB, reserveA
			}
			require.Equal("10004", reserveA)
			require.Equal("10000", reserveB)
		})
	}
}

func TestReentryExpectationMismatch(t *testing.T) {
	sc, err := ParseScenario([]byte(fmt.Sprintf(reentryScenario, amm.OpSync, "K")))
	require.NoError(t, err)
	runner, err := NewRunner(sc)
	require.NoError(t, err)
	_, err = runner.Run(context.Background())
	require.ErrorIs(t, err, amm.ErrLocked)
	require.ErrorContains(t, err, "expected reentry K")
}

func TestResumeFromState(t *testing.T) {
	require := require.New(t)
	sc, err := LoadScenario("testdata/lifecycle.yaml")
	require.NoError(err)
	first := runScenario(t, sc)

	next, err := ParseScenario([]byte(`
chain_id: 31337
tokens:
  - symbol: DAI
    balances: {carol: "5000"}
steps:
  - action: swap_exact_in
    actor: bob
    pair: WETH/USDC
    token: USDC
    amount: "100"
  - action: create_pair
    token_a: USDC
    token_b: DAI
`))
	require.NoError(err)
	second := runScenario(t, next, WithState(first.World))

	require.Equal(first.World.Factory, second.World.Factory)
	require.Equal(first.World.BlockNumber+1, second.World.BlockNumber)
	require.Len(second.World.Pairs, 2)
	require.Equal(first.World.Pairs[0].Address, second.World.Pairs[0].Address)
	require.Equal(first.World.BlockNumber, second.Pairs[0].FirstSeenBlock)
	require.Equal(second.World.BlockNumber, second.Pairs[1].FirstSeenBlock)

	usdc := tokenSnapshot(t, second.World, "USDC")
	require.Equal("99400", usdc.Balances[first.Accounts["bob"]])
	dai := tokenSnapshot(t, second.World, "DAI")
	require.Equal("5000", dai.TotalSupply)
}

func TestResumeRejectsOtherChain(t *testing.T) {
	_, err := NewRunner(Scenario{ChainID: 5}, WithState(model.WorldSnapshot{ChainID: 1}))
	require.ErrorContains(t, err, "does not match state chain")
}

func TestProtocolFeeAccruesToFeeTo(t *testing.T) {
	require := require.New(t)
	sc, err := ParseScenario([]byte(`
fee_to: treasury
tokens:
  - symbol: A
    balances: {alice: "10000000"}
  - symbol: B
    balances: {alice: "10000000"}
steps:
  - action: create_pair
    token_a: A
    token_b: B
  - action: mint
    actor: alice
    pair: A/B
    deposit: {A: "1000000", B: "1000000"}
  - action: swap_exact_in
    actor: alice
    pair: A/B
    token: A
    amount: "100000"
  - action: swap_exact_in
    actor: alice
    pair: A/B
    token: B
    amount: "100000"
  - action: set_fee_to
    actor: alice
    fee_to: alice
    expect_error: Forbidden
  - action: mint
    actor: alice
    pair: A/B
    deposit: {A: "1000", B: "1000"}
`))
	require.NoError(err)
	result := runScenario(t, sc)

	treasury := result.Accounts["treasury"]
	require.Equal(treasury, result.World.FeeTo)
	shares := result.World.Pairs[0].Shares.Balances[treasury]
	require.NotEmpty(shares)
	fee, err := model.ParseUint256(shares)
	require.NoError(err)
	require.False(fee.IsZero())
	require.NotEqual("0", result.World.Pairs[0].KLast)
}

func TestMetricsRecordSteps(t *testing.T) {
	require := require.New(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewPairMetrics(reg, "sim")

	sc, err := LoadScenario("testdata/lifecycle.yaml")
	require.NoError(err)
	result := runScenario(t, sc, WithMetrics(m))
	pair := result.World.Pairs[0].Address

	require.Equal(float64(1), testutil.ToFloat64(m.Steps.WithLabelValues(ActionSwap, string(amm.KindInvariant))))
	require.Equal(float64(2), testutil.ToFloat64(m.Steps.WithLabelValues(ActionFlashSwap, outcomeLabel(nil))))
	require.Equal(float64(0), testutil.ToFloat64(m.Steps.WithLabelValues(ActionFlashSwap, string(amm.KindConcurrency))))
	require.Equal(float64(1), testutil.ToFloat64(m.Operations.WithLabelValues(pair, amm.OpSync, string(amm.KindConcurrency))))
	require.Equal(float64(1), testutil.ToFloat64(m.Operations.WithLabelValues(pair, amm.OpBurn, outcomeLabel(nil))))
	require.Equal(float64(550), testutil.ToFloat64(m.Reserves.WithLabelValues(pair, reserveIndex(t, result, "USDC"))))
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(amm.Category(err))
}

func reserveIndex(t *testing.T, result Result, symbol string) string {
	t.Helper()
	addr := tokenSnapshot(t, result.World, symbol).Address
	if result.World.Pairs[0].Token0 == addr {
		return "0"
	}
	return "1"
}

func TestParseScenarioRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown action":       "steps:\n  - action: teleport\n",
		"unknown expectation":  "steps:\n  - action: sync\n    pair: A/B\n    expect_error: Nope\n",
		"unknown field":        "tokenz: []\n",
		"missing pair":         "steps:\n  - action: mint\n",
		"duplicate symbol":     "tokens:\n  - symbol: A\n  - symbol: A\n",
		"advance without time": "steps:\n  - action: advance\n",
		"reenter off flash":    "steps:\n  - action: swap\n    pair: A/B\n    reenter: sync\n",
		"unknown reenter":      "steps:\n  - action: flash_swap\n    pair: A/B\n    reenter: teleport\n",
		"bad reentry expect":   "steps:\n  - action: flash_swap\n    pair: A/B\n    reenter: sync\n    expect_reentry_error: Nope\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseScenario([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestPermitDeadline(t *testing.T) {
	require.Equal(t, uint64(4600), permitDeadline(1000, 0))
	require.Equal(t, uint64(1060), permitDeadline(1000, 60))
	require.Equal(t, uint64(990), permitDeadline(1000, -10))
	require.Equal(t, uint64(0), permitDeadline(5, -10))
}

func TestFlashRepayment(t *testing.T) {
	repay, err := flashRepayment(uint256.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, uint64(1004), repay.Uint64())
	repay, err = flashRepayment(uint256.NewInt(997))
	require.NoError(t, err)
	require.Equal(t, uint64(1001), repay.Uint64())
}
