package simulate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pairLedger/internal/amm"
	"pairLedger/internal/host"
	"pairLedger/internal/metrics"
	"pairLedger/internal/model"
	"pairLedger/internal/registry"
	"pairLedger/internal/token"
)

const (
	defaultChainID  = 1
	defaultDecimals = 18
	defaultActor    = "deployer"
)

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger. It is also handed to the host, the
// registry and every pair.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records step and pair operation outcomes.
func WithMetrics(m *metrics.PairMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithState resumes from a world snapshot instead of an empty world.
func WithState(world model.WorldSnapshot) Option {
	return func(r *Runner) { r.state = &world }
}

// StepOutcome reports how one step ended. Error is empty on success and
// holds the expected failure otherwise. ReentryError is the rejected
// re-entry of a flash swap.
type StepOutcome struct {
	Index        int    `json:"index"`
	Action       string `json:"action"`
	Error        string `json:"error,omitempty"`
	ReentryError string `json:"reentry_error,omitempty"`
}

// Result is everything a run produced.
type Result struct {
	Logs     []model.LogRecord
	World    model.WorldSnapshot
	Pairs    []model.Pair
	Reserves []model.ReserveSnapshot
	Steps    []StepOutcome
	Accounts map[string]string
}

// Runner executes a scenario against its own host.
type Runner struct {
	scenario Scenario

	env      *host.Env
	registry *registry.Registry
	actors   *actors

	tokens    map[string]*token.Ledger
	tokenAddr map[common.Address]*token.Ledger
	order     []*token.Ledger

	blockTimes map[uint64]uint64
	firstSeen  map[common.Address]uint64
	reserves   []model.ReserveSnapshot
	reentryErr error

	state   *model.WorldSnapshot
	metrics *metrics.PairMetrics
	logger  *zap.Logger
}

// NewRunner builds the world a scenario starts from: the registry, restored
// state if any, and the scenario's tokens with their initial balances.
func NewRunner(sc Scenario, opts ...Option) (*Runner, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		scenario:   sc,
		actors:     newActors(),
		tokens:     make(map[string]*token.Ledger),
		tokenAddr:  make(map[common.Address]*token.Ledger),
		blockTimes: make(map[uint64]uint64),
		firstSeen:  make(map[common.Address]uint64),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	cfg := host.Config{ChainID: sc.ChainID, BlockTimestamp: sc.StartTime}
	if cfg.ChainID == 0 {
		cfg.ChainID = defaultChainID
	}
	if r.state != nil {
		if sc.ChainID != 0 && sc.ChainID != r.state.ChainID {
			return nil, fmt.Errorf("scenario chain %d does not match state chain %d", sc.ChainID, r.state.ChainID)
		}
		cfg.ChainID = r.state.ChainID
		cfg.BlockNumber = r.state.BlockNumber + 1
		if cfg.BlockTimestamp < r.state.BlockTimestamp {
			cfg.BlockTimestamp = r.state.BlockTimestamp
		}
	}
	r.env = host.New(cfg, r.logger)
	r.markBlock()

	if err := r.env.Exec(r.setup); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	return r, nil
}

func (r *Runner) setup() error {
	setter, err := r.account(r.scenario.FeeToSetter)
	if err != nil {
		return fmt.Errorf("fee_to_setter: %w", err)
	}
	factory := derivedAddress("pairLedger:factory")
	if r.scenario.Factory != "" {
		if !common.IsHexAddress(r.scenario.Factory) {
			return fmt.Errorf("invalid factory address: %s", r.scenario.Factory)
		}
		factory = common.HexToAddress(r.scenario.Factory)
	}
	if r.state != nil && r.state.Factory != "" {
		factory = common.HexToAddress(r.state.Factory)
	}

	opts := []registry.Option{registry.WithLogger(r.logger)}
	if r.metrics != nil {
		opts = append(opts, registry.WithPairOptions(amm.WithObserver(r.metrics)))
	}
	r.registry, err = registry.New(r.env, factory, setter, opts...)
	if err != nil {
		return err
	}

	if r.state != nil {
		if err := r.restore(*r.state); err != nil {
			return err
		}
	}
	for _, spec := range r.scenario.Tokens {
		if err := r.seedToken(spec); err != nil {
			return fmt.Errorf("token %s: %w", spec.Symbol, err)
		}
	}
	if r.scenario.FeeTo != "" {
		feeTo, err := r.account(r.scenario.FeeTo)
		if err != nil {
			return fmt.Errorf("fee_to: %w", err)
		}
		if err := r.registry.SetFeeTo(r.registry.FeeToSetter(), feeTo); err != nil {
			return fmt.Errorf("fee_to: %w", err)
		}
	}
	return nil
}

func (r *Runner) restore(world model.WorldSnapshot) error {
	for _, snap := range world.Tokens {
		if !common.IsHexAddress(snap.Address) {
			return fmt.Errorf("invalid token address: %s", snap.Address)
		}
		ledger, err := token.Deploy(r.env, common.HexToAddress(snap.Address), token.Metadata{
			Name:     snap.Name,
			Symbol:   snap.Symbol,
			Decimals: snap.Decimals,
		})
		if err != nil {
			return fmt.Errorf("restore token %s: %w", snap.Symbol, err)
		}
		if err := ledger.Restore(snap); err != nil {
			return fmt.Errorf("restore token %s: %w", snap.Symbol, err)
		}
		if err := r.addToken(ledger); err != nil {
			return err
		}
	}
	if err := r.registry.Restore(world); err != nil {
		return err
	}
	for _, pair := range r.registry.Pairs() {
		r.firstSeen[pair.Address()] = world.BlockNumber
	}
	r.logger.Info("state restored",
		zap.Int("tokens", len(world.Tokens)),
		zap.Int("pairs", len(world.Pairs)),
		zap.Uint64("block", world.BlockNumber),
	)
	return nil
}

// seedToken deploys a declared token unless restored state already holds
// it, then mints the initial balances in account name order.
func (r *Runner) seedToken(spec TokenSpec) error {
	ledger, ok := r.tokens[spec.Symbol]
	if !ok {
		addr := derivedAddress("pairLedger:token:" + spec.Symbol)
		if spec.Address != "" {
			if !common.IsHexAddress(spec.Address) {
				return fmt.Errorf("invalid address: %s", spec.Address)
			}
			addr = common.HexToAddress(spec.Address)
		}
		meta := token.Metadata{Name: spec.Name, Symbol: spec.Symbol, Decimals: spec.Decimals}
		if meta.Name == "" {
			meta.Name = spec.Symbol
		}
		if meta.Decimals == 0 {
			meta.Decimals = defaultDecimals
		}
		var err error
		if ledger, err = token.Deploy(r.env, addr, meta); err != nil {
			return err
		}
		if err := r.addToken(ledger); err != nil {
			return err
		}
	}

	holders := make([]string, 0, len(spec.Balances))
	for holder := range spec.Balances {
		holders = append(holders, holder)
	}
	sort.Strings(holders)
	for _, holder := range holders {
		to, err := r.account(holder)
		if err != nil {
			return err
		}
		value, err := parseAmount(spec.Balances[holder])
		if err != nil {
			return fmt.Errorf("balance of %s: %w", holder, err)
		}
		if err := ledger.Mint(to, value); err != nil {
			return fmt.Errorf("balance of %s: %w", holder, err)
		}
	}
	return nil
}

func (r *Runner) addToken(ledger *token.Ledger) error {
	if _, ok := r.tokens[ledger.Symbol()]; ok {
		return fmt.Errorf("token symbol %s already in use", ledger.Symbol())
	}
	r.tokens[ledger.Symbol()] = ledger
	r.tokenAddr[ledger.Address()] = ledger
	r.order = append(r.order, ledger)
	return nil
}

// Run executes every step in order. A step that fails without declaring the
// failure, or that succeeds while expecting one, stops the run.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	outcomes := make([]StepOutcome, 0, len(r.scenario.Steps))
	for i, step := range r.scenario.Steps {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		outcome, err := r.runStep(i, step)
		if err != nil {
			return Result{}, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
		outcomes = append(outcomes, outcome)
	}

	result := r.result()
	result.Steps = outcomes
	r.logger.Info("scenario finished",
		zap.String("scenario", r.scenario.Name),
		zap.Int("steps", len(outcomes)),
		zap.Int("logs", len(result.Logs)),
		zap.Int("pairs", len(result.Pairs)),
	)
	return result, nil
}

func (r *Runner) runStep(i int, step Step) (StepOutcome, error) {
	start := time.Now()
	r.reentryErr = nil
	var pair *amm.Pair
	stepErr := r.env.Exec(func() error {
		var err error
		pair, err = r.apply(step)
		return err
	})
	elapsed := time.Since(start)
	r.markBlock()
	if r.metrics != nil {
		r.metrics.ObserveStep(step.Action, stepErr, elapsed)
	}

	fields := []zap.Field{
		zap.Int("step", i),
		zap.String("action", step.Action),
		zap.Uint64("block", r.env.BlockNumber()),
		zap.Duration("elapsed", elapsed),
	}
	if stepErr != nil {
		r.logger.Warn("step reverted", append(fields,
			zap.String("category", string(amm.Category(stepErr))),
			zap.Error(stepErr),
		)...)
	} else {
		if r.reentryErr != nil {
			fields = append(fields, zap.NamedError("reentry", r.reentryErr))
		}
		r.logger.Info("step applied", fields...)
	}

	if err := checkExpectation(step, stepErr); err != nil {
		return StepOutcome{}, err
	}
	outcome := StepOutcome{Index: i, Action: step.Action}
	if stepErr != nil {
		outcome.Error = stepErr.Error()
		return outcome, nil
	}
	if err := checkReentry(step, r.reentryErr); err != nil {
		return StepOutcome{}, err
	}
	if r.reentryErr != nil {
		outcome.ReentryError = r.reentryErr.Error()
	}
	if pair != nil {
		r.recordReserves(pair)
		if err := r.checkReserves(step, pair); err != nil {
			return StepOutcome{}, err
		}
	}
	return outcome, nil
}

func (r *Runner) markBlock() {
	r.blockTimes[r.env.BlockNumber()] = r.env.BlockTimestamp()
}

func (r *Runner) recordReserves(pair *amm.Pair) {
	reserve0, reserve1, _ := pair.GetReserves()
	r.reserves = append(r.reserves, model.ReserveSnapshot{
		ChainID:     r.env.ChainID(),
		Pair:        pair.Address().Hex(),
		BlockNumber: r.env.BlockNumber(),
		Timestamp:   r.env.BlockTimestamp(),
		Reserve0:    reserve0.Dec(),
		Reserve1:    reserve1.Dec(),
		TotalSupply: pair.TotalSupply().Dec(),
	})
}

func (r *Runner) checkReserves(step Step, pair *amm.Pair) error {
	if len(step.ExpectReserves) == 0 {
		return nil
	}
	want0, want1, err := r.pairAmounts(pair, step.ExpectReserves)
	if err != nil {
		return fmt.Errorf("expect_reserves: %w", err)
	}
	reserve0, reserve1, _ := pair.GetReserves()
	for symbol, raw := range step.ExpectReserves {
		want, got := want0, reserve0
		if r.tokens[symbol].Address() == pair.Token1() {
			want, got = want1, reserve1
		}
		if !want.Eq(got) {
			return fmt.Errorf("reserve of %s: want %s, got %s", symbol, raw, got.Dec())
		}
	}
	return nil
}

// Snapshot exports the current world.
func (r *Runner) Snapshot() model.WorldSnapshot {
	world := model.WorldSnapshot{
		ChainID:        r.env.ChainID(),
		BlockNumber:    r.env.BlockNumber(),
		BlockTimestamp: r.env.BlockTimestamp(),
		Tokens:         make([]model.TokenSnapshot, 0, len(r.order)),
		TakenAt:        time.Now().UTC().Format(time.RFC3339),
	}
	for _, ledger := range r.order {
		world.Tokens = append(world.Tokens, ledger.Snapshot())
	}
	r.registry.Snapshot(&world)
	return world
}

func (r *Runner) result() Result {
	chainID := r.env.ChainID()
	ingestedAt := time.Now().UTC()
	logs := r.env.Logs()
	records := make([]model.LogRecord, 0, len(logs))
	for _, log := range logs {
		records = append(records, model.NewLogRecord(chainID, log, r.blockTimes[log.BlockNumber], ingestedAt))
	}

	pairs := make([]model.Pair, 0, r.registry.AllPairsLength())
	for _, pair := range r.registry.Pairs() {
		pairs = append(pairs, model.Pair{
			ChainID:        chainID,
			Address:        pair.Address().Hex(),
			Factory:        r.registry.Address().Hex(),
			Token0:         pair.Token0().Hex(),
			Token1:         pair.Token1().Hex(),
			FirstSeenBlock: r.firstSeen[pair.Address()],
		})
	}

	accounts := make(map[string]string, len(r.actors.byName))
	for name, act := range r.actors.byName {
		accounts[name] = act.address.Hex()
	}

	reserves := make([]model.ReserveSnapshot, len(r.reserves))
	copy(reserves, r.reserves)
	return Result{
		Logs:     records,
		World:    r.Snapshot(),
		Pairs:    pairs,
		Reserves: reserves,
		Accounts: accounts,
	}
}
