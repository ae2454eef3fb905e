// Package registry is the pair factory: it orders token pairs canonically,
// derives deterministic pair addresses and owns the protocol fee settings.
package registry

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"pairLedger/internal/amm"
	"pairLedger/internal/dex"
	"pairLedger/internal/host"
	"pairLedger/internal/model"
)

// DefaultInitCodeHash is the Uniswap V2 pair creation code hash. With the
// mainnet factory address it reproduces mainnet pair addresses.
var DefaultInitCodeHash = common.HexToHash("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f")

// Option configures a Registry.
type Option func(*Registry)

// WithInitCodeHash overrides the hash used to derive pair addresses.
func WithInitCodeHash(h common.Hash) Option {
	return func(r *Registry) { r.initCodeHash = h }
}

// WithPairOptions sets the options every created pair is built with.
func WithPairOptions(opts ...amm.Option) Option {
	return func(r *Registry) { r.pairOpts = append(r.pairOpts, opts...) }
}

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry creates and indexes pairs.
type Registry struct {
	env     *host.Env
	address common.Address

	feeTo       common.Address
	feeToSetter common.Address

	getPair  map[common.Address]map[common.Address]common.Address
	allPairs []common.Address
	pairs    map[common.Address]*amm.Pair

	initCodeHash common.Hash
	pairOpts     []amm.Option
	logger       *zap.Logger
}

// New creates a registry and deploys it at address so pairs can resolve it
// as their fee source.
func New(env *host.Env, address, feeToSetter common.Address, opts ...Option) (*Registry, error) {
	r := &Registry{
		env:          env,
		address:      address,
		feeToSetter:  feeToSetter,
		getPair:      make(map[common.Address]map[common.Address]common.Address),
		pairs:        make(map[common.Address]*amm.Pair),
		initCodeHash: DefaultInitCodeHash,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := env.Deploy(address, r); err != nil {
		return nil, fmt.Errorf("deploy registry: %w", err)
	}
	return r, nil
}

func (r *Registry) Address() common.Address     { return r.address }
func (r *Registry) FeeTo() common.Address       { return r.feeTo }
func (r *Registry) FeeToSetter() common.Address { return r.feeToSetter }

// SortTokens returns the tokens in canonical order.
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address, error) {
	if tokenA == tokenB {
		return common.Address{}, common.Address{}, amm.ErrIdenticalAddresses
	}
	token0, token1 := tokenA, tokenB
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		token0, token1 = tokenB, tokenA
	}
	if token0 == (common.Address{}) {
		return common.Address{}, common.Address{}, amm.ErrZeroAddress
	}
	return token0, token1, nil
}

// PairFor derives the pair address for two tokens without looking it up.
func PairFor(factory common.Address, initCodeHash common.Hash, tokenA, tokenB common.Address) (common.Address, error) {
	token0, token1, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	salt := crypto.Keccak256Hash(token0.Bytes(), token1.Bytes())
	return crypto.CreateAddress2(factory, salt, initCodeHash.Bytes()), nil
}

// CreatePair deploys and initializes the pair for two tokens.
func (r *Registry) CreatePair(tokenA, tokenB common.Address) (common.Address, error) {
	token0, token1, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	if _, ok := r.getPair[token0][token1]; ok {
		return common.Address{}, amm.ErrPairExists
	}
	addr, err := PairFor(r.address, r.initCodeHash, token0, token1)
	if err != nil {
		return common.Address{}, err
	}

	pair := amm.NewPair(r.env, addr, r.address, r.pairOptions()...)
	if err := r.env.Deploy(addr, pair); err != nil {
		return common.Address{}, err
	}
	if err := pair.Initialize(r.address, token0, token1); err != nil {
		return common.Address{}, err
	}
	r.index(token0, token1, pair)

	factoryABI, err := dex.FactoryABI()
	if err != nil {
		return common.Address{}, err
	}
	log, err := dex.EncodeLog(factoryABI, "PairCreated", r.address, token0, token1, addr, uint64(len(r.allPairs)))
	if err != nil {
		return common.Address{}, err
	}
	r.env.AddLog(log)

	r.logger.Info("pair created",
		zap.String("pair", addr.Hex()),
		zap.String("token0", token0.Hex()),
		zap.String("token1", token1.Hex()),
	)
	return addr, nil
}

func (r *Registry) pairOptions() []amm.Option {
	opts := []amm.Option{amm.WithLogger(r.logger)}
	return append(opts, r.pairOpts...)
}

// index records the pair in both lookup directions. It is journaled.
func (r *Registry) index(token0, token1 common.Address, pair *amm.Pair) {
	addr := pair.Address()
	r.setPair(token0, token1, addr)
	r.setPair(token1, token0, addr)
	r.allPairs = append(r.allPairs, addr)
	r.pairs[addr] = pair
	n := len(r.allPairs) - 1
	r.env.Record(func() {
		r.allPairs = r.allPairs[:n]
		delete(r.pairs, addr)
	})
}

func (r *Registry) setPair(a, b, pair common.Address) {
	inner, ok := r.getPair[a]
	if !ok {
		inner = make(map[common.Address]common.Address)
		r.getPair[a] = inner
	}
	inner[b] = pair
	r.env.Record(func() { delete(inner, b) })
}

// GetPair returns the pair address for two tokens in either order.
func (r *Registry) GetPair(tokenA, tokenB common.Address) (common.Address, bool) {
	addr, ok := r.getPair[tokenA][tokenB]
	return addr, ok
}

// AllPairs returns the i-th created pair.
func (r *Registry) AllPairs(i int) (common.Address, bool) {
	if i < 0 || i >= len(r.allPairs) {
		return common.Address{}, false
	}
	return r.allPairs[i], true
}

// AllPairsLength returns the number of pairs created.
func (r *Registry) AllPairsLength() int {
	return len(r.allPairs)
}

// Pair returns the pair deployed at addr.
func (r *Registry) Pair(addr common.Address) (*amm.Pair, bool) {
	p, ok := r.pairs[addr]
	return p, ok
}

// Pairs returns every pair in creation order.
func (r *Registry) Pairs() []*amm.Pair {
	out := make([]*amm.Pair, 0, len(r.allPairs))
	for _, addr := range r.allPairs {
		out = append(out, r.pairs[addr])
	}
	return out
}

// SetFeeTo sets the protocol fee recipient. Only the fee setter may call it.
func (r *Registry) SetFeeTo(caller, feeTo common.Address) error {
	if caller != r.feeToSetter {
		return amm.ErrForbidden
	}
	prev := r.feeTo
	r.feeTo = feeTo
	r.env.Record(func() { r.feeTo = prev })
	return nil
}

// SetFeeToSetter hands the fee setter role to another address.
func (r *Registry) SetFeeToSetter(caller, feeToSetter common.Address) error {
	if caller != r.feeToSetter {
		return amm.ErrForbidden
	}
	prev := r.feeToSetter
	r.feeToSetter = feeToSetter
	r.env.Record(func() { r.feeToSetter = prev })
	return nil
}

// Snapshot fills the registry part of a world snapshot.
func (r *Registry) Snapshot(world *model.WorldSnapshot) {
	world.Factory = r.address.Hex()
	world.FeeTo = r.feeTo.Hex()
	world.FeeToSetter = r.feeToSetter.Hex()
	world.Pairs = make([]model.PairSnapshot, 0, len(r.allPairs))
	for _, pair := range r.Pairs() {
		world.Pairs = append(world.Pairs, pair.Snapshot())
	}
}

// Restore rebuilds fee settings and pairs from a world snapshot into an empty
// registry. Pair addresses are taken from the snapshot as-is, so forked
// pairs keep their on-chain address.
func (r *Registry) Restore(world model.WorldSnapshot) error {
	if len(r.allPairs) > 0 {
		return fmt.Errorf("restore into non-empty registry")
	}
	if world.FeeTo != "" {
		r.feeTo = common.HexToAddress(world.FeeTo)
	}
	if world.FeeToSetter != "" {
		r.feeToSetter = common.HexToAddress(world.FeeToSetter)
	}
	for _, snap := range world.Pairs {
		if !common.IsHexAddress(snap.Address) {
			return fmt.Errorf("invalid pair address: %s", snap.Address)
		}
		addr := common.HexToAddress(snap.Address)
		pair := amm.NewPair(r.env, addr, r.address, r.pairOptions()...)
		if err := pair.Restore(snap); err != nil {
			return fmt.Errorf("restore pair %s: %w", snap.Address, err)
		}
		token0, token1 := pair.Token0(), pair.Token1()
		if _, ok := r.getPair[token0][token1]; ok {
			return fmt.Errorf("restore pair %s: %w", snap.Address, amm.ErrPairExists)
		}
		if err := r.env.Deploy(addr, pair); err != nil {
			return fmt.Errorf("restore pair %s: %w", snap.Address, err)
		}
		r.index(token0, token1, pair)
	}
	return nil
}
