// Package token implements an ERC20-style fungible ledger with a signed
// approval extension. All mutations are journaled through the host so they
// roll back with the execution that made them.
package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"pairLedger/internal/dex"
	"pairLedger/internal/host"
	"pairLedger/internal/model"
)

// MaxUint256 is treated as an infinite allowance.
var MaxUint256 = new(uint256.Int).SetAllOne()

// Metadata describes a token.
type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// Ledger is one fungible asset living at a fixed address.
type Ledger struct {
	env     *host.Env
	address common.Address
	meta    Metadata

	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
	nonces      map[common.Address]uint64

	domainSeparator common.Hash
}

// NewLedger creates a ledger at address. It does not deploy it; callers that
// need address resolution use Deploy.
func NewLedger(env *host.Env, address common.Address, meta Metadata) *Ledger {
	l := &Ledger{
		env:         env,
		address:     address,
		meta:        meta,
		totalSupply: new(uint256.Int),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
		nonces:      make(map[common.Address]uint64),
	}
	l.domainSeparator = domainSeparator(meta.Name, env.ChainID(), address)
	return l
}

// Deploy creates a ledger and binds it to address in env.
func Deploy(env *host.Env, address common.Address, meta Metadata) (*Ledger, error) {
	l := NewLedger(env, address, meta)
	if err := env.Deploy(address, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Address() common.Address { return l.address }
func (l *Ledger) Name() string            { return l.meta.Name }
func (l *Ledger) Symbol() string          { return l.meta.Symbol }
func (l *Ledger) Decimals() uint8         { return l.meta.Decimals }

// DomainSeparator returns the EIP-712 domain separator bound to this ledger.
func (l *Ledger) DomainSeparator() common.Hash { return l.domainSeparator }

// TotalSupply returns a copy of the total supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	return l.totalSupply.Clone()
}

// BalanceOf returns a copy of holder's balance.
func (l *Ledger) BalanceOf(holder common.Address) *uint256.Int {
	if b, ok := l.balances[holder]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Allowance returns a copy of the amount spender may move for owner.
func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := l.allowances[owner][spender]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Nonce returns owner's permit nonce.
func (l *Ledger) Nonce(owner common.Address) uint64 {
	return l.nonces[owner]
}

// Mint creates value units for to.
func (l *Ledger) Mint(to common.Address, value *uint256.Int) error {
	if value == nil {
		return ErrNilAmount
	}
	supply, overflow := new(uint256.Int).AddOverflow(l.totalSupply, value)
	if overflow {
		return ErrSupplyOverflow
	}
	l.setSupply(supply)
	// Balances never exceed total supply, so this cannot overflow.
	l.setBalance(to, new(uint256.Int).Add(l.BalanceOf(to), value))
	return l.emit("Transfer", common.Address{}, to, value)
}

// Burn destroys value units held by from.
func (l *Ledger) Burn(from common.Address, value *uint256.Int) error {
	if value == nil {
		return ErrNilAmount
	}
	balance := l.BalanceOf(from)
	if balance.Lt(value) {
		return fmt.Errorf("burn %s from %s: %w", value.Dec(), from.Hex(), ErrInsufficientBalance)
	}
	l.setBalance(from, new(uint256.Int).Sub(balance, value))
	l.setSupply(new(uint256.Int).Sub(l.totalSupply, value))
	return l.emit("Transfer", from, common.Address{}, value)
}

// Transfer moves value from from to to. It reports success explicitly; a
// false result without an error never happens for this ledger but callers
// treat it as failure.
func (l *Ledger) Transfer(from, to common.Address, value *uint256.Int) (bool, error) {
	if err := l.transfer(from, to, value); err != nil {
		return false, err
	}
	return true, nil
}

// Approve sets spender's allowance over owner's balance.
func (l *Ledger) Approve(owner, spender common.Address, value *uint256.Int) (bool, error) {
	if value == nil {
		return false, ErrNilAmount
	}
	l.setAllowance(owner, spender, value.Clone())
	if err := l.emit("Approval", owner, spender, value); err != nil {
		return false, err
	}
	return true, nil
}

// TransferFrom moves value from from to to using spender's allowance. An
// allowance of MaxUint256 is never decremented.
func (l *Ledger) TransferFrom(spender, from, to common.Address, value *uint256.Int) (bool, error) {
	if value == nil {
		return false, ErrNilAmount
	}
	allowance := l.Allowance(from, spender)
	if !allowance.Eq(MaxUint256) {
		if allowance.Lt(value) {
			return false, ErrInsufficientAllowance
		}
		l.setAllowance(from, spender, new(uint256.Int).Sub(allowance, value))
	}
	if err := l.transfer(from, to, value); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Ledger) transfer(from, to common.Address, value *uint256.Int) error {
	if value == nil {
		return ErrNilAmount
	}
	if from == (common.Address{}) {
		return ErrInvalidSender
	}
	balance := l.BalanceOf(from)
	if balance.Lt(value) {
		return fmt.Errorf("transfer %s %s from %s: %w", value.Dec(), l.meta.Symbol, from.Hex(), ErrInsufficientBalance)
	}
	l.setBalance(from, new(uint256.Int).Sub(balance, value))
	l.setBalance(to, new(uint256.Int).Add(l.BalanceOf(to), value))
	return l.emit("Transfer", from, to, value)
}

func (l *Ledger) setBalance(holder common.Address, value *uint256.Int) {
	prev, existed := l.balances[holder]
	l.balances[holder] = value
	l.env.Record(func() {
		if existed {
			l.balances[holder] = prev
		} else {
			delete(l.balances, holder)
		}
	})
}

func (l *Ledger) setSupply(value *uint256.Int) {
	prev := l.totalSupply
	l.totalSupply = value
	l.env.Record(func() { l.totalSupply = prev })
}

func (l *Ledger) setAllowance(owner, spender common.Address, value *uint256.Int) {
	inner, ok := l.allowances[owner]
	if !ok {
		inner = make(map[common.Address]*uint256.Int)
		l.allowances[owner] = inner
	}
	prev, existed := inner[spender]
	inner[spender] = value
	l.env.Record(func() {
		if existed {
			inner[spender] = prev
		} else {
			delete(inner, spender)
		}
	})
}

func (l *Ledger) setNonce(owner common.Address, nonce uint64) {
	prev := l.nonces[owner]
	l.nonces[owner] = nonce
	l.env.Record(func() { l.nonces[owner] = prev })
}

func (l *Ledger) emit(event string, a, b common.Address, value *uint256.Int) error {
	erc20, err := dex.ERC20ABI()
	if err != nil {
		return err
	}
	log, err := dex.EncodeLog(erc20, event, l.address, a, b, value)
	if err != nil {
		return err
	}
	l.env.AddLog(log)
	return nil
}

// Snapshot exports the ledger state.
func (l *Ledger) Snapshot() model.TokenSnapshot {
	snap := model.TokenSnapshot{
		Address:     l.address.Hex(),
		Name:        l.meta.Name,
		Symbol:      l.meta.Symbol,
		Decimals:    l.meta.Decimals,
		TotalSupply: l.totalSupply.Dec(),
		Balances:    make(map[string]string, len(l.balances)),
		Nonces:      make(map[string]uint64, len(l.nonces)),
	}
	for holder, balance := range l.balances {
		if balance.IsZero() {
			continue
		}
		snap.Balances[holder.Hex()] = balance.Dec()
	}
	for owner, nonce := range l.nonces {
		if nonce > 0 {
			snap.Nonces[owner.Hex()] = nonce
		}
	}
	return snap
}

// Restore replaces balances, supply and nonces with snap. Allowances are not
// part of a snapshot and are cleared. Restore is not journaled.
func (l *Ledger) Restore(snap model.TokenSnapshot) error {
	supply, err := model.ParseUint256(snap.TotalSupply)
	if err != nil {
		return fmt.Errorf("total supply: %w", err)
	}
	balances := make(map[common.Address]*uint256.Int, len(snap.Balances))
	sum := new(uint256.Int)
	for holder, raw := range snap.Balances {
		if !common.IsHexAddress(holder) {
			return fmt.Errorf("invalid holder address: %s", holder)
		}
		balance, err := model.ParseUint256(raw)
		if err != nil {
			return fmt.Errorf("balance of %s: %w", holder, err)
		}
		var overflow bool
		if sum, overflow = new(uint256.Int).AddOverflow(sum, balance); overflow {
			return ErrSupplyOverflow
		}
		balances[common.HexToAddress(holder)] = balance
	}
	if sum.Gt(supply) {
		return fmt.Errorf("balances exceed total supply %s", supply.Dec())
	}
	nonces := make(map[common.Address]uint64, len(snap.Nonces))
	for owner, nonce := range snap.Nonces {
		if !common.IsHexAddress(owner) {
			return fmt.Errorf("invalid nonce owner: %s", owner)
		}
		nonces[common.HexToAddress(owner)] = nonce
	}

	l.totalSupply = supply
	l.balances = balances
	l.nonces = nonces
	l.allowances = make(map[common.Address]map[common.Address]*uint256.Int)
	return nil
}
