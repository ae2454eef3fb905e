// Package host provides the execution environment pairs and ledgers run in:
// a journaled state with snapshot/revert, a block clock, an ordered log
// buffer, and an address directory used to resolve collaborators.
package host

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	// ErrAddressInUse is returned when code is already deployed at an address.
	ErrAddressInUse = errors.New("address already in use")
	// ErrZeroAddress is returned when deploying at the zero address.
	ErrZeroAddress = errors.New("zero address")
	// ErrExecInProgress is returned by Exec while another execution runs,
	// including a nested Exec from inside a callback.
	ErrExecInProgress = errors.New("execution already in progress")
)

// Config holds the initial block context.
type Config struct {
	ChainID        uint64
	BlockNumber    uint64
	BlockTimestamp uint64
}

// Env is a single-threaded execution host. Top-level calls go through Exec,
// which runs one at a time and makes each one atomic. Code running inside an
// Exec (including callbacks) shares the same journal, so a failure anywhere
// in the call tree can be rolled back to any earlier snapshot.
type Env struct {
	running atomic.Bool

	chainID     uint64
	blockNumber uint64
	timestamp   uint64
	txCount     uint64
	txHash      common.Hash

	journal journal
	logs    []*types.Log
	code    map[common.Address]any

	logger *zap.Logger
}

// New creates an Env.
func New(cfg Config, logger *zap.Logger) *Env {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BlockNumber == 0 {
		cfg.BlockNumber = 1
	}
	return &Env{
		chainID:     cfg.ChainID,
		blockNumber: cfg.BlockNumber,
		timestamp:   cfg.BlockTimestamp,
		code:        make(map[common.Address]any),
		logger:      logger,
	}
}

// ChainID returns the configured chain id.
func (e *Env) ChainID() uint64 {
	return e.chainID
}

// BlockNumber returns the current block number.
func (e *Env) BlockNumber() uint64 {
	return e.blockNumber
}

// BlockTimestamp returns the current block timestamp in seconds.
func (e *Env) BlockTimestamp() uint64 {
	return e.timestamp
}

// SetBlockTimestamp moves the clock. Time is not part of journaled state.
func (e *Env) SetBlockTimestamp(ts uint64) {
	e.timestamp = ts
}

// AdvanceTime moves the clock forward by seconds and opens a new block.
func (e *Env) AdvanceTime(seconds uint64) {
	e.timestamp += seconds
	e.blockNumber++
}

// Snapshot returns an id that RevertToSnapshot can roll back to.
func (e *Env) Snapshot() int {
	return e.journal.opIndex()
}

// RevertToSnapshot undoes every change recorded after the snapshot id.
func (e *Env) RevertToSnapshot(id int) {
	e.journal.revert(id)
}

// Record registers an undo operation for a state change that has just been
// applied.
func (e *Env) Record(undo func()) {
	e.journal.record(undo)
}

// Deploy binds code to an address. The binding is journaled.
func (e *Env) Deploy(addr common.Address, code any) error {
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}
	if _, ok := e.code[addr]; ok {
		return fmt.Errorf("deploy %s: %w", addr.Hex(), ErrAddressInUse)
	}
	e.code[addr] = code
	e.Record(func() { delete(e.code, addr) })
	return nil
}

// CodeAt returns the code bound to addr, or nil.
func (e *Env) CodeAt(addr common.Address) any {
	return e.code[addr]
}

// AddLog appends a log stamped with the current block and execution. The
// append is journaled so reverted executions leave no logs behind.
func (e *Env) AddLog(log *types.Log) {
	log.BlockNumber = e.blockNumber
	log.TxHash = e.txHash
	log.TxIndex = uint(e.txCount)
	log.Index = uint(len(e.logs))
	e.logs = append(e.logs, log)
	n := len(e.logs) - 1
	e.Record(func() { e.logs = e.logs[:n] })
}

// Logs returns the committed logs.
func (e *Env) Logs() []*types.Log {
	out := make([]*types.Log, len(e.logs))
	copy(out, e.logs)
	return out
}

// DrainLogs returns the committed logs and clears the buffer. It must not be
// called from inside Exec.
func (e *Env) DrainLogs() []*types.Log {
	out := e.logs
	e.logs = nil
	return out
}

// Exec runs fn as one atomic top-level operation. If fn returns an error,
// every journaled change it made is reverted. Calls are not queued: Exec
// fails with ErrExecInProgress while another execution is running.
func (e *Env) Exec(fn func() error) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrExecInProgress
	}
	defer e.running.Store(false)

	e.txCount++
	e.txHash = execHash(e.blockNumber, e.txCount)

	snap := e.Snapshot()
	if err := fn(); err != nil {
		e.RevertToSnapshot(snap)
		e.logger.Debug("execution reverted", zap.Uint64("tx", e.txCount), zap.Error(err))
		return err
	}
	// A committed top-level execution is final.
	e.journal.reset()
	return nil
}

func execHash(block, tx uint64) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], block)
	binary.BigEndian.PutUint64(buf[8:], tx)
	return crypto.Keccak256Hash(buf[:])
}
