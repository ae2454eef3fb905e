package aggregate

import (
	"fmt"
	"math/big"
	"strings"

	"pairLedger/internal/model"
)

// V2 pairs charge 3/1000 of every input amount.
const (
	feeNumerator   = 3
	feeDenominator = 1000
)

// Accumulator holds aggregate values for a pair window.
type Accumulator struct {
	ChainID     uint64
	PairAddress string
	PairMeta    model.PairMeta
	WindowStart uint64
	WindowEnd   uint64
	SwapCount   uint64
	Volume0     *big.Int
	Volume1     *big.Int
	Fee0        *big.Int
	Fee1        *big.Int
	// Reserve0 and Reserve1 are the reserves of the latest Sync in the
	// window, nil when the window saw none.
	Reserve0   *big.Int
	Reserve1   *big.Int
	LastBlock  uint64
	LastTS     uint64
	FirstBlock uint64

	syncBlock uint64
	syncIndex uint64
}

func NewAccumulator(record model.TypedEventRecord, windowStart, windowEnd uint64) *Accumulator {
	return &Accumulator{
		ChainID:     record.ChainID,
		PairAddress: record.Address,
		PairMeta:    record.PairMeta,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Volume0:     big.NewInt(0),
		Volume1:     big.NewInt(0),
		Fee0:        big.NewInt(0),
		Fee1:        big.NewInt(0),
		LastBlock:   record.BlockNumber,
		LastTS:      record.Timestamp,
		FirstBlock:  record.BlockNumber,
	}
}

func (a *Accumulator) AddEvent(record model.TypedEventRecord) error {
	if record.Timestamp >= a.LastTS {
		a.LastTS = record.Timestamp
		a.LastBlock = record.BlockNumber
	}
	if a.FirstBlock == 0 || record.BlockNumber < a.FirstBlock {
		a.FirstBlock = record.BlockNumber
	}
	if a.PairMeta.Token0 == "" && record.PairMeta.Token0 != "" {
		a.PairMeta = record.PairMeta
	}

	if !strings.EqualFold(record.EventName, model.EventSwap) && !strings.EqualFold(record.EventName, model.EventSync) {
		return nil
	}
	payload, err := record.Payload()
	if err != nil {
		return err
	}
	switch data := payload.(type) {
	case model.SwapEventData:
		return a.applySwap(data)
	case model.SyncEventData:
		return a.applySync(data, record.BlockNumber, record.LogIndex)
	default:
		return nil
	}
}

func (a *Accumulator) applySwap(swap model.SwapEventData) error {
	amounts := make([]*big.Int, 0, 4)
	for _, value := range []string{swap.Amount0In, swap.Amount1In, swap.Amount0Out, swap.Amount1Out} {
		amount, err := parseBigInt(value)
		if err != nil {
			return err
		}
		if amount.Sign() < 0 {
			return fmt.Errorf("negative swap amount: %s", value)
		}
		amounts = append(amounts, amount)
	}
	in0, in1, out0, out1 := amounts[0], amounts[1], amounts[2], amounts[3]

	a.Volume0.Add(a.Volume0, in0)
	a.Volume0.Add(a.Volume0, out0)
	a.Volume1.Add(a.Volume1, in1)
	a.Volume1.Add(a.Volume1, out1)
	a.Fee0.Add(a.Fee0, feeFromInput(in0))
	a.Fee1.Add(a.Fee1, feeFromInput(in1))
	a.SwapCount++
	return nil
}

func (a *Accumulator) applySync(sync model.SyncEventData, block, logIndex uint64) error {
	if a.Reserve0 != nil && (block < a.syncBlock || (block == a.syncBlock && logIndex < a.syncIndex)) {
		return nil
	}
	reserve0, err := parseBigInt(sync.Reserve0)
	if err != nil {
		return err
	}
	reserve1, err := parseBigInt(sync.Reserve1)
	if err != nil {
		return err
	}
	a.Reserve0, a.Reserve1 = reserve0, reserve1
	a.syncBlock, a.syncIndex = block, logIndex
	return nil
}

func parseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return parsed, nil
}

func feeFromInput(amountIn *big.Int) *big.Int {
	if amountIn == nil {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amountIn, big.NewInt(feeNumerator))
	return fee.Div(fee, big.NewInt(feeDenominator))
}
