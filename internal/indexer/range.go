package indexer

import (
	"errors"
	"fmt"
)

// BlockRange is an inclusive span of blocks read with one eth_getLogs call.
type BlockRange struct {
	From uint64
	To   uint64
}

// Blocks returns the number of blocks in the range.
func (r BlockRange) Blocks() uint64 {
	return r.To - r.From + 1
}

// SplitRange cuts [from, to] into consecutive ranges of batchSize blocks.
// The last range holds whatever is left.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	switch {
	case batchSize == 0:
		return nil, errors.New("batch size must be greater than zero")
	case to < from:
		return nil, fmt.Errorf("invalid block range %d-%d", from, to)
	}

	ranges := make([]BlockRange, 0, (to-from)/batchSize+1)
	for start := from; ; start += batchSize {
		if to-start < batchSize {
			return append(ranges, BlockRange{From: start, To: to}), nil
		}
		ranges = append(ranges, BlockRange{From: start, To: start + batchSize - 1})
	}
}
