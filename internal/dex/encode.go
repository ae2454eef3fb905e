package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// EncodeLog packs event arguments, given in declaration order, into a log
// emitted by address. Indexed arguments become topics; the rest are
// ABI-encoded into the data field. *uint256.Int values are converted to
// *big.Int for the ABI packer.
func EncodeLog(contract abi.ABI, name string, address common.Address, args ...interface{}) (*types.Log, error) {
	event, ok := contract.Events[name]
	if !ok {
		return nil, fmt.Errorf("unknown event: %s", name)
	}
	if len(args) != len(event.Inputs) {
		return nil, fmt.Errorf("event %s: expected %d args, got %d", name, len(event.Inputs), len(args))
	}

	topics := []common.Hash{event.ID}
	data := make([]interface{}, 0, len(args))
	for i, input := range event.Inputs {
		value := toABIValue(args[i])
		if !input.Indexed {
			data = append(data, value)
			continue
		}
		topic, err := topicFor(value)
		if err != nil {
			return nil, fmt.Errorf("event %s arg %s: %w", name, input.Name, err)
		}
		topics = append(topics, topic)
	}

	packed, err := event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", name, err)
	}

	return &types.Log{
		Address: address,
		Topics:  topics,
		Data:    packed,
	}, nil
}

func toABIValue(value interface{}) interface{} {
	switch v := value.(type) {
	case *uint256.Int:
		if v == nil {
			return new(big.Int)
		}
		return v.ToBig()
	case uint64:
		return new(big.Int).SetUint64(v)
	case int:
		return big.NewInt(int64(v))
	default:
		return value
	}
}

func topicFor(value interface{}) (common.Hash, error) {
	switch v := value.(type) {
	case common.Address:
		return common.BytesToHash(v.Bytes()), nil
	case *big.Int:
		if v.Sign() < 0 {
			return common.Hash{}, fmt.Errorf("negative topic value")
		}
		return common.BigToHash(v), nil
	case common.Hash:
		return v, nil
	default:
		return common.Hash{}, fmt.Errorf("unsupported topic type %T", value)
	}
}
