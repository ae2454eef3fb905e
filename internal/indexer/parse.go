package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"pairLedger/internal/dex"
)

// ParseAddresses turns factory or pair addresses into a list without
// duplicates, keeping first-seen order. Blank entries are ignored.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	seen := make(map[common.Address]struct{}, len(inputs))
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addr := common.HexToAddress(input)
		if addr == (common.Address{}) {
			return nil, fmt.Errorf("zero address in list")
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// ParseTopic0 resolves pair event filters. Each entry is either a V2 pair
// event name (Mint, Burn, Swap, Sync) or a 32-byte hex topic0.
func ParseTopic0(inputs []string) ([]common.Hash, error) {
	pairABI, err := dex.PairABI()
	if err != nil {
		return nil, err
	}

	topics := make([]common.Hash, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if event, ok := pairABI.Events[input]; ok {
			topics = append(topics, event.ID)
			continue
		}
		if !strings.HasPrefix(input, "0x") {
			return nil, fmt.Errorf("unknown pair event: %s", input)
		}
		data, err := hexutil.Decode(input)
		if err != nil {
			return nil, fmt.Errorf("invalid topic0: %s", input)
		}
		if len(data) != common.HashLength {
			return nil, fmt.Errorf("invalid topic0 length: %s", input)
		}
		topics = append(topics, common.BytesToHash(data))
	}
	return topics, nil
}
