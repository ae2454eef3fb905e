package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TypedEventRecord is a TypedEvent read back from JSONL, with the payload
// left raw until Payload is called.
type TypedEventRecord struct {
	ChainID     uint64          `json:"chain_id"`
	BlockNumber uint64          `json:"block_number"`
	BlockHash   string          `json:"block_hash"`
	TxHash      string          `json:"tx_hash"`
	LogIndex    uint64          `json:"log_index"`
	Address     string          `json:"address"`
	EventName   string          `json:"event_name"`
	Timestamp   uint64          `json:"timestamp"`
	Decoded     json.RawMessage `json:"decoded"`
	PairMeta    PairMeta        `json:"pair_meta"`
	Raw         *RawLogRef      `json:"raw,omitempty"`
}

// Payload decodes the raw payload into the event data type named by
// EventName (SwapEventData, SyncEventData, ...). Names match case-insensitively.
func (r TypedEventRecord) Payload() (interface{}, error) {
	var out interface{}
	switch {
	case strings.EqualFold(r.EventName, EventSwap):
		out = &SwapEventData{}
	case strings.EqualFold(r.EventName, EventSync):
		out = &SyncEventData{}
	case strings.EqualFold(r.EventName, EventMint):
		out = &MintEventData{}
	case strings.EqualFold(r.EventName, EventBurn):
		out = &BurnEventData{}
	case strings.EqualFold(r.EventName, EventPairCreated):
		out = &PairCreatedEventData{}
	default:
		return nil, fmt.Errorf("unknown event %q", r.EventName)
	}
	if err := json.Unmarshal(r.Decoded, out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.EventName, err)
	}

	switch v := out.(type) {
	case *SwapEventData:
		return *v, nil
	case *SyncEventData:
		return *v, nil
	case *MintEventData:
		return *v, nil
	case *BurnEventData:
		return *v, nil
	default:
		return *(v.(*PairCreatedEventData)), nil
	}
}
