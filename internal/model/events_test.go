package model

import (
	"encoding/json"
	"testing"
)

func TestSwapEventDataJSONStringFields(t *testing.T) {
	payload := SwapEventData{
		Sender:     "0x1111111111111111111111111111111111111111",
		To:         "0x2222222222222222222222222222222222222222",
		Amount0In:  "12345678901234567890",
		Amount1In:  "0",
		Amount0Out: "0",
		Amount1Out: "5192296858534827628530496329220095",
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	for _, key := range []string{"amount0_in", "amount1_in", "amount0_out", "amount1_out"} {
		if _, ok := decoded[key].(string); !ok {
			t.Fatalf("%s should be string", key)
		}
	}
}

func TestTypedEventRecordPayload(t *testing.T) {
	line := `{"event_name":"sync","address":"0x00000000000000000000000000000000000000bb","decoded":{"reserve0":"550","reserve1":"1820"}}`
	var record TypedEventRecord
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	payload, err := record.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	sync, ok := payload.(SyncEventData)
	if !ok || sync.Reserve0 != "550" || sync.Reserve1 != "1820" {
		t.Fatalf("sync payload mismatch: %#v", payload)
	}

	record.EventName = EventPairCreated
	record.Decoded = json.RawMessage(`{"token0":"0xa0","token1":"0xa1","pair":"0xbb","index":"1"}`)
	payload, err = record.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if created, ok := payload.(PairCreatedEventData); !ok || created.Pair != "0xbb" {
		t.Fatalf("pair created payload mismatch: %#v", payload)
	}

	record.EventName = "Collect"
	if _, err := record.Payload(); err == nil {
		t.Fatalf("expected unknown event error")
	}
	record.EventName = EventSwap
	record.Decoded = json.RawMessage(`[1,2]`)
	if _, err := record.Payload(); err == nil {
		t.Fatalf("expected decode error")
	}
}
