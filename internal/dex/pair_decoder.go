package dex

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"pairLedger/internal/model"
)

// PairDecoder decodes Uniswap V2 pair events and factory PairCreated events.
type PairDecoder struct {
	pairABI     abi.ABI
	factoryABI  abi.ABI
	topicToName map[string]string
}

// NewPairDecoder builds a pair decoder.
func NewPairDecoder() (*PairDecoder, error) {
	pairABI, err := PairABI()
	if err != nil {
		return nil, err
	}
	factoryABI, err := FactoryABI()
	if err != nil {
		return nil, err
	}

	topicToName := map[string]string{
		strings.ToLower(factoryABI.Events["PairCreated"].ID.Hex()): "PairCreated",
	}
	for _, name := range []string{"Swap", "Mint", "Burn", "Sync"} {
		topicToName[strings.ToLower(pairABI.Events[name].ID.Hex())] = name
	}

	return &PairDecoder{
		pairABI:     pairABI,
		factoryABI:  factoryABI,
		topicToName: topicToName,
	}, nil
}

// Topic0s returns the topic0 hashes the decoder supports.
func (d *PairDecoder) Topic0s() []common.Hash {
	topics := make([]common.Hash, 0, len(d.topicToName))
	for topic := range d.topicToName {
		topics = append(topics, common.HexToHash(topic))
	}
	return topics
}

// CanDecode checks if the topic0 is supported.
func (d *PairDecoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToName[strings.ToLower(topic0)]
	return ok
}

// Decode converts a LogRecord into a TypedEvent.
func (d *PairDecoder) Decode(log model.LogRecord, ctx DecodeContext) (*model.TypedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	name, ok := d.topicToName[strings.ToLower(log.Topics[0])]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0])
	}
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("invalid contract address: %s", log.Address)
	}

	if name == "PairCreated" {
		decoded, err := d.decodePairCreated(log)
		if err != nil {
			return nil, err
		}
		meta := model.PairMeta{Token0: decoded.Token0, Token1: decoded.Token1}
		if ctx.PairMetaCache != nil {
			ctx.PairMetaCache.Set(common.HexToAddress(decoded.Pair), meta)
		}
		return buildTypedEvent(log, name, decoded, meta), nil
	}

	pair := common.HexToAddress(log.Address)
	pairMeta, err := getPairMeta(ctx, pair, log.BlockNumber)
	if err != nil {
		return nil, err
	}

	var decoded interface{}
	switch name {
	case "Swap":
		decoded, err = d.decodeSwap(log)
	case "Mint":
		decoded, err = d.decodeMint(log)
	case "Burn":
		decoded, err = d.decodeBurn(log)
	case "Sync":
		decoded, err = d.decodeSync(log)
	default:
		return nil, fmt.Errorf("unsupported event name: %s", name)
	}
	if err != nil {
		return nil, err
	}
	return buildTypedEvent(log, name, decoded, pairMeta), nil
}

func getPairMeta(ctx DecodeContext, pair common.Address, blockNumber uint64) (model.PairMeta, error) {
	var meta model.PairMeta
	var ok bool
	if ctx.PairMetaCache != nil {
		meta, ok = ctx.PairMetaCache.Get(pair)
	}

	callCtx := ctx.Context
	if callCtx == nil {
		callCtx = context.Background()
	}

	if !ok {
		if ctx.Chain == nil {
			return model.PairMeta{}, fmt.Errorf("unknown pair %s: no PairCreated log seen and no rpc configured", pair.Hex())
		}
		var err error
		meta, err = FetchPairMeta(callCtx, ctx.Chain, pair, ctx.Retry)
		if err != nil {
			return model.PairMeta{}, err
		}
		if ctx.TokenMetaCache != nil {
			cacheTokenMeta(callCtx, ctx, common.HexToAddress(meta.Token0))
			cacheTokenMeta(callCtx, ctx, common.HexToAddress(meta.Token1))
		}
		if ctx.PairMetaCache != nil {
			ctx.PairMetaCache.Set(pair, meta)
		}
	}

	if ctx.IncludeLiveMeta && ctx.Chain != nil {
		reserve0, reserve1, err := FetchPairReserves(callCtx, ctx.Chain, pair, blockNumber, ctx.Retry)
		if err == nil {
			meta.Reserve0 = reserve0.String()
			meta.Reserve1 = reserve1.String()
		} else if ctx.Logger != nil {
			ctx.Logger.Debug("getReserves call failed", zap.String("pair", pair.Hex()), zap.Error(err))
		}
	}
	return meta, nil
}

func buildTypedEvent(log model.LogRecord, name string, decoded interface{}, meta model.PairMeta) *model.TypedEvent {
	raw := &model.RawLogRef{Topic0: log.Topics[0], Data: log.Data}
	return &model.TypedEvent{
		ChainID:     log.ChainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Address:     log.Address,
		EventName:   name,
		Timestamp:   log.Timestamp,
		Decoded:     decoded,
		PairMeta:    meta,
		Raw:         raw,
	}
}

func (d *PairDecoder) decodeSwap(log model.LogRecord) (model.SwapEventData, error) {
	event := d.pairABI.Events["Swap"]
	var indexed struct {
		Sender common.Address
		To     common.Address
	}
	if err := parseIndexed(event, log.Topics, &indexed); err != nil {
		return model.SwapEventData{}, err
	}

	amounts, err := unpackAmounts(event, log.Data, 4)
	if err != nil {
		return model.SwapEventData{}, err
	}

	return model.SwapEventData{
		Sender:     indexed.Sender.Hex(),
		To:         indexed.To.Hex(),
		Amount0In:  amounts[0],
		Amount1In:  amounts[1],
		Amount0Out: amounts[2],
		Amount1Out: amounts[3],
	}, nil
}

func (d *PairDecoder) decodeMint(log model.LogRecord) (model.MintEventData, error) {
	event := d.pairABI.Events["Mint"]
	var indexed struct {
		Sender common.Address
	}
	if err := parseIndexed(event, log.Topics, &indexed); err != nil {
		return model.MintEventData{}, err
	}

	amounts, err := unpackAmounts(event, log.Data, 2)
	if err != nil {
		return model.MintEventData{}, err
	}

	return model.MintEventData{
		Sender:  indexed.Sender.Hex(),
		Amount0: amounts[0],
		Amount1: amounts[1],
	}, nil
}

func (d *PairDecoder) decodeBurn(log model.LogRecord) (model.BurnEventData, error) {
	event := d.pairABI.Events["Burn"]
	var indexed struct {
		Sender common.Address
		To     common.Address
	}
	if err := parseIndexed(event, log.Topics, &indexed); err != nil {
		return model.BurnEventData{}, err
	}

	amounts, err := unpackAmounts(event, log.Data, 2)
	if err != nil {
		return model.BurnEventData{}, err
	}

	return model.BurnEventData{
		Sender:  indexed.Sender.Hex(),
		To:      indexed.To.Hex(),
		Amount0: amounts[0],
		Amount1: amounts[1],
	}, nil
}

func (d *PairDecoder) decodeSync(log model.LogRecord) (model.SyncEventData, error) {
	event := d.pairABI.Events["Sync"]
	if _, err := parseIndexedTopics(event, log.Topics); err != nil {
		return model.SyncEventData{}, err
	}

	amounts, err := unpackAmounts(event, log.Data, 2)
	if err != nil {
		return model.SyncEventData{}, err
	}

	return model.SyncEventData{
		Reserve0: amounts[0],
		Reserve1: amounts[1],
	}, nil
}

func (d *PairDecoder) decodePairCreated(log model.LogRecord) (model.PairCreatedEventData, error) {
	event := d.factoryABI.Events["PairCreated"]
	var indexed struct {
		Token0 common.Address
		Token1 common.Address
	}
	if err := parseIndexed(event, log.Topics, &indexed); err != nil {
		return model.PairCreatedEventData{}, err
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return model.PairCreatedEventData{}, err
	}
	if len(values) != 2 {
		return model.PairCreatedEventData{}, fmt.Errorf("unexpected PairCreated values: %d", len(values))
	}
	pair, err := asAddress(values[0])
	if err != nil {
		return model.PairCreatedEventData{}, err
	}
	index, err := asBigInt(values[1])
	if err != nil {
		return model.PairCreatedEventData{}, err
	}

	return model.PairCreatedEventData{
		Token0: indexed.Token0.Hex(),
		Token1: indexed.Token1.Hex(),
		Pair:   pair.Hex(),
		Index:  index.String(),
	}, nil
}

func parseIndexed(event abi.Event, topics []string, out interface{}) error {
	indexedTopics, err := parseIndexedTopics(event, topics)
	if err != nil {
		return err
	}
	if err := abi.ParseTopics(out, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	return nil
}

// unpackAmounts unpacks exactly want unsigned integer values as decimal strings.
func unpackAmounts(event abi.Event, dataHex string, want int) ([]string, error) {
	values, err := unpackNonIndexed(event, dataHex)
	if err != nil {
		return nil, err
	}
	if len(values) != want {
		return nil, fmt.Errorf("unexpected %s values: %d", strings.ToLower(event.Name), len(values))
	}
	out := make([]string, 0, want)
	for _, value := range values {
		amount, err := asBigInt(value)
		if err != nil {
			return nil, err
		}
		out = append(out, amount.String())
	}
	return out, nil
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return parseTopicHashes(topics[1:])
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}
