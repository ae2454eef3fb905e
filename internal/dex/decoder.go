package dex

import (
	"context"

	"go.uber.org/zap"

	"pairLedger/internal/chain"
	"pairLedger/internal/model"
)

// Decoder defines a log decoder.
type Decoder interface {
	CanDecode(topic0 string) bool
	Decode(log model.LogRecord, ctx DecodeContext) (*model.TypedEvent, error)
}

// DecodeContext provides shared dependencies for decoders. Chain is
// optional; without it, pair tokens must be learned from PairCreated logs
// earlier in the stream.
type DecodeContext struct {
	Context         context.Context
	Chain           *chain.Client
	PairMetaCache   *PairMetaCache
	TokenMetaCache  *TokenMetaCache
	Logger          *zap.Logger
	IncludeLiveMeta bool
	Retry           chain.RetryPolicy
}
