package aggregate

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"pairLedger/internal/dex"
)

// tokenDecimals resolves decimals from the token cache, then from chain.
// Without a chain client unknown tokens report zero decimals and amounts
// stay in raw units.
func (a *Aggregator) tokenDecimals(ctx context.Context, token string) (uint8, error) {
	if !common.IsHexAddress(token) {
		return 0, fmt.Errorf("invalid token address: %s", token)
	}
	addr := common.HexToAddress(token)
	if meta, ok := a.tokens.Get(addr); ok {
		return meta.Decimals, nil
	}
	if a.chainClient == nil {
		return 0, nil
	}
	meta, err := dex.FetchTokenMeta(ctx, a.chainClient, addr, nil, a.logger)
	if err != nil {
		return 0, err
	}
	a.tokens.Set(addr, meta)
	return meta.Decimals, nil
}
