package model

// TokenMeta is the ERC20 metadata read from a token contract.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

// Snapshot starts a token snapshot with no balances.
func (m TokenMeta) Snapshot(totalSupply string) TokenSnapshot {
	return TokenSnapshot{
		Address:     m.Address,
		Name:        m.Name,
		Symbol:      m.Symbol,
		Decimals:    m.Decimals,
		TotalSupply: totalSupply,
		Balances:    map[string]string{},
	}
}
