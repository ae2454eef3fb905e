package model

// WorldSnapshot is the persisted state of a registry, its tokens and pairs.
// Amounts are decimal strings.
type WorldSnapshot struct {
	ChainID        uint64          `json:"chain_id"`
	BlockNumber    uint64          `json:"block_number"`
	BlockTimestamp uint64          `json:"block_timestamp"`
	Factory        string          `json:"factory"`
	FeeTo          string          `json:"fee_to"`
	FeeToSetter    string          `json:"fee_to_setter"`
	Tokens         []TokenSnapshot `json:"tokens"`
	Pairs          []PairSnapshot  `json:"pairs"`
	TakenAt        string          `json:"taken_at,omitempty"`
}

// TokenSnapshot is the persisted state of one token ledger. Zero balances are
// omitted.
type TokenSnapshot struct {
	Address     string            `json:"address"`
	Name        string            `json:"name"`
	Symbol      string            `json:"symbol"`
	Decimals    uint8             `json:"decimals"`
	TotalSupply string            `json:"total_supply"`
	Balances    map[string]string `json:"balances,omitempty"`
	Nonces      map[string]uint64 `json:"nonces,omitempty"`
}

// PairSnapshot is the persisted state of one pair, including its share token.
type PairSnapshot struct {
	Address              string        `json:"address"`
	Token0               string        `json:"token0"`
	Token1               string        `json:"token1"`
	Reserve0             string        `json:"reserve0"`
	Reserve1             string        `json:"reserve1"`
	BlockTimestampLast   uint32        `json:"block_timestamp_last"`
	Price0CumulativeLast string        `json:"price0_cumulative_last"`
	Price1CumulativeLast string        `json:"price1_cumulative_last"`
	KLast                string        `json:"k_last"`
	Shares               TokenSnapshot `json:"shares"`
}
