package model

// Pair represents a pair metadata record for storage.
type Pair struct {
	ChainID        uint64 `json:"chain_id"`
	Address        string `json:"address"`
	Factory        string `json:"factory"`
	Token0         string `json:"token0"`
	Token1         string `json:"token1"`
	FirstSeenBlock uint64 `json:"first_seen_block"`
}

// PairMeta captures immutable pair metadata with optional live reserves.
type PairMeta struct {
	Token0   string `json:"token0"`
	Token1   string `json:"token1"`
	Reserve0 string `json:"reserve0,omitempty"`
	Reserve1 string `json:"reserve1,omitempty"`
}

// ReserveSnapshot is a point-in-time reading of a pair's reserves.
type ReserveSnapshot struct {
	ChainID     uint64 `json:"chain_id"`
	Pair        string `json:"pair"`
	BlockNumber uint64 `json:"block_number"`
	Timestamp   uint64 `json:"timestamp"`
	Reserve0    string `json:"reserve0"`
	Reserve1    string `json:"reserve1"`
	TotalSupply string `json:"total_supply"`
}
