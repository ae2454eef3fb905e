package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"

	"pairLedger/internal/model"
)

// DefaultCacheSize bounds the metadata caches.
const DefaultCacheSize = 4096

// PairMetaCache caches pair metadata by address.
type PairMetaCache struct {
	cache *lru.Cache
}

func NewPairMetaCache(size int) (*PairMetaCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create pair meta cache: %w", err)
	}
	return &PairMetaCache{cache: cache}, nil
}

func (c *PairMetaCache) Get(address common.Address) (model.PairMeta, bool) {
	value, ok := c.cache.Get(address)
	if !ok {
		return model.PairMeta{}, false
	}
	return value.(model.PairMeta), true
}

func (c *PairMetaCache) Set(address common.Address, meta model.PairMeta) {
	c.cache.Add(address, meta)
}

func (c *PairMetaCache) Len() int {
	return c.cache.Len()
}

// TokenMetaCache caches token metadata by address.
type TokenMetaCache struct {
	cache *lru.Cache
}

func NewTokenMetaCache(size int) (*TokenMetaCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create token meta cache: %w", err)
	}
	return &TokenMetaCache{cache: cache}, nil
}

func (c *TokenMetaCache) Get(address common.Address) (model.TokenMeta, bool) {
	value, ok := c.cache.Get(address)
	if !ok {
		return model.TokenMeta{}, false
	}
	return value.(model.TokenMeta), true
}

func (c *TokenMetaCache) Set(address common.Address, meta model.TokenMeta) {
	c.cache.Add(address, meta)
}
