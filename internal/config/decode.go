package config

import (
	"time"

	"github.com/spf13/pflag"

	"pairLedger/internal/chain"
)

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	RPCURL          string
	In              string
	Out             string
	Errors          string
	LogLevel        string
	PairCacheSize   int
	TokenCacheSize  int
	IncludeLiveMeta bool
	MaxRetries      int
	RetryBackoff    time.Duration
}

// Retry returns the RPC retry policy for metadata lookups.
func (c DecodeConfig) Retry() chain.RetryPolicy {
	return chain.RetryPolicy{MaxRetries: c.MaxRetries, Backoff: c.RetryBackoff}
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"out":               "./data/typed_events.jsonl",
		"errors":            "./data/decode_errors.jsonl",
		"include-live-meta": false,
		"pair-cache-size":   4096,
		"token-cache-size":  4096,
		"max-retries":       3,
		"retry-backoff":     250 * time.Millisecond,
		"log-level":         "info",
	})
	if err != nil {
		return DecodeConfig{}, err
	}

	cfg := DecodeConfig{
		RPCURL:          v.GetString("rpc"),
		In:              v.GetString("in"),
		Out:             v.GetString("out"),
		Errors:          v.GetString("errors"),
		LogLevel:        v.GetString("log-level"),
		PairCacheSize:   v.GetInt("pair-cache-size"),
		TokenCacheSize:  v.GetInt("token-cache-size"),
		IncludeLiveMeta: v.GetBool("include-live-meta"),
		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),
	}

	return cfg, nil
}
