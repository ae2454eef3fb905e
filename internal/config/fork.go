package config

import (
	"time"

	"github.com/spf13/pflag"

	"pairLedger/internal/chain"
)

// ForkConfig holds configuration for the fork command.
type ForkConfig struct {
	RPCURL       string
	Pairs        []string
	Block        uint64
	Out          string
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
}

// Retry returns the RPC retry policy.
func (c ForkConfig) Retry() chain.RetryPolicy {
	return chain.RetryPolicy{MaxRetries: c.MaxRetries, Backoff: c.RetryBackoff}
}

// LoadFork merges config file, environment variables, and flags into ForkConfig.
func LoadFork(cfgFile string, flags *pflag.FlagSet) (ForkConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"out":           "./data/state.json",
		"max-retries":   5,
		"retry-backoff": 500 * time.Millisecond,
		"log-level":     "info",
	})
	if err != nil {
		return ForkConfig{}, err
	}

	cfg := ForkConfig{
		RPCURL:       v.GetString("rpc"),
		Pairs:        getStringSlice(v, "pair"),
		Block:        v.GetUint64("block"),
		Out:          v.GetString("out"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		LogLevel:     v.GetString("log-level"),
	}

	return cfg, nil
}
