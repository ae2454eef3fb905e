package config

import "github.com/spf13/pflag"

// RunConfig holds configuration for the run command.
type RunConfig struct {
	Scenario         string
	Out              string
	ReservesOut      string
	StateIn          string
	StateOut         string
	PGDSN            string
	MetricsAddr      string
	MetricsNamespace string
	LogLevel         string
}

// LoadRun merges config file, environment variables, and flags into RunConfig.
func LoadRun(cfgFile string, flags *pflag.FlagSet) (RunConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"out":               "./data/logs.jsonl",
		"state-out":         "./data/state.json",
		"metrics-namespace": "pairledger",
		"log-level":         "info",
	})
	if err != nil {
		return RunConfig{}, err
	}

	cfg := RunConfig{
		Scenario:         v.GetString("scenario"),
		Out:              v.GetString("out"),
		ReservesOut:      v.GetString("reserves-out"),
		StateIn:          v.GetString("state-in"),
		StateOut:         v.GetString("state-out"),
		PGDSN:            v.GetString("pg-dsn"),
		MetricsAddr:      v.GetString("metrics-addr"),
		MetricsNamespace: v.GetString("metrics-namespace"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, nil
}
