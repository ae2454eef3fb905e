// Package simulate drives a registry and its pairs through a scripted
// sequence of user actions read from YAML.
package simulate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"pairLedger/internal/amm"
)

// Step actions.
const (
	ActionCreatePair   = "create_pair"
	ActionTransfer     = "transfer"
	ActionTransferFrom = "transfer_from"
	ActionMint         = "mint"
	ActionBurn         = "burn"
	ActionSwap         = "swap"
	ActionSwapExactIn  = "swap_exact_in"
	ActionFlashSwap    = "flash_swap"
	ActionSkim         = "skim"
	ActionSync         = "sync"
	ActionAdvance      = "advance"
	ActionSetFeeTo     = "set_fee_to"
	ActionPermit       = "permit"
)

var knownActions = map[string]bool{
	ActionCreatePair:   true,
	ActionTransfer:     true,
	ActionTransferFrom: true,
	ActionMint:         true,
	ActionBurn:         true,
	ActionSwap:         true,
	ActionSwapExactIn:  true,
	ActionFlashSwap:    true,
	ActionSkim:         true,
	ActionSync:         true,
	ActionAdvance:      true,
	ActionSetFeeTo:     true,
	ActionPermit:       true,
}

// Scenario is a scripted run. Accounts are named actors or hex addresses.
type Scenario struct {
	Name        string      `yaml:"name"`
	ChainID     uint64      `yaml:"chain_id"`
	StartTime   uint64      `yaml:"start_time"`
	Factory     string      `yaml:"factory"`
	FeeTo       string      `yaml:"fee_to"`
	FeeToSetter string      `yaml:"fee_to_setter"`
	Tokens      []TokenSpec `yaml:"tokens"`
	Steps       []Step      `yaml:"steps"`
}

// TokenSpec declares a token and its initial balances by account.
type TokenSpec struct {
	Symbol   string            `yaml:"symbol"`
	Name     string            `yaml:"name"`
	Decimals uint8             `yaml:"decimals"`
	Address  string            `yaml:"address"`
	Balances map[string]string `yaml:"balances"`
}

// Step is one action. Pairs are named "SYMBOL/SYMBOL" and amount maps are
// keyed by token symbol.
type Step struct {
	Action string `yaml:"action"`
	Actor  string `yaml:"actor"`
	To     string `yaml:"to"`
	From   string `yaml:"from"`
	Pair   string `yaml:"pair"`

	TokenA string `yaml:"token_a"`
	TokenB string `yaml:"token_b"`
	Token  string `yaml:"token"`
	Amount string `yaml:"amount"`

	Deposit map[string]string `yaml:"deposit"`
	Out     map[string]string `yaml:"out"`

	// flash_swap
	Repay              string `yaml:"repay"`
	Reenter            string `yaml:"reenter"`
	ExpectReentryError string `yaml:"expect_reentry_error"`

	// permit
	Spender    string `yaml:"spender"`
	Signer     string `yaml:"signer"`
	DeadlineIn int64  `yaml:"deadline_in"`

	// advance
	Seconds uint64 `yaml:"seconds"`

	// set_fee_to
	FeeTo string `yaml:"fee_to"`

	ExpectError    string            `yaml:"expect_error"`
	ExpectReserves map[string]string `yaml:"expect_reserves"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates YAML scenario content.
func ParseScenario(data []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.UnmarshalStrict(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Validate checks the static shape of the scenario. Amounts and account
// names are resolved while running.
func (sc Scenario) Validate() error {
	seen := make(map[string]bool, len(sc.Tokens))
	for i, tok := range sc.Tokens {
		if tok.Symbol == "" {
			return fmt.Errorf("token %d: symbol is required", i)
		}
		if seen[tok.Symbol] {
			return fmt.Errorf("token %s declared twice", tok.Symbol)
		}
		seen[tok.Symbol] = true
	}
	for i, step := range sc.Steps {
		if !knownActions[step.Action] {
			return fmt.Errorf("step %d: unknown action %q", i, step.Action)
		}
		if step.ExpectError != "" {
			if _, ok := expectation(step.ExpectError); !ok {
				return fmt.Errorf("step %d: unknown expect_error %q", i, step.ExpectError)
			}
		}
		if step.Reenter != "" || step.ExpectReentryError != "" {
			if err := validateReentry(step); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
		switch step.Action {
		case ActionCreatePair:
			if step.TokenA == "" || step.TokenB == "" {
				return fmt.Errorf("step %d: create_pair needs token_a and token_b", i)
			}
		case ActionMint, ActionBurn, ActionSwap, ActionSwapExactIn, ActionFlashSwap, ActionSkim, ActionSync:
			if step.Pair == "" {
				return fmt.Errorf("step %d: %s needs pair", i, step.Action)
			}
		case ActionTransfer, ActionTransferFrom, ActionPermit:
			if step.Token == "" {
				return fmt.Errorf("step %d: %s needs token", i, step.Action)
			}
		case ActionAdvance:
			if step.Seconds == 0 {
				return fmt.Errorf("step %d: advance needs seconds", i)
			}
		}
	}
	return nil
}

var reentryOps = map[string]bool{
	amm.OpMint: true,
	amm.OpBurn: true,
	amm.OpSwap: true,
	amm.OpSkim: true,
	amm.OpSync: true,
}

func validateReentry(step Step) error {
	if step.Action != ActionFlashSwap {
		return fmt.Errorf("reenter is only valid on %s", ActionFlashSwap)
	}
	if !reentryOps[step.Reenter] {
		return fmt.Errorf("unsupported reenter %q", step.Reenter)
	}
	if step.ExpectReentryError != "" {
		if _, ok := expectation(step.ExpectReentryError); !ok {
			return fmt.Errorf("unknown expect_reentry_error %q", step.ExpectReentryError)
		}
	}
	return nil
}
