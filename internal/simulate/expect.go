package simulate

import (
	"errors"
	"fmt"

	"pairLedger/internal/amm"
	"pairLedger/internal/token"
)

var sentinels = map[string]error{
	"Forbidden":                   amm.ErrForbidden,
	"AlreadyInitialized":          amm.ErrAlreadyInitialized,
	"NotInitialized":              amm.ErrNotInitialized,
	"InsufficientLiquidityMinted": amm.ErrInsufficientLiquidityMinted,
	"InsufficientLiquidityBurned": amm.ErrInsufficientLiquidityBurned,
	"InsufficientOutputAmount":    amm.ErrInsufficientOutputAmount,
	"InsufficientInputAmount":     amm.ErrInsufficientInputAmount,
	"InsufficientLiquidity":       amm.ErrInsufficientLiquidity,
	"InsufficientAmount":          amm.ErrInsufficientAmount,
	"InvalidTo":                   amm.ErrInvalidTo,
	"IdenticalAddresses":          amm.ErrIdenticalAddresses,
	"ZeroAddress":                 amm.ErrZeroAddress,
	"PairExists":                  amm.ErrPairExists,
	"Locked":                      amm.ErrLocked,
	"Overflow":                    amm.ErrOverflow,
	"Arithmetic":                  amm.ErrArithmetic,
	"K":                           amm.ErrK,
	"TransferFailed":              amm.ErrTransferFailed,
	"UnknownAsset":                amm.ErrUnknownAsset,
	"NoCallee":                    amm.ErrNoCallee,

	"InsufficientBalance":   token.ErrInsufficientBalance,
	"InsufficientAllowance": token.ErrInsufficientAllowance,
	"SupplyOverflow":        token.ErrSupplyOverflow,
	"PermitExpired":         token.ErrPermitExpired,
	"InvalidSignature":      token.ErrInvalidSignature,
	"InvalidSender":         token.ErrInvalidSender,
}

var categories = map[string]amm.Kind{
	string(amm.KindValidation):   amm.KindValidation,
	string(amm.KindConcurrency):  amm.KindConcurrency,
	string(amm.KindArithmetic):   amm.KindArithmetic,
	string(amm.KindInvariant):    amm.KindInvariant,
	string(amm.KindCollaborator): amm.KindCollaborator,
}

// expectation returns a matcher for an expect_error value: a sentinel name
// such as "K" or "Locked", or an error category such as "validation".
func expectation(name string) (func(error) bool, bool) {
	if sentinel, ok := sentinels[name]; ok {
		return func(err error) bool { return errors.Is(err, sentinel) }, true
	}
	if kind, ok := categories[name]; ok {
		return func(err error) bool { return amm.Category(err) == kind }, true
	}
	return nil, false
}

// checkExpectation reconciles a step outcome with its declared expectation.
// A nil result means the run may continue.
func checkExpectation(step Step, err error) error {
	if step.ExpectError == "" {
		return err
	}
	match, _ := expectation(step.ExpectError)
	if err == nil {
		return fmt.Errorf("expected %s, step succeeded", step.ExpectError)
	}
	if !match(err) {
		return fmt.Errorf("expected %s, got: %w", step.ExpectError, err)
	}
	return nil
}

// checkReentry reconciles the re-entry attempt of a flash swap that
// succeeded with its expect_reentry_error.
func checkReentry(step Step, err error) error {
	if step.ExpectReentryError == "" {
		return nil
	}
	match, _ := expectation(step.ExpectReentryError)
	if err == nil {
		return fmt.Errorf("expected reentry %s, reentry succeeded", step.ExpectReentryError)
	}
	if !match(err) {
		return fmt.Errorf("expected reentry %s, got: %w", step.ExpectReentryError, err)
	}
	return nil
}
