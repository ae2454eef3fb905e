package amm

import "errors"

// Kind classifies a failure.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindConcurrency  Kind = "concurrency"
	KindArithmetic   Kind = "arithmetic"
	KindInvariant    Kind = "invariant"
	KindCollaborator Kind = "collaborator"
	KindUnknown      Kind = "unknown"
)

// Error is a classified sentinel error. Compare with errors.Is.
type Error struct {
	kind Kind
	msg  string
}

// NewError declares a sentinel of the given kind.
func NewError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind returns the error class.
func (e *Error) Kind() Kind { return e.kind }

var (
	// ErrForbidden is returned when the caller is not allowed to perform the operation.
	ErrForbidden = NewError(KindValidation, "forbidden")
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = NewError(KindValidation, "pair already initialized")
	// ErrNotInitialized is returned by operations on a pair without tokens.
	ErrNotInitialized = NewError(KindValidation, "pair not initialized")
	// ErrInsufficientLiquidityMinted is returned when a mint would issue no shares.
	ErrInsufficientLiquidityMinted = NewError(KindValidation, "insufficient liquidity minted")
	// ErrInsufficientLiquidityBurned is returned when a burn would return nothing of either token.
	ErrInsufficientLiquidityBurned = NewError(KindValidation, "insufficient liquidity burned")
	// ErrInsufficientOutputAmount is returned by a swap requesting no output.
	ErrInsufficientOutputAmount = NewError(KindValidation, "insufficient output amount")
	// ErrInsufficientInputAmount is returned when a swap received no input.
	ErrInsufficientInputAmount = NewError(KindValidation, "insufficient input amount")
	// ErrInsufficientLiquidity is returned when an output would drain a reserve.
	ErrInsufficientLiquidity = NewError(KindValidation, "insufficient liquidity")
	// ErrInsufficientAmount is returned by Quote for a zero amount.
	ErrInsufficientAmount = NewError(KindValidation, "insufficient amount")
	// ErrInvalidTo is returned when a swap recipient is one of the pair's tokens.
	ErrInvalidTo = NewError(KindValidation, "invalid to")
	// ErrIdenticalAddresses is returned when both tokens of a pair are the same.
	ErrIdenticalAddresses = NewError(KindValidation, "identical addresses")
	// ErrZeroAddress is returned for a zero token address.
	ErrZeroAddress = NewError(KindValidation, "zero address")
	// ErrPairExists is returned when a pair for the tokens already exists.
	ErrPairExists = NewError(KindValidation, "pair exists")

	// ErrLocked is returned when the pair's guard is held.
	ErrLocked = NewError(KindConcurrency, "locked")

	// ErrOverflow is returned when a balance does not fit a 112-bit reserve.
	ErrOverflow = NewError(KindArithmetic, "overflow")
	// ErrArithmetic is returned for checked-math underflow, overflow or
	// division by zero.
	ErrArithmetic = NewError(KindArithmetic, "arithmetic error")

	// ErrK is returned when a swap breaks the fee-adjusted constant product.
	ErrK = NewError(KindInvariant, "K")

	// ErrTransferFailed is returned when a token transfer fails or does not
	// report success.
	ErrTransferFailed = NewError(KindCollaborator, "transfer failed")
	// ErrUnknownAsset is returned when no asset is deployed at a token address.
	ErrUnknownAsset = NewError(KindCollaborator, "unknown asset")
	// ErrNoCallee is returned when swap data is given but the recipient
	// cannot receive a swap callback.
	ErrNoCallee = NewError(KindCollaborator, "recipient is not a swap callee")
)

// Category returns the kind of the first classified error in err's chain,
// KindUnknown if there is none, or "" for a nil error.
func Category(err error) Kind {
	if err == nil {
		return ""
	}
	var classified interface{ Kind() Kind }
	if errors.As(err, &classified) {
		return classified.Kind()
	}
	return KindUnknown
}
