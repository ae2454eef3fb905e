package token

import "errors"

var (
	// ErrInsufficientBalance is returned when a debit exceeds the holder's balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientAllowance is returned when transferFrom exceeds the allowance.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	// ErrSupplyOverflow is returned when a mint would overflow 256 bits.
	ErrSupplyOverflow = errors.New("total supply overflow")
	// ErrPermitExpired is returned for a permit past its deadline.
	ErrPermitExpired = errors.New("permit expired")
	// ErrInvalidSignature is returned when a permit signature does not recover to the owner.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidSender is returned for transfers out of the zero address, whose
	// balance holds permanently locked units.
	ErrInvalidSender = errors.New("invalid sender")
	// ErrNilAmount is returned when a nil amount is passed.
	ErrNilAmount = errors.New("nil amount")
)
