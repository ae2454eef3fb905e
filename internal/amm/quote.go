package amm

import "github.com/holiman/uint256"

// Quote returns the amount of the other token equivalent to amountA at the
// given reserves, without fees.
func Quote(amountA, reserveA, reserveB *uint256.Int) (*uint256.Int, error) {
	if amountA.IsZero() {
		return nil, ErrInsufficientAmount
	}
	if reserveA.IsZero() || reserveB.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	return proportion(amountA, reserveB, reserveA)
}

// GetAmountOut returns the maximum output for amountIn after the 0.3% fee.
func GetAmountOut(amountIn, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if amountIn.IsZero() {
		return nil, ErrInsufficientInputAmount
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	amountInWithFee, err := mul(amountIn, uint256.NewInt(997))
	if err != nil {
		return nil, err
	}
	numerator, err := mul(amountInWithFee, reserveOut)
	if err != nil {
		return nil, err
	}
	scaled, err := mul(reserveIn, uint256.NewInt(1000))
	if err != nil {
		return nil, err
	}
	denominator, err := add(scaled, amountInWithFee)
	if err != nil {
		return nil, err
	}
	return div(numerator, denominator)
}

// GetAmountIn returns the minimum input that buys amountOut after the 0.3% fee.
func GetAmountIn(amountOut, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if amountOut.IsZero() {
		return nil, ErrInsufficientOutputAmount
	}
	if reserveIn.IsZero() || reserveOut.IsZero() || !amountOut.Lt(reserveOut) {
		return nil, ErrInsufficientLiquidity
	}
	product, err := mul(reserveIn, amountOut)
	if err != nil {
		return nil, err
	}
	numerator, err := mul(product, uint256.NewInt(1000))
	if err != nil {
		return nil, err
	}
	denominator, err := mul(new(uint256.Int).Sub(reserveOut, amountOut), uint256.NewInt(997))
	if err != nil {
		return nil, err
	}
	amountIn, err := div(numerator, denominator)
	if err != nil {
		return nil, err
	}
	return add(amountIn, uint256.NewInt(1))
}
