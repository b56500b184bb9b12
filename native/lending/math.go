package lending

import "github.com/holiman/uint256"

// Share conversion arithmetic. Every conversion offsets the totals with
// the virtual amounts, so the denominators can never legitimately be
// zero: a zero denominator means corrupted state and aborts.
//
// Intermediates are computed in 256-bit precision and only narrowed at
// the end; a failed narrowing is ErrMathOverflow, never a silent wrap.
// This file is the only place extended-precision arithmetic appears.

type rounding int

const (
	roundDown rounding = iota
	roundUp
)

// mulDiv computes amount * mul / div in wide precision with the chosen
// rounding direction, narrowing the quotient back to 64 bits.
func mulDiv(amount uint64, mul, div *uint256.Int, round rounding) (uint64, error) {
	if div.IsZero() {
		return 0, ErrDivisionByZero
	}
	numerator, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(amount), mul)
	if overflow {
		return 0, ErrMathOverflow
	}
	if round == roundUp {
		bump := new(uint256.Int).SubUint64(div, 1)
		if _, overflow = numerator.AddOverflow(numerator, bump); overflow {
			return 0, ErrMathOverflow
		}
	}
	quotient := numerator.Div(numerator, div)
	value, overflow := quotient.Uint64WithOverflow()
	if overflow {
		return 0, ErrMathOverflow
	}
	return value, nil
}

func offsetShares(totalShares uint64) *uint256.Int {
	return new(uint256.Int).AddUint64(uint256.NewInt(totalShares), VirtualShares)
}

func offsetAssets(totalAssets uint64) *uint256.Int {
	return new(uint256.Int).AddUint64(uint256.NewInt(totalAssets), VirtualAssets)
}

// toSharesDown converts assets to shares, rounding in the protocol's
// favour for deposits and repayments.
func toSharesDown(assets, totalAssets, totalShares uint64) (uint64, error) {
	return mulDiv(assets, offsetShares(totalShares), offsetAssets(totalAssets), roundDown)
}

// toSharesUp converts assets to shares, rounding in the protocol's
// favour for withdrawals and borrows.
func toSharesUp(assets, totalAssets, totalShares uint64) (uint64, error) {
	return mulDiv(assets, offsetShares(totalShares), offsetAssets(totalAssets), roundUp)
}

// toAssetsDown converts shares to assets, rounding down.
func toAssetsDown(shares, totalAssets, totalShares uint64) (uint64, error) {
	return mulDiv(shares, offsetAssets(totalAssets), offsetShares(totalShares), roundDown)
}

// toAssetsUp converts shares to assets, rounding up. The solvency check
// uses this direction so a borrower's debt is never under-estimated.
func toAssetsUp(shares, totalAssets, totalShares uint64) (uint64, error) {
	return mulDiv(shares, offsetAssets(totalAssets), offsetShares(totalShares), roundUp)
}

// checkedAdd is overflow-checked 64-bit addition for the pooled totals.
func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrMathOverflow
	}
	return sum, nil
}

// zeroFloorSub subtracts with a floor at zero. Repay uses it to absorb
// the at-most-one-unit disagreement between the two rounding directions
// of a conversion.
func zeroFloorSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
