package lending

import "github.com/holiman/uint256"

// isHealthy decides whether a position may be left in its current
// state. A position with no debt is trivially solvent. Otherwise the
// debt is resolved through the share conversion rounding up, so the
// check can only over-estimate what the borrower owes:
//
//	debt      = toAssetsUp(borrowShares, totalBorrowAssets, totalBorrowShares)
//	value     = collateral * price / PricePrecision
//	maxDebt   = value * lltv / LLTVPrecision
//	healthy   = debt <= maxDebt
//
// price is the injected oracle reading scaled by PricePrecision.
func isHealthy(market *Market, position *UserPosition, price uint64) (bool, error) {
	if position == nil || position.BorrowShares == 0 {
		return true, nil
	}
	if market == nil {
		return false, ErrMarketNotFound
	}

	debt, err := toAssetsUp(position.BorrowShares, market.TotalBorrowAssets, market.TotalBorrowShares)
	if err != nil {
		return false, err
	}

	maxDebt, err := maxDebtValue(position.CollateralAmount, price, market.LLTV)
	if err != nil {
		return false, err
	}
	return uint256.NewInt(debt).Cmp(maxDebt) <= 0, nil
}

// maxDebtValue returns collateral * price / PricePrecision * lltv /
// LLTVPrecision in wide precision. The result stays wide: it is only
// ever compared against a 64-bit debt value and a collateral-rich
// position may legitimately exceed the narrow range.
func maxDebtValue(collateral, price, lltv uint64) (*uint256.Int, error) {
	value, overflow := new(uint256.Int).MulOverflow(
		uint256.NewInt(collateral), uint256.NewInt(price))
	if overflow {
		return nil, ErrMathOverflow
	}
	value.Div(value, uint256.NewInt(PricePrecision))

	if _, overflow = value.MulOverflow(value, uint256.NewInt(lltv)); overflow {
		return nil, ErrMathOverflow
	}
	value.Div(value, uint256.NewInt(LLTVPrecision))
	return value, nil
}
