package lending

import "github.com/holiman/uint256"

// accrueInterest advances the market's balances by linear interest for
// the time elapsed since the last update and stamps the new timestamp.
// It returns the interest amount applied.
//
// Both the borrow and the supply totals grow by the same amount (all
// interest goes to suppliers, there is no fee skim), which keeps the
// liquidity invariant unaffected by the passage of time. Calling twice
// at the same timestamp is a no-op on the second call.
func accrueInterest(market *Market, now int64) (uint64, error) {
	if market == nil {
		return 0, ErrMarketNotFound
	}
	if now < market.LastUpdate {
		return 0, ErrInvalidTimestamp
	}
	elapsed := uint64(now - market.LastUpdate)
	if elapsed == 0 {
		return 0, nil
	}

	interest, err := linearInterest(market.TotalBorrowAssets, elapsed)
	if err != nil {
		return 0, err
	}

	if market.TotalBorrowAssets, err = checkedAdd(market.TotalBorrowAssets, interest); err != nil {
		return 0, err
	}
	if market.TotalSupplyAssets, err = checkedAdd(market.TotalSupplyAssets, interest); err != nil {
		return 0, err
	}
	market.LastUpdate = now
	return interest, nil
}

// linearInterest computes principal * ratePerSecond * elapsed / WAD with
// floor division applied once, at the end. The per-second rate itself is
// the floor of the annual rate over secondsPerYear.
func linearInterest(principal, elapsed uint64) (uint64, error) {
	if principal == 0 || elapsed == 0 {
		return 0, nil
	}
	ratePerSecond := annualRateWAD / secondsPerYear

	product, overflow := new(uint256.Int).MulOverflow(
		uint256.NewInt(principal), uint256.NewInt(ratePerSecond))
	if overflow {
		return 0, ErrMathOverflow
	}
	if _, overflow = product.MulOverflow(product, uint256.NewInt(elapsed)); overflow {
		return 0, ErrMathOverflow
	}
	product.Div(product, uint256.NewInt(wad))

	interest, overflow := product.Uint64WithOverflow()
	if overflow {
		return 0, ErrMathOverflow
	}
	return interest, nil
}
