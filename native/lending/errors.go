package lending

import "errors"

// Every failure aborts the in-flight operation with no partial state
// change. ErrUndercollateralized is the business-rule rejection and is
// kept distinct from the arithmetic failures so callers can present it
// as such.
var (
	ErrNilState               = errors.New("lending engine: state not configured")
	ErrNilCustody             = errors.New("lending engine: custody not configured")
	ErrMarketNotFound         = errors.New("lending engine: market not initialised")
	ErrMarketExists           = errors.New("lending engine: market already initialised")
	ErrInvalidLLTV            = errors.New("lending engine: lltv must be between 0 and 100%")
	ErrZeroAmount             = errors.New("lending engine: amount must be positive")
	ErrInconsistentInput      = errors.New("lending engine: exactly one of assets or shares must be non-zero")
	ErrMathOverflow           = errors.New("lending engine: arithmetic overflow")
	ErrDivisionByZero         = errors.New("lending engine: division by zero")
	ErrInvalidTimestamp       = errors.New("lending engine: clock went backwards")
	ErrInsufficientSupply     = errors.New("lending engine: insufficient supply shares")
	ErrInsufficientCollateral = errors.New("lending engine: insufficient collateral")
	ErrInsufficientLiquidity  = errors.New("lending engine: insufficient pooled liquidity")
	ErrNoDebtToRepay          = errors.New("lending engine: no outstanding debt to repay")
	ErrUndercollateralized    = errors.New("lending engine: position is undercollateralized")
)
