package lending

import (
	"github.com/ethereum/go-ethereum/common"

	"pelago/core/types"
)

// engineState is the record-store collaborator. Get methods return nil
// when no record exists and must hand out private copies: the engine
// mutates what it is given and persists only after every check and the
// custody transfer have succeeded, which is what makes each operation
// all-or-nothing.
type engineState interface {
	GetMarket(id MarketID) (*Market, error)
	PutMarket(id MarketID, market *Market) error
	GetPosition(id MarketID, owner common.Address) (*UserPosition, error)
	PutPosition(id MarketID, position *UserPosition) error
}

// TokenTransfer is the custody collaborator moving asset units between
// participant accounts and the market vaults. A transfer either
// completes or returns an error; the engine never retries and aborts
// the whole operation on failure.
type TokenTransfer interface {
	Transfer(asset, from, to common.Address, amount uint64) error
}

// Engine orchestrates the ledger's state transitions. It is written as
// single-threaded code: the host serializes operations per market, so
// the engine may assume exclusive access to the records it loads for
// the duration of one call.
type Engine struct {
	state   engineState
	custody TokenTransfer
	clock   Clock
	price   uint64
	events  EventSink
}

// NewEngine constructs an engine with the default fixed oracle price.
// State, custody and clock must be wired before use.
func NewEngine() *Engine {
	return &Engine{price: DefaultOraclePrice}
}

// SetState wires the engine to the persistence collaborator.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody wires the engine to the asset custody collaborator.
func (e *Engine) SetCustody(custody TokenTransfer) { e.custody = custody }

// SetClock wires the timestamp source used for interest accrual.
func (e *Engine) SetClock(clock Clock) { e.clock = clock }

// SetOraclePrice injects the collateral price, scaled by PricePrecision.
func (e *Engine) SetOraclePrice(price uint64) { e.price = price }

// SetEventSink wires the optional observability sink.
func (e *Engine) SetEventSink(sink EventSink) { e.events = sink }

// InitializeMarket creates the ledger record for a new asset pair.
// Totals start at zero and LastUpdate is stamped with the current
// clock reading.
func (e *Engine) InitializeMarket(authority common.Address, loanAsset, collateralAsset, loanVault, collateralVault common.Address, lltv uint64) (MarketID, error) {
	if e == nil || e.state == nil {
		return MarketID{}, ErrNilState
	}
	if lltv == 0 || lltv > MaxLLTV {
		return MarketID{}, ErrInvalidLLTV
	}
	id := NewMarketID(loanAsset, collateralAsset)
	existing, err := e.state.GetMarket(id)
	if err != nil {
		return MarketID{}, err
	}
	if existing != nil {
		return MarketID{}, ErrMarketExists
	}
	market := &Market{
		Authority:       authority,
		LoanAsset:       loanAsset,
		CollateralAsset: collateralAsset,
		LoanVault:       loanVault,
		CollateralVault: collateralVault,
		LLTV:            lltv,
		LastUpdate:      e.now(),
	}
	if err := e.state.PutMarket(id, market); err != nil {
		return MarketID{}, err
	}
	e.emit(newMarketEvent(id, market))
	return id, nil
}

// Supply deposits loan assets into the pool and mints supply shares.
// The caller specifies either leg of the amount; conversion of the
// derived leg rounds in the protocol's favour. Returns the settled
// (assets, shares) pair.
func (e *Engine) Supply(id MarketID, supplier common.Address, amount Amount) (uint64, uint64, error) {
	if err := e.ready(); err != nil {
		return 0, 0, err
	}
	if err := amount.validate(); err != nil {
		return 0, 0, err
	}
	market, err := e.ensureMarket(id)
	if err != nil {
		return 0, 0, err
	}
	interest, err := accrueInterest(market, e.now())
	if err != nil {
		return 0, 0, err
	}

	var assets, shares uint64
	if amount.assets > 0 {
		assets = amount.assets
		if shares, err = toSharesDown(assets, market.TotalSupplyAssets, market.TotalSupplyShares); err != nil {
			return 0, 0, err
		}
	} else {
		shares = amount.shares
		if assets, err = toAssetsUp(shares, market.TotalSupplyAssets, market.TotalSupplyShares); err != nil {
			return 0, 0, err
		}
	}

	position, err := e.ensurePosition(id, supplier)
	if err != nil {
		return 0, 0, err
	}
	if position.SupplyShares, err = checkedAdd(position.SupplyShares, shares); err != nil {
		return 0, 0, err
	}
	if market.TotalSupplyAssets, err = checkedAdd(market.TotalSupplyAssets, assets); err != nil {
		return 0, 0, err
	}
	if market.TotalSupplyShares, err = checkedAdd(market.TotalSupplyShares, shares); err != nil {
		return 0, 0, err
	}

	if err := e.custody.Transfer(market.LoanAsset, supplier, market.LoanVault, assets); err != nil {
		return 0, 0, err
	}
	if err := e.commit(id, market, position, interest); err != nil {
		return 0, 0, err
	}
	e.emit(newOperationEvent(EventTypeSupplied, id, supplier, assets, shares, market))
	return assets, shares, nil
}

// Withdraw burns supply shares and releases the corresponding loan
// assets back to the supplier. Fails when the supplier's shares cannot
// cover the burn or when the pool would be left owing more than it
// holds.
func (e *Engine) Withdraw(id MarketID, supplier common.Address, amount Amount) (uint64, uint64, error) {
	if err := e.ready(); err != nil {
		return 0, 0, err
	}
	if err := amount.validate(); err != nil {
		return 0, 0, err
	}
	market, err := e.ensureMarket(id)
	if err != nil {
		return 0, 0, err
	}
	interest, err := accrueInterest(market, e.now())
	if err != nil {
		return 0, 0, err
	}

	var assets, shares uint64
	if amount.assets > 0 {
		assets = amount.assets
		if shares, err = toSharesUp(assets, market.TotalSupplyAssets, market.TotalSupplyShares); err != nil {
			return 0, 0, err
		}
	} else {
		shares = amount.shares
		if assets, err = toAssetsDown(shares, market.TotalSupplyAssets, market.TotalSupplyShares); err != nil {
			return 0, 0, err
		}
	}

	position, err := e.ensurePosition(id, supplier)
	if err != nil {
		return 0, 0, err
	}
	if position.SupplyShares < shares {
		return 0, 0, ErrInsufficientSupply
	}
	position.SupplyShares -= shares
	if market.TotalSupplyShares < shares || market.TotalSupplyAssets < assets {
		return 0, 0, ErrMathOverflow
	}
	market.TotalSupplyShares -= shares
	market.TotalSupplyAssets -= assets

	// Liquidity invariant: the remaining pool must still cover the
	// outstanding debt.
	if market.TotalBorrowAssets > market.TotalSupplyAssets {
		return 0, 0, ErrInsufficientLiquidity
	}

	if err := e.custody.Transfer(market.LoanAsset, market.LoanVault, supplier, assets); err != nil {
		return 0, 0, err
	}
	if err := e.commit(id, market, position, interest); err != nil {
		return 0, 0, err
	}
	e.emit(newOperationEvent(EventTypeWithdrawn, id, supplier, assets, shares, market))
	return assets, shares, nil
}

// SupplyCollateral locks collateral for a participant. Collateral is
// never share-denominated and earns no interest, so no accrual is
// needed here.
func (e *Engine) SupplyCollateral(id MarketID, owner common.Address, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	market, err := e.ensureMarket(id)
	if err != nil {
		return err
	}
	position, err := e.ensurePosition(id, owner)
	if err != nil {
		return err
	}
	if position.CollateralAmount, err = checkedAdd(position.CollateralAmount, amount); err != nil {
		return err
	}

	if err := e.custody.Transfer(market.CollateralAsset, owner, market.CollateralVault, amount); err != nil {
		return err
	}
	if err := e.state.PutPosition(id, position); err != nil {
		return err
	}
	e.emit(newCollateralEvent(EventTypeCollateralSupplied, id, owner, amount, position))
	return nil
}

// WithdrawCollateral releases collateral back to its owner, provided
// the remaining position stays solvent against its current debt.
func (e *Engine) WithdrawCollateral(id MarketID, owner common.Address, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	market, err := e.ensureMarket(id)
	if err != nil {
		return err
	}
	interest, err := accrueInterest(market, e.now())
	if err != nil {
		return err
	}

	position, err := e.ensurePosition(id, owner)
	if err != nil {
		return err
	}
	if position.CollateralAmount < amount {
		return ErrInsufficientCollateral
	}
	position.CollateralAmount -= amount

	healthy, err := isHealthy(market, position, e.price)
	if err != nil {
		return err
	}
	if !healthy {
		return ErrUndercollateralized
	}

	if err := e.custody.Transfer(market.CollateralAsset, market.CollateralVault, owner, amount); err != nil {
		return err
	}
	if err := e.commit(id, market, position, interest); err != nil {
		return err
	}
	e.emit(newCollateralEvent(EventTypeCollateralWithdrawn, id, owner, amount, position))
	return nil
}

// Borrow draws loan assets against the borrower's collateral. The debt
// share conversion rounds up so the borrower is never under-charged,
// and the operation commits only if both the liquidity invariant and
// the solvency check pass on the tentative state.
func (e *Engine) Borrow(id MarketID, borrower common.Address, amount Amount) (uint64, uint64, error) {
	if err := e.ready(); err != nil {
		return 0, 0, err
	}
	if err := amount.validate(); err != nil {
		return 0, 0, err
	}
	market, err := e.ensureMarket(id)
	if err != nil {
		return 0, 0, err
	}
	interest, err := accrueInterest(market, e.now())
	if err != nil {
		return 0, 0, err
	}

	var assets, shares uint64
	if amount.assets > 0 {
		assets = amount.assets
		if shares, err = toSharesUp(assets, market.TotalBorrowAssets, market.TotalBorrowShares); err != nil {
			return 0, 0, err
		}
	} else {
		shares = amount.shares
		if assets, err = toAssetsDown(shares, market.TotalBorrowAssets, market.TotalBorrowShares); err != nil {
			return 0, 0, err
		}
	}

	if market.AvailableLiquidity() < assets {
		return 0, 0, ErrInsufficientLiquidity
	}

	position, err := e.ensurePosition(id, borrower)
	if err != nil {
		return 0, 0, err
	}
	if position.BorrowShares, err = checkedAdd(position.BorrowShares, shares); err != nil {
		return 0, 0, err
	}
	if market.TotalBorrowAssets, err = checkedAdd(market.TotalBorrowAssets, assets); err != nil {
		return 0, 0, err
	}
	if market.TotalBorrowShares, err = checkedAdd(market.TotalBorrowShares, shares); err != nil {
		return 0, 0, err
	}

	healthy, err := isHealthy(market, position, e.price)
	if err != nil {
		return 0, 0, err
	}
	if !healthy {
		return 0, 0, ErrUndercollateralized
	}
	if market.TotalBorrowAssets > market.TotalSupplyAssets {
		return 0, 0, ErrInsufficientLiquidity
	}

	if err := e.custody.Transfer(market.LoanAsset, market.LoanVault, borrower, assets); err != nil {
		return 0, 0, err
	}
	if err := e.commit(id, market, position, interest); err != nil {
		return 0, 0, err
	}
	e.emit(newOperationEvent(EventTypeBorrowed, id, borrower, assets, shares, market))
	return assets, shares, nil
}

// Repay pays down the borrower's debt. The payer may differ from the
// borrower. Because the two rounding directions of a conversion can
// disagree by one unit, the subtraction floors at zero instead of
// treating a one-unit overshoot as a fatal error.
func (e *Engine) Repay(id MarketID, payer, borrower common.Address, amount Amount) (uint64, uint64, error) {
	if err := e.ready(); err != nil {
		return 0, 0, err
	}
	if err := amount.validate(); err != nil {
		return 0, 0, err
	}
	market, err := e.ensureMarket(id)
	if err != nil {
		return 0, 0, err
	}
	interest, err := accrueInterest(market, e.now())
	if err != nil {
		return 0, 0, err
	}

	position, err := e.ensurePosition(id, borrower)
	if err != nil {
		return 0, 0, err
	}
	if position.BorrowShares == 0 {
		return 0, 0, ErrNoDebtToRepay
	}

	var assets, shares uint64
	if amount.assets > 0 {
		assets = amount.assets
		if shares, err = toSharesDown(assets, market.TotalBorrowAssets, market.TotalBorrowShares); err != nil {
			return 0, 0, err
		}
	} else {
		shares = amount.shares
		if assets, err = toAssetsUp(shares, market.TotalBorrowAssets, market.TotalBorrowShares); err != nil {
			return 0, 0, err
		}
	}

	position.BorrowShares = zeroFloorSub(position.BorrowShares, shares)
	market.TotalBorrowShares = zeroFloorSub(market.TotalBorrowShares, shares)
	market.TotalBorrowAssets = zeroFloorSub(market.TotalBorrowAssets, assets)

	if err := e.custody.Transfer(market.LoanAsset, payer, market.LoanVault, assets); err != nil {
		return 0, 0, err
	}
	if err := e.commit(id, market, position, interest); err != nil {
		return 0, 0, err
	}
	e.emit(newOperationEvent(EventTypeRepaid, id, borrower, assets, shares, market))
	return assets, shares, nil
}

// Accrue is the read-write helper exposed for the host's validation
// layer: it brings a market's balances up to the current timestamp
// without performing any transition.
func (e *Engine) Accrue(id MarketID) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	market, err := e.ensureMarket(id)
	if err != nil {
		return 0, err
	}
	interest, err := accrueInterest(market, e.now())
	if err != nil {
		return 0, err
	}
	if err := e.state.PutMarket(id, market); err != nil {
		return 0, err
	}
	if interest > 0 {
		e.emit(newAccrualEvent(id, interest, market))
	}
	return interest, nil
}

// IsHealthy reports whether a participant's position is solvent at the
// current balances. Read-only: accrual is evaluated on a copy and not
// persisted.
func (e *Engine) IsHealthy(id MarketID, owner common.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	market, err := e.ensureMarket(id)
	if err != nil {
		return false, err
	}
	if _, err := accrueInterest(market, e.now()); err != nil {
		return false, err
	}
	position, err := e.ensurePosition(id, owner)
	if err != nil {
		return false, err
	}
	return isHealthy(market, position, e.price)
}

// Market returns the stored market record, or ErrMarketNotFound.
func (e *Engine) Market(id MarketID) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.ensureMarket(id)
}

// Position returns the participant's position, lazily initialised.
func (e *Engine) Position(id MarketID, owner common.Address) (*UserPosition, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, err := e.ensureMarket(id); err != nil {
		return nil, err
	}
	return e.ensurePosition(id, owner)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.custody == nil {
		return ErrNilCustody
	}
	return nil
}

func (e *Engine) now() int64 {
	if e.clock == nil {
		return 0
	}
	return e.clock.Now()
}

func (e *Engine) emit(evt *types.Event) {
	if e.events == nil || evt == nil {
		return
	}
	e.events.Emit(evt)
}

func (e *Engine) ensureMarket(id MarketID) (*Market, error) {
	market, err := e.state.GetMarket(id)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrMarketNotFound
	}
	return market, nil
}

func (e *Engine) ensurePosition(id MarketID, owner common.Address) (*UserPosition, error) {
	position, err := e.state.GetPosition(id, owner)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &UserPosition{Owner: owner, Market: id}
	}
	return position, nil
}

func (e *Engine) commit(id MarketID, market *Market, position *UserPosition, interest uint64) error {
	if err := e.state.PutPosition(id, position); err != nil {
		return err
	}
	if err := e.state.PutMarket(id, market); err != nil {
		return err
	}
	if interest > 0 {
		e.emit(newAccrualEvent(id, interest, market))
	}
	return nil
}
