package lending

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testAuthority       = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testLoanAsset       = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testCollateralAsset = common.HexToAddress("0x0000000000000000000000000000000000000002")
	testLoanVault       = common.HexToAddress("0x0000000000000000000000000000000000000003")
	testCollateralVault = common.HexToAddress("0x0000000000000000000000000000000000000004")
	testSupplier        = common.HexToAddress("0x0000000000000000000000000000000000000005")
	testBorrower        = common.HexToAddress("0x0000000000000000000000000000000000000006")
	testPayer           = common.HexToAddress("0x0000000000000000000000000000000000000007")
)

const testLLTV = 80_000_000 // 80%

type mockState struct {
	markets   map[MarketID]*Market
	positions map[string]*UserPosition
}

func newMockState() *mockState {
	return &mockState{
		markets:   make(map[MarketID]*Market),
		positions: make(map[string]*UserPosition),
	}
}

func positionKey(id MarketID, owner common.Address) string {
	return string(id[:]) + string(owner.Bytes())
}

func (m *mockState) GetMarket(id MarketID) (*Market, error) {
	return m.markets[id].Clone(), nil
}

func (m *mockState) PutMarket(id MarketID, market *Market) error {
	m.markets[id] = market.Clone()
	return nil
}

func (m *mockState) GetPosition(id MarketID, owner common.Address) (*UserPosition, error) {
	return m.positions[positionKey(id, owner)].Clone(), nil
}

func (m *mockState) PutPosition(id MarketID, position *UserPosition) error {
	m.positions[positionKey(id, position.Owner)] = position.Clone()
	return nil
}

type mockCustody struct {
	balances map[string]uint64
	failWith error
}

func newMockCustody() *mockCustody {
	return &mockCustody{balances: make(map[string]uint64)}
}

func holdingKey(asset, holder common.Address) string {
	return asset.Hex() + "/" + holder.Hex()
}

func (c *mockCustody) fund(asset, holder common.Address, amount uint64) {
	c.balances[holdingKey(asset, holder)] += amount
}

func (c *mockCustody) balance(asset, holder common.Address) uint64 {
	return c.balances[holdingKey(asset, holder)]
}

func (c *mockCustody) Transfer(asset, from, to common.Address, amount uint64) error {
	if c.failWith != nil {
		return c.failWith
	}
	fromKey := holdingKey(asset, from)
	if c.balances[fromKey] < amount {
		return fmt.Errorf("custody: insufficient funds in %s", fromKey)
	}
	c.balances[fromKey] -= amount
	c.balances[holdingKey(asset, to)] += amount
	return nil
}

type testClock struct {
	now int64
}

func (c *testClock) Now() int64 { return c.now }

func newTestEngine(t *testing.T) (*Engine, *mockState, *mockCustody, *testClock, MarketID) {
	t.Helper()
	state := newMockState()
	custody := newMockCustody()
	clock := &testClock{now: 1_700_000_000}

	engine := NewEngine()
	engine.SetState(state)
	engine.SetCustody(custody)
	engine.SetClock(clock)

	id, err := engine.InitializeMarket(testAuthority, testLoanAsset, testCollateralAsset, testLoanVault, testCollateralVault, testLLTV)
	if err != nil {
		t.Fatalf("initialize market: %v", err)
	}
	custody.fund(testLoanAsset, testSupplier, 1_000_000)
	custody.fund(testLoanAsset, testPayer, 1_000_000)
	custody.fund(testCollateralAsset, testBorrower, 100_000_000)
	return engine, state, custody, clock, id
}

func TestInitializeMarketValidation(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	engine.SetCustody(newMockCustody())
	engine.SetClock(&testClock{})

	if _, err := engine.InitializeMarket(testAuthority, testLoanAsset, testCollateralAsset, testLoanVault, testCollateralVault, 0); !errors.Is(err, ErrInvalidLLTV) {
		t.Fatalf("zero lltv: expected ErrInvalidLLTV, got %v", err)
	}
	if _, err := engine.InitializeMarket(testAuthority, testLoanAsset, testCollateralAsset, testLoanVault, testCollateralVault, MaxLLTV+1); !errors.Is(err, ErrInvalidLLTV) {
		t.Fatalf("excessive lltv: expected ErrInvalidLLTV, got %v", err)
	}
	if _, err := engine.InitializeMarket(testAuthority, testLoanAsset, testCollateralAsset, testLoanVault, testCollateralVault, testLLTV); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := engine.InitializeMarket(testAuthority, testLoanAsset, testCollateralAsset, testLoanVault, testCollateralVault, testLLTV); !errors.Is(err, ErrMarketExists) {
		t.Fatalf("duplicate: expected ErrMarketExists, got %v", err)
	}
}

func TestSupplyFirstDeposit(t *testing.T) {
	engine, state, custody, _, id := newTestEngine(t)

	assets, shares, err := engine.Supply(id, testSupplier, ByAssets(1_000))
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if assets != 1_000 || shares != 1_000_000_000 {
		t.Fatalf("unexpected settlement: assets %d shares %d", assets, shares)
	}

	market := state.markets[id]
	if market.TotalSupplyAssets != 1_000 || market.TotalSupplyShares != 1_000_000_000 {
		t.Fatalf("market totals: %+v", market)
	}
	position := state.positions[positionKey(id, testSupplier)]
	if position.SupplyShares != 1_000_000_000 {
		t.Fatalf("position shares: %d", position.SupplyShares)
	}
	if custody.balance(testLoanAsset, testLoanVault) != 1_000 {
		t.Fatalf("vault balance: %d", custody.balance(testLoanAsset, testLoanVault))
	}
	if custody.balance(testLoanAsset, testSupplier) != 999_000 {
		t.Fatalf("supplier balance: %d", custody.balance(testLoanAsset, testSupplier))
	}
}

func TestSupplyByShares(t *testing.T) {
	engine, _, _, _, id := newTestEngine(t)

	// 1_000_000 shares on an empty market cost exactly one asset unit,
	// rounded up against the supplier.
	assets, shares, err := engine.Supply(id, testSupplier, ByShares(1_000_000))
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if assets != 1 || shares != 1_000_000 {
		t.Fatalf("unexpected settlement: assets %d shares %d", assets, shares)
	}
}

func TestWithdrawFullRoundTrip(t *testing.T) {
	engine, state, custody, _, id := newTestEngine(t)

	if _, _, err := engine.Supply(id, testSupplier, ByAssets(1_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	assets, shares, err := engine.Withdraw(id, testSupplier, ByShares(1_000_000_000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if assets != 1_000 || shares != 1_000_000_000 {
		t.Fatalf("unexpected settlement: assets %d shares %d", assets, shares)
	}

	market := state.markets[id]
	if market.TotalSupplyAssets != 0 || market.TotalSupplyShares != 0 {
		t.Fatalf("market not drained: %+v", market)
	}
	position := state.positions[positionKey(id, testSupplier)]
	if position.SupplyShares != 0 {
		t.Fatalf("position not drained: %d", position.SupplyShares)
	}
	if custody.balance(testLoanAsset, testSupplier) != 1_000_000 {
		t.Fatalf("supplier balance after round trip: %d", custody.balance(testLoanAsset, testSupplier))
	}
}

func TestWithdrawMoreThanOwned(t *testing.T) {
	engine, _, _, _, id := newTestEngine(t)

	if _, _, err := engine.Supply(id, testSupplier, ByAssets(1_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if _, _, err := engine.Withdraw(id, testSupplier, ByShares(1_000_000_001)); !errors.Is(err, ErrInsufficientSupply) {
		t.Fatalf("expected ErrInsufficientSupply, got %v", err)
	}
}

func TestWithdrawBlockedByOutstandingDebt(t *testing.T) {
	engine, state, _, _, id := newTestEngine(t)

	if _, _, err := engine.Supply(id, testSupplier, ByAssets(1_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.SupplyCollateral(id, testBorrower, 10_000); err != nil {
		t.Fatalf("supply collateral: %v", err)
	}
	if _, _, err := engine.Borrow(id, testBorrower, ByAssets(800)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	before := state.markets[id].Clone()
	if _, _, err := engine.Withdraw(id, testSupplier, ByAssets(300)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if *state.markets[id] != *before {
		t.Fatalf("rejected withdraw mutated market: %+v", state.markets[id])
	}

	// Withdrawing only the un-lent remainder still works.
	if _, _, err := engine.Withdraw(id, testSupplier, ByAssets(200)); err != nil {
		t.Fatalf("withdraw remainder: %v", err)
	}
}

func TestBorrowSolvencyBoundary(t *testing.T) {
	// At the default price each collateral unit is worth a tenth of a
	// loan unit, so 10_000 collateral backs a value of 1_000 and an 80%
	// LLTV caps debt at exactly 800.
	engine, state, custody, _, id := newTestEngine(t)

	if _, _, err := engine.Supply(id, testSupplier, ByAssets(1_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.SupplyCollateral(id, testBorrower, 10_000); err != nil {
		t.Fatalf("supply collateral: %v", err)
	}

	beforeMarket := state.markets[id].Clone()
	beforeBalance := custody.balance(testLoanAsset, testBorrower)
	if _, _, err := engine.Borrow(id, testBorrower, ByAssets(801)); !errors.Is(err, ErrUndercollateralized) {
		t.Fatalf("expected ErrUndercollateralized, got %v", err)
	}
	if *state.markets[id] != *beforeMarket {
		t.Fatalf("rejected borrow mutated market: %+v", state.markets[id])
	}
	if custody.balance(testLoanAsset, testBorrower) != beforeBalance {
		t.Fatalf("rejected borrow moved funds")
	}

	assets, shares, err := engine.Borrow(id, testBorrower, ByAssets(800))
	if err != nil {
		t.Fatalf("borrow at boundary: %v", err)
	}
	if assets != 800 || shares != 800_000_000 {
		t.Fatalf("unexpected settlement: assets %d shares %d", assets, shares)
	}
	if custody.balance(testLoanAsset, testBorrower) != beforeBalance+800 {
		t.Fatalf("borrower not funded: %d", custody.balance(testLoanAsset, testBorrower))
	}
}

func TestBorrowExceedsAvailableLiquidity(t *testing.T) {
	engine, _, _, _, id := newTestEngine(t)

	if _, _, err := engine.Supply(id, testSupplier, ByAssets(100)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.SupplyCollateral(id, testBorrower, 100_000); err != nil {
		t.Fatalf("supply collateral: %v", err)
	}
	if _, _, err := engine.Borrow(id, testBorrower, ByAssets(200)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestRepayOverpaymentClampsToZero(t *testing.T) {
	engine, state, _, _, id := newTestEngine(t)

	if _, _, err := engine.Supply(id, testSupplier, ByAssets(1_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.SupplyCollateral(id, testBorrower, 10_000); err != nil {
		t.Fatalf("supply collateral: %v", err)
	}
	if _, _, err := engine.Borrow(id, testBorrower, ByAssets(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Paying 105 against a 100-unit debt floors the totals at zero
	// rather than underflowing.
	assets, _, err := engine.Repay(id, testPayer, testBorrower, ByAssets(105))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if assets != 105 {
		t.Fatalf("unexpected repaid assets: %d", assets)
	}
	market := state.markets[id]
	if market.TotalBorrowAssets != 0 || market.TotalBorrowShares != 0 {
		t.Fatalf("borrow totals not cleared: %+v", market)
	}
	position := state.positions[positionKey(id, testBorrower)]
	if position.BorrowShares != 0 {
		t.Fatalf("borrower shares not cleared: %d", position.BorrowShares)
	}
}

func TestRepayWithoutDebt(t *testing.T) {
	engine, _, _, _, id := newTestEngine(t)

	if _, _, err := engine.Repay(id, testPayer, testBorrower, ByAssets(10)); !errors.Is(err, ErrNoDebtToRepay) {
		t.Fatalf("expected ErrNoDebtToRepay, got %v", err)
	}
}

func TestAmountMustBeSingleLeg(t *testing.T) {
	engine, _, _, _, id := newTestEngine(t)

	if _, _, err := engine.Supply(id, testSupplier, Amount{}); !errors.Is(err, ErrInconsistentInput) {
		t.Fatalf("expected ErrInconsistentInput, got %v", err)
	}
	if _, _, err := engine.Withdraw(id, testSupplier, Amount{}); !errors.Is(err, ErrInconsistentInput) {
		t.Fatalf("expected ErrInconsistentInput, got %v", err)
	}
}

func TestSupplyCollateralZeroAmount(t *testing.T) {
	engine, _, _, _, id := newTestEngine(t)

	if err := engine.SupplyCollateral(id, testBorrower, 0); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestWithdrawCollateralGuards(t *testing.T) {
	engine, state, _, _, id := newTestEngine(t)

	if _, _, err := engine.Supply(id, testSupplier, ByAssets(1_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.SupplyCollateral(id, testBorrower, 10_000); err != nil {
		t.Fatalf("supply collateral: %v", err)
	}

	if err := engine.WithdrawCollateral(id, testBorrower, 10_001); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}

	if _, _, err := engine.Borrow(id, testBorrower, ByAssets(800)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Debt of 800 needs the full 10_000 collateral at the boundary, so
	// releasing even one unit breaches solvency.
	before := state.positions[positionKey(id, testBorrower)].Clone()
	if err := engine.WithdrawCollateral(id, testBorrower, 1); !errors.Is(err, ErrUndercollateralized) {
		t.Fatalf("expected ErrUndercollateralized, got %v", err)
	}
	if *state.positions[positionKey(id, testBorrower)] != *before {
		t.Fatalf("rejected collateral withdraw mutated position")
	}

	// Clearing the debt releases the collateral again.
	if _, _, err := engine.Repay(id, testPayer, testBorrower, ByAssets(805)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := engine.WithdrawCollateral(id, testBorrower, 10_000); err != nil {
		t.Fatalf("withdraw collateral after repay: %v", err)
	}
}

func TestAccrueIsIdempotentPerTimestamp(t *testing.T) {
	engine, state, _, clock, id := newTestEngine(t)

	if _, _, err := engine.Supply(id, testSupplier, ByAssets(1_000_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.SupplyCollateral(id, testBorrower, 10_000_000); err != nil {
		t.Fatalf("supply collateral: %v", err)
	}
	if _, _, err := engine.Borrow(id, testBorrower, ByAssets(500_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	clock.now += 30 * 24 * 3600
	interest, err := engine.Accrue(id)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if interest == 0 {
		t.Fatalf("expected interest after a month of debt")
	}
	market := state.markets[id]
	if market.TotalBorrowAssets != 500_000+interest {
		t.Fatalf("borrow total: %d", market.TotalBorrowAssets)
	}
	if market.TotalSupplyAssets != 1_000_000+interest {
		t.Fatalf("supply total: %d", market.TotalSupplyAssets)
	}
	if market.LastUpdate != clock.now {
		t.Fatalf("last update not stamped: %d", market.LastUpdate)
	}

	again, err := engine.Accrue(id)
	if err != nil {
		t.Fatalf("second accrue: %v", err)
	}
	if again != 0 {
		t.Fatalf("second accrual at same timestamp produced %d", again)
	}
}

func TestClockRegressionRejected(t *testing.T) {
	engine, _, _, clock, id := newTestEngine(t)

	clock.now -= 10
	if _, _, err := engine.Supply(id, testSupplier, ByAssets(100)); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestCustodyFailureLeavesStateUntouched(t *testing.T) {
	engine, state, custody, _, id := newTestEngine(t)

	custody.failWith = errors.New("custody offline")
	if _, _, err := engine.Supply(id, testSupplier, ByAssets(1_000)); err == nil {
		t.Fatalf("expected custody failure to propagate")
	}
	market := state.markets[id]
	if market.TotalSupplyAssets != 0 || market.TotalSupplyShares != 0 {
		t.Fatalf("failed supply mutated market: %+v", market)
	}
	if _, ok := state.positions[positionKey(id, testSupplier)]; ok {
		t.Fatalf("failed supply persisted a position")
	}
}

func TestMarketNotFound(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)

	var unknown MarketID
	unknown[0] = 0xff
	if _, _, err := engine.Supply(unknown, testSupplier, ByAssets(1)); !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("expected ErrMarketNotFound, got %v", err)
	}
	if _, err := engine.Market(unknown); !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("expected ErrMarketNotFound, got %v", err)
	}
}
