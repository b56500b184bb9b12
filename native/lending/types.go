package lending

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MarketID uniquely identifies a loan-asset/collateral-asset pair.
type MarketID [32]byte

// NewMarketID derives the canonical identifier for a market from its
// asset pair.
func NewMarketID(loanAsset, collateralAsset common.Address) MarketID {
	var id MarketID
	copy(id[:], crypto.Keccak256(loanAsset.Bytes(), collateralAsset.Bytes()))
	return id
}

func (id MarketID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// ParseMarketID decodes a 0x-prefixed hex market identifier.
func ParseMarketID(s string) (MarketID, bool) {
	var id MarketID
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(id) {
		return MarketID{}, false
	}
	copy(id[:], raw)
	return id, true
}

// Market captures the pooled accounting state for one lending market.
// Amount fields are denominated in the base units of the loan asset and
// are authoritative: vault balances follow the market, never the other
// way round.
type Market struct {
	// Authority created the market and is the only party allowed to
	// manage it.
	Authority common.Address
	// LoanAsset and CollateralAsset identify the two asset types. They
	// are immutable after initialisation.
	LoanAsset       common.Address
	CollateralAsset common.Address
	// LoanVault and CollateralVault are the custody accounts holding
	// the pooled deposits.
	LoanVault       common.Address
	CollateralVault common.Address
	// TotalSupplyAssets is the pooled loan-asset deposits including
	// accrued interest; TotalSupplyShares are the claims on them.
	TotalSupplyAssets uint64
	TotalSupplyShares uint64
	// TotalBorrowAssets is the outstanding debt including accrued
	// interest; TotalBorrowShares represent it proportionally.
	TotalBorrowAssets uint64
	TotalBorrowShares uint64
	// LLTV is the liquidation loan-to-value ratio scaled by
	// LLTVPrecision.
	LLTV uint64
	// LastUpdate is the unix timestamp of the most recent interest
	// accrual.
	LastUpdate int64
}

// AvailableLiquidity returns the loan assets not currently lent out.
func (m *Market) AvailableLiquidity() uint64 {
	if m == nil || m.TotalBorrowAssets > m.TotalSupplyAssets {
		return 0
	}
	return m.TotalSupplyAssets - m.TotalBorrowAssets
}

// Clone returns a deep copy of the market record.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// UserPosition tracks one participant's stake in a market. Created
// lazily on first interaction and never deleted, it may reach all-zero
// balances.
type UserPosition struct {
	Owner  common.Address
	Market MarketID
	// SupplyShares is the claim on the supply pool, BorrowShares the
	// share of pooled debt. Neither is 1:1 with assets once interest
	// has accrued.
	SupplyShares uint64
	BorrowShares uint64
	// CollateralAmount is held in the collateral asset's base units
	// and is not share-denominated.
	CollateralAmount uint64
}

// Clone returns a deep copy of the position record.
func (p *UserPosition) Clone() *UserPosition {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Amount is the dual assets-or-shares input accepted by the pooled
// operations. Exactly one leg must be set; the other is derived through
// the share conversion. The constructors keep the invariant visible at
// the call site.
type Amount struct {
	assets uint64
	shares uint64
}

// ByAssets requests an operation denominated in asset units.
func ByAssets(assets uint64) Amount { return Amount{assets: assets} }

// ByShares requests an operation denominated in share units.
func ByShares(shares uint64) Amount { return Amount{shares: shares} }

// Assets reports the asset leg (zero when the amount is share-denominated).
func (a Amount) Assets() uint64 { return a.assets }

// Shares reports the share leg (zero when the amount is asset-denominated).
func (a Amount) Shares() uint64 { return a.shares }

func (a Amount) validate() error {
	if (a.assets > 0) == (a.shares > 0) {
		return ErrInconsistentInput
	}
	return nil
}

// Clock supplies the current unix timestamp. Readings must be monotonic
// non-decreasing; a reading earlier than a market's LastUpdate aborts
// the operation with ErrInvalidTimestamp.
type Clock interface {
	Now() int64
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() int64

// Now implements Clock.
func (f ClockFunc) Now() int64 { return f() }
