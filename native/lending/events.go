package lending

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"pelago/core/types"
)

const (
	EventTypeMarketInitialized   = "lending.market.initialized"
	EventTypeSupplied            = "lending.supplied"
	EventTypeWithdrawn           = "lending.withdrawn"
	EventTypeCollateralSupplied  = "lending.collateral.supplied"
	EventTypeCollateralWithdrawn = "lending.collateral.withdrawn"
	EventTypeBorrowed            = "lending.borrowed"
	EventTypeRepaid              = "lending.repaid"
	EventTypeInterestAccrued     = "lending.interest.accrued"
)

// EventSink receives the structured record emitted after each completed
// operation. Optional; a nil sink disables emission.
type EventSink interface {
	Emit(evt *types.Event)
}

func newOperationEvent(eventType string, id MarketID, participant common.Address, assets, shares uint64, market *Market) *types.Event {
	attrs := map[string]string{
		"market":      id.String(),
		"participant": participant.Hex(),
		"assets":      strconv.FormatUint(assets, 10),
		"shares":      strconv.FormatUint(shares, 10),
	}
	addTotals(attrs, market)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newCollateralEvent(eventType string, id MarketID, participant common.Address, amount uint64, position *UserPosition) *types.Event {
	attrs := map[string]string{
		"market":      id.String(),
		"participant": participant.Hex(),
		"amount":      strconv.FormatUint(amount, 10),
	}
	if position != nil {
		attrs["collateral"] = strconv.FormatUint(position.CollateralAmount, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newAccrualEvent(id MarketID, interest uint64, market *Market) *types.Event {
	attrs := map[string]string{
		"market":   id.String(),
		"interest": strconv.FormatUint(interest, 10),
	}
	addTotals(attrs, market)
	return &types.Event{Type: EventTypeInterestAccrued, Attributes: attrs}
}

func newMarketEvent(id MarketID, market *Market) *types.Event {
	return &types.Event{
		Type: EventTypeMarketInitialized,
		Attributes: map[string]string{
			"market":          id.String(),
			"authority":       market.Authority.Hex(),
			"loanAsset":       market.LoanAsset.Hex(),
			"collateralAsset": market.CollateralAsset.Hex(),
			"lltv":            strconv.FormatUint(market.LLTV, 10),
		},
	}
}

func addTotals(attrs map[string]string, market *Market) {
	if market == nil {
		return
	}
	attrs["totalSupplyAssets"] = strconv.FormatUint(market.TotalSupplyAssets, 10)
	attrs["totalSupplyShares"] = strconv.FormatUint(market.TotalSupplyShares, 10)
	attrs["totalBorrowAssets"] = strconv.FormatUint(market.TotalBorrowAssets, 10)
	attrs["totalBorrowShares"] = strconv.FormatUint(market.TotalBorrowShares, 10)
}
