package lending

// Virtual offsets applied to every share/asset conversion. They pin the
// initial exchange rate at 1_000_000 shares per asset unit and make the
// first-depositor inflation attack uneconomical: moving the share price
// requires donating on the order of a billion base units to the vault.
const (
	VirtualShares uint64 = 1_000_000
	VirtualAssets uint64 = 1
)

// PricePrecision scales oracle prices. A price of 100 loan units per
// collateral unit is stored as 100 * PricePrecision.
const PricePrecision uint64 = 1_000_000

// LLTVPrecision scales the liquidation loan-to-value ratio. An 80% LLTV
// is stored as 80_000_000.
const LLTVPrecision uint64 = 100_000_000

// MaxLLTV bounds market creation: 0 < lltv <= MaxLLTV.
const MaxLLTV = LLTVPrecision

// DefaultOraclePrice is the fixed exchange rate used until an external
// price feed is wired in. The engine treats the price as an injected
// parameter so the swap is a drop-in replacement.
//
// The value already folds in the decimal gap between the collateral and
// loan assets: 100 * PricePrecision / 1000.
const DefaultOraclePrice uint64 = 100_000

// Interest parameters. The borrow side accrues a flat, non-compounding
// 5% per year, expressed in WAD (1e18) fixed point. secondsPerYear uses
// 365.25 days.
const (
	wad            uint64 = 1_000_000_000_000_000_000
	annualRateWAD  uint64 = 50_000_000_000_000_000
	secondsPerYear uint64 = 31_557_600
)
