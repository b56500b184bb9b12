package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"pelago/native/lending"
	"pelago/storage"
)

// Key prefixes for the ledger's record families. Record keys are fully
// deterministic so the host environment can declare, and lock, the keys
// an operation will touch before running it.
var (
	marketPrefix   = []byte("lending/market/")
	positionPrefix = []byte("lending/position/")
	balancePrefix  = []byte("custody/balance/")
)

// Manager is the durable record store for markets, positions and
// custody balances. Decoding always produces fresh values, so callers
// receive private copies they may mutate freely before writing back.
type Manager struct {
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// storedMarket is the persisted layout. RLP has no signed integers, so
// LastUpdate travels as uint64; negative timestamps are rejected before
// they ever reach the store.
type storedMarket struct {
	Authority         common.Address
	LoanAsset         common.Address
	CollateralAsset   common.Address
	LoanVault         common.Address
	CollateralVault   common.Address
	TotalSupplyAssets uint64
	TotalSupplyShares uint64
	TotalBorrowAssets uint64
	TotalBorrowShares uint64
	LLTV              uint64
	LastUpdate        uint64
}

type storedPosition struct {
	Owner            common.Address
	Market           [32]byte
	SupplyShares     uint64
	BorrowShares     uint64
	CollateralAmount uint64
}

// GetMarket loads a market record, returning nil when absent.
func (m *Manager) GetMarket(id lending.MarketID) (*lending.Market, error) {
	raw, err := m.db.Get(marketKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedMarket
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode market %s: %w", id, err)
	}
	return &lending.Market{
		Authority:         stored.Authority,
		LoanAsset:         stored.LoanAsset,
		CollateralAsset:   stored.CollateralAsset,
		LoanVault:         stored.LoanVault,
		CollateralVault:   stored.CollateralVault,
		TotalSupplyAssets: stored.TotalSupplyAssets,
		TotalSupplyShares: stored.TotalSupplyShares,
		TotalBorrowAssets: stored.TotalBorrowAssets,
		TotalBorrowShares: stored.TotalBorrowShares,
		LLTV:              stored.LLTV,
		LastUpdate:        int64(stored.LastUpdate),
	}, nil
}

// PutMarket persists a market record.
func (m *Manager) PutMarket(id lending.MarketID, market *lending.Market) error {
	if market == nil {
		return fmt.Errorf("put market %s: nil record", id)
	}
	if market.LastUpdate < 0 {
		return fmt.Errorf("put market %s: negative timestamp %d", id, market.LastUpdate)
	}
	encoded, err := rlp.EncodeToBytes(&storedMarket{
		Authority:         market.Authority,
		LoanAsset:         market.LoanAsset,
		CollateralAsset:   market.CollateralAsset,
		LoanVault:         market.LoanVault,
		CollateralVault:   market.CollateralVault,
		TotalSupplyAssets: market.TotalSupplyAssets,
		TotalSupplyShares: market.TotalSupplyShares,
		TotalBorrowAssets: market.TotalBorrowAssets,
		TotalBorrowShares: market.TotalBorrowShares,
		LLTV:              market.LLTV,
		LastUpdate:        uint64(market.LastUpdate),
	})
	if err != nil {
		return fmt.Errorf("encode market %s: %w", id, err)
	}
	return m.db.Put(marketKey(id), encoded)
}

// GetPosition loads a participant's position, returning nil when the
// participant has never touched the market.
func (m *Manager) GetPosition(id lending.MarketID, owner common.Address) (*lending.UserPosition, error) {
	raw, err := m.db.Get(positionKey(id, owner))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedPosition
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode position %s/%s: %w", id, owner.Hex(), err)
	}
	return &lending.UserPosition{
		Owner:            stored.Owner,
		Market:           lending.MarketID(stored.Market),
		SupplyShares:     stored.SupplyShares,
		BorrowShares:     stored.BorrowShares,
		CollateralAmount: stored.CollateralAmount,
	}, nil
}

// PutPosition persists a participant's position.
func (m *Manager) PutPosition(id lending.MarketID, position *lending.UserPosition) error {
	if position == nil {
		return fmt.Errorf("put position %s: nil record", id)
	}
	encoded, err := rlp.EncodeToBytes(&storedPosition{
		Owner:            position.Owner,
		Market:           position.Market,
		SupplyShares:     position.SupplyShares,
		BorrowShares:     position.BorrowShares,
		CollateralAmount: position.CollateralAmount,
	})
	if err != nil {
		return fmt.Errorf("encode position %s/%s: %w", id, position.Owner.Hex(), err)
	}
	return m.db.Put(positionKey(id, position.Owner), encoded)
}

// Balance reads the custody balance for (asset, holder); absent means
// zero.
func (m *Manager) Balance(asset, holder common.Address) (uint64, error) {
	raw, err := m.db.Get(balanceKey(asset, holder))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var balance uint64
	if err := rlp.DecodeBytes(raw, &balance); err != nil {
		return 0, fmt.Errorf("decode balance %s/%s: %w", asset.Hex(), holder.Hex(), err)
	}
	return balance, nil
}

// SetBalance writes the custody balance for (asset, holder).
func (m *Manager) SetBalance(asset, holder common.Address, amount uint64) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return fmt.Errorf("encode balance %s/%s: %w", asset.Hex(), holder.Hex(), err)
	}
	return m.db.Put(balanceKey(asset, holder), encoded)
}

func marketKey(id lending.MarketID) []byte {
	return append(append([]byte(nil), marketPrefix...), id[:]...)
}

func positionKey(id lending.MarketID, owner common.Address) []byte {
	key := append(append([]byte(nil), positionPrefix...), id[:]...)
	return append(key, owner.Bytes()...)
}

func balanceKey(asset, holder common.Address) []byte {
	key := append(append([]byte(nil), balancePrefix...), asset.Bytes()...)
	return append(key, holder.Bytes()...)
}
