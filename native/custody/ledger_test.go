package custody

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"pelago/core/state"
	"pelago/storage"
)

var (
	asset = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice = common.HexToAddress("0x0000000000000000000000000000000000000005")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000006")
)

func newTestLedger() *Ledger {
	return NewLedger(state.NewManager(storage.NewMemDB()))
}

func TestMintAndTransfer(t *testing.T) {
	ledger := newTestLedger()
	require.NoError(t, ledger.Mint(asset, alice, 1_000))

	require.NoError(t, ledger.Transfer(asset, alice, bob, 400))

	aliceBalance, err := ledger.Balance(asset, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(600), aliceBalance)

	bobBalance, err := ledger.Balance(asset, bob)
	require.NoError(t, err)
	require.Equal(t, uint64(400), bobBalance)
}

func TestTransferInsufficientFunds(t *testing.T) {
	ledger := newTestLedger()
	require.NoError(t, ledger.Mint(asset, alice, 100))

	err := ledger.Transfer(asset, alice, bob, 101)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// Nothing moved.
	aliceBalance, err := ledger.Balance(asset, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(100), aliceBalance)
	bobBalance, err := ledger.Balance(asset, bob)
	require.NoError(t, err)
	require.Zero(t, bobBalance)
}

func TestTransferNoOps(t *testing.T) {
	ledger := newTestLedger()
	require.NoError(t, ledger.Mint(asset, alice, 100))

	require.NoError(t, ledger.Transfer(asset, alice, bob, 0))
	require.NoError(t, ledger.Transfer(asset, alice, alice, 50))

	aliceBalance, err := ledger.Balance(asset, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(100), aliceBalance)
}

func TestTransferBalanceOverflow(t *testing.T) {
	ledger := newTestLedger()
	require.NoError(t, ledger.Mint(asset, alice, 10))
	require.NoError(t, ledger.Mint(asset, bob, math.MaxUint64))

	err := ledger.Transfer(asset, alice, bob, 10)
	require.ErrorIs(t, err, ErrBalanceOverflow)
}

func TestMintOverflow(t *testing.T) {
	ledger := newTestLedger()
	require.NoError(t, ledger.Mint(asset, alice, math.MaxUint64))
	require.ErrorIs(t, ledger.Mint(asset, alice, 1), ErrBalanceOverflow)
}

func TestNilStore(t *testing.T) {
	var ledger *Ledger
	require.ErrorIs(t, ledger.Transfer(asset, alice, bob, 1), ErrNilStore)
	require.ErrorIs(t, NewLedger(nil).Mint(asset, alice, 1), ErrNilStore)
}
