package custody

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNilStore          = errors.New("custody: balance store not configured")
	ErrInsufficientFunds = errors.New("custody: insufficient balance")
	ErrBalanceOverflow   = errors.New("custody: balance overflow")
)

// BalanceStore persists per-(asset, holder) balances. An absent record
// reads as zero.
type BalanceStore interface {
	Balance(asset, holder common.Address) (uint64, error)
	SetBalance(asset, holder common.Address, amount uint64) error
}

// Ledger is the asset-custody collaborator: it moves base units between
// participant accounts and market vaults. Each transfer is synchronous
// and all-or-nothing; the debit is checked and written before the
// credit, and a zero-amount transfer is a successful no-op.
type Ledger struct {
	store BalanceStore
}

func NewLedger(store BalanceStore) *Ledger {
	return &Ledger{store: store}
}

// Transfer moves amount units of asset from one holder to another.
func (l *Ledger) Transfer(asset, from, to common.Address, amount uint64) error {
	if l == nil || l.store == nil {
		return ErrNilStore
	}
	if amount == 0 || from == to {
		return nil
	}
	fromBalance, err := l.store.Balance(asset, from)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return ErrInsufficientFunds
	}
	toBalance, err := l.store.Balance(asset, to)
	if err != nil {
		return err
	}
	if toBalance+amount < toBalance {
		return ErrBalanceOverflow
	}
	if err := l.store.SetBalance(asset, from, fromBalance-amount); err != nil {
		return err
	}
	return l.store.SetBalance(asset, to, toBalance+amount)
}

// Mint credits freshly issued units to a holder. Used by genesis
// bootstrap and test fixtures; the ledger itself imposes no issuance
// policy.
func (l *Ledger) Mint(asset, to common.Address, amount uint64) error {
	if l == nil || l.store == nil {
		return ErrNilStore
	}
	balance, err := l.store.Balance(asset, to)
	if err != nil {
		return err
	}
	if balance+amount < balance {
		return ErrBalanceOverflow
	}
	return l.store.SetBalance(asset, to, balance+amount)
}

// Balance reads a holder's balance for an asset.
func (l *Ledger) Balance(asset, holder common.Address) (uint64, error) {
	if l == nil || l.store == nil {
		return 0, ErrNilStore
	}
	return l.store.Balance(asset, holder)
}
