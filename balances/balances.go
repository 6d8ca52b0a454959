// Package balances is the currency ledger: free and reserved balances per
// account with an existential deposit.
package balances

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/najoast/gearledger/core"
	"github.com/najoast/gearledger/storage"
)

var (
	// ErrInsufficientBalance means the free balance cannot cover the amount.
	ErrInsufficientBalance = errors.New("balances: insufficient balance")

	// ErrInsufficientReserved means the reserved balance cannot cover the amount.
	ErrInsufficientReserved = errors.New("balances: insufficient reserved balance")

	// ErrExistentialDeposit means an account would be created below the minimum balance.
	ErrExistentialDeposit = errors.New("balances: below existential deposit")

	// ErrKeepAlive means a transfer would leave the sender below the minimum balance.
	ErrKeepAlive = errors.New("balances: transfer would kill account")
)

// Status selects which balance of the beneficiary receives repatriated funds.
type Status uint8

const (
	// Free credits the free balance
	Free Status = iota
	// Reserved credits the reserved balance
	Reserved
)

// Existence controls whether a transfer may drop the sender below the minimum.
type Existence uint8

const (
	// AllowDeath permits the sender to go below the minimum balance
	AllowDeath Existence = iota
	// KeepAlive requires the sender to keep at least the minimum balance
	KeepAlive
)

// Account holds the balances of one address.
type Account struct {
	Free     *uint256.Int
	Reserved *uint256.Int
}

func (a Account) total() *uint256.Int {
	return new(uint256.Int).Add(a.Free, a.Reserved)
}

// Ledger stores accounts and total issuance.
type Ledger struct {
	accounts storage.Map[core.ProgramID, Account]
	issuance storage.Value[*uint256.Int]
	ed       *uint256.Int
}

// New returns a ledger persisted under prefix with the given existential deposit.
func New(store storage.Store, prefix string, existentialDeposit *uint256.Int) *Ledger {
	return &Ledger{
		accounts: storage.NewMap[core.ProgramID, Account](store, prefix+"acct/"),
		issuance: storage.NewValue[*uint256.Int](store, prefix+"issuance"),
		ed:       existentialDeposit.Clone(),
	}
}

func (l *Ledger) account(who core.ProgramID) (Account, bool, error) {
	acc, ok, err := l.accounts.Get(who)
	if err != nil {
		return Account{}, false, err
	}
	if acc.Free == nil {
		acc.Free = new(uint256.Int)
	}
	if acc.Reserved == nil {
		acc.Reserved = new(uint256.Int)
	}
	return acc, ok, nil
}

func (l *Ledger) save(who core.ProgramID, acc Account) error {
	if acc.total().IsZero() {
		return l.accounts.Remove(who)
	}
	return l.accounts.Insert(who, acc)
}

func (l *Ledger) adjustIssuance(delta *uint256.Int, add bool) error {
	cur, _, err := l.issuance.Get()
	if err != nil {
		return err
	}
	if cur == nil {
		cur = new(uint256.Int)
	}
	if add {
		cur = new(uint256.Int).Add(cur, delta)
	} else if cur.Lt(delta) {
		cur = new(uint256.Int)
	} else {
		cur = new(uint256.Int).Sub(cur, delta)
	}
	return l.issuance.Put(cur)
}

// MinimumBalance returns the existential deposit.
func (l *Ledger) MinimumBalance() *uint256.Int {
	return l.ed.Clone()
}

// TotalIssuance returns the sum of all balances ever minted minus burned.
func (l *Ledger) TotalIssuance() (*uint256.Int, error) {
	cur, _, err := l.issuance.Get()
	if err != nil || cur == nil {
		return new(uint256.Int), err
	}
	return cur, nil
}

// Exists reports whether who has a nonzero total balance.
func (l *Ledger) Exists(who core.ProgramID) (bool, error) {
	return l.accounts.Contains(who)
}

// FreeBalance returns the free balance of who.
func (l *Ledger) FreeBalance(who core.ProgramID) (*uint256.Int, error) {
	acc, _, err := l.account(who)
	return acc.Free, err
}

// ReservedBalance returns the reserved balance of who.
func (l *Ledger) ReservedBalance(who core.ProgramID) (*uint256.Int, error) {
	acc, _, err := l.account(who)
	return acc.Reserved, err
}

// TotalBalance returns free plus reserved.
func (l *Ledger) TotalBalance(who core.ProgramID) (*uint256.Int, error) {
	acc, _, err := l.account(who)
	if err != nil {
		return nil, err
	}
	return acc.total(), nil
}

// Deposit mints amount into the free balance of who. A new account must
// receive at least the existential deposit.
func (l *Ledger) Deposit(who core.ProgramID, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	acc, ok, err := l.account(who)
	if err != nil {
		return err
	}
	if !ok && amount.Lt(l.ed) {
		return fmt.Errorf("%w: deposit %s to %s", ErrExistentialDeposit, amount, who)
	}
	acc.Free = new(uint256.Int).Add(acc.Free, amount)
	if err := l.save(who, acc); err != nil {
		return err
	}
	return l.adjustIssuance(amount, true)
}

// CanReserve reports whether who has at least amount free.
func (l *Ledger) CanReserve(who core.ProgramID, amount *uint256.Int) (bool, error) {
	acc, _, err := l.account(who)
	if err != nil {
		return false, err
	}
	return !acc.Free.Lt(amount), nil
}

// Reserve moves amount from free to reserved.
func (l *Ledger) Reserve(who core.ProgramID, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	acc, _, err := l.account(who)
	if err != nil {
		return err
	}
	if acc.Free.Lt(amount) {
		return fmt.Errorf("%w: reserve %s from %s (free %s)", ErrInsufficientBalance, amount, who, acc.Free)
	}
	acc.Free = new(uint256.Int).Sub(acc.Free, amount)
	acc.Reserved = new(uint256.Int).Add(acc.Reserved, amount)
	return l.save(who, acc)
}

// Unreserve moves up to amount from reserved to free and returns the
// part that could not be moved.
func (l *Ledger) Unreserve(who core.ProgramID, amount *uint256.Int) (*uint256.Int, error) {
	acc, ok, err := l.account(who)
	if err != nil {
		return nil, err
	}
	if !ok || amount.IsZero() {
		return amount.Clone(), nil
	}
	moved := amount.Clone()
	if acc.Reserved.Lt(moved) {
		moved = acc.Reserved.Clone()
	}
	acc.Reserved = new(uint256.Int).Sub(acc.Reserved, moved)
	acc.Free = new(uint256.Int).Add(acc.Free, moved)
	if err := l.save(who, acc); err != nil {
		return nil, err
	}
	return new(uint256.Int).Sub(amount, moved), nil
}

// RepatriateReserved moves amount from the reserved balance of from to
// the status balance of to. A missing beneficiary is created only if
// amount reaches the existential deposit.
func (l *Ledger) RepatriateReserved(from, to core.ProgramID, amount *uint256.Int, status Status) error {
	if amount.IsZero() {
		return nil
	}
	src, _, err := l.account(from)
	if err != nil {
		return err
	}
	if src.Reserved.Lt(amount) {
		return fmt.Errorf("%w: repatriate %s from %s (reserved %s)", ErrInsufficientReserved, amount, from, src.Reserved)
	}

	if from == to {
		if status == Free {
			_, err := l.Unreserve(from, amount)
			return err
		}
		return nil
	}

	dst, ok, err := l.account(to)
	if err != nil {
		return err
	}
	if !ok && amount.Lt(l.ed) {
		return fmt.Errorf("%w: repatriate %s to %s", ErrExistentialDeposit, amount, to)
	}

	src.Reserved = new(uint256.Int).Sub(src.Reserved, amount)
	if status == Free {
		dst.Free = new(uint256.Int).Add(dst.Free, amount)
	} else {
		dst.Reserved = new(uint256.Int).Add(dst.Reserved, amount)
	}
	if err := l.save(from, src); err != nil {
		return err
	}
	return l.save(to, dst)
}

// Transfer moves amount between free balances.
func (l *Ledger) Transfer(from, to core.ProgramID, amount *uint256.Int, existence Existence) error {
	if amount.IsZero() || from == to {
		return nil
	}
	src, _, err := l.account(from)
	if err != nil {
		return err
	}
	if src.Free.Lt(amount) {
		return fmt.Errorf("%w: transfer %s from %s (free %s)", ErrInsufficientBalance, amount, from, src.Free)
	}
	src.Free = new(uint256.Int).Sub(src.Free, amount)
	if existence == KeepAlive && src.total().Lt(l.ed) {
		return fmt.Errorf("%w: %s", ErrKeepAlive, from)
	}

	dst, ok, err := l.account(to)
	if err != nil {
		return err
	}
	if !ok && amount.Lt(l.ed) {
		return fmt.Errorf("%w: transfer %s to %s", ErrExistentialDeposit, amount, to)
	}
	dst.Free = new(uint256.Int).Add(dst.Free, amount)

	if err := l.save(from, src); err != nil {
		return err
	}
	return l.save(to, dst)
}
