// Package memledger is an in-memory token balance store with mint, burn and
// transfer semantics. It backs unit tests and runs without a database.
package memledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"gitlab.com/tokenport/distributor/common"
)

type balanceKey struct {
	token   common.Address
	account common.Address
}

type Ledger struct {
	mu       sync.Mutex
	balances map[balanceKey]*uint256.Int
}

func New() *Ledger {
	return &Ledger{balances: make(map[balanceKey]*uint256.Int)}
}

func (l *Ledger) balance(token, account common.Address) *uint256.Int {
	key := balanceKey{token: token, account: account}
	bal, ok := l.balances[key]
	if !ok {
		bal = uint256.NewInt(0)
		l.balances[key] = bal
	}
	return bal
}

// Mint credits freshly created tokens to an account.
func (l *Ledger) Mint(ctx context.Context, token, account common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balance(token, account)
	sum, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return fmt.Errorf("%w: mint %s to %s", common.ErrAmountOverflow, amount.Dec(), account)
	}
	bal.Set(sum)
	return nil
}

// Burn destroys tokens held by an account.
func (l *Ledger) Burn(ctx context.Context, token, account common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balance(token, account)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, burning %s", common.ErrInsufficientFunds, account, bal.Dec(), amount.Dec())
	}
	bal.Sub(bal, amount)
	return nil
}

// Transfer moves tokens between accounts. Zero-amount transfers are no-ops.
func (l *Ledger) Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromBal := l.balance(token, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, sending %s", common.ErrInsufficientFunds, from, fromBal.Dec(), amount.Dec())
	}
	toBal := l.balance(token, to)
	// Compute the credit aside so a failed transfer leaves both accounts
	// untouched.
	sum, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return fmt.Errorf("%w: credit %s to %s", common.ErrAmountOverflow, amount.Dec(), to)
	}
	fromBal.Sub(fromBal, amount)
	toBal.Set(sum)
	return nil
}

// Pull is a transfer initiated by the receiving side.
func (l *Ledger) Pull(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error {
	return l.Transfer(ctx, token, from, to, amount)
}

func (l *Ledger) BalanceOf(ctx context.Context, token, account common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(token, account).Clone(), nil
}
