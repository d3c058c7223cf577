// Package launchpad implements the fixed-price sale engine: a funded token
// pool consumed at a static ratio inside a block window.
package launchpad

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"gitlab.com/tokenport/distributor/common"
)

// Ledger moves tokens on the external balance store. Both operations must
// fail with common.ErrInsufficientFunds when the source lacks balance.
type Ledger interface {
	Pull(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
	Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
}

type AccessControl interface {
	IsAdmin(caller common.Address) bool
}

// BlockSource supplies the external chain height the sale window is compared
// against. It must be monotonically non-decreasing.
type BlockSource interface {
	CurrentBlock() uint64
}

type EventSink interface {
	Notify(event common.Event)
}

// Store persists the sale pool singleton. LoadSale returns nil when no sale
// was enrolled yet.
type Store interface {
	SaveSale(ctx context.Context, sale common.SalePool) error
	LoadSale(ctx context.Context) (*common.SalePool, error)
}

// Engine serializes every operation behind one lock. The persisted record
// never promises more tokens than the pool account holds: inbound operations
// pull funds before recording them, outbound ones record before paying.
type Engine struct {
	token common.Address
	pool  common.Address

	ledger Ledger
	access AccessControl
	blocks BlockSource
	store  Store     // optional, nil keeps state volatile
	events EventSink // optional

	mu   sync.RWMutex
	sale *common.SalePool // nil until enrolled
}

func New(ctx context.Context, token, pool common.Address, ledger Ledger,
	access AccessControl, blocks BlockSource, store Store, events EventSink) (*Engine, error) {
	if token.IsZero() {
		return nil, fmt.Errorf("%w: token address is empty", common.ErrInvalidParams)
	}
	if pool.IsZero() {
		return nil, fmt.Errorf("%w: pool address is empty", common.ErrInvalidParams)
	}
	e := &Engine{
		token:  token,
		pool:   pool,
		ledger: ledger,
		access: access,
		blocks: blocks,
		store:  store,
		events: events,
	}
	if store != nil {
		sale, err := store.LoadSale(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sale: %w", err)
		}
		e.sale = sale
	}
	return e, nil
}

func (e *Engine) notify(event common.Event) {
	if e.events != nil {
		e.events.Notify(event)
	}
}

func (e *Engine) requireAdmin(caller common.Address) error {
	if !e.access.IsAdmin(caller) {
		return fmt.Errorf("%w: %s is not an admin", common.ErrUnauthorized, caller)
	}
	return nil
}

func checkWindow(startBlock, endBlock uint64) error {
	if startBlock >= endBlock {
		return fmt.Errorf("%w: start block %d is not before end block %d", common.ErrInvalidWindow, startBlock, endBlock)
	}
	return nil
}

func (e *Engine) saveSale(ctx context.Context, sale common.SalePool) error {
	if e.store == nil {
		return nil
	}
	return e.store.SaveSale(ctx, sale)
}

// Enroll funds the pool and opens the sale. One-time: a second enrollment
// fails with a state error.
func (e *Engine) Enroll(ctx context.Context, caller common.Address, amount, claimRatio *uint256.Int, startBlock, endBlock uint64) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := checkWindow(startBlock, endBlock); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: enrollment amount must be positive", common.ErrInvalidAmount)
	}
	if claimRatio == nil || claimRatio.IsZero() {
		return fmt.Errorf("%w: claim ratio must be positive", common.ErrInvalidRatio)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sale != nil {
		return fmt.Errorf("%w: sale already enrolled", common.ErrInvalidState)
	}
	if err := e.ledger.Pull(ctx, e.token, caller, e.pool, amount); err != nil {
		return fmt.Errorf("failed to fund pool: %w", err)
	}
	sale := common.SalePool{
		Token:      e.token,
		Remaining:  amount.Clone(),
		Total:      amount.Clone(),
		ClaimRatio: claimRatio.Clone(),
		StartBlock: startBlock,
		EndBlock:   endBlock,
	}
	if err := e.saveSale(ctx, sale); err != nil {
		if returnErr := e.ledger.Transfer(ctx, e.token, e.pool, caller, amount); returnErr != nil {
			return fmt.Errorf("failed to save sale (%w) and to return funds: %v", err, returnErr)
		}
		return fmt.Errorf("failed to save sale: %w", err)
	}
	e.sale = &sale
	e.notify(common.Event{Name: common.EventSaleEnrolled, Recipient: caller, Amount: sale.Total})
	return nil
}

// UpdatePeriod overwrites the claim window without touching balances.
func (e *Engine) UpdatePeriod(ctx context.Context, caller common.Address, startBlock, endBlock uint64) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := checkWindow(startBlock, endBlock); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sale == nil {
		return fmt.Errorf("%w: sale not enrolled", common.ErrInvalidState)
	}
	updated := e.sale.Clone()
	updated.StartBlock = startBlock
	updated.EndBlock = endBlock
	if err := e.saveSale(ctx, *updated); err != nil {
		return fmt.Errorf("failed to save sale: %w", err)
	}
	e.sale = updated
	e.notify(common.Event{Name: common.EventSalePeriodUpdated, Recipient: caller})
	return nil
}

// UpdateClaimRatio overwrites the fixed price ratio.
func (e *Engine) UpdateClaimRatio(ctx context.Context, caller common.Address, ratio *uint256.Int) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if ratio == nil || ratio.IsZero() {
		return fmt.Errorf("%w: claim ratio must be positive", common.ErrInvalidRatio)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sale == nil {
		return fmt.Errorf("%w: sale not enrolled", common.ErrInvalidState)
	}
	updated := e.sale.Clone()
	updated.ClaimRatio = ratio.Clone()
	if err := e.saveSale(ctx, *updated); err != nil {
		return fmt.Errorf("failed to save sale: %w", err)
	}
	e.sale = updated
	e.notify(common.Event{Name: common.EventSaleRatioUpdated, Recipient: caller, Amount: updated.ClaimRatio})
	return nil
}

// IncreaseAmount tops the pool up by delta, raising both the remaining and
// the total capacity.
func (e *Engine) IncreaseAmount(ctx context.Context, caller common.Address, delta *uint256.Int) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if delta == nil || delta.IsZero() {
		return fmt.Errorf("%w: top-up must be positive", common.ErrInvalidAmount)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sale == nil {
		return fmt.Errorf("%w: sale not enrolled", common.ErrInvalidState)
	}
	updated := e.sale.Clone()
	if _, overflow := updated.Remaining.AddOverflow(updated.Remaining, delta); overflow {
		return fmt.Errorf("%w: remaining + %s", common.ErrAmountOverflow, delta.Dec())
	}
	if _, overflow := updated.Total.AddOverflow(updated.Total, delta); overflow {
		return fmt.Errorf("%w: total + %s", common.ErrAmountOverflow, delta.Dec())
	}
	if err := e.ledger.Pull(ctx, e.token, caller, e.pool, delta); err != nil {
		return fmt.Errorf("failed to fund pool: %w", err)
	}
	if err := e.saveSale(ctx, *updated); err != nil {
		if returnErr := e.ledger.Transfer(ctx, e.token, e.pool, caller, delta); returnErr != nil {
			return fmt.Errorf("failed to save sale (%w) and to return funds: %v", err, returnErr)
		}
		return fmt.Errorf("failed to save sale: %w", err)
	}
	e.sale = updated
	e.notify(common.Event{Name: common.EventSaleAmountIncreased, Recipient: caller, Amount: delta})
	return nil
}

// Claim converts a payment into tokens at the current ratio and disburses
// them to the caller. The payment itself settles outside the engine.
func (e *Engine) Claim(ctx context.Context, caller common.Address, payment *uint256.Int) (*uint256.Int, error) {
	if payment == nil || payment.IsZero() {
		return nil, fmt.Errorf("%w: payment must be positive", common.ErrInvalidAmount)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sale == nil {
		return nil, fmt.Errorf("%w: sale not enrolled", common.ErrInvalidState)
	}
	cur := e.blocks.CurrentBlock()
	if cur < e.sale.StartBlock {
		return nil, fmt.Errorf("%w: sale opens at block %d, current %d", common.ErrNotStarted, e.sale.StartBlock, cur)
	}
	if cur > e.sale.EndBlock {
		return nil, fmt.Errorf("%w: sale closed at block %d, current %d", common.ErrEnded, e.sale.EndBlock, cur)
	}
	tokensOut, err := common.TokensOut(payment, e.sale.ClaimRatio)
	if err != nil {
		return nil, err
	}
	if tokensOut.Cmp(e.sale.Remaining) > 0 {
		return nil, fmt.Errorf("%w: want %s, remaining %s", common.ErrInsufficientPool, tokensOut.Dec(), e.sale.Remaining.Dec())
	}
	updated := e.sale.Clone()
	updated.Remaining.Sub(updated.Remaining, tokensOut)
	if err := e.saveSale(ctx, *updated); err != nil {
		return nil, fmt.Errorf("failed to save sale: %w", err)
	}
	if err := e.ledger.Transfer(ctx, e.token, e.pool, caller, tokensOut); err != nil {
		if restoreErr := e.saveSale(ctx, *e.sale); restoreErr != nil {
			return nil, fmt.Errorf("transfer failed (%w) and restore failed: %v", err, restoreErr)
		}
		return nil, fmt.Errorf("transfer failed: %w", err)
	}
	e.sale = updated
	e.notify(common.Event{Name: common.EventSaleClaimed, Recipient: caller, Amount: tokensOut})
	return tokensOut, nil
}

// Progress returns the consumed fraction of the pool out of
// common.ProgressPrecision.
func (e *Engine) Progress() (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.sale == nil {
		return nil, fmt.Errorf("%w: sale not enrolled", common.ErrInvalidState)
	}
	return common.Progress(e.sale.Total, e.sale.Remaining)
}

// Sale returns a copy of the current pool state.
func (e *Engine) Sale() (common.SalePool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.sale == nil {
		return common.SalePool{}, fmt.Errorf("%w: sale not enrolled", common.ErrInvalidState)
	}
	return *e.sale.Clone(), nil
}

// Close returns the unsold remainder to the caller and zeroes the pool.
// Closing an already drained pool is a no-op.
func (e *Engine) Close(ctx context.Context, caller common.Address) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sale == nil {
		return fmt.Errorf("%w: sale not enrolled", common.ErrInvalidState)
	}
	if e.sale.Remaining.IsZero() {
		return nil
	}
	remainder := e.sale.Remaining.Clone()
	updated := e.sale.Clone()
	updated.Remaining.Clear()
	if err := e.saveSale(ctx, *updated); err != nil {
		return fmt.Errorf("failed to save sale: %w", err)
	}
	if err := e.ledger.Transfer(ctx, e.token, e.pool, caller, remainder); err != nil {
		if restoreErr := e.saveSale(ctx, *e.sale); restoreErr != nil {
			return fmt.Errorf("transfer failed (%w) and restore failed: %v", err, restoreErr)
		}
		return fmt.Errorf("transfer failed: %w", err)
	}
	e.sale = updated
	e.notify(common.Event{Name: common.EventSaleClosed, Recipient: caller, Amount: remainder})
	return nil
}
