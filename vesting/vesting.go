// Package vesting implements the registry and vesting engine: admin CRUD on
// entitlements plus the two mutually exclusive claim paths per recipient,
// immediate partial claim or delayed full claim after a lockup.
package vesting

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"gitlab.com/tokenport/distributor/common"
)

// Ledger moves tokens on the external balance store. Transfer must fail with
// common.ErrInsufficientFunds when the source lacks balance.
type Ledger interface {
	Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
}

type AccessControl interface {
	IsAdmin(caller common.Address) bool
}

// Clock supplies the external timestamp the claim window is compared
// against. It must be monotonically non-decreasing.
type Clock interface {
	Now() uint64
}

type EventSink interface {
	Notify(event common.Event)
}

// Store persists entitlement state. Batch saves must apply atomically.
type Store interface {
	SaveEntitlement(ctx context.Context, ent common.Entitlement) error
	SaveEntitlements(ctx context.Context, ents []common.Entitlement) error
	DeleteEntitlement(ctx context.Context, recipient common.Address) error
	Entitlements(ctx context.Context) ([]common.Entitlement, error)
}

// Engine serializes every operation behind one lock: two concurrent claims
// for the same recipient cannot both observe Unclaimed.
type Engine struct {
	params common.DistributionParams
	pool   common.Address

	ledger Ledger
	access AccessControl
	clock  Clock
	store  Store     // optional, nil keeps state volatile
	events EventSink // optional

	mu           sync.RWMutex
	entitlements map[common.Address]*common.Entitlement
}

func New(ctx context.Context, params common.DistributionParams, pool common.Address,
	ledger Ledger, access AccessControl, clock Clock, store Store, events EventSink) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if pool.IsZero() {
		return nil, fmt.Errorf("%w: pool address is empty", common.ErrInvalidParams)
	}
	e := &Engine{
		params:       params,
		pool:         pool,
		ledger:       ledger,
		access:       access,
		clock:        clock,
		store:        store,
		events:       events,
		entitlements: make(map[common.Address]*common.Entitlement),
	}
	if store != nil {
		ents, err := store.Entitlements(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load entitlements: %w", err)
		}
		for i := range ents {
			ent := ents[i]
			e.entitlements[ent.Recipient] = &ent
		}
	}
	return e, nil
}

func (e *Engine) Params() common.DistributionParams {
	return e.params
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

func (e *Engine) checkWindow() error {
	now := e.clock.Now()
	if now < e.params.StartTime {
		return fmt.Errorf("%w: distribution opens at %d, now %d", common.ErrNotStarted, e.params.StartTime, now)
	}
	if now > e.params.EndTime {
		return fmt.Errorf("%w: distribution closed at %d, now %d", common.ErrEnded, e.params.EndTime, now)
	}
	return nil
}

func validatePair(recipient common.Address, amount *uint256.Int) error {
	if recipient.IsZero() {
		return fmt.Errorf("%w: recipient address is empty", common.ErrInvalidParams)
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive for %s", common.ErrInvalidAmount, recipient)
	}
	return nil
}

// Insert registers a new entitlement with status Unclaimed.
func (e *Engine) Insert(ctx context.Context, caller, recipient common.Address, amount *uint256.Int) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := validatePair(recipient, amount); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entitlements[recipient]; ok {
		return fmt.Errorf("%w: %s", common.ErrDuplicate, recipient)
	}
	ent := common.Entitlement{
		Recipient: recipient,
		Amount:    amount.Clone(),
		Status:    common.Unclaimed,
	}
	if e.store != nil {
		if err := e.store.SaveEntitlement(ctx, ent); err != nil {
			return fmt.Errorf("failed to save entitlement: %w", err)
		}
	}
	e.entitlements[recipient] = &ent
	e.notify(common.Event{Name: common.EventEntitlementInserted, Recipient: recipient, Amount: ent.Amount})
	return nil
}

// BatchInsert registers many entitlements atomically: the whole batch fails
// if any pair is invalid or already registered.
func (e *Engine) BatchInsert(ctx context.Context, caller common.Address, recipients []common.Address, amounts []*uint256.Int) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if len(recipients) != len(amounts) {
		return fmt.Errorf("%w: %d recipients, %d amounts", common.ErrLengthMismatch, len(recipients), len(amounts))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ents := make([]common.Entitlement, 0, len(recipients))
	seen := make(map[common.Address]bool, len(recipients))
	for i, recipient := range recipients {
		if err := validatePair(recipient, amounts[i]); err != nil {
			return err
		}
		if _, ok := e.entitlements[recipient]; ok || seen[recipient] {
			return fmt.Errorf("%w: %s", common.ErrDuplicate, recipient)
		}
		seen[recipient] = true
		ents = append(ents, common.Entitlement{
			Recipient: recipient,
			Amount:    amounts[i].Clone(),
			Status:    common.Unclaimed,
		})
	}
	if e.store != nil {
		if err := e.store.SaveEntitlements(ctx, ents); err != nil {
			return fmt.Errorf("failed to save batch: %w", err)
		}
	}
	for i := range ents {
		ent := ents[i]
		e.entitlements[ent.Recipient] = &ent
		e.notify(common.Event{Name: common.EventEntitlementInserted, Recipient: ent.Recipient, Amount: ent.Amount})
	}
	return nil
}

// Update overwrites the amount of an entitlement that nobody claimed yet.
func (e *Engine) Update(ctx context.Context, caller, recipient common.Address, amount *uint256.Int) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := validatePair(recipient, amount); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entitlements[recipient]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrNotFound, recipient)
	}
	if ent.Status != common.Unclaimed {
		return fmt.Errorf("%w: %s is %s", common.ErrInvalidState, recipient, ent.Status)
	}
	updated := *ent
	updated.Amount = amount.Clone()
	if e.store != nil {
		if err := e.store.SaveEntitlement(ctx, updated); err != nil {
			return fmt.Errorf("failed to save entitlement: %w", err)
		}
	}
	ent.Amount = updated.Amount
	e.notify(common.Event{Name: common.EventEntitlementUpdated, Recipient: recipient, Amount: ent.Amount})
	return nil
}

// Delete removes an entitlement that nobody claimed yet.
func (e *Engine) Delete(ctx context.Context, caller, recipient common.Address) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entitlements[recipient]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrNotFound, recipient)
	}
	if ent.Status != common.Unclaimed {
		return fmt.Errorf("%w: %s is %s", common.ErrInvalidState, recipient, ent.Status)
	}
	if e.store != nil {
		if err := e.store.DeleteEntitlement(ctx, recipient); err != nil {
			return fmt.Errorf("failed to delete entitlement: %w", err)
		}
	}
	delete(e.entitlements, recipient)
	e.notify(common.Event{Name: common.EventEntitlementDeleted, Recipient: recipient})
	return nil
}

// ClaimImmediate pays out the immediate fraction of the caller's entitlement
// and permanently forfeits the rest to the pool. Returns the paid amount.
func (e *Engine) ClaimImmediate(ctx context.Context, caller common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkWindow(); err != nil {
		return nil, err
	}
	ent, ok := e.entitlements[caller]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, caller)
	}
	if ent.Status != common.Unclaimed {
		return nil, fmt.Errorf("%w: %s is %s", common.ErrAlreadyClaimed, caller, ent.Status)
	}
	payout, err := common.ApplyBps(ent.Amount, e.params.ImmediateClaimBps)
	if err != nil {
		return nil, err
	}
	updated := *ent
	updated.Status = common.ImmediateClaimed
	if err := e.commitClaim(ctx, ent, updated, payout); err != nil {
		return nil, err
	}
	e.notify(common.Event{Name: common.EventImmediateClaimed, Recipient: caller, Amount: payout})
	return payout, nil
}

// Lockup switches the caller's entitlement onto the delayed full-claim path.
// No tokens move.
func (e *Engine) Lockup(ctx context.Context, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkWindow(); err != nil {
		return err
	}
	ent, ok := e.entitlements[caller]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrNotFound, caller)
	}
	if ent.Status != common.Unclaimed {
		return fmt.Errorf("%w: %s is %s", common.ErrAlreadyClaimed, caller, ent.Status)
	}
	updated := *ent
	updated.Status = common.Locked
	updated.LockupStart = e.clock.Now()
	if e.store != nil {
		if err := e.store.SaveEntitlement(ctx, updated); err != nil {
			return fmt.Errorf("failed to save entitlement: %w", err)
		}
	}
	ent.Status = updated.Status
	ent.LockupStart = updated.LockupStart
	e.notify(common.Event{Name: common.EventLockedUp, Recipient: caller, Amount: ent.Amount})
	return nil
}

// ClaimLockup pays out the full entitlement once the lockup period elapsed.
// The end of the claim window does not gate it. Returns the paid amount.
func (e *Engine) ClaimLockup(ctx context.Context, caller common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entitlements[caller]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, caller)
	}
	if ent.Status != common.Locked {
		return nil, fmt.Errorf("%w: %s is %s, want locked", common.ErrInvalidState, caller, ent.Status)
	}
	if now := e.clock.Now(); now < ent.LockupStart+e.params.LockupPeriod {
		return nil, fmt.Errorf("%w: claimable at %d, now %d", common.ErrLockupNotElapsed, ent.LockupStart+e.params.LockupPeriod, now)
	}
	updated := *ent
	updated.Status = common.LockupClaimed
	payout := ent.Amount.Clone()
	if err := e.commitClaim(ctx, ent, updated, payout); err != nil {
		return nil, err
	}
	e.notify(common.Event{Name: common.EventLockupClaimed, Recipient: caller, Amount: payout})
	return payout, nil
}

// commitClaim persists the claimed record, moves the payout and commits the
// in-memory transition. If the transfer fails the persisted record is
// restored; if that restore fails too, the record stays claimed and no funds
// have moved, which can only favor the pool.
func (e *Engine) commitClaim(ctx context.Context, ent *common.Entitlement, updated common.Entitlement, payout *uint256.Int) error {
	if e.store != nil {
		if err := e.store.SaveEntitlement(ctx, updated); err != nil {
			return fmt.Errorf("failed to save entitlement: %w", err)
		}
	}
	if err := e.ledger.Transfer(ctx, e.params.Token, e.pool, ent.Recipient, payout); err != nil {
		if e.store != nil {
			if restoreErr := e.store.SaveEntitlement(ctx, *ent); restoreErr != nil {
				return fmt.Errorf("transfer failed (%w) and restore failed: %v", err, restoreErr)
			}
		}
		return fmt.Errorf("transfer failed: %w", err)
	}
	ent.Status = updated.Status
	ent.LockupStart = updated.LockupStart
	return nil
}

// Entitlement returns a copy of the recipient's current record.
func (e *Engine) Entitlement(recipient common.Address) (common.Entitlement, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.entitlements[recipient]
	if !ok {
		return common.Entitlement{}, fmt.Errorf("%w: %s", common.ErrNotFound, recipient)
	}
	cp := *ent
	cp.Amount = ent.Amount.Clone()
	return cp, nil
}
