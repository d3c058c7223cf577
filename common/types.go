package common

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Address identifies an account on the external ledger. The engine treats it
// as an opaque key; only emptiness is rejected.
type Address string

func (a Address) IsZero() bool {
	return a == ""
}

type ClaimStatus int

const (
	Unclaimed ClaimStatus = iota
	ImmediateClaimed
	Locked
	LockupClaimed

	ClaimStatusCount
)

func (s ClaimStatus) String() string {
	switch s {
	case Unclaimed:
		return "unclaimed"
	case ImmediateClaimed:
		return "immediate_claimed"
	case Locked:
		return "locked"
	case LockupClaimed:
		return "lockup_claimed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether no further transition exists from s.
func (s ClaimStatus) Terminal() bool {
	return s == ImmediateClaimed || s == LockupClaimed
}

// Entitlement is one recipient's registered right to a token amount.
// LockupStart is only meaningful while Status is Locked or LockupClaimed.
type Entitlement struct {
	Recipient   Address      `json:"recipient"`
	Amount      *uint256.Int `json:"amount"`
	Status      ClaimStatus  `json:"status"`
	LockupStart uint64       `json:"lockup_start,omitempty"`
}

// DistributionParams are fixed at engine construction; StartTime/EndTime and
// ImmediateClaimBps stay valid for the engine's whole lifetime.
type DistributionParams struct {
	Token             Address `json:"token"`
	StartTime         uint64  `json:"start_time"`
	EndTime           uint64  `json:"end_time"`
	LockupPeriod      uint64  `json:"lockup_period"` // seconds
	ImmediateClaimBps uint64  `json:"immediate_claim_bps"`

	// MinLockupPeriod guards against accidentally short lockups.
	// Zero means DefaultMinLockupPeriod.
	MinLockupPeriod uint64 `json:"min_lockup_period,omitempty"`
}

func (p *DistributionParams) Validate() error {
	if p.Token.IsZero() {
		return fmt.Errorf("%w: token address is empty", ErrInvalidParams)
	}
	if p.StartTime >= p.EndTime {
		return fmt.Errorf("%w: start time %d is not before end time %d", ErrInvalidParams, p.StartTime, p.EndTime)
	}
	min := p.MinLockupPeriod
	if min == 0 {
		min = DefaultMinLockupPeriod
	}
	if p.LockupPeriod < min {
		return fmt.Errorf("%w: lockup period %ds is below the %ds minimum", ErrInvalidParams, p.LockupPeriod, min)
	}
	if p.ImmediateClaimBps > PercentPrecision {
		return fmt.Errorf("%w: immediate claim %dbps exceeds %d", ErrInvalidParams, p.ImmediateClaimBps, PercentPrecision)
	}
	return nil
}

// SalePool is the launchpad's singleton state. Claims decrease Remaining,
// top-ups raise both Remaining and Total.
type SalePool struct {
	Token      Address      `json:"token"`
	Remaining  *uint256.Int `json:"remaining"`
	Total      *uint256.Int `json:"total"`
	ClaimRatio *uint256.Int `json:"claim_ratio"`
	StartBlock uint64       `json:"start_block"`
	EndBlock   uint64       `json:"end_block"`
}

func (sp *SalePool) Clone() *SalePool {
	cp := *sp
	cp.Remaining = sp.Remaining.Clone()
	cp.Total = sp.Total.Clone()
	cp.ClaimRatio = sp.ClaimRatio.Clone()
	return &cp
}
