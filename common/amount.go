package common

import (
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// PercentPrecision is the basis-points denominator: 10000 = 100%.
	PercentPrecision uint64 = 10000

	// ProgressPrecision is the fixed-point base of sale progress values.
	ProgressPrecision uint64 = 1e8

	// DefaultMinLockupPeriod is one day in seconds.
	DefaultMinLockupPeriod uint64 = 86400
)

// RatioUnit is the fixed-point base of sale claim ratios: a ratio of
// 200*RatioUnit disburses 200 tokens per payment unit.
var RatioUnit = uint256.NewInt(1e18)

// ApplyBps returns amount * bps / 10000 with truncating division. Rounding
// always favors the pool. Multiplication happens before division so small
// amounts do not collapse to zero prematurely.
func ApplyBps(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(bps))
	if overflow {
		return nil, fmt.Errorf("%w: %s * %dbps", ErrAmountOverflow, amount.Dec(), bps)
	}
	return product.Div(product, uint256.NewInt(PercentPrecision)), nil
}

// TokensOut converts a payment into a token disbursement at the given
// fixed-point ratio: payment * ratio / RatioUnit, truncating.
func TokensOut(payment, ratio *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(payment, ratio)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", ErrAmountOverflow, payment.Dec(), ratio.Dec())
	}
	return product.Div(product, RatioUnit), nil
}

// Progress returns the consumed fraction of a pool as an integer out of
// ProgressPrecision: (total - remaining) * 1e8 / total.
func Progress(total, remaining *uint256.Int) (*uint256.Int, error) {
	if total.IsZero() {
		return nil, fmt.Errorf("%w: pool total is zero", ErrInvalidParams)
	}
	if remaining.Cmp(total) > 0 {
		return nil, fmt.Errorf("%w: remaining %s exceeds total %s", ErrInvalidParams, remaining.Dec(), total.Dec())
	}
	consumed := new(uint256.Int).Sub(total, remaining)
	product, overflow := consumed.MulOverflow(consumed, uint256.NewInt(ProgressPrecision))
	if overflow {
		return nil, fmt.Errorf("%w: progress of %s", ErrAmountOverflow, total.Dec())
	}
	return product.Div(product, total), nil
}
