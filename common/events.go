package common

import "github.com/holiman/uint256"

// Event names mirror the engines' mutating operations.
const (
	EventEntitlementInserted = "entitlement_inserted"
	EventEntitlementUpdated  = "entitlement_updated"
	EventEntitlementDeleted  = "entitlement_deleted"
	EventImmediateClaimed    = "immediate_claimed"
	EventLockedUp            = "locked_up"
	EventLockupClaimed       = "lockup_claimed"

	EventSaleEnrolled        = "sale_enrolled"
	EventSalePeriodUpdated   = "sale_period_updated"
	EventSaleRatioUpdated    = "sale_ratio_updated"
	EventSaleAmountIncreased = "sale_amount_increased"
	EventSaleClaimed         = "sale_claimed"
	EventSaleClosed          = "sale_closed"
)

// Event is a best-effort notification to observers; engines never depend on
// delivery for correctness.
type Event struct {
	Name      string       `json:"name"`
	Recipient Address      `json:"recipient,omitempty"`
	Amount    *uint256.Int `json:"amount,omitempty"`
}
