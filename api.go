package distributor

//go:generate go run ./gen/...

import (
	"context"

	"github.com/holiman/uint256"
	"gitlab.com/tokenport/distributor/common"
)

type Service interface {
	// Registry & vesting.
	InsertEntitlement(ctx context.Context, req *InsertEntitlementRequest) (*InsertEntitlementResponse, error)
	BatchInsertEntitlements(ctx context.Context, req *BatchInsertEntitlementsRequest) (*BatchInsertEntitlementsResponse, error)
	UpdateEntitlement(ctx context.Context, req *UpdateEntitlementRequest) (*UpdateEntitlementResponse, error)
	DeleteEntitlement(ctx context.Context, req *DeleteEntitlementRequest) (*DeleteEntitlementResponse, error)
	Entitlement(ctx context.Context, req *EntitlementRequest) (*EntitlementResponse, error)
	ClaimImmediate(ctx context.Context, req *ClaimImmediateRequest) (*ClaimImmediateResponse, error)
	Lockup(ctx context.Context, req *LockupRequest) (*LockupResponse, error)
	ClaimLockup(ctx context.Context, req *ClaimLockupRequest) (*ClaimLockupResponse, error)

	// Sale.
	Enroll(ctx context.Context, req *EnrollRequest) (*EnrollResponse, error)
	UpdatePeriod(ctx context.Context, req *UpdatePeriodRequest) (*UpdatePeriodResponse, error)
	UpdateClaimRatio(ctx context.Context, req *UpdateClaimRatioRequest) (*UpdateClaimRatioResponse, error)
	IncreaseAmount(ctx context.Context, req *IncreaseAmountRequest) (*IncreaseAmountResponse, error)
	Claim(ctx context.Context, req *ClaimRequest) (*ClaimResponse, error)
	Progress(ctx context.Context, req *ProgressRequest) (*ProgressResponse, error)
	CloseSale(ctx context.Context, req *CloseSaleRequest) (*CloseSaleResponse, error)
}

type InsertEntitlementRequest struct {
	Caller    common.Address `json:"caller"`
	Recipient common.Address `json:"recipient"`
	Amount    *uint256.Int   `json:"amount"`
}

type InsertEntitlementResponse struct {
}

type BatchInsertEntitlementsRequest struct {
	Caller     common.Address   `json:"caller"`
	Recipients []common.Address `json:"recipients"`
	Amounts    []*uint256.Int   `json:"amounts"`
}

type BatchInsertEntitlementsResponse struct {
	Inserted int `json:"inserted"`
}

type UpdateEntitlementRequest struct {
	Caller    common.Address `json:"caller"`
	Recipient common.Address `json:"recipient"`
	Amount    *uint256.Int   `json:"amount"`
}

type UpdateEntitlementResponse struct {
}

type DeleteEntitlementRequest struct {
	Caller    common.Address `json:"caller"`
	Recipient common.Address `json:"recipient"`
}

type DeleteEntitlementResponse struct {
}

type EntitlementRequest struct {
	Recipient common.Address `json:"recipient"`
}

type EntitlementResponse struct {
	Entitlement common.Entitlement `json:"entitlement"`
}

type ClaimImmediateRequest struct {
	Caller common.Address `json:"caller"`
}

type ClaimImmediateResponse struct {
	Paid *uint256.Int `json:"paid"`
}

type LockupRequest struct {
	Caller common.Address `json:"caller"`
}

type LockupResponse struct {
}

type ClaimLockupRequest struct {
	Caller common.Address `json:"caller"`
}

type ClaimLockupResponse struct {
	Paid *uint256.Int `json:"paid"`
}

type EnrollRequest struct {
	Caller     common.Address `json:"caller"`
	Amount     *uint256.Int   `json:"amount"`
	ClaimRatio *uint256.Int   `json:"claim_ratio"`
	StartBlock uint64         `json:"start_block"`
	EndBlock   uint64         `json:"end_block"`
}

type EnrollResponse struct {
}

type UpdatePeriodRequest struct {
	Caller     common.Address `json:"caller"`
	StartBlock uint64         `json:"start_block"`
	EndBlock   uint64         `json:"end_block"`
}

type UpdatePeriodResponse struct {
}

type UpdateClaimRatioRequest struct {
	Caller common.Address `json:"caller"`
	Ratio  *uint256.Int   `json:"ratio"`
}

type UpdateClaimRatioResponse struct {
}

type IncreaseAmountRequest struct {
	Caller common.Address `json:"caller"`
	Delta  *uint256.Int   `json:"delta"`
}

type IncreaseAmountResponse struct {
}

type ClaimRequest struct {
	Caller  common.Address `json:"caller"`
	Payment *uint256.Int   `json:"payment"`
}

type ClaimResponse struct {
	TokensOut *uint256.Int `json:"tokens_out"`
}

type ProgressRequest struct {
}

type ProgressResponse struct {
	// Progress is the consumed fraction scaled by common.ProgressPrecision.
	Progress *uint256.Int    `json:"progress"`
	Sale     common.SalePool `json:"sale"`
}

type CloseSaleRequest struct {
	Caller common.Address `json:"caller"`
}

type CloseSaleResponse struct {
}

type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (err Error) Error() string {
	return err.Msg
}
