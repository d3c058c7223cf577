package distributor

import (
	"context"
	"errors"
	"sync"

	"gitlab.com/tokenport/distributor/common"
	"gitlab.com/tokenport/distributor/launchpad"
	"gitlab.com/tokenport/distributor/vesting"
)

type Settings struct {
	ProgressReportInterval int64 // Seconds; zero disables the report loop.
}

// Server exposes the vesting registry and the sale pool behind one API.
type Server struct {
	vesting  *vesting.Engine
	sale     *launchpad.Engine
	settings Settings

	stopWg sync.WaitGroup
	cancel context.CancelFunc
}

func New(vestingEngine *vesting.Engine, saleEngine *launchpad.Engine, settings Settings) *Server {
	s := &Server{
		vesting:  vestingEngine,
		sale:     saleEngine,
		settings: settings,
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.startLoops(ctx)
	return s
}

func (s *Server) Close() error {
	s.cancel()
	s.stopWg.Wait()
	return nil
}

var errorCodes = map[error]string{
	common.ErrInvalidParams:     "invalid_params",
	common.ErrInvalidAmount:     "invalid_amount",
	common.ErrInvalidRatio:      "invalid_ratio",
	common.ErrInvalidWindow:     "invalid_window",
	common.ErrLengthMismatch:    "length_mismatch",
	common.ErrNotFound:          "not_found",
	common.ErrDuplicate:         "duplicate",
	common.ErrInvalidState:      "invalid_state",
	common.ErrAlreadyClaimed:    "already_claimed",
	common.ErrLockupNotElapsed:  "lockup_not_elapsed",
	common.ErrNotStarted:        "not_started",
	common.ErrEnded:             "ended",
	common.ErrUnauthorized:      "unauthorized",
	common.ErrInsufficientPool:  "insufficient_pool",
	common.ErrInsufficientFunds: "insufficient_funds",
	common.ErrAmountOverflow:    "amount_overflow",
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	for sentinel, code := range errorCodes {
		if errors.Is(err, sentinel) {
			return Error{Code: code, Msg: err.Error()}
		}
	}
	return Error{Code: "internal", Msg: err.Error()}
}

func (s *Server) InsertEntitlement(ctx context.Context, req *InsertEntitlementRequest) (*InsertEntitlementResponse, error) {
	if err := s.vesting.Insert(ctx, req.Caller, req.Recipient, req.Amount); err != nil {
		return nil, wrapErr(err)
	}
	return &InsertEntitlementResponse{}, nil
}

func (s *Server) BatchInsertEntitlements(ctx context.Context, req *BatchInsertEntitlementsRequest) (*BatchInsertEntitlementsResponse, error) {
	if err := s.vesting.BatchInsert(ctx, req.Caller, req.Recipients, req.Amounts); err != nil {
		return nil, wrapErr(err)
	}
	return &BatchInsertEntitlementsResponse{Inserted: len(req.Recipients)}, nil
}

func (s *Server) UpdateEntitlement(ctx context.Context, req *UpdateEntitlementRequest) (*UpdateEntitlementResponse, error) {
	if err := s.vesting.Update(ctx, req.Caller, req.Recipient, req.Amount); err != nil {
		return nil, wrapErr(err)
	}
	return &UpdateEntitlementResponse{}, nil
}

func (s *Server) DeleteEntitlement(ctx context.Context, req *DeleteEntitlementRequest) (*DeleteEntitlementResponse, error) {
	if err := s.vesting.Delete(ctx, req.Caller, req.Recipient); err != nil {
		return nil, wrapErr(err)
	}
	return &DeleteEntitlementResponse{}, nil
}

func (s *Server) Entitlement(ctx context.Context, req *EntitlementRequest) (*EntitlementResponse, error) {
	ent, err := s.vesting.Entitlement(req.Recipient)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &EntitlementResponse{Entitlement: ent}, nil
}

func (s *Server) ClaimImmediate(ctx context.Context, req *ClaimImmediateRequest) (*ClaimImmediateResponse, error) {
	paid, err := s.vesting.ClaimImmediate(ctx, req.Caller)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &ClaimImmediateResponse{Paid: paid}, nil
}

func (s *Server) Lockup(ctx context.Context, req *LockupRequest) (*LockupResponse, error) {
	if err := s.vesting.Lockup(ctx, req.Caller); err != nil {
		return nil, wrapErr(err)
	}
	return &LockupResponse{}, nil
}

func (s *Server) ClaimLockup(ctx context.Context, req *ClaimLockupRequest) (*ClaimLockupResponse, error) {
	paid, err := s.vesting.ClaimLockup(ctx, req.Caller)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &ClaimLockupResponse{Paid: paid}, nil
}

func (s *Server) Enroll(ctx context.Context, req *EnrollRequest) (*EnrollResponse, error) {
	if err := s.sale.Enroll(ctx, req.Caller, req.Amount, req.ClaimRatio, req.StartBlock, req.EndBlock); err != nil {
		return nil, wrapErr(err)
	}
	return &EnrollResponse{}, nil
}

func (s *Server) UpdatePeriod(ctx context.Context, req *UpdatePeriodRequest) (*UpdatePeriodResponse, error) {
	if err := s.sale.UpdatePeriod(ctx, req.Caller, req.StartBlock, req.EndBlock); err != nil {
		return nil, wrapErr(err)
	}
	return &UpdatePeriodResponse{}, nil
}

func (s *Server) UpdateClaimRatio(ctx context.Context, req *UpdateClaimRatioRequest) (*UpdateClaimRatioResponse, error) {
	if err := s.sale.UpdateClaimRatio(ctx, req.Caller, req.Ratio); err != nil {
		return nil, wrapErr(err)
	}
	return &UpdateClaimRatioResponse{}, nil
}

func (s *Server) IncreaseAmount(ctx context.Context, req *IncreaseAmountRequest) (*IncreaseAmountResponse, error) {
	if err := s.sale.IncreaseAmount(ctx, req.Caller, req.Delta); err != nil {
		return nil, wrapErr(err)
	}
	return &IncreaseAmountResponse{}, nil
}

func (s *Server) Claim(ctx context.Context, req *ClaimRequest) (*ClaimResponse, error) {
	out, err := s.sale.Claim(ctx, req.Caller, req.Payment)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &ClaimResponse{TokensOut: out}, nil
}

func (s *Server) Progress(ctx context.Context, req *ProgressRequest) (*ProgressResponse, error) {
	// One snapshot serves both fields so a concurrent claim cannot make the
	// reported progress disagree with the pool state next to it.
	sale, err := s.sale.Sale()
	if err != nil {
		return nil, wrapErr(err)
	}
	progress, err := common.Progress(sale.Total, sale.Remaining)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &ProgressResponse{Progress: progress, Sale: sale}, nil
}

func (s *Server) CloseSale(ctx context.Context, req *CloseSaleRequest) (*CloseSaleResponse, error) {
	if err := s.sale.Close(ctx, req.Caller); err != nil {
		return nil, wrapErr(err)
	}
	return &CloseSaleResponse{}, nil
}
