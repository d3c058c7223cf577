package distributor

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"gitlab.com/tokenport/distributor/common"
	"gitlab.com/tokenport/distributor/launchpad"
	"gitlab.com/tokenport/distributor/memledger"
	"gitlab.com/tokenport/distributor/vesting"
)

const (
	startTime  = uint64(1000)
	endTime    = uint64(2000)
	startBlock = uint64(100)
	endBlock   = uint64(200)
)

var (
	token    = common.Address("TST")
	pool     = common.Address("airdrop-pool")
	salePool = common.Address("sale-pool")
	admin    = common.Address("admin")
	alice    = common.Address("alice")
)

type adminSet map[common.Address]bool

func (a adminSet) IsAdmin(caller common.Address) bool { return a[caller] }

type fakeClock struct {
	now uint64
}

func (c *fakeClock) Now() uint64 { return c.now }

type fakeBlocks struct {
	height uint64
}

func (b *fakeBlocks) CurrentBlock() uint64 { return b.height }

type testServer struct {
	*Server
	ledger *memledger.Ledger
	clock  *fakeClock
	blocks *fakeBlocks
}

func newTestServer(t *testing.T) *testServer {
	ctx := context.Background()
	ledger := memledger.New()
	require.NoError(t, ledger.Mint(ctx, token, pool, uint256.NewInt(1000000)))
	require.NoError(t, ledger.Mint(ctx, token, admin, uint256.NewInt(10000000)))

	admins := adminSet{admin: true}
	clock := &fakeClock{now: startTime + 1}
	blocks := &fakeBlocks{height: startBlock + 1}

	params := common.DistributionParams{
		Token:             token,
		StartTime:         startTime,
		EndTime:           endTime,
		LockupPeriod:      90 * 86400,
		ImmediateClaimBps: 2500,
	}
	vestingEngine, err := vesting.New(ctx, params, pool, ledger, admins, clock, nil, nil)
	require.NoError(t, err)
	saleEngine, err := launchpad.New(ctx, token, salePool, ledger, admins, blocks, nil, nil)
	require.NoError(t, err)

	srv := New(vestingEngine, saleEngine, Settings{})
	t.Cleanup(func() {
		require.NoError(t, srv.Close())
	})
	return &testServer{Server: srv, ledger: ledger, clock: clock, blocks: blocks}
}

func TestServerVestingFlow(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.InsertEntitlement(ctx, &InsertEntitlementRequest{
		Caller:    admin,
		Recipient: alice,
		Amount:    uint256.NewInt(100),
	})
	require.NoError(t, err)

	entResp, err := s.Entitlement(ctx, &EntitlementRequest{Recipient: alice})
	require.NoError(t, err)
	require.Equal(t, common.Unclaimed, entResp.Entitlement.Status)
	require.Equal(t, "100", entResp.Entitlement.Amount.Dec())

	claimResp, err := s.ClaimImmediate(ctx, &ClaimImmediateRequest{Caller: alice})
	require.NoError(t, err)
	require.Equal(t, "25", claimResp.Paid.Dec())

	balance, err := s.ledger.BalanceOf(ctx, token, alice)
	require.NoError(t, err)
	require.Equal(t, "25", balance.Dec())
}

func TestServerSaleFlow(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.Enroll(ctx, &EnrollRequest{
		Caller:     admin,
		Amount:     uint256.NewInt(10000000),
		ClaimRatio: new(uint256.Int).Mul(uint256.NewInt(200), common.RatioUnit),
		StartBlock: startBlock,
		EndBlock:   endBlock,
	})
	require.NoError(t, err)

	require.NoError(t, s.ledger.Mint(ctx, token, alice, uint256.NewInt(100)))
	claimResp, err := s.Claim(ctx, &ClaimRequest{Caller: alice, Payment: uint256.NewInt(100)})
	require.NoError(t, err)
	require.Equal(t, "20000", claimResp.TokensOut.Dec())

	progressResp, err := s.Progress(ctx, &ProgressRequest{})
	require.NoError(t, err)
	require.Equal(t, "200000", progressResp.Progress.Dec())
	require.Equal(t, "9980000", progressResp.Sale.Remaining.Dec())
	recomputed, err := common.Progress(progressResp.Sale.Total, progressResp.Sale.Remaining)
	require.NoError(t, err)
	require.Equal(t, recomputed, progressResp.Progress)

	_, err = s.CloseSale(ctx, &CloseSaleRequest{Caller: admin})
	require.NoError(t, err)

	balance, err := s.ledger.BalanceOf(ctx, token, admin)
	require.NoError(t, err)
	require.Equal(t, "9980000", balance.Dec())
}

func TestProgressMatchesSaleSnapshot(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.Enroll(ctx, &EnrollRequest{
		Caller:     admin,
		Amount:     uint256.NewInt(10000000),
		ClaimRatio: new(uint256.Int).Mul(uint256.NewInt(200), common.RatioUnit),
		StartBlock: startBlock,
		EndBlock:   endBlock,
	})
	require.NoError(t, err)

	// Claims race progress reads; every response must be internally
	// consistent regardless of interleaving.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if _, err := s.Claim(ctx, &ClaimRequest{Caller: alice, Payment: uint256.NewInt(1)}); err != nil {
				return
			}
		}
	}()
	for i := 0; i < 100; i++ {
		resp, err := s.Progress(ctx, &ProgressRequest{})
		require.NoError(t, err)
		recomputed, err := common.Progress(resp.Sale.Total, resp.Sale.Remaining)
		require.NoError(t, err)
		require.Equal(t, recomputed, resp.Progress)
	}
	<-done
}

func TestServerErrorCodes(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.InsertEntitlement(ctx, &InsertEntitlementRequest{
		Caller:    alice,
		Recipient: alice,
		Amount:    uint256.NewInt(100),
	})
	var apiErr Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "unauthorized", apiErr.Code)

	_, err = s.ClaimImmediate(ctx, &ClaimImmediateRequest{Caller: alice})
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "not_found", apiErr.Code)

	_, err = s.Progress(ctx, &ProgressRequest{})
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "invalid_state", apiErr.Code)
}
