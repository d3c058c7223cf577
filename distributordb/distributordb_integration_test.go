//go:build integration_test
// +build integration_test

package distributordb

import (
	"context"
	"os"
	"sync"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"gitlab.com/tokenport/distributor/common"
)

const EnvPostgresConfig = "POSTGRES_CONFIG"

func defaultFuzzer() *fuzz.Fuzzer {
	return fuzz.New().NilChance(0).NumElements(1, 50).Funcs(
		func(amount **uint256.Int, c fuzz.Continue) {
			*amount = uint256.NewInt(uint64(c.Intn(1000000) + 1))
		},
		func(status *common.ClaimStatus, c fuzz.Continue) {
			*status = common.ClaimStatus(c.Intn(int(common.ClaimStatusCount)))
		},
		func(addr *common.Address, c fuzz.Continue) {
			*addr = common.Address(c.RandString())
		},
		// lockup_start is a BIGINT column, keep the value in the int64 range.
		func(ts *uint64, c fuzz.Continue) {
			*ts = uint64(c.Int63n(50257894000))
		},
	)
}

func NewTestDistributorDB(t *testing.T) *DistributorDB {
	postgresConfigPath := os.Getenv(EnvPostgresConfig)
	db, err := OpenPostgres(postgresConfigPath)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	ddb, err := NewDB(db)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, ddb.DropSchemas(true))
		require.NoError(t, db.Close())
	})

	return ddb
}

const testToken = common.Address("TST")

func TestIntegrationBalances(t *testing.T) {
	ddb := NewTestDistributorDB(t)
	ctx := context.Background()

	balance, err := ddb.BalanceOf(ctx, testToken, "alice")
	require.NoError(t, err)
	require.Equal(t, "0", balance.Dec())

	require.NoError(t, ddb.Mint(ctx, testToken, "alice", uint256.NewInt(1000)))
	require.NoError(t, ddb.Transfer(ctx, testToken, "alice", "bob", uint256.NewInt(300)))

	balance, err = ddb.BalanceOf(ctx, testToken, "alice")
	require.NoError(t, err)
	require.Equal(t, "700", balance.Dec())
	balance, err = ddb.BalanceOf(ctx, testToken, "bob")
	require.NoError(t, err)
	require.Equal(t, "300", balance.Dec())

	err = ddb.Transfer(ctx, testToken, "alice", "bob", uint256.NewInt(701))
	require.ErrorIs(t, err, common.ErrInsufficientFunds)

	// Zero-amount moves are no-ops even with no balance row.
	require.NoError(t, ddb.Transfer(ctx, testToken, "nobody", "bob", uint256.NewInt(0)))
}

func TestIntegrationConcurrentDebits(t *testing.T) {
	ddb := NewTestDistributorDB(t)
	ctx := context.Background()

	require.NoError(t, ddb.Mint(ctx, testToken, "pool", uint256.NewInt(100)))

	const workers = 16
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- ddb.Transfer(ctx, testToken, "pool", "sink", uint256.NewInt(25))
		}()
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, common.ErrInsufficientFunds)
		}
	}
	require.Equal(t, 4, succeeded)

	balance, err := ddb.BalanceOf(ctx, testToken, "pool")
	require.NoError(t, err)
	require.Equal(t, "0", balance.Dec())
}

func TestIntegrationEntitlements(t *testing.T) {
	f := defaultFuzzer()
	ddb := NewTestDistributorDB(t)
	ctx := context.Background()

	ents, err := ddb.Entitlements(ctx)
	require.NoError(t, err)
	require.Empty(t, ents)

	want := make(map[common.Address]common.Entitlement)
	for i := 0; i < 20; i++ {
		var ent common.Entitlement
		f.Fuzz(&ent)
		require.NoError(t, ddb.SaveEntitlement(ctx, ent))
		want[ent.Recipient] = ent
	}

	ents, err = ddb.Entitlements(ctx)
	require.NoError(t, err)
	require.Len(t, ents, len(want))
	for _, ent := range ents {
		require.Equal(t, want[ent.Recipient], ent)
	}

	// Upsert overwrites in place.
	for recipient, ent := range want {
		ent.Status = common.ImmediateClaimed
		require.NoError(t, ddb.SaveEntitlement(ctx, ent))
		want[recipient] = ent
		break
	}

	var victim common.Address
	for recipient := range want {
		victim = recipient
		break
	}
	require.NoError(t, ddb.DeleteEntitlement(ctx, victim))
	delete(want, victim)

	ents, err = ddb.Entitlements(ctx)
	require.NoError(t, err)
	require.Len(t, ents, len(want))
}

func TestIntegrationBatchSaveAtomic(t *testing.T) {
	ddb := NewTestDistributorDB(t)
	ctx := context.Background()

	batch := []common.Entitlement{
		{Recipient: "alice", Amount: uint256.NewInt(100), Status: common.Unclaimed},
		{Recipient: "bob", Amount: uint256.NewInt(200), Status: common.Unclaimed},
	}
	require.NoError(t, ddb.SaveEntitlements(ctx, batch))

	ents, err := ddb.Entitlements(ctx)
	require.NoError(t, err)
	require.Len(t, ents, 2)
}

func TestIntegrationSalePool(t *testing.T) {
	ddb := NewTestDistributorDB(t)
	ctx := context.Background()

	sale, err := ddb.LoadSale(ctx)
	require.NoError(t, err)
	require.Nil(t, sale)

	stored := common.SalePool{
		Token:      testToken,
		Remaining:  uint256.NewInt(10000000),
		Total:      uint256.NewInt(10000000),
		ClaimRatio: new(uint256.Int).Mul(uint256.NewInt(200), common.RatioUnit),
		StartBlock: 100,
		EndBlock:   200,
	}
	require.NoError(t, ddb.SaveSale(ctx, stored))

	sale, err = ddb.LoadSale(ctx)
	require.NoError(t, err)
	require.Equal(t, stored, *sale)

	stored.Remaining = uint256.NewInt(9980000)
	require.NoError(t, ddb.SaveSale(ctx, stored))

	sale, err = ddb.LoadSale(ctx)
	require.NoError(t, err)
	require.Equal(t, "9980000", sale.Remaining.Dec())
}
