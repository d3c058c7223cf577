// Package distributordb keeps entitlements, the sale pool and token
// balances in Postgres. Amounts are stored as NUMERIC(78,0) so any uint256
// value round-trips without truncation.
package distributordb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/lib/pq"
	"gitlab.com/tokenport/distributor/common"
)

//go:embed schema.sql
var schemaSql string

var creations = regexp.MustCompile(`CREATE[^;]+;`).FindAllString(schemaSql, -1)

func creationSql(tableName string) string {
	hits := make([]string, 0, 1)
	for _, c := range creations {
		if strings.Contains(c, tableName+" (") {
			hits = append(hits, c)
		}
	}
	if len(hits) != 1 {
		panic(fmt.Sprintf("expect exactly one hit for %s, got %d: %v", tableName, len(hits), hits))
	}
	return hits[0]
}

const (
	dropBalancesTable = `
DROP TABLE IF EXISTS balances
`
	dropEntitlementsTable = `
DROP TABLE IF EXISTS entitlements
`
	dropSalePoolTable = `
DROP TABLE IF EXISTS sale_pool
`
)

var (
	createBalancesTable     = creationSql("balances")
	createEntitlementsTable = creationSql("entitlements")
	createSalePoolTable     = creationSql("sale_pool")
)

var dropSchemas = []struct {
	query       string
	description string
}{
	{dropBalancesTable, "drop balances table"},
	{dropEntitlementsTable, "drop entitlements table"},
	{dropSalePoolTable, "drop sale pool table"},
}

var createSchemas = []struct {
	query       string
	description string
}{
	{createBalancesTable, "create balances table"},
	{createEntitlementsTable, "create entitlements table"},
	{createSalePoolTable, "create sale pool table"},
}

func handleErrorWithRollback(err error, tx *sql.Tx) error {
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		return rollbackErr
	}
	return err
}

func amountFromSql(s string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q as uint256: %w", s, err)
	}
	return amount, nil
}

type DistributorDB struct {
	db *sql.DB
}

func NewDB(db *sql.DB) (*DistributorDB, error) {
	ddb := &DistributorDB{db: db}
	if err := ddb.CreateSchemas(); err != nil {
		return nil, fmt.Errorf("failed to create schemas: %w", err)
	}
	return ddb, nil
}

func (ddb *DistributorDB) CreateSchemas() error {
	lid := uuid.NewString()
	log.Printf("DistributorDB: CreateSchemas started (%s)\n", lid)
	defer log.Printf("DistributorDB: CreateSchemas exited (%s)\n", lid)
	tx, err := ddb.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, s := range createSchemas {
		if _, err := tx.Exec(s.query); err != nil {
			return handleErrorWithRollback(fmt.Errorf("failed to %s: %w", s.description, err), tx)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (ddb *DistributorDB) DropSchemas(cascade bool) error {
	lid := uuid.NewString()
	log.Printf("DistributorDB: DropSchemas started (%s)\n", lid)
	defer log.Printf("DistributorDB: DropSchemas exited (%s)\n", lid)
	tx, err := ddb.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	suffix := ""
	if cascade {
		suffix = " CASCADE"
	}
	for _, s := range dropSchemas {
		query := s.query + suffix
		if _, err := tx.Exec(query); err != nil {
			return handleErrorWithRollback(fmt.Errorf("failed to %s: %w", s.description, err), tx)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type ddbMethod func(ctx context.Context, tx *sql.Tx) error

type txCommitError struct {
	msg string
}

func (txErr txCommitError) Error() string {
	return txErr.msg
}

func (ddb *DistributorDB) runRetryableTransaction(ctx context.Context, fn ddbMethod) error {
	return retry.Do(
		func() error {
			tx, err := ddb.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("failed to begin transaction: %w", err)
			}
			if err := fn(ctx, tx); err != nil {
				return handleErrorWithRollback(err, tx)
			}
			if err := tx.Commit(); err != nil {
				return txCommitError{msg: err.Error()}
			}
			return nil
		},
		retry.Context(ctx),
		retry.Delay(time.Second),
		retry.RetryIf(func(err error) bool {
			if errors.As(err, &txCommitError{}) {
				return true
			}
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
				return true
			}
			return false
		}),
	)
}

const creditBalanceQuery = `
INSERT INTO balances (token, account, amount) VALUES ($1, $2, $3::NUMERIC)
ON CONFLICT (token, account) DO UPDATE SET amount = balances.amount + EXCLUDED.amount
`

const debitBalanceQuery = `
UPDATE balances SET amount = amount - $3::NUMERIC
WHERE token = $1 AND account = $2 AND amount >= $3::NUMERIC
`

func creditBalance(ctx context.Context, tx *sql.Tx, token, account common.Address, amount *uint256.Int) error {
	_, err := tx.ExecContext(ctx, creditBalanceQuery, string(token), string(account), amount.Dec())
	return err
}

// debitBalance subtracts amount from the account and reports
// common.ErrInsufficientFunds when the balance does not cover it. The guard
// lives in the WHERE clause so two concurrent debits cannot overdraw.
func debitBalance(ctx context.Context, tx *sql.Tx, token, account common.Address, amount *uint256.Int) error {
	res, err := tx.ExecContext(ctx, debitBalanceQuery, string(token), string(account), amount.Dec())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s has less than %s of %s", common.ErrInsufficientFunds, account, amount.Dec(), token)
	}
	return nil
}

func (ddb *DistributorDB) transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	return ddb.runRetryableTransaction(ctx, func(innerCtx context.Context, tx *sql.Tx) error {
		if err := debitBalance(innerCtx, tx, token, from, amount); err != nil {
			return err
		}
		return creditBalance(innerCtx, tx, token, to, amount)
	})
}

func (ddb *DistributorDB) Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error {
	lid := uuid.NewString()
	log.Printf("DistributorDB: Transfer started (%s)\n", lid)
	defer log.Printf("DistributorDB: Transfer exited (%s)\n", lid)
	return ddb.transfer(ctx, token, from, to, amount)
}

func (ddb *DistributorDB) Pull(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error {
	lid := uuid.NewString()
	log.Printf("DistributorDB: Pull started (%s)\n", lid)
	defer log.Printf("DistributorDB: Pull exited (%s)\n", lid)
	return ddb.transfer(ctx, token, from, to, amount)
}

// Mint credits freshly issued tokens to an account. Used to seed the pool
// accounts on deployment.
func (ddb *DistributorDB) Mint(ctx context.Context, token, to common.Address, amount *uint256.Int) error {
	lid := uuid.NewString()
	log.Printf("DistributorDB: Mint started (%s)\n", lid)
	defer log.Printf("DistributorDB: Mint exited (%s)\n", lid)
	if amount.IsZero() {
		return nil
	}
	return ddb.runRetryableTransaction(ctx, func(innerCtx context.Context, tx *sql.Tx) error {
		return creditBalance(innerCtx, tx, token, to, amount)
	})
}

func (ddb *DistributorDB) BalanceOf(ctx context.Context, token, account common.Address) (*uint256.Int, error) {
	lid := uuid.NewString()
	log.Printf("DistributorDB: BalanceOf started (%s)\n", lid)
	defer log.Printf("DistributorDB: BalanceOf exited (%s)\n", lid)
	balance := uint256.NewInt(0)
	if err := ddb.runRetryableTransaction(ctx, func(innerCtx context.Context, tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(innerCtx,
			`SELECT amount::TEXT FROM balances WHERE token = $1 AND account = $2`,
			string(token), string(account)).Scan(&raw)
		if err == sql.ErrNoRows {
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to select balance: %w", err)
		}
		balance, err = amountFromSql(raw)
		return err
	}); err != nil {
		return nil, err
	}
	return balance, nil
}

const upsertEntitlementQuery = `
INSERT INTO entitlements (recipient, amount, status, lockup_start)
VALUES ($1, $2::NUMERIC, $3, $4)
ON CONFLICT (recipient) DO UPDATE
SET amount = EXCLUDED.amount, status = EXCLUDED.status, lockup_start = EXCLUDED.lockup_start
`

func upsertEntitlement(ctx context.Context, tx *sql.Tx, ent common.Entitlement) error {
	_, err := tx.ExecContext(ctx, upsertEntitlementQuery,
		string(ent.Recipient), ent.Amount.Dec(), int16(ent.Status), int64(ent.LockupStart))
	if err != nil {
		return fmt.Errorf("failed to upsert entitlement of %s: %w", ent.Recipient, err)
	}
	return nil
}

func (ddb *DistributorDB) SaveEntitlement(ctx context.Context, ent common.Entitlement) error {
	lid := uuid.NewString()
	log.Printf("DistributorDB: SaveEntitlement started (%s)\n", lid)
	defer log.Printf("DistributorDB: SaveEntitlement exited (%s)\n", lid)
	return ddb.runRetryableTransaction(ctx, func(innerCtx context.Context, tx *sql.Tx) error {
		return upsertEntitlement(innerCtx, tx, ent)
	})
}

func (ddb *DistributorDB) SaveEntitlements(ctx context.Context, ents []common.Entitlement) error {
	lid := uuid.NewString()
	log.Printf("DistributorDB: SaveEntitlements started (%s)\n", lid)
	defer log.Printf("DistributorDB: SaveEntitlements exited (%s)\n", lid)
	return ddb.runRetryableTransaction(ctx, func(innerCtx context.Context, tx *sql.Tx) error {
		for _, ent := range ents {
			if err := upsertEntitlement(innerCtx, tx, ent); err != nil {
				return err
			}
		}
		return nil
	})
}

func (ddb *DistributorDB) DeleteEntitlement(ctx context.Context, recipient common.Address) error {
	lid := uuid.NewString()
	log.Printf("DistributorDB: DeleteEntitlement started (%s)\n", lid)
	defer log.Printf("DistributorDB: DeleteEntitlement exited (%s)\n", lid)
	return ddb.runRetryableTransaction(ctx, func(innerCtx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(innerCtx,
			`DELETE FROM entitlements WHERE recipient = $1`, string(recipient))
		if err != nil {
			return fmt.Errorf("failed to delete entitlement of %s: %w", recipient, err)
		}
		return nil
	})
}

func (ddb *DistributorDB) Entitlements(ctx context.Context) ([]common.Entitlement, error) {
	lid := uuid.NewString()
	log.Printf("DistributorDB: Entitlements started (%s)\n", lid)
	defer log.Printf("DistributorDB: Entitlements exited (%s)\n", lid)
	var ents []common.Entitlement
	if err := ddb.runRetryableTransaction(ctx, func(innerCtx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(innerCtx,
			`SELECT recipient, amount::TEXT, status, lockup_start FROM entitlements ORDER BY recipient`)
		if err != nil {
			return fmt.Errorf("failed to select entitlements: %w", err)
		}
		defer rows.Close()
		ents = ents[:0]
		for rows.Next() {
			var (
				recipient   string
				rawAmount   string
				status      int16
				lockupStart int64
			)
			if err := rows.Scan(&recipient, &rawAmount, &status, &lockupStart); err != nil {
				return fmt.Errorf("failed to scan entitlement: %w", err)
			}
			amount, err := amountFromSql(rawAmount)
			if err != nil {
				return err
			}
			ents = append(ents, common.Entitlement{
				Recipient:   common.Address(recipient),
				Amount:      amount,
				Status:      common.ClaimStatus(status),
				LockupStart: uint64(lockupStart),
			})
		}
		return rows.Err()
	}); err != nil {
		return nil, err
	}
	return ents, nil
}

const upsertSaleQuery = `
INSERT INTO sale_pool (id, token, remaining, total, claim_ratio, start_block, end_block)
VALUES (0, $1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6)
ON CONFLICT (id) DO UPDATE
SET token = EXCLUDED.token, remaining = EXCLUDED.remaining, total = EXCLUDED.total,
    claim_ratio = EXCLUDED.claim_ratio, start_block = EXCLUDED.start_block, end_block = EXCLUDED.end_block
`

func (ddb *DistributorDB) SaveSale(ctx context.Context, sale common.SalePool) error {
	lid := uuid.NewString()
	log.Printf("DistributorDB: SaveSale started (%s)\n", lid)
	defer log.Printf("DistributorDB: SaveSale exited (%s)\n", lid)
	return ddb.runRetryableTransaction(ctx, func(innerCtx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(innerCtx, upsertSaleQuery,
			string(sale.Token), sale.Remaining.Dec(), sale.Total.Dec(), sale.ClaimRatio.Dec(),
			int64(sale.StartBlock), int64(sale.EndBlock))
		if err != nil {
			return fmt.Errorf("failed to upsert sale pool: %w", err)
		}
		return nil
	})
}

func (ddb *DistributorDB) LoadSale(ctx context.Context) (*common.SalePool, error) {
	lid := uuid.NewString()
	log.Printf("DistributorDB: LoadSale started (%s)\n", lid)
	defer log.Printf("DistributorDB: LoadSale exited (%s)\n", lid)
	var sale *common.SalePool
	if err := ddb.runRetryableTransaction(ctx, func(innerCtx context.Context, tx *sql.Tx) error {
		var (
			token                            string
			rawRemaining, rawTotal, rawRatio string
			startBlock, endBlock             int64
		)
		err := tx.QueryRowContext(innerCtx,
			`SELECT token, remaining::TEXT, total::TEXT, claim_ratio::TEXT, start_block, end_block FROM sale_pool WHERE id = 0`).
			Scan(&token, &rawRemaining, &rawTotal, &rawRatio, &startBlock, &endBlock)
		if err == sql.ErrNoRows {
			sale = nil
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to select sale pool: %w", err)
		}
		remaining, err := amountFromSql(rawRemaining)
		if err != nil {
			return err
		}
		total, err := amountFromSql(rawTotal)
		if err != nil {
			return err
		}
		ratio, err := amountFromSql(rawRatio)
		if err != nil {
			return err
		}
		sale = &common.SalePool{
			Token:      common.Address(token),
			Remaining:  remaining,
			Total:      total,
			ClaimRatio: ratio,
			StartBlock: uint64(startBlock),
			EndBlock:   uint64(endBlock),
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return sale, nil
}
