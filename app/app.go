// Package app wires the engines, the storage layer and the HTTP API into a
// runnable service.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/starius/api2"
	"gitlab.com/tokenport/distributor"
	"gitlab.com/tokenport/distributor/common"
	"gitlab.com/tokenport/distributor/distributordb"
	"gitlab.com/tokenport/distributor/launchpad"
	"gitlab.com/tokenport/distributor/memledger"
	"gitlab.com/tokenport/distributor/vesting"
)

type Config struct {
	ApiAddr   string `short:"a" env:"API_ADDR" default:":9590" description:"host:port that the API server listens on"`
	DBCfgPath string `long:"distributor-db-cfg" env:"DB_CFG_PATH" description:"Path to Postgres config; empty runs fully in memory"`

	Token        string `long:"token" env:"TOKEN" required:"true" description:"Distributed token identifier"`
	PoolAddr     string `long:"pool-addr" env:"POOL_ADDR" required:"true" description:"Account funding vesting claims"`
	SalePoolAddr string `long:"sale-pool-addr" env:"SALE_POOL_ADDR" required:"true" description:"Account holding the sale pool"`
	Admins       string `long:"admins" env:"ADMINS" required:"true" description:"Comma-separated admin addresses"`

	StartTime         uint64 `long:"start-time" env:"START_TIME" description:"Distribution window start, unix seconds"`
	EndTime           uint64 `long:"end-time" env:"END_TIME" description:"Distribution window end, unix seconds"`
	LockupPeriod      uint64 `long:"lockup-period" env:"LOCKUP_PERIOD" default:"7776000" description:"Lockup duration in seconds"`
	ImmediateClaimBps uint64 `long:"immediate-claim-bps" env:"IMMEDIATE_CLAIM_BPS" default:"2500" description:"Immediate-claim share in basis points"`
	MinLockupPeriod   uint64 `long:"min-lockup-period" env:"MIN_LOCKUP_PERIOD" description:"Minimal accepted lockup duration, 0 means one day"`

	GenesisTime   uint64 `long:"genesis-time" env:"GENESIS_TIME" description:"Unix timestamp of block 0, used to estimate chain height"`
	BlockInterval uint64 `long:"block-interval" env:"BLOCK_INTERVAL" default:"10" description:"Seconds per block for the height estimate"`

	PoolFunds  string `long:"pool-funds" env:"POOL_FUNDS" default:"0" description:"Initial vesting pool balance, minted only in in-memory mode"`
	AdminFunds string `long:"admin-funds" env:"ADMIN_FUNDS" default:"0" description:"Initial balance of each admin, minted only in in-memory mode"`

	ProgressReportInterval int64 `long:"progress-report-interval" env:"PROGRESS_REPORT_INTERVAL" default:"60" description:"Seconds between sale progress log lines, 0 disables"`
}

// realClock reports wall-clock time in unix seconds.
type realClock struct{}

func (realClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// blockEstimator derives the chain height from wall-clock time. Good enough
// for a sale window measured in thousands of blocks.
type blockEstimator struct {
	genesisTime   uint64
	blockInterval uint64
}

func (b blockEstimator) CurrentBlock() uint64 {
	now := uint64(time.Now().Unix())
	if now <= b.genesisTime {
		return 0
	}
	return (now - b.genesisTime) / b.blockInterval
}

type adminSet map[common.Address]bool

func (a adminSet) IsAdmin(caller common.Address) bool {
	return a[caller]
}

func parseAdmins(list string) (adminSet, error) {
	admins := make(adminSet)
	for _, part := range strings.Split(list, ",") {
		addr := common.Address(strings.TrimSpace(part))
		if addr.IsZero() {
			continue
		}
		admins[addr] = true
	}
	if len(admins) == 0 {
		return nil, fmt.Errorf("admin list is empty")
	}
	return admins, nil
}

// logSink writes every engine event to the process log.
type logSink struct{}

func (logSink) Notify(event common.Event) {
	if event.Amount != nil {
		log.Printf("[event]: %s recipient=%s amount=%s", event.Name, event.Recipient, event.Amount.Dec())
		return
	}
	log.Printf("[event]: %s recipient=%s", event.Name, event.Recipient)
}

type Distributor struct {
	server *http.Server

	distributorCloser io.Closer
}

func New() *Distributor {
	return &Distributor{}
}

func (d *Distributor) Start(c Config) error {
	ctx := context.Background()

	admins, err := parseAdmins(c.Admins)
	if err != nil {
		return fmt.Errorf("failed to parse admins: %w", err)
	}
	if c.BlockInterval == 0 {
		return fmt.Errorf("block interval must be positive")
	}
	params := common.DistributionParams{
		Token:             common.Address(c.Token),
		StartTime:         c.StartTime,
		EndTime:           c.EndTime,
		LockupPeriod:      c.LockupPeriod,
		ImmediateClaimBps: c.ImmediateClaimBps,
		MinLockupPeriod:   c.MinLockupPeriod,
	}

	var (
		vestingLedger vesting.Ledger
		saleLedger    launchpad.Ledger
		vestingStore  vesting.Store
		saleStore     launchpad.Store
	)
	if c.DBCfgPath != "" {
		pg := distributordb.OpenPostgresWithRetries(c.DBCfgPath)
		ddb, err := distributordb.NewDB(pg)
		if err != nil {
			return fmt.Errorf("failed to initialize distributorDB: %w", err)
		}
		vestingLedger = ddb
		saleLedger = ddb
		vestingStore = ddb
		saleStore = ddb
	} else {
		ledger := memledger.New()
		poolFunds, err := uint256.FromDecimal(c.PoolFunds)
		if err != nil {
			return fmt.Errorf("failed to parse pool funds: %w", err)
		}
		if err := ledger.Mint(ctx, params.Token, common.Address(c.PoolAddr), poolFunds); err != nil {
			return fmt.Errorf("failed to fund the pool: %w", err)
		}
		adminFunds, err := uint256.FromDecimal(c.AdminFunds)
		if err != nil {
			return fmt.Errorf("failed to parse admin funds: %w", err)
		}
		for addr := range admins {
			if err := ledger.Mint(ctx, params.Token, addr, adminFunds); err != nil {
				return fmt.Errorf("failed to fund admin %s: %w", addr, err)
			}
		}
		vestingLedger = ledger
		saleLedger = ledger
	}

	vestingEngine, err := vesting.New(ctx, params, common.Address(c.PoolAddr),
		vestingLedger, admins, realClock{}, vestingStore, logSink{})
	if err != nil {
		return fmt.Errorf("failed to initialize vesting engine: %w", err)
	}
	blocks := blockEstimator{genesisTime: c.GenesisTime, blockInterval: c.BlockInterval}
	saleEngine, err := launchpad.New(ctx, params.Token, common.Address(c.SalePoolAddr),
		saleLedger, admins, blocks, saleStore, logSink{})
	if err != nil {
		return fmt.Errorf("failed to initialize sale engine: %w", err)
	}

	srv := distributor.New(vestingEngine, saleEngine, distributor.Settings{
		ProgressReportInterval: c.ProgressReportInterval,
	})

	routes := distributor.GetRoutes(srv)
	mux := http.NewServeMux()
	api2.BindRoutes(mux, routes)

	log.Printf("Listening on %v...", c.ApiAddr)
	d.server = &http.Server{Addr: c.ApiAddr, Handler: mux}
	d.distributorCloser = srv

	go func() {
		if err := d.server.ListenAndServe(); err != nil {
			log.Printf("server.ListenAndServe failed: %v.", err)
		}
	}()

	return nil
}

func (d *Distributor) Close() {
	if d.server != nil {
		if err := d.server.Close(); err != nil {
			log.Printf("server.Close failed: %v.", err)
		}
	}
	if d.distributorCloser != nil {
		if err := d.distributorCloser.Close(); err != nil {
			log.Printf("distributor.Close failed: %v", err)
		}
	}
}
