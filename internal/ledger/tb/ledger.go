// Package tb stores session credits in TigerBeetle.
package tb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"aigateway/internal/ledger"
	"aigateway/internal/logging"
	"aigateway/internal/tbutil"
)

const (
	ledgerSessions uint32 = 2

	codeAccount uint16 = 1
	codeConsume uint16 = 1
	codeRefund  uint16 = 2
	codeGrant   uint16 = 3
)

// Config defines connection and batching settings for the TB ledger.
type Config struct {
	ClusterID      uint32
	Addresses      []string
	Sessions       int
	MaxBatchEvents int
	FlushInterval  time.Duration
	NewID          func() string
	Logger         *zerolog.Logger
}

// Ledger implements ledger.Client on TigerBeetle. Each (user, plan) pair has
// an account that may not be debited past its credits, so the balance never
// goes negative regardless of how many gateways share the cluster.
type Ledger struct {
	pool      *tbutil.ClientPool
	submitter *tbutil.Submitter
	cancel    context.CancelFunc
	newID     func() string
	logger    zerolog.Logger

	mu      sync.Mutex
	ensured map[tbtypes.Uint128]bool
}

var _ ledger.Client = (*Ledger)(nil)

// New connects to TigerBeetle and starts the batching submitter.
func New(cfg Config) (*Ledger, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("tigerbeetle addresses required")
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = 8000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 200 * time.Microsecond
	}
	if cfg.Sessions <= 0 {
		cfg.Sessions = 1
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	pool, err := tbutil.NewClientPool(cfg.ClusterID, cfg.Addresses, cfg.Sessions)
	if err != nil {
		return nil, err
	}
	submitter := &tbutil.Submitter{
		In:         make(chan tbutil.Request, cfg.MaxBatchEvents),
		FlushEvery: cfg.FlushInterval,
		MaxEvents:  cfg.MaxBatchEvents,
		Pool:       pool,
		Logger:     cfg.Logger,
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Ledger{
		pool:      pool,
		submitter: submitter,
		cancel:    cancel,
		newID:     cfg.NewID,
		logger:    logging.OrNop(cfg.Logger),
		ensured:   map[tbtypes.Uint128]bool{},
	}
	go submitter.Run(ctx)
	return l, nil
}

// Close stops the submitter and closes TB clients.
func (l *Ledger) Close() error {
	l.cancel()
	return l.pool.Close()
}

// Consume moves one credit from the user's account to the plan operator.
func (l *Ledger) Consume(ctx context.Context, charge ledger.Charge) (ledger.ConsumeResult, error) {
	if err := charge.Validate(); err != nil {
		return ledger.ConsumeResult{}, err
	}
	if err := l.ensureAccounts(ctx, charge.UserID, charge.Plan); err != nil {
		return ledger.ConsumeResult{}, err
	}
	op := charge.OperationID
	if op == "" {
		op = l.newID()
	}
	code, err := l.transfer(ctx, tbtypes.Transfer{
		ID:              tbutil.ConsumeTransferID(op),
		DebitAccountID:  tbutil.SessionAccountID(charge.UserID, charge.Plan),
		CreditAccountID: tbutil.OperatorAccountID(charge.Plan),
		Amount:          tbtypes.ToUint128(1),
		Ledger:          ledgerSessions,
		Code:            codeConsume,
	})
	if err != nil {
		return ledger.ConsumeResult{}, err
	}
	consumed := true
	switch code {
	case transferOK, tbtypes.TransferExists:
	case tbtypes.TransferExceedsCredits, tbtypes.TransferIDAlreadyFailed:
		consumed = false
	default:
		return ledger.ConsumeResult{}, fmt.Errorf("consume transfer: %s", code)
	}
	remaining, err := l.Balance(ctx, charge.UserID, charge.Plan)
	if err != nil {
		return ledger.ConsumeResult{}, err
	}
	return ledger.ConsumeResult{Consumed: consumed, Remaining: remaining}, nil
}

// Refund returns the credit taken by charge's operation. Without an operation
// id the refund is unconditional.
func (l *Ledger) Refund(ctx context.Context, charge ledger.Charge) (ledger.RefundResult, error) {
	if err := charge.Validate(); err != nil {
		return ledger.RefundResult{}, err
	}
	if err := l.ensureAccounts(ctx, charge.UserID, charge.Plan); err != nil {
		return ledger.RefundResult{}, err
	}
	id := tbutil.RefundTransferID(l.newID())
	if charge.OperationID != "" {
		found, err := l.transferExists(ctx, tbutil.ConsumeTransferID(charge.OperationID))
		if err != nil {
			return ledger.RefundResult{}, err
		}
		if !found {
			remaining, err := l.Balance(ctx, charge.UserID, charge.Plan)
			return ledger.RefundResult{Refunded: false, Remaining: remaining}, err
		}
		id = tbutil.RefundTransferID(charge.OperationID)
	}
	code, err := l.transfer(ctx, tbtypes.Transfer{
		ID:              id,
		DebitAccountID:  tbutil.OperatorAccountID(charge.Plan),
		CreditAccountID: tbutil.SessionAccountID(charge.UserID, charge.Plan),
		Amount:          tbtypes.ToUint128(1),
		Ledger:          ledgerSessions,
		Code:            codeRefund,
	})
	if err != nil {
		return ledger.RefundResult{}, err
	}
	refunded := true
	switch code {
	case transferOK:
	case tbtypes.TransferExists:
		refunded = false
	default:
		return ledger.RefundResult{}, fmt.Errorf("refund transfer: %s", code)
	}
	remaining, err := l.Balance(ctx, charge.UserID, charge.Plan)
	if err != nil {
		return ledger.RefundResult{}, err
	}
	return ledger.RefundResult{Refunded: refunded, Remaining: remaining}, nil
}

// Grant credits (or debits, for a negative delta) the user's account.
func (l *Ledger) Grant(ctx context.Context, grant ledger.Grant) (int64, error) {
	if err := grant.Validate(); err != nil {
		return 0, err
	}
	if err := l.ensureAccounts(ctx, grant.UserID, grant.Plan); err != nil {
		return 0, err
	}
	user := tbutil.SessionAccountID(grant.UserID, grant.Plan)
	operator := tbutil.OperatorAccountID(grant.Plan)
	transfer := tbtypes.Transfer{
		ID:              tbutil.GrantTransferID(l.newID()),
		DebitAccountID:  operator,
		CreditAccountID: user,
		Amount:          tbtypes.ToUint128(uint64(grant.Delta)),
		Ledger:          ledgerSessions,
		Code:            codeGrant,
	}
	if grant.Delta < 0 {
		transfer.DebitAccountID, transfer.CreditAccountID = user, operator
		transfer.Amount = tbtypes.ToUint128(uint64(-grant.Delta))
	}
	code, err := l.transfer(ctx, transfer)
	if err != nil {
		return 0, err
	}
	switch code {
	case transferOK:
	case tbtypes.TransferExceedsCredits:
		remaining, _ := l.Balance(ctx, grant.UserID, grant.Plan)
		return remaining, fmt.Errorf("grant %d: %w", grant.Delta, ledger.ErrInsufficientBalance)
	default:
		return 0, fmt.Errorf("grant transfer: %s", code)
	}
	remaining, err := l.Balance(ctx, grant.UserID, grant.Plan)
	if err != nil {
		return 0, err
	}
	l.logger.Info().Str("user_id", grant.UserID).Str("plan_type", grant.Plan).Int64("delta", grant.Delta).Int64("remaining", remaining).Msg("sessions granted")
	return remaining, nil
}

// Balance returns the posted credits minus debits of the user's account.
func (l *Ledger) Balance(ctx context.Context, userID, plan string) (int64, error) {
	accounts, err := l.lookupAccounts(ctx, []tbtypes.Uint128{tbutil.SessionAccountID(userID, plan)})
	if err != nil {
		return 0, err
	}
	if len(accounts) == 0 {
		return 0, nil
	}
	return tbutil.PostedBalance(accounts[0])
}
