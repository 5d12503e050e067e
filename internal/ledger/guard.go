package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"aigateway/internal/failure"
	"aigateway/internal/logging"
)

// DefaultRefundTimeout bounds the best-effort refund call.
const DefaultRefundTimeout = 10 * time.Second

// GuardConfig wires a Guard.
type GuardConfig struct {
	Client        Client
	RefundTimeout time.Duration
	NewID         func() string
	Logger        *zerolog.Logger
}

// Guard wraps a generation in consume-then-refund-on-failure. It is a
// compensating action, not a transaction: a refund that fails is logged and
// dropped.
type Guard struct {
	client        Client
	refundTimeout time.Duration
	newID         func() string
	logger        zerolog.Logger
}

// NewGuard creates a Guard.
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.RefundTimeout <= 0 {
		cfg.RefundTimeout = DefaultRefundTimeout
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Guard{
		client:        cfg.Client,
		refundTimeout: cfg.RefundTimeout,
		newID:         cfg.NewID,
		logger:        logging.OrNop(cfg.Logger),
	}
}

// Consume takes one credit for charge and returns the charge stamped with its
// operation id. A declined consume is an InsufficientSessionsError; a ledger
// failure is a LedgerUnavailableError.
func (g *Guard) Consume(ctx context.Context, charge Charge) (Charge, ConsumeResult, error) {
	if g.client == nil {
		return charge, ConsumeResult{}, &failure.ConfigurationError{Reason: "session ledger is not configured"}
	}
	if charge.OperationID == "" {
		charge.OperationID = g.newID()
	}
	if charge.Reason == "" {
		charge.Reason = ReasonGeneration
	}
	res, err := g.client.Consume(ctx, charge)
	if err != nil {
		return charge, ConsumeResult{}, &failure.LedgerUnavailableError{Op: "consume", Err: err}
	}
	if !res.Consumed {
		return charge, res, &failure.InsufficientSessionsError{
			UserID:    charge.UserID,
			Plan:      charge.Plan,
			Remaining: res.Remaining,
		}
	}
	return charge, res, nil
}

// Refund returns the credit taken by a consumed charge. It ignores caller
// cancellation and never retries.
func (g *Guard) Refund(ctx context.Context, charge Charge) error {
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.refundTimeout)
	defer cancel()
	charge.Reason = ReasonRefund
	res, err := g.client.Refund(refundCtx, charge)
	if err != nil {
		g.logger.Error().
			Err(err).
			Str("user_id", charge.UserID).
			Str("plan", charge.Plan).
			Str("operation_id", charge.OperationID).
			Msg("session refund failed")
		return &failure.LedgerUnavailableError{Op: "refund", Err: err}
	}
	g.logger.Info().
		Str("user_id", charge.UserID).
		Str("plan", charge.Plan).
		Str("operation_id", charge.OperationID).
		Bool("refunded", res.Refunded).
		Int64("remaining", res.Remaining).
		Msg("session refunded")
	return nil
}

// Run consumes a credit, calls fn, and refunds exactly once if fn fails.
// fn's error is returned unchanged; refund errors are only logged.
func (g *Guard) Run(ctx context.Context, charge Charge, fn func(ctx context.Context, charge Charge) error) (ConsumeResult, error) {
	charge, res, err := g.Consume(ctx, charge)
	if err != nil {
		return res, err
	}
	if err := fn(ctx, charge); err != nil {
		_ = g.Refund(ctx, charge)
		return res, err
	}
	return res, nil
}
