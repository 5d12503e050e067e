// Package ledger consumes and refunds prepaid session credits around
// generation calls.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Reasons recorded on ledger events.
const (
	ReasonGeneration = "generation"
	ReasonRefund     = "generation_failed"
	ReasonGrant      = "grant"
)

// ErrInvalidRequest reports a malformed ledger call.
var ErrInvalidRequest = errors.New("invalid ledger request")

// Charge identifies one session credit movement.
type Charge struct {
	UserID  string `json:"user_id"`
	Plan    string `json:"plan_type"`
	CaseID  string `json:"case_id,omitempty"`
	RoundID string `json:"round_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
	// OperationID ties a refund to its consume. Repeating an operation is a
	// no-op.
	OperationID string `json:"operation_id,omitempty"`
}

// Validate reports missing required fields.
func (c Charge) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return errors.Join(ErrInvalidRequest, errors.New("user_id is required"))
	}
	if strings.TrimSpace(c.Plan) == "" {
		return errors.Join(ErrInvalidRequest, errors.New("plan_type is required"))
	}
	return nil
}

// ConsumeResult reports whether a credit was taken.
type ConsumeResult struct {
	Consumed  bool  `json:"consumed"`
	Remaining int64 `json:"remaining"`
}

// RefundResult reports whether a credit was returned.
type RefundResult struct {
	Refunded  bool  `json:"refunded"`
	Remaining int64 `json:"remaining"`
}

// Grant adds (or with a negative delta removes) credits.
type Grant struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan_type"`
	Delta  int64  `json:"delta"`
	Reason string `json:"reason,omitempty"`
}

// Validate reports missing required fields.
func (g Grant) Validate() error {
	if strings.TrimSpace(g.UserID) == "" || strings.TrimSpace(g.Plan) == "" {
		return errors.Join(ErrInvalidRequest, errors.New("user_id and plan_type are required"))
	}
	if g.Delta == 0 {
		return errors.Join(ErrInvalidRequest, errors.New("delta must be non-zero"))
	}
	return nil
}

// ErrInsufficientBalance is returned when a negative grant would overdraw.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Event is one recorded balance change.
type Event struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Plan        string    `json:"plan_type"`
	Delta       int64     `json:"delta"`
	Reason      string    `json:"reason"`
	CaseID      string    `json:"case_id,omitempty"`
	RoundID     string    `json:"round_id,omitempty"`
	OperationID string    `json:"operation_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Client is the atomic session ledger. Implementations must keep each
// user's per-plan balance non-negative under concurrent calls.
type Client interface {
	Consume(ctx context.Context, charge Charge) (ConsumeResult, error)
	Refund(ctx context.Context, charge Charge) (RefundResult, error)
	Grant(ctx context.Context, grant Grant) (int64, error)
	Balance(ctx context.Context, userID, plan string) (int64, error)
}
