package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock provides the current time for event timestamps.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

type balanceKey struct {
	user string
	plan string
}

type opState int

const (
	opConsumed opState = iota + 1
	opRefunded
)

// Memory is an in-process Client that records every balance change.
type Memory struct {
	mu       sync.Mutex
	clock    Clock
	balances map[balanceKey]int64
	ops      map[string]opState
	events   []Event
}

// NewMemory creates an empty Memory ledger.
func NewMemory(clock Clock) *Memory {
	if clock == nil {
		clock = realClock{}
	}
	return &Memory{
		clock:    clock,
		balances: map[balanceKey]int64{},
		ops:      map[string]opState{},
	}
}

// Consume takes one credit if the balance allows it.
func (m *Memory) Consume(_ context.Context, charge Charge) (ConsumeResult, error) {
	if err := charge.Validate(); err != nil {
		return ConsumeResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey{user: charge.UserID, plan: charge.Plan}
	if charge.OperationID != "" {
		if _, seen := m.ops[charge.OperationID]; seen {
			return ConsumeResult{Consumed: true, Remaining: m.balances[key]}, nil
		}
	}
	if m.balances[key] <= 0 {
		return ConsumeResult{Consumed: false, Remaining: m.balances[key]}, nil
	}
	m.balances[key]--
	if charge.OperationID != "" {
		m.ops[charge.OperationID] = opConsumed
	}
	m.record(charge, -1, orDefault(charge.Reason, ReasonGeneration))
	return ConsumeResult{Consumed: true, Remaining: m.balances[key]}, nil
}

// Refund returns the credit taken by charge's operation. Refunding an
// unknown or already refunded operation changes nothing.
func (m *Memory) Refund(_ context.Context, charge Charge) (RefundResult, error) {
	if err := charge.Validate(); err != nil {
		return RefundResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey{user: charge.UserID, plan: charge.Plan}
	if charge.OperationID != "" {
		if m.ops[charge.OperationID] != opConsumed {
			return RefundResult{Refunded: false, Remaining: m.balances[key]}, nil
		}
		m.ops[charge.OperationID] = opRefunded
	}
	m.balances[key]++
	m.record(charge, 1, orDefault(charge.Reason, ReasonRefund))
	return RefundResult{Refunded: true, Remaining: m.balances[key]}, nil
}

// Grant adjusts a balance by delta.
func (m *Memory) Grant(_ context.Context, grant Grant) (int64, error) {
	if err := grant.Validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey{user: grant.UserID, plan: grant.Plan}
	next := m.balances[key] + grant.Delta
	if next < 0 {
		return m.balances[key], fmt.Errorf("grant %d: %w", grant.Delta, ErrInsufficientBalance)
	}
	m.balances[key] = next
	m.record(Charge{UserID: grant.UserID, Plan: grant.Plan}, grant.Delta, orDefault(grant.Reason, ReasonGrant))
	return next, nil
}

// Balance returns the remaining credits for a user and plan.
func (m *Memory) Balance(_ context.Context, userID, plan string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey{user: userID, plan: plan}], nil
}

// Events returns the recorded events for a user in order.
func (m *Memory) Events(userID string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, 0)
	for _, event := range m.events {
		if event.UserID == userID {
			out = append(out, event)
		}
	}
	return out
}

func (m *Memory) record(charge Charge, delta int64, reason string) {
	m.events = append(m.events, Event{
		ID:          uuid.NewString(),
		UserID:      charge.UserID,
		Plan:        charge.Plan,
		Delta:       delta,
		Reason:      reason,
		CaseID:      charge.CaseID,
		RoundID:     charge.RoundID,
		OperationID: charge.OperationID,
		CreatedAt:   m.clock.Now(),
	})
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
