// Package profile defines the store consulted for model selection.
package profile

import (
	"context"
	"strings"
	"sync"
)

// Store reads and pins model choices. User models are kept per tier.
// Lookups report ok=false when no row exists; errors are reserved for store
// failures.
type Store interface {
	UserModel(ctx context.Context, userID, tier string) (modelID string, ok bool, err error)
	TierDefaultModel(ctx context.Context, tier string) (modelID string, ok bool, err error)
	ModelSlug(ctx context.Context, modelID string) (slug string, ok bool, err error)
	PinUserModel(ctx context.Context, userID, tier, modelID string) error
}

// Admin manages the rows a Store reads.
type Admin interface {
	SetTierDefault(ctx context.Context, tier, modelID string) error
	SetModelSlug(ctx context.Context, modelID, slug string) error
}

// Memory is an in-process Store.
type Memory struct {
	mu           sync.Mutex
	users        map[userTier]string
	tierDefaults map[string]string
	slugs        map[string]string
	calls        Calls
}

type userTier struct {
	user string
	tier string
}

// Calls counts store round trips.
type Calls struct {
	UserModel        int
	TierDefaultModel int
	ModelSlug        int
	PinUserModel     int
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		users:        map[userTier]string{},
		tierDefaults: map[string]string{},
		slugs:        map[string]string{},
	}
}

// UserModel returns the model pinned for a user on a tier.
func (m *Memory) UserModel(_ context.Context, userID, tier string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.UserModel++
	id, ok := m.users[userTier{user: userID, tier: strings.TrimSpace(tier)}]
	return id, ok, nil
}

// TierDefaultModel returns the default model for a tier.
func (m *Memory) TierDefaultModel(_ context.Context, tier string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.TierDefaultModel++
	id, ok := m.tierDefaults[tier]
	return id, ok, nil
}

// ModelSlug translates a model id into its provider slug.
func (m *Memory) ModelSlug(_ context.Context, modelID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.ModelSlug++
	slug, ok := m.slugs[modelID]
	return slug, ok, nil
}

// PinUserModel stores a user's model for a tier.
func (m *Memory) PinUserModel(_ context.Context, userID, tier, modelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.PinUserModel++
	m.users[userTier{user: userID, tier: strings.TrimSpace(tier)}] = modelID
	return nil
}

// SetTierDefault sets the default model for a tier.
func (m *Memory) SetTierDefault(_ context.Context, tier, modelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tierDefaults[strings.TrimSpace(tier)] = modelID
	return nil
}

// SetModelSlug records the slug for a model id.
func (m *Memory) SetModelSlug(_ context.Context, modelID, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slugs[modelID] = slug
	return nil
}

// Calls returns a copy of the round-trip counters.
func (m *Memory) Calls() Calls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
