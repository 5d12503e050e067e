package models

import (
	"context"
	"errors"
	"testing"
	"time"

	"aigateway/internal/failure"
	"aigateway/internal/profile"
	"aigateway/internal/testutil"
)

type fixture struct {
	clock    *testutil.FakeClock
	store    *profile.Memory
	resolver *Resolver
}

func newFixture(t *testing.T, defaults map[string]string) fixture {
	t.Helper()
	clock := testutil.NewFakeClock(time.Unix(1000, 0))
	store := profile.NewMemory()
	resolver := NewResolver(Config{
		Store:    store,
		Cache:    NewCache(clock, 30*time.Second),
		Defaults: defaults,
	})
	return fixture{clock: clock, store: store, resolver: resolver}
}

// TestResolveUsesTierDefaultAndSlug ensures tier defaults are translated to slugs.
func TestResolveUsesTierDefaultAndSlug(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	_ = fx.store.SetTierDefault(ctx, "pro", "m-pro")
	_ = fx.store.SetModelSlug(ctx, "m-pro", "vendor/pro")
	slug, err := fx.resolver.Resolve(ctx, "pro", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if slug != "vendor/pro" {
		t.Fatalf("expected vendor/pro, got %q", slug)
	}
}

// TestResolveCachesWithinTTL ensures repeat resolutions skip the store until expiry.
func TestResolveCachesWithinTTL(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	_ = fx.store.SetTierDefault(ctx, "basic", "m-basic")
	for i := 0; i < 3; i++ {
		if _, err := fx.resolver.Resolve(ctx, "basic", ""); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	calls := fx.store.Calls()
	if calls.TierDefaultModel != 1 || calls.ModelSlug != 1 {
		t.Fatalf("expected one round trip each, got %+v", calls)
	}
	fx.clock.Advance(30 * time.Second)
	if _, err := fx.resolver.Resolve(ctx, "basic", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := fx.store.Calls().TierDefaultModel; got != 2 {
		t.Fatalf("expected refresh after ttl, got %d lookups", got)
	}
}

// TestResolvePinsUser ensures a user keeps their first model after the default changes.
func TestResolvePinsUser(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	_ = fx.store.SetTierDefault(ctx, "basic", "m-old")
	if slug, _ := fx.resolver.Resolve(ctx, "basic", "u1"); slug != "m-old" {
		t.Fatalf("expected m-old, got %q", slug)
	}
	if pinned, ok, _ := fx.store.UserModel(ctx, "u1", "basic"); !ok || pinned != "m-old" {
		t.Fatalf("expected pinned model, got %q", pinned)
	}
	_ = fx.store.SetTierDefault(ctx, "basic", "m-new")
	fx.clock.Advance(time.Minute)
	if slug, _ := fx.resolver.Resolve(ctx, "basic", "u1"); slug != "m-old" {
		t.Fatalf("expected pinned user to stay on m-old, got %q", slug)
	}
	if slug, _ := fx.resolver.Resolve(ctx, "basic", "u2"); slug != "m-new" {
		t.Fatalf("expected new user on m-new, got %q", slug)
	}
}

// TestResolvePinsPerTier ensures a pin on one tier never serves another tier.
func TestResolvePinsPerTier(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	_ = fx.store.SetTierDefault(ctx, "basic", "cheap-model")
	_ = fx.store.SetTierDefault(ctx, "pro", "premium-model")

	basic, err := fx.resolver.Resolve(ctx, "basic", "u1")
	if err != nil {
		t.Fatalf("resolve basic: %v", err)
	}
	pro, err := fx.resolver.Resolve(ctx, "pro", "u1")
	if err != nil {
		t.Fatalf("resolve pro: %v", err)
	}
	if basic != "cheap-model" || pro != "premium-model" {
		t.Fatalf("expected basic=cheap-model pro=premium-model, got basic=%q pro=%q", basic, pro)
	}
	if pinned, ok, _ := fx.store.UserModel(ctx, "u1", "pro"); !ok || pinned != "premium-model" {
		t.Fatalf("expected pro pin premium-model, got %q ok=%v", pinned, ok)
	}

	fx.clock.Advance(time.Minute)
	if again, _ := fx.resolver.Resolve(ctx, "basic", "u1"); again != "cheap-model" {
		t.Fatalf("expected basic to stay on cheap-model, got %q", again)
	}
}

// TestResolveFallsBackToConfiguredDefault ensures config defaults fill store gaps.
func TestResolveFallsBackToConfiguredDefault(t *testing.T) {
	fx := newFixture(t, map[string]string{"basic": "vendor/basic"})
	slug, err := fx.resolver.Resolve(context.Background(), "basic", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if slug != "vendor/basic" {
		t.Fatalf("expected configured default, got %q", slug)
	}
}

// TestResolveWithoutDefaultIsConfigurationError ensures a missing default is fatal.
func TestResolveWithoutDefaultIsConfigurationError(t *testing.T) {
	fx := newFixture(t, nil)
	_, err := fx.resolver.Resolve(context.Background(), "pro", "u1")
	var cfgErr *failure.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if fx.store.Calls().PinUserModel != 0 {
		t.Fatalf("expected no pin without a model")
	}
}

type brokenStore struct{}

func (brokenStore) UserModel(context.Context, string, string) (string, bool, error) {
	return "", false, errors.New("store down")
}
func (brokenStore) TierDefaultModel(context.Context, string) (string, bool, error) {
	return "", false, errors.New("store down")
}
func (brokenStore) ModelSlug(context.Context, string) (string, bool, error) {
	return "", false, errors.New("store down")
}
func (brokenStore) PinUserModel(context.Context, string, string, string) error {
	return errors.New("store down")
}

// TestResolveDegradesOnStoreErrors ensures store failures fall through to config defaults.
func TestResolveDegradesOnStoreErrors(t *testing.T) {
	resolver := NewResolver(Config{
		Store:    brokenStore{},
		Defaults: map[string]string{"basic": "vendor/basic"},
	})
	slug, err := resolver.Resolve(context.Background(), "basic", "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if slug != "vendor/basic" {
		t.Fatalf("expected configured default, got %q", slug)
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	cache := NewTTLCache(clock, time.Second)
	cache.Put("k", "v")
	if got, ok := cache.Get("k"); !ok || got != "v" {
		t.Fatalf("expected cached value")
	}
	clock.Advance(time.Second)
	if _, ok := cache.Get("k"); ok {
		t.Fatalf("expected entry to expire")
	}
	if cache.Len() != 0 {
		t.Fatalf("expected expired entry to be removed")
	}
}
