// Package models resolves which upstream model serves a tier and user.
package models

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"aigateway/internal/failure"
	"aigateway/internal/logging"
	"aigateway/internal/profile"
)

// Config wires a Resolver.
type Config struct {
	Store profile.Store
	Cache *Cache
	// Defaults maps tier names to model ids used when the store has no
	// default for a tier.
	Defaults map[string]string
	Logger   *zerolog.Logger
}

// Resolver picks the model slug for a call.
type Resolver struct {
	store    profile.Store
	cache    *Cache
	defaults map[string]string
	logger   zerolog.Logger
}

// NewResolver creates a Resolver. A nil cache gets the default TTL.
func NewResolver(cfg Config) *Resolver {
	if cfg.Cache == nil {
		cfg.Cache = NewCache(nil, DefaultTTL)
	}
	defaults := make(map[string]string, len(cfg.Defaults))
	for tier, model := range cfg.Defaults {
		if model = strings.TrimSpace(model); model != "" {
			defaults[tier] = model
		}
	}
	return &Resolver{
		store:    cfg.Store,
		cache:    cfg.Cache,
		defaults: defaults,
		logger:   logging.OrNop(cfg.Logger),
	}
}

// Resolve returns the model slug for tier and user. A user's own model for
// the tier wins; otherwise the tier default is used and pinned to the user on
// that tier so later calls stay on the same model. Store failures degrade to
// the next source.
func (r *Resolver) Resolve(ctx context.Context, tier, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID != "" {
		if modelID, ok := r.userModel(ctx, userID, tier); ok {
			return r.slug(ctx, modelID), nil
		}
	}
	modelID, ok := r.tierDefault(ctx, tier)
	if !ok {
		return "", &failure.ConfigurationError{Reason: "no default model configured for tier " + tier}
	}
	if userID != "" {
		r.pin(ctx, userID, tier, modelID)
	}
	return r.slug(ctx, modelID), nil
}

func (r *Resolver) userModel(ctx context.Context, userID, tier string) (string, bool) {
	key := userKey(userID, tier)
	if modelID, ok := r.cache.Users.Get(key); ok {
		return modelID, true
	}
	if r.store == nil {
		return "", false
	}
	modelID, ok, err := r.store.UserModel(ctx, userID, tier)
	if err != nil {
		r.logger.Warn().Err(err).Str("user_id", userID).Str("tier", tier).Msg("user model lookup failed")
		return "", false
	}
	if !ok || strings.TrimSpace(modelID) == "" {
		return "", false
	}
	r.cache.Users.Put(key, modelID)
	return modelID, true
}

func (r *Resolver) tierDefault(ctx context.Context, tier string) (string, bool) {
	if modelID, ok := r.cache.Tiers.Get(tier); ok {
		return modelID, true
	}
	if r.store != nil {
		modelID, ok, err := r.store.TierDefaultModel(ctx, tier)
		switch {
		case err != nil:
			r.logger.Warn().Err(err).Str("tier", tier).Msg("tier default lookup failed")
		case ok && strings.TrimSpace(modelID) != "":
			r.cache.Tiers.Put(tier, modelID)
			return modelID, true
		}
	}
	if modelID, ok := r.defaults[tier]; ok {
		r.cache.Tiers.Put(tier, modelID)
		return modelID, true
	}
	return "", false
}

// slug translates a model id, using the id itself when no slug is stored.
func (r *Resolver) slug(ctx context.Context, modelID string) string {
	if slug, ok := r.cache.Slugs.Get(modelID); ok {
		return slug
	}
	slug := modelID
	if r.store != nil {
		stored, ok, err := r.store.ModelSlug(ctx, modelID)
		switch {
		case err != nil:
			r.logger.Warn().Err(err).Str("model_id", modelID).Msg("model slug lookup failed")
			return modelID
		case ok && strings.TrimSpace(stored) != "":
			slug = stored
		}
	}
	r.cache.Slugs.Put(modelID, slug)
	return slug
}

func (r *Resolver) pin(ctx context.Context, userID, tier, modelID string) {
	r.cache.Users.Put(userKey(userID, tier), modelID)
	if r.store == nil {
		return
	}
	if err := r.store.PinUserModel(ctx, userID, tier, modelID); err != nil {
		r.logger.Warn().Err(err).Str("user_id", userID).Str("tier", tier).Msg("pin user model failed")
		return
	}
	r.logger.Debug().Str("user_id", userID).Str("tier", tier).Str("model_id", modelID).Msg("pinned tier default to user")
}

// userKey is the Users cache key for a user's model on one tier.
func userKey(userID, tier string) string {
	return userID + "\x00" + tier
}
