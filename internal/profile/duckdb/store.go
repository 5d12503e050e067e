// Package duckdb stores model profiles in DuckDB.
package duckdb

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	_ "github.com/duckdb/duckdb-go/v2"
)

// schemaDDL holds the profile schema definition.
//
//go:embed schema.sql
var schemaDDL string

// SchemaDDL returns the schema DDL used for initializing profile databases.
func SchemaDDL() string {
	return schemaDDL
}

// EnsureSchema applies the schema DDL to the provided database connection.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("duckdb: db is nil")
	}
	_, err := db.ExecContext(ctx, schemaDDL)
	return err
}

// Store implements profile.Store and profile.Admin over DuckDB.
type Store struct {
	db *sql.DB
}

// Open opens the database at path (":memory:" or empty for in-memory) and
// applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := strings.TrimSpace(path)
	if dsn == ":memory:" {
		dsn = ""
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing connection. The schema must already be applied.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UserModel returns the model pinned for a user on a tier.
func (s *Store) UserModel(ctx context.Context, userID, tier string) (string, bool, error) {
	var out string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT model_id FROM user_models WHERE user_id = ? AND tier = ?`,
		userID,
		strings.TrimSpace(tier),
	).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup user model: %w", err)
	}
	return out, true, nil
}

// TierDefaultModel returns the default model for a tier.
func (s *Store) TierDefaultModel(ctx context.Context, tier string) (string, bool, error) {
	return s.lookup(ctx, `SELECT model_id FROM tier_defaults WHERE tier = ?`, tier)
}

// ModelSlug translates a model id into its provider slug.
func (s *Store) ModelSlug(ctx context.Context, modelID string) (string, bool, error) {
	return s.lookup(ctx, `SELECT slug FROM models WHERE model_id = ?`, modelID)
}

// PinUserModel stores a user's model for a tier unless one is already set.
func (s *Store) PinUserModel(ctx context.Context, userID, tier, modelID string) error {
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO user_models (user_id, tier, model_id, pinned_at)
		 VALUES (?, ?, ?, now())
		 ON CONFLICT (user_id, tier) DO NOTHING`,
		userID,
		strings.TrimSpace(tier),
		modelID,
	); err != nil {
		return fmt.Errorf("pin user model: %w", err)
	}
	return nil
}

// SetUserModel overrides a user's model on a tier.
func (s *Store) SetUserModel(ctx context.Context, userID, tier, modelID string) error {
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO user_models (user_id, tier, model_id, pinned_at)
		 VALUES (?, ?, ?, now())
		 ON CONFLICT (user_id, tier) DO UPDATE SET model_id = excluded.model_id, pinned_at = excluded.pinned_at`,
		userID,
		strings.TrimSpace(tier),
		modelID,
	); err != nil {
		return fmt.Errorf("set user model: %w", err)
	}
	return nil
}

// SetTierDefault sets the default model for a tier.
func (s *Store) SetTierDefault(ctx context.Context, tier, modelID string) error {
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tier_defaults (tier, model_id, updated_at)
		 VALUES (?, ?, now())
		 ON CONFLICT (tier) DO UPDATE SET model_id = excluded.model_id, updated_at = excluded.updated_at`,
		strings.TrimSpace(tier),
		modelID,
	); err != nil {
		return fmt.Errorf("set tier default: %w", err)
	}
	return nil
}

// SetModelSlug records the slug for an existing model id.
func (s *Store) SetModelSlug(ctx context.Context, modelID, slug string) error {
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO models (model_id, slug, created_at)
		 VALUES (?, ?, now())
		 ON CONFLICT (model_id) DO UPDATE SET slug = excluded.slug`,
		modelID,
		slug,
	); err != nil {
		return fmt.Errorf("set model slug: %w", err)
	}
	return nil
}

// RegisterModel inserts a model by slug and returns its id. Registering an
// existing slug returns the id already stored.
func (s *Store) RegisterModel(ctx context.Context, slug string) (string, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return "", errors.New("duckdb: model slug is required")
	}
	id, ok, err := s.lookup(ctx, `SELECT model_id FROM models WHERE slug = ? ORDER BY created_at LIMIT 1`, slug)
	if err != nil {
		return "", fmt.Errorf("lookup model id: %w", err)
	}
	if ok {
		return id, nil
	}
	id = uuid.NewString()
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO models (model_id, slug, created_at) VALUES (?, ?, now())`,
		id,
		slug,
	); err != nil {
		return "", fmt.Errorf("register model: %w", err)
	}
	return id, nil
}

func (s *Store) lookup(ctx context.Context, query string, arg string) (string, bool, error) {
	var out string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}
