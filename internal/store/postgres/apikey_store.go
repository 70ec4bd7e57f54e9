package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/webextract/service/internal/domain"
)

// ApiKeyStore persists API keys, grounded on the teacher's
// internal/storage/postgres/progress_store.go raw-SQL CRUD style.
type ApiKeyStore struct {
	pool *Pool
}

// NewApiKeyStore constructs an ApiKeyStore.
func NewApiKeyStore(pool *Pool) *ApiKeyStore { return &ApiKeyStore{pool: pool} }

const apiKeyColumns = `id, key_hash, name, scopes, rate_limit, is_active, created_at, last_used_at`

// Create inserts a new API key row.
func (s *ApiKeyStore) Create(ctx context.Context, key domain.ApiKey) (domain.ApiKey, error) {
	row := s.pool.pool.QueryRow(ctx, `
		INSERT INTO api_keys (id, key_hash, name, scopes, rate_limit, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+apiKeyColumns,
		key.ID, key.KeyHash, key.Name, scopesToStrings(key.Scopes), key.RateLimit, key.IsActive, key.CreatedAt,
	)
	return scanApiKey(row)
}

// FindByHash looks up a key by its stored hash, whether or not it is active.
func (s *ApiKeyStore) FindByHash(ctx context.Context, hash string) (domain.ApiKey, error) {
	row := s.pool.pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash)
	return scanApiKey(row)
}

// Get loads a key by id, for admin CRUD.
func (s *ApiKeyStore) Get(ctx context.Context, id string) (domain.ApiKey, error) {
	row := s.pool.pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
	return scanApiKey(row)
}

// List returns every API key, newest first.
func (s *ApiKeyStore) List(ctx context.Context) ([]domain.ApiKey, error) {
	rows, err := s.pool.pool.Query(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.ApiKey
	for rows.Next() {
		key, err := scanApiKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key row: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Revoke soft-deletes a key by clearing is_active.
func (s *ApiKeyStore) Revoke(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET is_active = false WHERE id = $1`, id)
	return err
}

// SetActive flips is_active, the one other field spec §3 permits updating
// in place alongside last_used_at.
func (s *ApiKeyStore) SetActive(ctx context.Context, id string, active bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET is_active = $1 WHERE id = $2`, active, id)
	return err
}

// TouchLastUsed records the time a key was last presented.
func (s *ApiKeyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApiKey(row scanner) (domain.ApiKey, error) {
	var (
		key    domain.ApiKey
		scopes []string
	)
	err := row.Scan(&key.ID, &key.KeyHash, &key.Name, &scopes, &key.RateLimit, &key.IsActive, &key.CreatedAt, &key.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ApiKey{}, domain.ErrNotFound
		}
		return domain.ApiKey{}, err
	}
	key.Scopes = stringsToScopes(scopes)
	return key, nil
}

func scopesToStrings(scopes []domain.Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

func stringsToScopes(scopes []string) []domain.Scope {
	out := make([]domain.Scope, len(scopes))
	for i, s := range scopes {
		out[i] = domain.Scope(s)
	}
	return out
}
