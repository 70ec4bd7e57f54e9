// Package apikeys implements spec §3/§6's API-key lifecycle: admin-issued
// creation with the plaintext token returned exactly once, lookup-by-hash
// authentication, and soft revocation.
//
// Generation and hash-at-rest storage generalize the shape in
// other_examples/Pasithea0-api-insight__apikey.go and
// other_examples/zhengpengxinpro-tempmail-demo__apikey.go (both store an
// opaque unique token column). A key is stored only as the SHA-256 hex
// digest of its token; the digest is unsalted (no per-key salt is kept).
package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/webextract/service/internal/apierr"
	"github.com/webextract/service/internal/domain"
)

// Store is the persistence boundary apikeys depends on.
type Store interface {
	Create(ctx context.Context, key domain.ApiKey) (domain.ApiKey, error)
	Get(ctx context.Context, id string) (domain.ApiKey, error)
	List(ctx context.Context) ([]domain.ApiKey, error)
	Revoke(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
	FindByHash(ctx context.Context, hash string) (domain.ApiKey, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// Service implements API-key admin CRUD plus authentication.
type Service struct {
	Store       Store
	IDGenerator func() string
	Now         func() time.Time
}

// CreateParams describes a new key's requested shape.
type CreateParams struct {
	Name      string
	Scopes    []domain.Scope
	RateLimit int
}

// Created pairs the stored key row with the plaintext token the client must
// save now — it is never recoverable again.
type Created struct {
	Key          domain.ApiKey
	PlaintextKey string
}

const tokenPrefix = "wx_"

// Create mints a new key: a random 32-byte token hashed at rest, with the
// plaintext returned once.
func (s *Service) Create(ctx context.Context, params CreateParams) (Created, error) {
	plaintext, err := generateToken()
	if err != nil {
		return Created{}, fmt.Errorf("generate api key token: %w", err)
	}

	key := domain.ApiKey{
		ID:        s.newID(),
		KeyHash:   hashToken(plaintext),
		Name:      params.Name,
		Scopes:    params.Scopes,
		RateLimit: params.RateLimit,
		IsActive:  true,
		CreatedAt: s.now(),
	}

	stored, err := s.Store.Create(ctx, key)
	if err != nil {
		return Created{}, fmt.Errorf("create api key: %w", err)
	}
	return Created{Key: stored, PlaintextKey: plaintext}, nil
}

// Get loads a key by id for the admin CRUD surface.
func (s *Service) Get(ctx context.Context, id string) (domain.ApiKey, error) {
	key, err := s.Store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ApiKey{}, apierr.New(apierr.CodeValidationError, "api key not found")
	}
	return key, err
}

// List returns every API key, newest first.
func (s *Service) List(ctx context.Context) ([]domain.ApiKey, error) {
	return s.Store.List(ctx)
}

// Revoke soft-deletes a key. Per spec §3, history (jobs, events) tied to a
// revoked key is never deleted.
func (s *Service) Revoke(ctx context.Context, id string) error {
	return s.Store.Revoke(ctx, id)
}

// SetActive flips a key's is_active flag, the admin-facing complement to
// Revoke — spec §3 names is_active as one of the two fields an ApiKey may
// be updated in place (the other, last_used_at, is Authenticate's
// concern).
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	return s.Store.SetActive(ctx, id, active)
}

// Authenticate resolves a plaintext key presented via X-API-Key into the
// owning ApiKey, rejecting unknown or revoked keys, and records last use.
func (s *Service) Authenticate(ctx context.Context, plaintext string) (domain.ApiKey, error) {
	key, err := s.Store.FindByHash(ctx, hashToken(plaintext))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ApiKey{}, apierr.New(apierr.CodeUnauthorized, "invalid api key")
		}
		return domain.ApiKey{}, err
	}
	if !key.IsActive {
		return domain.ApiKey{}, apierr.New(apierr.CodeUnauthorized, "api key revoked")
	}
	_ = s.Store.TouchLastUsed(ctx, key.ID, s.now())
	return key, nil
}

func (s *Service) newID() string {
	if s.IDGenerator != nil {
		return s.IDGenerator()
	}
	return hashToken(fmt.Sprintf("%d", time.Now().UnixNano()))[:32]
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return tokenPrefix + hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
