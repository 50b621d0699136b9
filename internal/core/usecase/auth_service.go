package usecase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
)

var ErrUnauthorized = domain.ErrUnauthorized

type AuthService struct {
	repo ports.APIKeyRepository
}

func NewAuthService(repo ports.APIKeyRepository) *AuthService {
	return &AuthService{repo: repo}
}

func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.APIKey, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.APIKey{}, ErrUnauthorized
	}

	hash := HashToken(token)
	apiKey, err := s.repo.FindByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.APIKey{}, ErrUnauthorized
		}
		return domain.APIKey{}, err
	}
	if !apiKey.Active {
		return domain.APIKey{}, ErrUnauthorized
	}
	return apiKey, nil
}

// Ensure stores token as an active key. Used to bootstrap the admin key.
func (s *AuthService) Ensure(ctx context.Context, token, name, tenantID string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Validationf("api key token is required")
	}
	return s.repo.Upsert(ctx, domain.APIKey{
		TokenHash: HashToken(token),
		TenantID:  tenantID,
		Name:      name,
		Active:    true,
	})
}

// Issue creates a new random key and returns the plaintext token once.
func (s *AuthService) Issue(ctx context.Context, name, tenantID string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", domain.Validationf("api key name is required")
	}
	token, err := randomToken(32)
	if err != nil {
		return "", err
	}
	if err := s.Ensure(ctx, token, name, tenantID); err != nil {
		return "", err
	}
	return token, nil
}

func (s *AuthService) Revoke(ctx context.Context, token string) error {
	key, err := s.repo.FindByTokenHash(ctx, HashToken(token))
	if err != nil {
		return err
	}
	key.Active = false
	return s.repo.Upsert(ctx, key)
}

func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

// randomToken returns n random bytes as URL-safe base64 without padding.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
