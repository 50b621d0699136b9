package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/golang-jwt/jwt/v5"
)

// JWTIssuer signs and verifies HS256 bearer tokens that carry the tenant the
// caller is bound to.
type JWTIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

var _ ports.TokenVerifier = (*JWTIssuer)(nil)

// NewJWTIssuer needs a secret of at least 32 bytes.
func NewJWTIssuer(secret, issuer string, ttl time.Duration) (*JWTIssuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &JWTIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

type tenantClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid,omitempty"`
}

// Issue signs a token for subject. An empty tenantID yields a token that is
// not bound to any tenant.
func (m *JWTIssuer) Issue(subject, tenantID string) (string, error) {
	now := m.now()
	claims := tenantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		TenantID: tenantID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify rejects anything but an unexpired HS256 token from this issuer.
func (m *JWTIssuer) Verify(token string) (ports.Claims, error) {
	if token == "" {
		return ports.Claims{}, domain.ErrUnauthorized
	}
	var claims tenantClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return ports.Claims{}, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	return ports.Claims{Subject: claims.Subject, TenantID: claims.TenantID}, nil
}
