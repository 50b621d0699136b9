package ports

import (
	"context"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

type APIKeyRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (domain.APIKey, error)
	Upsert(ctx context.Context, key domain.APIKey) error
}

// Claims is what a verified bearer token asserts about its holder.
type Claims struct {
	Subject  string
	TenantID string
}

type TokenVerifier interface {
	Verify(token string) (Claims, error)
}
