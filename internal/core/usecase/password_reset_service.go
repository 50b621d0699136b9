package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input beyond 72 bytes
	maxPasswordLength = 72
)

type resetMatch struct {
	UserID string
	Email  string
}

type PasswordResetConfig struct {
	TokenTTL   time.Duration
	BcryptCost int
}

// PasswordResetService issues reset tokens and redeems them. Redemption does
// not know which tenant issued the token and searches for it.
type PasswordResetService struct {
	registry ports.TenantRegistry
	master   ports.MasterScope
	tenants  ports.TenantScope
	search   *TenantSearch[resetMatch]
	cfg      PasswordResetConfig
	log      zerolog.Logger
}

func NewPasswordResetService(registry ports.TenantRegistry, master ports.MasterScope, tenants ports.TenantScope, cfg PasswordResetConfig, search SearchOptions) *PasswordResetService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &PasswordResetService{
		registry: registry,
		master:   master,
		tenants:  tenants,
		search:   NewTenantSearch[resetMatch](registry, master, tenants, search),
		cfg:      cfg,
		log:      search.Log.With().Str("component", "password_reset").Logger(),
	}
}

// RequestReset stores a fresh token on the user identified by email, in the
// tenant named by tenantCode or in the master store when the code is empty.
// The plaintext token is returned for delivery.
func (s *PasswordResetService) RequestReset(ctx context.Context, email, tenantCode string) (string, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return "", domain.Validationf("email is required")
	}
	token, err := randomToken(32)
	if err != nil {
		return "", err
	}
	now := domain.OperationFrom(ctx).Now()
	expiresAt := now.Add(s.cfg.TokenTTL)

	if strings.TrimSpace(tenantCode) == "" {
		err = s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
			u, err := ms.Users().FindByEmail(ctx, email)
			if err != nil {
				return err
			}
			u.IssueResetToken(token, expiresAt, now)
			if err := ms.Update(u); err != nil {
				return err
			}
			return ms.Commit(ctx)
		})
		if err != nil {
			return "", err
		}
		return token, nil
	}

	t, err := s.registry.ResolveCode(ctx, tenantCode)
	if err != nil {
		return "", err
	}
	err = s.tenants.WithTenant(ctx, t.ID, func(ts ports.TenantSession) error {
		u, err := ts.Users().FindByEmail(ctx, email)
		if err != nil {
			return err
		}
		u.IssueResetToken(t.ID, token, expiresAt, now)
		if err := ts.Update(u); err != nil {
			return err
		}
		return ts.Commit(ctx)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// ResetPassword redeems token and sets the master user's password. The
// token is cleared in whichever store held it.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLength || len(newPassword) > maxPasswordLength {
		return domain.Validationf("password must be %d to %d characters", minPasswordLength, maxPasswordLength)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.ErrNotFound
	}

	hit, err := s.search.Find(ctx, token, probeMasterResetToken, probeTenantResetToken)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if hit.Master {
		return s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
			u, err := ms.Users().Get(ctx, hit.Value.UserID)
			if err != nil {
				return err
			}
			u.ChangePassword(string(hash), domain.OperationFrom(ctx).Now())
			if err := ms.Update(u); err != nil {
				return err
			}
			return ms.Commit(ctx)
		})
	}

	// tenant and master stores commit separately
	var masterUserID string
	err = s.tenants.WithTenant(ctx, hit.TenantID, func(ts ports.TenantSession) error {
		u, err := ts.Users().FindByResetToken(ctx, KeyVariants(token))
		if err != nil {
			return err
		}
		masterUserID = u.MasterUserID
		u.ClearResetToken()
		if err := ts.Update(u); err != nil {
			return err
		}
		return ts.Commit(ctx)
	})
	if err != nil {
		return fmt.Errorf("clear tenant reset token: %w", err)
	}

	return s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
		u, err := ms.Users().Get(ctx, masterUserID)
		if err != nil {
			return fmt.Errorf("load master user for tenant %s: %w", hit.TenantID, err)
		}
		// emails are not unique across tenants; only the linked identity counts
		if u.TenantID != hit.TenantID {
			return fmt.Errorf("%w: master user %s is not bound to tenant %s", domain.ErrNotFound, u.ID, hit.TenantID)
		}
		u.ChangePassword(string(hash), domain.OperationFrom(ctx).Now())
		if err := ms.Update(u); err != nil {
			return err
		}
		if err := ms.Commit(ctx); err != nil {
			return err
		}
		s.log.Info().Str("tenant_id", hit.TenantID).Str("user_id", u.ID).Msg("password reset")
		return nil
	})
}

// VerifyPassword checks username/password against the master store.
func (s *PasswordResetService) VerifyPassword(ctx context.Context, username, password string) (*domain.MasterUser, error) {
	var user *domain.MasterUser
	err := s.master.WithMaster(ctx, func(ms ports.MasterSession) error {
		u, err := ms.Users().FindByUsername(ctx, username)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !user.Active || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, domain.ErrUnauthorized
	}
	return user, nil
}

func probeMasterResetToken(ctx context.Context, ms ports.MasterSession, variants []string) (resetMatch, ProbeResult, error) {
	u, err := ms.Users().FindByResetToken(ctx, variants)
	if errors.Is(err, domain.ErrNotFound) {
		return resetMatch{}, ProbeResult{}, nil
	}
	if err != nil {
		return resetMatch{}, ProbeResult{}, err
	}
	return resetMatch{UserID: u.ID, Email: u.Email}, ProbeResult{Found: true, ExpiresAt: u.ResetExpiry()}, nil
}

func probeTenantResetToken(ctx context.Context, ts ports.TenantSession, variants []string) (resetMatch, ProbeResult, error) {
	u, err := ts.Users().FindByResetToken(ctx, variants)
	if errors.Is(err, domain.ErrNotFound) {
		return resetMatch{}, ProbeResult{}, nil
	}
	if err != nil {
		return resetMatch{}, ProbeResult{}, err
	}
	return resetMatch{UserID: u.ID, Email: u.Email}, ProbeResult{Found: true, ExpiresAt: u.ResetExpiry()}, nil
}
