package domain

import (
	"strings"
	"time"
)

const (
	EventPasswordResetRequested = "password_reset.requested"
	EventPasswordChanged        = "user.password_changed"
	EventUserCreated            = "user.created"
)

// ResetToken holds an outstanding password reset token.
type ResetToken struct {
	PasswordResetToken     string     `gorm:"column:password_reset_token" json:"-"`
	PasswordResetExpiresAt *time.Time `gorm:"column:password_reset_expires_at" json:"-"`
}

func (r *ResetToken) setToken(token string, expiresAt time.Time) {
	exp := expiresAt.UTC()
	r.PasswordResetToken = token
	r.PasswordResetExpiresAt = &exp
}

func (r *ResetToken) ClearResetToken() {
	r.PasswordResetToken = ""
	r.PasswordResetExpiresAt = nil
}

// ResetExpiry returns the token expiry or zero when no token is pending.
func (r *ResetToken) ResetExpiry() time.Time {
	if r.PasswordResetExpiresAt == nil {
		return time.Time{}
	}
	return *r.PasswordResetExpiresAt
}

// MasterUser is a cross-tenant identity held in the master store.
type MasterUser struct {
	ID           string `gorm:"column:id;primaryKey" json:"id"`
	Username     string `gorm:"column:username" json:"username"`
	Email        string `gorm:"column:email" json:"email"`
	PasswordHash string `gorm:"column:password_hash" json:"-"`
	Active       bool   `gorm:"column:active" json:"active"`
	TenantID     string `gorm:"column:tenant_id" json:"tenant_id,omitempty"`
	ResetToken
	Audit
	EventQueue `gorm:"-" json:"-"`
}

func (*MasterUser) TableName() string  { return "master_users" }
func (u *MasterUser) EntityID() string { return u.ID }

func NewMasterUser(id, username, email, passwordHash, tenantID string, at time.Time) (*MasterUser, error) {
	u := &MasterUser{
		ID:           id,
		Username:     strings.TrimSpace(username),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		Active:       true,
		TenantID:     tenantID,
	}
	if u.Username == "" || u.Email == "" {
		return nil, Validationf("username and email are required")
	}
	u.raise(EventUserCreated, at, map[string]string{"username": u.Username})
	return u, nil
}

func (u *MasterUser) IssueResetToken(token string, expiresAt, at time.Time) {
	u.setToken(token, expiresAt)
	u.raise(EventPasswordResetRequested, at, map[string]string{"store": "master"})
}

func (u *MasterUser) ChangePassword(hash string, at time.Time) {
	u.PasswordHash = hash
	u.ClearResetToken()
	u.raise(EventPasswordChanged, at, nil)
}

func (u *MasterUser) raise(eventType string, at time.Time, payload any) {
	e := NewEvent(eventType, "master_user", u.ID, at, payload)
	e.TenantID = u.TenantID
	u.Raise(e)
}

type TenantUserStatus string

const (
	TenantUserActive   TenantUserStatus = "active"
	TenantUserInactive TenantUserStatus = "inactive"
)

// TenantUser is the per-tenant projection of a master user.
type TenantUser struct {
	ID           string           `gorm:"column:id;primaryKey" json:"id"`
	MasterUserID string           `gorm:"column:master_user_id" json:"master_user_id"`
	Username     string           `gorm:"column:username" json:"username"`
	Email        string           `gorm:"column:email" json:"email"`
	Status       TenantUserStatus `gorm:"column:status" json:"status"`
	ResetToken
	Audit
	EventQueue `gorm:"-" json:"-"`
}

func (*TenantUser) TableName() string  { return "tenant_users" }
func (u *TenantUser) EntityID() string { return u.ID }

func NewTenantUser(id, masterUserID, username, email string) *TenantUser {
	return &TenantUser{
		ID:           id,
		MasterUserID: masterUserID,
		Username:     strings.TrimSpace(username),
		Email:        NormalizeEmail(email),
		Status:       TenantUserActive,
	}
}

func (u *TenantUser) IssueResetToken(tenantID, token string, expiresAt, at time.Time) {
	u.setToken(token, expiresAt)
	e := NewEvent(EventPasswordResetRequested, "tenant_user", u.ID, at, map[string]string{"store": "tenant"})
	e.TenantID = tenantID
	u.Raise(e)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
