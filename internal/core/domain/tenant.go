package domain

import (
	"regexp"
	"strings"
	"time"
)

type TenantStatus string

const (
	TenantPendingRegistration TenantStatus = "pending_registration"
	TenantActive              TenantStatus = "active"
	TenantSuspended           TenantStatus = "suspended"
)

const (
	EventTenantRegistered  = "tenant.registered"
	EventTenantActivated   = "tenant.activated"
	EventTenantSuspended   = "tenant.suspended"
	EventTenantReactivated = "tenant.reactivated"
	EventDomainBound       = "tenant.domain_bound"
)

var (
	tenantCodePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)
	hostPattern       = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)
)

// Tenant is the registry descriptor. It is never deleted, only deactivated.
type Tenant struct {
	ID             string       `gorm:"column:id;primaryKey"`
	Code           string       `gorm:"column:code"`
	Name           string       `gorm:"column:name"`
	ContactEmail   string       `gorm:"column:contact_email"`
	StorageLocator string       `gorm:"column:storage_locator"`
	Status         TenantStatus `gorm:"column:status"`
	Active         bool         `gorm:"column:active"`
	SuspendReason  string       `gorm:"column:suspend_reason"`
	PaymentRef     string       `gorm:"column:payment_ref"`
	ActivatedAt    *time.Time   `gorm:"column:activated_at"`
	Version        int64        `gorm:"column:version"`
	Audit
	EventQueue `gorm:"-" json:"-"`
}

func (*Tenant) TableName() string { return "tenants" }
func (t *Tenant) EntityID() string { return t.ID }
func (t *Tenant) CurrentVersion() int64 { return t.Version }
func (t *Tenant) SetVersion(v int64) { t.Version = v }

func NormalizeTenantCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func ValidateTenantCode(code string) error {
	if !tenantCodePattern.MatchString(code) {
		return Validationf("tenant code %q must match %s", code, tenantCodePattern.String())
	}
	return nil
}

// NewTenant builds a descriptor in pending_registration. The registration
// event is raised here so it is dispatched with the commit that inserts it.
func NewTenant(id, code, name, email, locator string, at time.Time) (*Tenant, error) {
	code = NormalizeTenantCode(code)
	if err := ValidateTenantCode(code); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, Validationf("tenant name is required")
	}
	t := &Tenant{
		ID:             id,
		Code:           code,
		Name:           strings.TrimSpace(name),
		ContactEmail:   strings.ToLower(strings.TrimSpace(email)),
		StorageLocator: locator,
		Status:         TenantPendingRegistration,
	}
	t.raise(EventTenantRegistered, at, map[string]string{"code": t.Code, "name": t.Name})
	return t, nil
}

// Activate moves the tenant into active. Already active is a no-op and
// reports changed=false.
func (t *Tenant) Activate(at time.Time) (bool, error) {
	switch t.Status {
	case TenantActive:
		return false, nil
	case TenantPendingRegistration:
		t.markActive(at)
		t.raise(EventTenantActivated, at, map[string]string{"code": t.Code})
		return true, nil
	case TenantSuspended:
		t.markActive(at)
		t.raise(EventTenantReactivated, at, map[string]string{"code": t.Code})
		return true, nil
	}
	return false, guard(GuardInvalidTransition, "tenant %s has unknown status %q", t.ID, t.Status)
}

// ConfirmPayment activates a tenant awaiting registration.
func (t *Tenant) ConfirmPayment(reference string, at time.Time) (bool, error) {
	if t.Status == TenantSuspended {
		return false, guard(GuardInvalidTransition, "tenant %s is suspended", t.ID)
	}
	changed, err := t.Activate(at)
	if changed {
		t.PaymentRef = reference
	}
	return changed, err
}

// Reactivate is only valid for a suspended tenant.
func (t *Tenant) Reactivate(at time.Time) (bool, error) {
	if t.Status == TenantPendingRegistration {
		return false, guard(GuardInvalidTransition, "tenant %s has not completed registration", t.ID)
	}
	return t.Activate(at)
}

func (t *Tenant) Suspend(reason string, at time.Time) (bool, error) {
	switch t.Status {
	case TenantSuspended:
		return false, nil
	case TenantActive:
		t.Status = TenantSuspended
		t.Active = false
		t.SuspendReason = reason
		t.raise(EventTenantSuspended, at, map[string]string{"code": t.Code, "reason": reason})
		return true, nil
	}
	return false, guard(GuardInvalidTransition, "cannot suspend tenant %s in status %s", t.ID, t.Status)
}

func (t *Tenant) markActive(at time.Time) {
	now := at.UTC()
	t.Status = TenantActive
	t.Active = true
	t.SuspendReason = ""
	if t.ActivatedAt == nil {
		t.ActivatedAt = &now
	}
}

func (t *Tenant) raise(eventType string, at time.Time, payload any) {
	e := NewEvent(eventType, "tenant", t.ID, at, payload)
	e.TenantID = t.ID
	t.Raise(e)
}

// TenantDomain binds a hostname to a tenant.
type TenantDomain struct {
	ID       string `gorm:"column:id;primaryKey"`
	TenantID string `gorm:"column:tenant_id"`
	Host     string `gorm:"column:host"`
	Primary  bool   `gorm:"column:is_primary"`
	Audit
	EventQueue `gorm:"-" json:"-"`
}

func (*TenantDomain) TableName() string { return "tenant_domains" }
func (d *TenantDomain) EntityID() string { return d.ID }

func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return strings.TrimSuffix(host, ".")
}

func NewTenantDomain(id, tenantID, host string, primary bool, at time.Time) (*TenantDomain, error) {
	host = NormalizeHost(host)
	if len(host) > 253 || !hostPattern.MatchString(host) {
		return nil, Validationf("invalid host %q", host)
	}
	d := &TenantDomain{ID: id, TenantID: tenantID, Host: host, Primary: primary}
	e := NewEvent(EventDomainBound, "tenant_domain", id, at, map[string]any{"host": host, "primary": primary})
	e.TenantID = tenantID
	d.Raise(e)
	return d, nil
}
