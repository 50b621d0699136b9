package domain

import (
	"context"
	"time"
)

const (
	PrincipalAnonymous = "anonymous"
	PrincipalSystem    = "system"
)

// Clock is the time source used for audit stamps and expiry checks.
// Implementations must return UTC.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock { return systemClock{} }

// FixedClock always returns the same instant. Used by jobs that need a
// single reference time and by tests.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c).UTC() }

// OperationContext identifies who is doing what on behalf of which tenant.
// It lives for one request or job and is never persisted.
type OperationContext struct {
	TenantID  string
	Principal string
	Clock     Clock
	RequestID string
	Source    string
}

func (o OperationContext) normalize() OperationContext {
	if o.Principal == "" {
		o.Principal = PrincipalSystem
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	return o
}

// Now returns the operation clock reading in UTC.
func (o OperationContext) Now() time.Time {
	return o.normalize().Clock.Now().UTC()
}

// Resolved reports whether a tenant is bound to the operation.
func (o OperationContext) Resolved() bool {
	return o.TenantID != ""
}

type operationKey struct{}

func WithOperation(ctx context.Context, op OperationContext) context.Context {
	return context.WithValue(ctx, operationKey{}, op.normalize())
}

// OperationFrom returns the operation bound to ctx. Without one the caller is
// treated as the system principal on the wall clock.
func OperationFrom(ctx context.Context) OperationContext {
	if ctx != nil {
		if op, ok := ctx.Value(operationKey{}).(OperationContext); ok {
			return op
		}
	}
	return OperationContext{}.normalize()
}

// WithTenantID rebinds the operation on ctx to tenantID, keeping the rest.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	op := OperationFrom(ctx)
	op.TenantID = tenantID
	return WithOperation(ctx, op)
}
