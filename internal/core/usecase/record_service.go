package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantdb/internal/core/ports"
)

// RecordService stores JSON documents in the tenant bound to the operation.
type RecordService struct {
	tenants ports.TenantScope
}

func NewRecordService(tenants ports.TenantScope) *RecordService {
	return &RecordService{tenants: tenants}
}

func (s *RecordService) withTenant(ctx context.Context, fn func(ports.TenantSession) error) error {
	op := domain.OperationFrom(ctx)
	if !op.Resolved() {
		return domain.ErrUnknownTenant
	}
	return s.tenants.WithTenant(ctx, op.TenantID, fn)
}

// Put creates or replaces a record and reports whether it was created.
func (s *RecordService) Put(ctx context.Context, collection, id string, data json.RawMessage) (*domain.Record, bool, error) {
	var (
		out     *domain.Record
		created bool
	)
	err := s.withTenant(ctx, func(ts ports.TenantSession) error {
		now := domain.OperationFrom(ctx).Now()
		rec, err := ts.Records().Get(ctx, collection, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			rec, err = domain.NewRecord(collection, id, data)
			if err != nil {
				return err
			}
			rec.RecordChanged(domain.EventRecordCreated, ts.TenantID(), now)
			created = true
			err = ts.Add(rec)
		case err != nil:
			return err
		default:
			if err := rec.Replace(data); err != nil {
				return err
			}
			rec.RecordChanged(domain.EventRecordUpdated, ts.TenantID(), now)
			err = ts.Update(rec)
		}
		if err != nil {
			return err
		}
		if err := ts.Commit(ctx); err != nil {
			return err
		}
		out = rec
		// a concurrent writer may have inserted the key first
		created = created && !rec.Downgraded()
		return nil
	})
	return out, created, err
}

func (s *RecordService) Get(ctx context.Context, collection, id string) (*domain.Record, error) {
	var out *domain.Record
	err := s.withTenant(ctx, func(ts ports.TenantSession) error {
		var err error
		out, err = ts.Records().Get(ctx, collection, id)
		return err
	})
	return out, err
}

func (s *RecordService) List(ctx context.Context, filter domain.RecordFilter) ([]*domain.Record, error) {
	var out []*domain.Record
	err := s.withTenant(ctx, func(ts ports.TenantSession) error {
		var err error
		out, err = ts.Records().List(ctx, filter)
		return err
	})
	return out, err
}

func (s *RecordService) Delete(ctx context.Context, collection, id string) error {
	return s.withTenant(ctx, func(ts ports.TenantSession) error {
		rec, err := ts.Records().Get(ctx, collection, id)
		if err != nil {
			return err
		}
		rec.RecordChanged(domain.EventRecordDeleted, ts.TenantID(), domain.OperationFrom(ctx).Now())
		if err := ts.Remove(rec); err != nil {
			return err
		}
		return ts.Commit(ctx)
	})
}
