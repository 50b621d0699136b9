package domain

import "time"

// Entity is anything a data context can persist. Every table keys on "id".
type Entity interface {
	TableName() string
	EntityID() string
}

type AuditInfo struct {
	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
}

// AuditableRecord is stamped by the write pipeline before commit.
type AuditableRecord interface {
	Entity
	AuditFields() AuditInfo
	StampCreated(at time.Time, by string)
	StampUpdated(at time.Time, by string)
}

// Audit is the embeddable implementation of AuditableRecord's stamps.
type Audit struct {
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
	CreatedBy string    `gorm:"column:created_by" json:"created_by"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
	UpdatedBy string    `gorm:"column:updated_by" json:"updated_by"`
}

func (a *Audit) AuditFields() AuditInfo {
	return AuditInfo{
		CreatedAt: a.CreatedAt,
		CreatedBy: a.CreatedBy,
		UpdatedAt: a.UpdatedAt,
		UpdatedBy: a.UpdatedBy,
	}
}

func (a *Audit) StampCreated(at time.Time, by string) {
	a.CreatedAt = at.UTC()
	a.CreatedBy = by
}

func (a *Audit) StampUpdated(at time.Time, by string) {
	a.UpdatedAt = at.UTC()
	a.UpdatedBy = by
}

// Versioned entities are updated with an optimistic version check.
type Versioned interface {
	Entity
	CurrentVersion() int64
	SetVersion(v int64)
}
