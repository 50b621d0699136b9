package domain

import (
	"encoding/json"
	"regexp"
	"time"
)

const (
	EventRecordCreated = "record.created"
	EventRecordUpdated = "record.updated"
	EventRecordDeleted = "record.deleted"
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// Record is a tenant-scoped JSON document. The storage key is
// "<collection>/<id>".
type Record struct {
	Key        string          `gorm:"column:id;primaryKey" json:"-"`
	Collection string          `gorm:"column:collection" json:"collection"`
	RecordID   string          `gorm:"column:record_id" json:"id"`
	Data       json.RawMessage `gorm:"column:data" json:"data"`
	Audit
	EventQueue `gorm:"-" json:"-"`

	downgraded bool
}

func (*Record) TableName() string  { return "records" }
func (r *Record) EntityID() string { return r.Key }

func RecordKey(collection, id string) string {
	return collection + "/" + id
}

func ValidateKey(key string) error {
	if key == "" || !keyPattern.MatchString(key) {
		return Validationf("invalid key %q", key)
	}
	return nil
}

func NewRecord(collection, id string, data json.RawMessage) (*Record, error) {
	if err := ValidateKey(collection); err != nil {
		return nil, err
	}
	if err := ValidateKey(id); err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, Validationf("data must be valid json")
	}
	return &Record{
		Key:        RecordKey(collection, id),
		Collection: collection,
		RecordID:   id,
		Data:       data,
	}, nil
}

func (r *Record) Replace(data json.RawMessage) error {
	if !json.Valid(data) {
		return Validationf("data must be valid json")
	}
	r.Data = data
	return nil
}

// RecordChanged raises created/updated/deleted for the record on tenantID.
func (r *Record) RecordChanged(eventType, tenantID string, at time.Time) {
	e := NewEvent(eventType, "record", r.Key, at, map[string]string{"collection": r.Collection, "id": r.RecordID})
	e.TenantID = tenantID
	r.Raise(e)
}

// InsertDowngraded turns a queued create into an update: another writer
// inserted the same key first.
func (r *Record) InsertDowngraded() {
	r.downgraded = true
	r.Retype(EventRecordCreated, EventRecordUpdated)
}

// Downgraded reports whether the last commit of a new record landed on an
// existing row.
func (r *Record) Downgraded() bool { return r.downgraded }

type RecordFilter struct {
	Collection string
	Prefix     string
	AfterID    string
	Limit      int
}

func (f RecordFilter) Validate() error {
	if err := ValidateKey(f.Collection); err != nil {
		return err
	}
	if f.Prefix != "" && !keyPattern.MatchString(f.Prefix) {
		return Validationf("invalid prefix %q", f.Prefix)
	}
	if f.AfterID != "" {
		return ValidateKey(f.AfterID)
	}
	return nil
}
