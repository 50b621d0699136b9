package domain

import "time"

// APIKey authenticates admin and service callers. Only the sha256 hash of
// the token is stored.
type APIKey struct {
	TokenHash string    `gorm:"column:token_hash;primaryKey"`
	TenantID  string    `gorm:"column:tenant_id"`
	Name      string    `gorm:"column:name"`
	Active    bool      `gorm:"column:active"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (APIKey) TableName() string { return "api_keys" }
