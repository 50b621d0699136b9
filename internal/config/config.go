package config

import (
	"path/filepath"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Tenancy TenancyConfig `yaml:"tenancy"`
	Backups BackupConfig  `yaml:"backups"`
	Events  EventsConfig  `yaml:"events"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"                env:"TENANTDB_ADDR"                env-default:":8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"TENANTDB_READ_HEADER_TIMEOUT" env-default:"5s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"    env:"TENANTDB_SHUTDOWN_TIMEOUT"    env-default:"10s"`
}

// StorageConfig locates the master store and the tenant stores. Relative
// tenant and backup directories are resolved against DataDir.
type StorageConfig struct {
	DataDir       string        `yaml:"data_dir"       env:"TENANTDB_DATA_DIR"       env-default:"./data"`
	MasterFile    string        `yaml:"master_file"    env:"TENANTDB_MASTER_FILE"    env-default:"master.db"`
	TenantDir     string        `yaml:"tenant_dir"     env:"TENANTDB_TENANT_DIR"     env-default:"tenants"`
	BackupDir     string        `yaml:"backup_dir"     env:"TENANTDB_BACKUP_DIR"     env-default:"backups"`
	SlowThreshold time.Duration `yaml:"slow_threshold" env:"TENANTDB_SLOW_THRESHOLD" env-default:"500ms"`
}

func (s StorageConfig) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.DataDir, p)
}

func (s StorageConfig) MasterPath() string { return s.resolve(s.MasterFile) }
func (s StorageConfig) TenantPath() string { return s.resolve(s.TenantDir) }
func (s StorageConfig) BackupPath() string { return s.resolve(s.BackupDir) }

type AuthConfig struct {
	BootstrapAPIKey  string `yaml:"bootstrap_api_key"  env:"TENANTDB_BOOTSTRAP_API_KEY"`
	BootstrapKeyName string `yaml:"bootstrap_key_name" env:"TENANTDB_BOOTSTRAP_KEY_NAME" env-default:"operator"`
	// JWTSecret enables signed bearer tokens when set.
	JWTSecret string        `yaml:"jwt_secret" env:"TENANTDB_JWT_SECRET"`
	JWTIssuer string        `yaml:"jwt_issuer" env:"TENANTDB_JWT_ISSUER" env-default:"tenantdb"`
	JWTTTL    time.Duration `yaml:"jwt_ttl"    env:"TENANTDB_JWT_TTL"    env-default:"15m"`
}

type TenancyConfig struct {
	BaseDomain        string        `yaml:"base_domain"        env:"TENANTDB_BASE_DOMAIN"        env-default:"tenants.local"`
	SearchConcurrency int           `yaml:"search_concurrency" env:"TENANTDB_SEARCH_CONCURRENCY" env-default:"1"`
	ResetTokenTTL     time.Duration `yaml:"reset_token_ttl"    env:"TENANTDB_RESET_TOKEN_TTL"    env-default:"1h"`
	BcryptCost        int           `yaml:"bcrypt_cost"        env:"TENANTDB_BCRYPT_COST"        env-default:"10"`
}

type BackupConfig struct {
	Retention      time.Duration `yaml:"retention"       env:"TENANTDB_BACKUP_RETENTION"       env-default:"720h"`
	ExpiryInterval time.Duration `yaml:"expiry_interval" env:"TENANTDB_BACKUP_EXPIRY_INTERVAL" env-default:"1h"`
}

type EventsConfig struct {
	Source         string        `yaml:"source"          env:"TENANTDB_EVENT_SOURCE"    env-default:"tenantdb"`
	WebhookURL     string        `yaml:"webhook_url"     env:"TENANTDB_WEBHOOK_URL"`
	WebhookSecret  string        `yaml:"webhook_secret"  env:"TENANTDB_WEBHOOK_SECRET"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout" env:"TENANTDB_WEBHOOK_TIMEOUT" env-default:"10s"`
	OutboxInterval time.Duration `yaml:"outbox_interval" env:"TENANTDB_OUTBOX_INTERVAL" env-default:"2s"`
	OutboxBatch    int           `yaml:"outbox_batch"    env:"TENANTDB_OUTBOX_BATCH"    env-default:"100"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"TENANTDB_LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"TENANTDB_LOG_FORMAT" env-default:"json"`
}
