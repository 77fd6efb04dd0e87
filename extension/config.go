package extension

import "time"

// Store drivers accepted in Config.Driver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config holds the Tally extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.tally" or "tally" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// Driver selects the store built over the grove.DB passed with
	// WithGroveDB: postgres, sqlite or mongo. Ignored when a store is set
	// directly (default: memory).
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// Currency is the reporting and default plan currency (default: "usd").
	Currency string `json:"currency" mapstructure:"currency" yaml:"currency"`

	// RetryBudget is the number of primary store attempts before failing
	// over to the secondary (default: 3).
	RetryBudget int `json:"retry_budget" mapstructure:"retry_budget" yaml:"retry_budget"`

	// RetryBaseDelay is the first backoff interval between primary attempts
	// (default: 50ms).
	RetryBaseDelay time.Duration `json:"retry_base_delay" mapstructure:"retry_base_delay" yaml:"retry_base_delay"`

	// FallbackOverageRate is the per-unit overage price, in minor units, for
	// resources without a plan rate (default: 1).
	FallbackOverageRate int64 `json:"fallback_overage_rate" mapstructure:"fallback_overage_rate" yaml:"fallback_overage_rate"`

	// AuditKey switches audit hashes to HMAC-SHA256 when set.
	AuditKey string `json:"audit_key" mapstructure:"audit_key" yaml:"audit_key"`

	// LockTTL bounds how long a crashed holder keeps a Redis lock
	// (default: 30s). Only used with WithRedis.
	LockTTL time.Duration `json:"lock_ttl" mapstructure:"lock_ttl" yaml:"lock_ttl"`

	// UsageBatchSize is the number of buffered usage events written per
	// batch (default: 100).
	UsageBatchSize int `json:"usage_batch_size" mapstructure:"usage_batch_size" yaml:"usage_batch_size"`

	// UsageFlushInterval is how frequently the usage buffer is flushed even
	// if the batch size has not been reached (default: 5s).
	UsageFlushInterval time.Duration `json:"usage_flush_interval" mapstructure:"usage_flush_interval" yaml:"usage_flush_interval"`

	// StripeSecretKey enables the Stripe payment adapter.
	StripeSecretKey string `json:"stripe_secret_key" mapstructure:"stripe_secret_key" yaml:"stripe_secret_key"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver:              DriverMemory,
		Currency:            "usd",
		RetryBudget:         3,
		RetryBaseDelay:      50 * time.Millisecond,
		FallbackOverageRate: 1,
		LockTTL:             30 * time.Second,
		UsageBatchSize:      100,
		UsageFlushInterval:  5 * time.Second,
	}
}
