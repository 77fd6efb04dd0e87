package extension

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xraph/grove"

	"github.com/xraph/tally"
	"github.com/xraph/tally/plugin"
	"github.com/xraph/tally/store"
)

// Option configures the Tally Forge extension.
type Option func(*Extension)

// WithStore sets the primary store for the engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithSecondaryStore sets the failover store.
func WithSecondaryStore(s store.Store) Option {
	return func(e *Extension) {
		e.secondary = s
	}
}

// WithGroveDB builds the primary store over db. The driver (postgres,
// sqlite or mongo) picks the backend.
func WithGroveDB(db *grove.DB, driver string) Option {
	return func(e *Extension) {
		e.groveDB = db
		e.config.Driver = driver
	}
}

// WithRedis shares subscription and account locks across processes through
// client.
func WithRedis(client redis.UniversalClient) Option {
	return func(e *Extension) {
		e.redis = client
	}
}

// WithEngineOption passes a tally.Option through to the underlying engine.
func WithEngineOption(opt tally.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a tally plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, tally.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithRetryBudget sets the primary attempts and first backoff interval.
func WithRetryBudget(attempts int, baseDelay time.Duration) Option {
	return func(e *Extension) {
		e.config.RetryBudget = attempts
		e.config.RetryBaseDelay = baseDelay
	}
}

// WithUsageBatchSize sets the number of usage events to buffer before flushing.
func WithUsageBatchSize(size int) Option {
	return func(e *Extension) { e.config.UsageBatchSize = size }
}

// WithUsageFlushInterval sets how frequently the usage buffer is flushed.
func WithUsageFlushInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.UsageFlushInterval = d }
}
