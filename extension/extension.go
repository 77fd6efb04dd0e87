// Package extension provides the Forge extension adapter for Tally.
//
// It implements the forge.Extension interface to integrate Tally
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.tally" or "tally" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/tally"
	"github.com/xraph/tally/lock"
	"github.com/xraph/tally/payment/stripe"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/store/mongo"
	"github.com/xraph/tally/store/postgres"
	"github.com/xraph/tally/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "tally"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Metered billing and subscription accounting engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Tally as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *tally.Engine
	store      store.Store
	secondary  store.Store
	groveDB    *grove.DB
	redis      redis.UniversalClient
	engineOpts []tally.Option
}

// New creates a new Tally Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *tally.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	primary, err := e.resolveStore()
	if err != nil {
		return err
	}
	e.store = primary

	opts, err := e.buildEngineOpts()
	if err != nil {
		return err
	}
	e.engine = tally.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*tally.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("tally: extension not initialized")
	}
	if err := e.engine.Start(ctx); err != nil {
		return err
	}
	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension]. A reachable secondary does not make
// up for a failed primary.
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("tally: store not initialized")
	}
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("tally: primary store: %w", err)
	}
	if e.redis != nil {
		if err := e.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("tally: lock backend: %w", err)
		}
	}
	return nil
}

// resolveStore picks the primary store: an explicit store first, then one
// built over the grove.DB, then memory.
func (e *Extension) resolveStore() (store.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	if e.groveDB == nil {
		return memory.New(), nil
	}
	switch e.config.Driver {
	case DriverPostgres:
		return postgres.New(e.groveDB), nil
	case DriverSQLite:
		return sqlite.New(e.groveDB), nil
	case DriverMongo:
		return mongo.New(e.groveDB), nil
	default:
		return nil, fmt.Errorf("tally: unsupported store driver %q", e.config.Driver)
	}
}

// buildEngineOpts constructs tally.Option values from the resolved config.
func (e *Extension) buildEngineOpts() ([]tally.Option, error) {
	opts := make([]tally.Option, 0, len(e.engineOpts)+8)

	opts = append(opts,
		tally.WithAutoMigrate(!e.config.DisableMigrate),
		tally.WithCurrency(e.config.Currency),
		tally.WithRetryBudget(e.config.RetryBudget, e.config.RetryBaseDelay),
		tally.WithFallbackOverageRate(e.config.FallbackOverageRate),
		tally.WithUsageBuffer(e.config.UsageBatchSize, e.config.UsageFlushInterval),
	)
	if e.config.AuditKey != "" {
		opts = append(opts, tally.WithAuditKey([]byte(e.config.AuditKey)))
	}
	if e.secondary != nil {
		opts = append(opts, tally.WithSecondary(e.secondary))
	}
	if e.redis != nil {
		opts = append(opts, tally.WithLocker(lock.NewRedis(e.redis, lock.WithTTL(e.config.LockTTL))))
	}
	if e.config.StripeSecretKey != "" {
		adapter, err := stripe.New(stripe.Config{SecretKey: e.config.StripeSecretKey}, nil)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tally.WithPayments(adapter))
	}

	// Pass-through options win over config.
	opts = append(opts, e.engineOpts...)

	return opts, nil
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("tally: configuration is required but not found in config files; " +
				"ensure 'extensions.tally' or 'tally' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("tally: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("driver", e.config.Driver),
		forge.F("currency", e.config.Currency),
		forge.F("retry_budget", e.config.RetryBudget),
		forge.F("usage_batch_size", e.config.UsageBatchSize),
		forge.F("usage_flush_interval", e.config.UsageFlushInterval),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.tally", "tally"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("tally: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("tally: failed to bind config",
			forge.F("key", key),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Driver == "" {
		cfg.Driver = defaults.Driver
	}
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.RetryBudget == 0 {
		cfg.RetryBudget = defaults.RetryBudget
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if cfg.FallbackOverageRate == 0 {
		cfg.FallbackOverageRate = defaults.FallbackOverageRate
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = defaults.LockTTL
	}
	if cfg.UsageBatchSize == 0 {
		cfg.UsageBatchSize = defaults.UsageBatchSize
	}
	if cfg.UsageFlushInterval == 0 {
		cfg.UsageFlushInterval = defaults.UsageFlushInterval
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.Driver == "" {
		yamlConfig.Driver = programmaticConfig.Driver
	}
	if yamlConfig.Currency == "" {
		yamlConfig.Currency = programmaticConfig.Currency
	}
	if yamlConfig.AuditKey == "" {
		yamlConfig.AuditKey = programmaticConfig.AuditKey
	}
	if yamlConfig.StripeSecretKey == "" {
		yamlConfig.StripeSecretKey = programmaticConfig.StripeSecretKey
	}

	if yamlConfig.RetryBudget == 0 {
		yamlConfig.RetryBudget = programmaticConfig.RetryBudget
	}
	if yamlConfig.RetryBaseDelay == 0 {
		yamlConfig.RetryBaseDelay = programmaticConfig.RetryBaseDelay
	}
	if yamlConfig.FallbackOverageRate == 0 {
		yamlConfig.FallbackOverageRate = programmaticConfig.FallbackOverageRate
	}
	if yamlConfig.LockTTL == 0 {
		yamlConfig.LockTTL = programmaticConfig.LockTTL
	}
	if yamlConfig.UsageBatchSize == 0 {
		yamlConfig.UsageBatchSize = programmaticConfig.UsageBatchSize
	}
	if yamlConfig.UsageFlushInterval == 0 {
		yamlConfig.UsageFlushInterval = programmaticConfig.UsageFlushInterval
	}

	return mergeWithDefaults(yamlConfig)
}
