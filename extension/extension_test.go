package extension

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/store/memory"
)

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{Currency: "eur", RetryBudget: 5}
	prog := Config{
		Currency:       "usd",
		DisableMigrate: true,
		RetryBaseDelay: 10 * time.Millisecond,
		AuditKey:       "k",
	}

	got := mergeConfigurations(yaml, prog)
	assert.Equal(t, "eur", got.Currency)
	assert.Equal(t, 5, got.RetryBudget)
	assert.Equal(t, 10*time.Millisecond, got.RetryBaseDelay)
	assert.True(t, got.DisableMigrate)
	assert.Equal(t, "k", got.AuditKey)
	assert.Equal(t, DriverMemory, got.Driver)
	assert.Equal(t, 100, got.UsageBatchSize)
	assert.Equal(t, 30*time.Second, got.LockTTL)
}

func TestMergeWithDefaults(t *testing.T) {
	assert.Equal(t, DefaultConfig(), mergeWithDefaults(Config{}))
}

func TestResolveStore(t *testing.T) {
	mem := memory.New()
	e := New(WithStore(mem))
	s, err := e.resolveStore()
	require.NoError(t, err)
	assert.Same(t, mem, s)

	e = New()
	s, err = e.resolveStore()
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)
}

func TestBuildEngineOpts(t *testing.T) {
	e := New(WithSecondaryStore(memory.New()), WithEngineOption(nil))
	e.config = mergeWithDefaults(Config{AuditKey: "k"})
	opts, err := e.buildEngineOpts()
	require.NoError(t, err)
	// Five config options, the audit key, the secondary and the pass-through.
	assert.Len(t, opts, 8)

	e.config.StripeSecretKey = "not-a-key"
	_, err = e.buildEngineOpts()
	assert.Error(t, err)
}
