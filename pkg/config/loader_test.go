package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/config"
)

type deliveryConfig struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"30s"`
	Events      []string      `env:"EVENTS" envSeparator:","`
}

type requiredConfig struct {
	URL string `env:"HOOKRELAY_TEST_URL,required"`
}

type validatedConfig struct {
	Mode string `env:"MODE" envDefault:"queue"`
}

func (c *validatedConfig) Validate() error {
	if c.Mode != "queue" && c.Mode != "sync" {
		return assert.AnError
	}
	return nil
}

func TestLoad_WithEnvironment(t *testing.T) {
	t.Parallel()

	var cfg deliveryConfig
	err := config.Load(&cfg, config.WithEnvironment(map[string]string{
		"MAX_ATTEMPTS": "5",
		"EVENTS":       "order.created,order.paid",
	}))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"order.created", "order.paid"}, cfg.Events)
}

func TestLoad_Prefix(t *testing.T) {
	t.Parallel()

	var cfg deliveryConfig
	err := config.Load(&cfg,
		config.WithPrefix("BILLING_"),
		config.WithEnvironment(map[string]string{"BILLING_MAX_ATTEMPTS": "7", "MAX_ATTEMPTS": "1"}),
	)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxAttempts)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	var nilCfg *deliveryConfig
	require.ErrorIs(t, config.Load(nilCfg), config.ErrNilPointer)

	var bad deliveryConfig
	err := config.Load(&bad, config.WithEnvironment(map[string]string{"MAX_ATTEMPTS": "many"}))
	require.ErrorIs(t, err, config.ErrParsingConfig)

	var missing requiredConfig
	err = config.Load(&missing, config.WithEnvironment(map[string]string{}))
	require.ErrorIs(t, err, config.ErrParsingConfig)

	var invalid validatedConfig
	err = config.Load(&invalid, config.WithEnvironment(map[string]string{"MODE": "batch"}))
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, ".env")
	override := filepath.Join(dir, ".env.local")
	require.NoError(t, os.WriteFile(base, []byte("HOOKRELAY_TEST_URL=https://base.example\n"), 0o600))
	require.NoError(t, os.WriteFile(override, []byte("HOOKRELAY_TEST_URL=https://override.example\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("HOOKRELAY_TEST_URL")
		config.Reset()
	})

	require.NoError(t, config.LoadEnv(base, override))

	var cfg requiredConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "https://override.example", cfg.URL)

	t.Setenv("HOOKRELAY_TEST_URL", "https://changed.example")
	var cached requiredConfig
	require.NoError(t, config.Load(&cached))
	assert.Equal(t, "https://override.example", cached.URL, "served from cache")

	config.Reset()
	var fresh requiredConfig
	require.NoError(t, config.Load(&fresh))
	assert.Equal(t, "https://changed.example", fresh.URL)

	require.Error(t, config.LoadEnv(filepath.Join(dir, "missing.env")))
}

func TestMustLoad(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		var cfg deliveryConfig
		config.MustLoad(&cfg, config.WithEnvironment(map[string]string{"TIMEOUT": "soon"}))
	})
}
