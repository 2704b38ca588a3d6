package clientconfig_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"storefront/internal/clientconfig"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CARTCTL_BASE_URL", "")
	t.Setenv("CARTCTL_STORE", "")

	cfg, err := clientconfig.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, 400*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 3, cfg.Retries)
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://shop.example.com/
timeout: 2s
debounce: 300ms
retries: 5
currency_symbol: "¥"
`), 0o600))

	t.Setenv("CARTCTL_BASE_URL", "")
	t.Setenv("CARTCTL_STORE", "/tmp/x.db")

	cfg, err := clientconfig.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com", cfg.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, 300*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 5, cfg.Retries)
	assert.Equal(t, "¥", cfg.CurrencySym)
	assert.Equal(t, "/tmp/x.db", cfg.StorePath)

	t.Setenv("CARTCTL_BASE_URL", "http://127.0.0.1:9000")
	cfg, err = clientconfig.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000", cfg.BaseURL)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("CARTCTL_BASE_URL", "")
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, os.WriteFile(path, []byte("timeout: [\n"), 0o600))
	_, err := clientconfig.Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("timeout: 0s\n"), 0o600))
	_, err = clientconfig.Load(path)
	assert.Error(t, err)
}
