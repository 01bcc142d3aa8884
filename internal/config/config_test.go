package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", env(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INR", cfg.Currency)
	assert.Equal(t, "10000", cfg.StartingBalance.String())
	assert.Equal(t, "recorded", cfg.Valuation.Model)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "divest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
wal_dir: /var/lib/divest/wal
cache_ttl: 1m
starting_balance: "250000.50"
currency: inr
valuation:
  model: flat
  growth_rate: "0.05"
limits:
  max_shares_per_limited_asset: 10
  max_shares_per_location: 25
`), 0o600))

	cfg, err := Load(path, env(map[string]string{
		"PORT":         "9100",
		"DATABASE_URL": "postgres://localhost/divest",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "postgres://localhost/divest", cfg.DatabaseURL)
	assert.Equal(t, "/var/lib/divest/wal", cfg.WALDir)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, "250000.5", cfg.StartingBalance.String())
	assert.Equal(t, "INR", cfg.Currency)
	assert.Equal(t, "flat", cfg.Valuation.Model)
	assert.Equal(t, "0.05", cfg.Valuation.GrowthRate.String())
	assert.Equal(t, int64(10), cfg.Limits.MaxSharesPerLimitedAsset)
	assert.Equal(t, int64(25), cfg.Limits.MaxSharesPerLocation)
}

func TestLoad_PathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "divest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7000\"\n"), 0o600))

	cfg, err := Load("", env(map[string]string{EnvConfigPath: path}))
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), env(nil))
	assert.Error(t, err)
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"bad balance":      `starting_balance: "ten"`,
		"negative balance": `starting_balance: "-1"`,
		"bad rate":         "valuation:\n  growth_rate: lots",
		"unknown model":    "valuation:\n  model: dcf",
		"unknown currency": "currency: ZZZ",
		"negative limit":   "limits:\n  max_shares_per_limited_asset: -1",
		"malformed":        "port: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
