// Package config loads service settings from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/divest/share-engine/internal/currency"
	"github.com/divest/share-engine/internal/portfolio"
)

// EnvConfigPath names the variable consulted when no -config flag is given.
const EnvConfigPath = "DIVEST_CONFIG"

type Config struct {
	Port            string
	DatabaseURL     string
	RedisURL        string
	CacheTTL        time.Duration
	WALDir          string
	CatalogFile     string
	LogLevel        string
	StartingBalance decimal.Decimal
	Currency        string
	Valuation       Valuation
	Limits          Limits
}

type Valuation struct {
	Model      string
	GrowthRate decimal.Decimal
}

// Limits holds the holding caps for limited assets; zero disables a cap.
type Limits struct {
	MaxSharesPerLimitedAsset int64
	MaxSharesPerLocation     int64
}

// configTmp mirrors the YAML file. Decimals are strings so that no value
// passes through float64.
type configTmp struct {
	Port            string        `yaml:"port"`
	DatabaseURL     string        `yaml:"database_url"`
	RedisURL        string        `yaml:"redis_url"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	WALDir          string        `yaml:"wal_dir"`
	CatalogFile     string        `yaml:"catalog_file"`
	LogLevel        string        `yaml:"log_level"`
	StartingBalance string        `yaml:"starting_balance"`
	Currency        string        `yaml:"currency"`
	Valuation       struct {
		Model      string `yaml:"model"`
		GrowthRate string `yaml:"growth_rate"`
	} `yaml:"valuation"`
	Limits struct {
		MaxSharesPerLimitedAsset int64 `yaml:"max_shares_per_limited_asset"`
		MaxSharesPerLocation     int64 `yaml:"max_shares_per_location"`
	} `yaml:"limits"`
}

// Default returns the built-in settings: port 8080, in-memory store, a
// 10,000 INR starting balance and recorded valuation.
func Default() Config {
	return Config{
		Port:            "8080",
		CacheTTL:        30 * time.Second,
		LogLevel:        "info",
		StartingBalance: decimal.NewFromInt(10000),
		Currency:        currency.Default,
		Valuation: Valuation{
			Model:      portfolio.ModelRecorded,
			GrowthRate: decimal.RequireFromString("0.05"),
		},
	}
}

// Load applies the YAML file at path (skipped when empty) and then the
// environment read through getenv (os.Getenv when nil) on top of Default.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	if path == "" {
		path = getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.applyYAML(data); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	cfg.applyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse applies YAML data on top of Default without consulting the environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := cfg.applyYAML(data); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyYAML(data []byte) error {
	var tmp configTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return err
	}

	setString(&c.Port, tmp.Port)
	setString(&c.DatabaseURL, tmp.DatabaseURL)
	setString(&c.RedisURL, tmp.RedisURL)
	setString(&c.WALDir, tmp.WALDir)
	setString(&c.CatalogFile, tmp.CatalogFile)
	setString(&c.LogLevel, tmp.LogLevel)
	setString(&c.Currency, strings.ToUpper(tmp.Currency))
	setString(&c.Valuation.Model, tmp.Valuation.Model)
	if tmp.CacheTTL > 0 {
		c.CacheTTL = tmp.CacheTTL
	}

	if tmp.StartingBalance != "" {
		v, err := decimal.NewFromString(tmp.StartingBalance)
		if err != nil {
			return fmt.Errorf("incorrect 'starting_balance' (must be a decimal): %w", err)
		}
		c.StartingBalance = v
	}
	if tmp.Valuation.GrowthRate != "" {
		v, err := decimal.NewFromString(tmp.Valuation.GrowthRate)
		if err != nil {
			return fmt.Errorf("incorrect 'valuation.growth_rate' (must be a decimal): %w", err)
		}
		c.Valuation.GrowthRate = v
	}
	c.Limits.MaxSharesPerLimitedAsset = tmp.Limits.MaxSharesPerLimitedAsset
	c.Limits.MaxSharesPerLocation = tmp.Limits.MaxSharesPerLocation
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	setString(&c.Port, getenv("PORT"))
	setString(&c.DatabaseURL, getenv("DATABASE_URL"))
	setString(&c.RedisURL, getenv("REDIS_URL"))
	setString(&c.WALDir, getenv("WAL_DIR"))
	setString(&c.CatalogFile, getenv("CATALOG_FILE"))
	setString(&c.LogLevel, getenv("LOG_LEVEL"))
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch {
	case c.Port == "":
		return fmt.Errorf("port is required")
	case c.StartingBalance.IsNegative():
		return fmt.Errorf("starting_balance must not be negative, got %s", c.StartingBalance)
	case c.Valuation.GrowthRate.IsNegative():
		return fmt.Errorf("valuation.growth_rate must not be negative, got %s", c.Valuation.GrowthRate)
	case c.Limits.MaxSharesPerLimitedAsset < 0 || c.Limits.MaxSharesPerLocation < 0:
		return fmt.Errorf("limits must not be negative")
	case !currency.Known(c.Currency):
		return fmt.Errorf("unknown currency %q", c.Currency)
	}
	if _, err := portfolio.NewValuer(c.Valuation.Model, c.Valuation.GrowthRate, nil); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
