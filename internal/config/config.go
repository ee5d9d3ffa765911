// Package config defines the standalone binary's bootstrap
// configuration. Config is loaded from a YAML file with selected
// fields overridable via PERPMATCH_* environment variables, grounded
// in the same viper-driven pattern the market-maker example uses for
// its own config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for cmd/server. It replaces
// the original canister's one-time constructor argument (init(market_details))
// with a config-file-driven bootstrap: there is no installer/admin
// principal model in a standalone binary, so the first config load is
// effectively the admin.
type Config struct {
	Listen  ListenConfig  `mapstructure:"listen"`
	Market  MarketConfig  `mapstructure:"market"`
	State   StateConfig   `mapstructure:"state"`
	Vault   VaultConfig   `mapstructure:"vault"`
	Oracle  OracleConfig  `mapstructure:"oracle"`
	Funding FundingConfig `mapstructure:"funding"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ListenConfig is the wire server's TCP bind address.
type ListenConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

// MarketConfig is the traded pair's immutable description, passed to
// market.Init.
type MarketConfig struct {
	BaseAsset   string `mapstructure:"base_asset"`
	QuoteAsset  string `mapstructure:"quote_asset"`
	TickSpacing uint64 `mapstructure:"tick_spacing"`
}

// StateConfig is the admin-tunable market-wide parameter set, also
// passed to market.Init as the initial StateDetails.
type StateConfig struct {
	NotPaused      bool   `mapstructure:"not_paused"`
	MaxLeverageX10 uint64 `mapstructure:"max_leverage_x10"`
	MinCollateral  uint64 `mapstructure:"min_collateral"`
}

// VaultConfig and OracleConfig are the dial targets for the external
// collaborators implemented by internal/marketadapter.
type VaultConfig struct {
	Address string `mapstructure:"address"`
}

type OracleConfig struct {
	Address string `mapstructure:"address"`
}

// FundingConfig tunes the periodic settlement cycle.
// MaintenanceMarginBp is loaded (default 500) but nothing reads it; a
// liquidation uses the margin carried in the liquidate request itself.
type FundingConfig struct {
	SettlementPeriod    time.Duration `mapstructure:"settlement_period"`
	MaintenanceMarginBp uint64        `mapstructure:"maintenance_margin_bp"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// MetricsConfig controls the /metrics HTTP endpoint cmd/server serves
// alongside the wire listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Load reads config from a YAML file at path, with PERPMATCH_*
// environment variables overriding any key (e.g. PERPMATCH_VAULT_ADDRESS
// for vault.address).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PERPMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen.address", "0.0.0.0")
	v.SetDefault("listen.port", 9001)
	v.SetDefault("market.tick_spacing", 1)
	v.SetDefault("state.not_paused", true)
	v.SetDefault("state.max_leverage_x10", 100)
	v.SetDefault("funding.settlement_period", time.Hour)
	v.SetDefault("funding.maintenance_margin_bp", 500)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", "0.0.0.0:2112")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields a market cannot safely start without.
func (c *Config) Validate() error {
	if c.Market.BaseAsset == "" || c.Market.QuoteAsset == "" {
		return fmt.Errorf("market.base_asset and market.quote_asset are required")
	}
	if c.Vault.Address == "" {
		return fmt.Errorf("vault.address is required")
	}
	if c.Oracle.Address == "" {
		return fmt.Errorf("oracle.address is required")
	}
	if c.State.MaxLeverageX10 == 0 {
		return fmt.Errorf("state.max_leverage_x10 must be > 0")
	}
	return nil
}
