package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
listen:
  address: "127.0.0.1"
  port: 9001
market:
  base_asset: "BTC"
  quote_asset: "USD"
  tick_spacing: 1
state:
  not_paused: true
  max_leverage_x10: 100
  min_collateral: 1000
vault:
  address: "127.0.0.1:9101"
oracle:
  address: "127.0.0.1:9102"
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndFileValues(t *testing.T) {
	cfg, err := Load(writeSample(t))
	require.NoError(t, err)

	assert.Equal(t, "BTC", cfg.Market.BaseAsset)
	assert.Equal(t, uint64(100), cfg.State.MaxLeverageX10)
	// Not present in the sample file, filled from SetDefault.
	assert.Equal(t, true, cfg.Metrics.Enabled)
	assert.Equal(t, "0.0.0.0:2112", cfg.Metrics.Address)
}

func TestValidateRequiresVaultAndOracleAddresses(t *testing.T) {
	cfg, err := Load(writeSample(t))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())

	cfg.Vault.Address = ""
	assert.Error(t, cfg.Validate())
}
