package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pelago/native/lending"
)

const validYAML = `
listen: ":9000"
data_dir: "/var/lib/pelago"
env: "staging"
oracle_price: 200000
market:
  authority: "0x00000000000000000000000000000000000000aa"
  loan_asset: "0x0000000000000000000000000000000000000001"
  collateral_asset: "0x0000000000000000000000000000000000000002"
  loan_vault: "0x0000000000000000000000000000000000000003"
  collateral_vault: "0x0000000000000000000000000000000000000004"
  lltv: 80000000
rate_limit:
  requests_per_minute: 120
  burst: 10
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, "/var/lib/pelago", cfg.DataDir)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, uint64(200_000), cfg.OraclePrice)
	require.Equal(t, uint64(80_000_000), cfg.Market.LLTV)
	require.Equal(t, 120.0, cfg.RateLimit.RequestsPerMinute)

	authority, loanAsset, collateralAsset, loanVault, collateralVault := cfg.MarketAddresses()
	require.NotEqual(t, loanAsset, collateralAsset)
	require.NotZero(t, authority)
	require.NotZero(t, loanVault)
	require.NotZero(t, collateralVault)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
market:
  authority: "0x00000000000000000000000000000000000000aa"
  loan_asset: "0x0000000000000000000000000000000000000001"
  collateral_asset: "0x0000000000000000000000000000000000000002"
  loan_vault: "0x0000000000000000000000000000000000000003"
  collateral_vault: "0x0000000000000000000000000000000000000004"
  lltv: 50000000
`))
	require.NoError(t, err)
	require.Equal(t, ":8546", cfg.ListenAddress)
	require.Equal(t, "data", cfg.DataDir)
	require.Equal(t, lending.DefaultOraclePrice, cfg.OraclePrice)
	require.Equal(t, 600.0, cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 30, cfg.RateLimit.Burst)
}

func TestLoadRejectsLLTVOutOfRange(t *testing.T) {
	_, err := Load(writeConfig(t, `
market:
  authority: "0x00000000000000000000000000000000000000aa"
  loan_asset: "0x0000000000000000000000000000000000000001"
  collateral_asset: "0x0000000000000000000000000000000000000002"
  loan_vault: "0x0000000000000000000000000000000000000003"
  collateral_vault: "0x0000000000000000000000000000000000000004"
  lltv: 100000001
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "lltv")
}

func TestLoadRejectsBadAddress(t *testing.T) {
	_, err := Load(writeConfig(t, `
market:
  authority: "not-an-address"
  loan_asset: "0x0000000000000000000000000000000000000001"
  collateral_asset: "0x0000000000000000000000000000000000000002"
  loan_vault: "0x0000000000000000000000000000000000000003"
  collateral_vault: "0x0000000000000000000000000000000000000004"
  lltv: 80000000
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "authority")
}

func TestLoadRejectsSameAssetPair(t *testing.T) {
	_, err := Load(writeConfig(t, `
market:
  authority: "0x00000000000000000000000000000000000000aa"
  loan_asset: "0x0000000000000000000000000000000000000001"
  collateral_asset: "0x0000000000000000000000000000000000000001"
  loan_vault: "0x0000000000000000000000000000000000000003"
  collateral_vault: "0x0000000000000000000000000000000000000004"
  lltv: 80000000
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "must differ")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
