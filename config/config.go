package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"pelago/native/lending"
)

// Config captures the runtime settings for the ledger daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DataDir       string          `yaml:"data_dir"`
	Environment   string          `yaml:"env"`
	OraclePrice   uint64          `yaml:"oracle_price"`
	Market        MarketConfig    `yaml:"market"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
}

// MarketConfig describes the market bootstrapped at startup when it
// does not already exist in the store.
type MarketConfig struct {
	Authority       string `yaml:"authority"`
	LoanAsset       string `yaml:"loan_asset"`
	CollateralAsset string `yaml:"collateral_asset"`
	LoanVault       string `yaml:"loan_vault"`
	CollateralVault string `yaml:"collateral_vault"`
	LLTV            uint64 `yaml:"lltv"`
}

// RateLimitConfig throttles mutating API routes per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddress: ":8546",
		DataDir:       "data",
		OraclePrice:   lending.DefaultOraclePrice,
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 600,
			Burst:             30,
		},
	}
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8546"
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	if cfg.OraclePrice == 0 {
		cfg.OraclePrice = lending.DefaultOraclePrice
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.Market.LLTV == 0 || cfg.Market.LLTV > lending.MaxLLTV {
		return fmt.Errorf("market: lltv %d out of range (0, %d]", cfg.Market.LLTV, lending.MaxLLTV)
	}
	for field, value := range map[string]string{
		"authority":        cfg.Market.Authority,
		"loan_asset":       cfg.Market.LoanAsset,
		"collateral_asset": cfg.Market.CollateralAsset,
		"loan_vault":       cfg.Market.LoanVault,
		"collateral_vault": cfg.Market.CollateralVault,
	} {
		if !common.IsHexAddress(value) {
			return fmt.Errorf("market: %s %q is not a hex address", field, value)
		}
	}
	if cfg.Market.LoanAsset == cfg.Market.CollateralAsset {
		return fmt.Errorf("market: loan and collateral assets must differ")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must be non-negative")
	}
	return nil
}

// MarketAddresses resolves the configured hex strings into addresses.
// Call after Load; the values are already validated.
func (cfg Config) MarketAddresses() (authority, loanAsset, collateralAsset, loanVault, collateralVault common.Address) {
	return common.HexToAddress(cfg.Market.Authority),
		common.HexToAddress(cfg.Market.LoanAsset),
		common.HexToAddress(cfg.Market.CollateralAsset),
		common.HexToAddress(cfg.Market.LoanVault),
		common.HexToAddress(cfg.Market.CollateralVault)
}
