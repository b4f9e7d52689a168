package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the pool configuration file. Amounts are decimal strings so
// operators never hit TOML integer limits on base-unit values.
type Config struct {
	Pool   PoolSection    `toml:"pool"`
	Fees   FeeSection     `toml:"fees"`
	Credit CreditSection  `toml:"credit"`
	Covers []CoverSection `toml:"cover"`
}

// PoolSection carries the tranche and lender-side pool parameters.
type PoolSection struct {
	Name                     string `toml:"Name"`
	Currency                 string `toml:"Currency"`
	PayPeriodDuration        string `toml:"PayPeriodDuration"`
	MinDepositAmount         string `toml:"MinDepositAmount"`
	MaxSeniorJuniorRatio     uint64 `toml:"MaxSeniorJuniorRatio"`
	LiquidityCap             string `toml:"LiquidityCap"`
	TranchesPolicy           string `toml:"TranchesPolicy"`
	FixedSeniorYieldBps      uint64 `toml:"FixedSeniorYieldBps"`
	TranchesRiskAdjustBps    uint64 `toml:"TranchesRiskAdjustBps"`
	WithdrawalLockoutPeriods uint32 `toml:"WithdrawalLockoutPeriods"`
	SafeAddress              string `toml:"SafeAddress"`
	OwnerAddress             string `toml:"OwnerAddress"`
}

// FeeSection carves protocol, pool-owner and evaluation-agent fees out of
// realized profit, in basis points.
type FeeSection struct {
	ProtocolFeeBps        uint64 `toml:"ProtocolFeeBps"`
	PoolOwnerFeeBps       uint64 `toml:"PoolOwnerFeeBps"`
	EAFeeBps              uint64 `toml:"EAFeeBps"`
	FeesReinvestThreshold string `toml:"FeesReinvestThreshold"`
}

// CreditSection sets the pool-level terms shared by every credit.
type CreditSection struct {
	LateFeeBps                 uint64 `toml:"LateFeeBps"`
	LatePaymentGracePeriodDays int    `toml:"LatePaymentGracePeriodDays"`
	DefaultGracePeriods        uint32 `toml:"DefaultGracePeriods"`
	MinPrincipalRateBps        uint64 `toml:"MinPrincipalRateBps"`
	AdvanceRateBps             uint64 `toml:"AdvanceRateBps"`
	ReceivableAutoApproval     bool   `toml:"ReceivableAutoApproval"`
}

// CoverSection declares one first-loss cover. Covers absorb losses in
// declaration order.
type CoverSection struct {
	Name                   string `toml:"Name"`
	Address                string `toml:"Address"`
	CoverRatePerLossInBps  uint64 `toml:"CoverRatePerLossInBps"`
	CoverCapPerLoss        string `toml:"CoverCapPerLoss"`
	MinLiquidity           string `toml:"MinLiquidity"`
	MaxLiquidity           string `toml:"MaxLiquidity"`
	RiskYieldMultiplierBps uint64 `toml:"RiskYieldMultiplierBps"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists. Unknown keys are rejected so typos surface at startup.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Pool.Currency) == "" {
		cfg.Pool.Currency = "USD"
	}
	if strings.TrimSpace(cfg.Pool.PayPeriodDuration) == "" {
		cfg.Pool.PayPeriodDuration = "monthly"
	}
	if strings.TrimSpace(cfg.Pool.TranchesPolicy) == "" {
		cfg.Pool.TranchesPolicy = "risk-adjusted"
	}
	if strings.TrimSpace(cfg.Pool.MinDepositAmount) == "" {
		cfg.Pool.MinDepositAmount = "1"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Pool: PoolSection{
			Name:                 "main",
			Currency:             "USD",
			PayPeriodDuration:    "monthly",
			MinDepositAmount:     "1",
			MaxSeniorJuniorRatio: 4,
			LiquidityCap:         "1000000000",
			TranchesPolicy:       "risk-adjusted",
			SafeAddress:          "0x0000000000000000000000000000000000000001",
			OwnerAddress:         "0x0000000000000000000000000000000000000002",
		},
		Credit: CreditSection{
			LateFeeBps:          2400,
			DefaultGracePeriods: 1,
		},
	}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
