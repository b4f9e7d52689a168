package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"tranchepool/calendar"
	"tranchepool/native/credit"
	"tranchepool/native/pool"
)

// parseAmount parses a non-negative decimal base-unit amount. An empty string
// is zero.
func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	out, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || out.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %q", field, value)
	}
	return out, nil
}

func parsePeriodDuration(value string) (calendar.PeriodDuration, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "monthly":
		return calendar.Monthly, nil
	case "quarterly":
		return calendar.Quarterly, nil
	case "semiannually":
		return calendar.SemiAnnually, nil
	default:
		return 0, fmt.Errorf("invalid pool.PayPeriodDuration: %q", value)
	}
}

func parsePolicy(value string) (pool.PolicyKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "fixed-senior-yield":
		return pool.FixedSeniorYield, nil
	case "risk-adjusted":
		return pool.RiskAdjusted, nil
	default:
		return 0, fmt.Errorf("invalid pool.TranchesPolicy: %q", value)
	}
}

// PoolConfig assembles the runtime pool configuration from the TOML sections.
func (c *Config) PoolConfig() (*pool.Config, error) {
	period, err := parsePeriodDuration(c.Pool.PayPeriodDuration)
	if err != nil {
		return nil, err
	}
	policy, err := parsePolicy(c.Pool.TranchesPolicy)
	if err != nil {
		return nil, err
	}
	minDeposit, err := parseAmount("pool.MinDepositAmount", c.Pool.MinDepositAmount)
	if err != nil {
		return nil, err
	}
	liquidityCap, err := parseAmount("pool.LiquidityCap", c.Pool.LiquidityCap)
	if err != nil {
		return nil, err
	}
	threshold, err := parseAmount("fees.FeesReinvestThreshold", c.Fees.FeesReinvestThreshold)
	if err != nil {
		return nil, err
	}

	out := &pool.Config{
		PoolName: c.Pool.Name,
		Settings: pool.Settings{
			PayPeriodDuration:    period,
			MinDepositAmount:     minDeposit,
			MaxSeniorJuniorRatio: c.Pool.MaxSeniorJuniorRatio,
		},
		LP: pool.LPConfig{
			LiquidityCap:             liquidityCap,
			TranchesPolicyKind:       policy,
			FixedSeniorYieldBps:      c.Pool.FixedSeniorYieldBps,
			TranchesRiskAdjustBps:    c.Pool.TranchesRiskAdjustBps,
			WithdrawalLockoutPeriods: c.Pool.WithdrawalLockoutPeriods,
		},
		Fees: pool.FeeStructure{
			ProtocolFeeBps:        c.Fees.ProtocolFeeBps,
			PoolOwnerFeeBps:       c.Fees.PoolOwnerFeeBps,
			EAFeeBps:              c.Fees.EAFeeBps,
			FeesReinvestThreshold: threshold,
		},
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// CreditTerms assembles the pool-level credit terms. The billing cadence
// always matches the pool's pay period.
func (c *Config) CreditTerms() (credit.Terms, error) {
	period, err := parsePeriodDuration(c.Pool.PayPeriodDuration)
	if err != nil {
		return credit.Terms{}, err
	}
	return credit.Terms{
		PeriodDuration:             period,
		LateFeeBps:                 c.Credit.LateFeeBps,
		LatePaymentGracePeriodDays: c.Credit.LatePaymentGracePeriodDays,
		DefaultGracePeriods:        c.Credit.DefaultGracePeriods,
		MinPrincipalRateBps:        c.Credit.MinPrincipalRateBps,
		AdvanceRateBps:             c.Credit.AdvanceRateBps,
		ReceivableAutoApproval:     c.Credit.ReceivableAutoApproval,
	}, nil
}

// SafeAddress returns the configured pool safe address.
func (c *Config) SafeAddress() common.Address {
	return common.HexToAddress(c.Pool.SafeAddress)
}

// OwnerAddress returns the configured pool owner address.
func (c *Config) OwnerAddress() common.Address {
	return common.HexToAddress(c.Pool.OwnerAddress)
}

// CoverAddress returns the cover vault's ledger address.
func (s CoverSection) CoverAddress() common.Address {
	return common.HexToAddress(s.Address)
}

// CoverConfig converts one cover section into runtime parameters.
func (s CoverSection) CoverConfig() (pool.CoverConfig, error) {
	capPerLoss, err := parseAmount("cover.CoverCapPerLoss", s.CoverCapPerLoss)
	if err != nil {
		return pool.CoverConfig{}, err
	}
	minLiq, err := parseAmount("cover.MinLiquidity", s.MinLiquidity)
	if err != nil {
		return pool.CoverConfig{}, err
	}
	maxLiq, err := parseAmount("cover.MaxLiquidity", s.MaxLiquidity)
	if err != nil {
		return pool.CoverConfig{}, err
	}
	out := pool.CoverConfig{
		CoverRatePerLossInBps:  s.CoverRatePerLossInBps,
		CoverCapPerLoss:        capPerLoss,
		MinLiquidity:           minLiq,
		MaxLiquidity:           maxLiq,
		RiskYieldMultiplierBps: s.RiskYieldMultiplierBps,
	}
	if err := out.Validate(); err != nil {
		return pool.CoverConfig{}, fmt.Errorf("cover %q: %w", s.Name, err)
	}
	return out, nil
}
