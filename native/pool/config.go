package pool

import (
	"math/big"

	"tranchepool/calendar"
)

// PolicyKind selects the profit waterfall variant for the pool. It is fixed
// at construction time.
type PolicyKind uint8

const (
	FixedSeniorYield PolicyKind = iota
	RiskAdjusted
)

func (k PolicyKind) String() string {
	switch k {
	case FixedSeniorYield:
		return "fixed-senior-yield"
	case RiskAdjusted:
		return "risk-adjusted"
	default:
		return "unknown"
	}
}

// Settings carries the pool-wide knobs shared by every component.
type Settings struct {
	PayPeriodDuration calendar.PeriodDuration
	MinDepositAmount  *big.Int
	// MaxSeniorJuniorRatio caps senior assets at ratio x junior assets. Zero
	// disables the ceiling.
	MaxSeniorJuniorRatio uint64
}

// LPConfig governs the lender side of each tranche.
type LPConfig struct {
	LiquidityCap          *big.Int
	TranchesPolicyKind    PolicyKind
	FixedSeniorYieldBps   uint64
	TranchesRiskAdjustBps uint64
	// WithdrawalLockoutPeriods is the number of full pay periods a fresh
	// deposit must sit before its shares may be requested for redemption.
	WithdrawalLockoutPeriods uint32
}

// FeeStructure carves protocol, pool-owner and evaluation-agent fees out of
// each period's realized profit, in basis points of the profit amount.
type FeeStructure struct {
	ProtocolFeeBps  uint64
	PoolOwnerFeeBps uint64
	EAFeeBps        uint64
	// FeesReinvestThreshold is the accrued-fee level above which the epoch
	// close sweeps surplus fees into the admin first-loss cover. Zero
	// disables the sweep.
	FeesReinvestThreshold *big.Int
}

// CoverConfig parameterises one first-loss cover.
type CoverConfig struct {
	CoverRatePerLossInBps  uint64
	CoverCapPerLoss        *big.Int
	MinLiquidity           *big.Int
	MaxLiquidity           *big.Int
	RiskYieldMultiplierBps uint64
}

// Config is the full pool configuration assembled at construction.
type Config struct {
	PoolName string
	Settings Settings
	LP       LPConfig
	Fees     FeeStructure
}

func (s Settings) Validate() error {
	switch s.PayPeriodDuration {
	case calendar.Monthly, calendar.Quarterly, calendar.SemiAnnually:
	default:
		return ErrInvalidPeriodDuration
	}
	if s.MinDepositAmount == nil || s.MinDepositAmount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (l LPConfig) Validate() error {
	if l.LiquidityCap == nil || l.LiquidityCap.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if l.FixedSeniorYieldBps > 10_000 || l.TranchesRiskAdjustBps > 10_000 {
		return ErrInvalidBasisPoints
	}
	switch l.TranchesPolicyKind {
	case FixedSeniorYield, RiskAdjusted:
	default:
		return ErrInvalidPoolConfig
	}
	return nil
}

func (f FeeStructure) Validate() error {
	if f.ProtocolFeeBps > 10_000 || f.PoolOwnerFeeBps > 10_000 || f.EAFeeBps > 10_000 {
		return ErrInvalidBasisPoints
	}
	if f.ProtocolFeeBps+f.PoolOwnerFeeBps+f.EAFeeBps > 10_000 {
		return ErrInvalidBasisPoints
	}
	return nil
}

func (c CoverConfig) Validate() error {
	if c.CoverRatePerLossInBps > 10_000 {
		return ErrInvalidBasisPoints
	}
	if c.MaxLiquidity != nil && c.MinLiquidity != nil && c.MaxLiquidity.Cmp(c.MinLiquidity) < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Validate checks every section. Construction rejects an invalid config so
// components never re-validate at call time.
func (c *Config) Validate() error {
	if c == nil || c.PoolName == "" {
		return ErrInvalidPoolConfig
	}
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	if err := c.LP.Validate(); err != nil {
		return err
	}
	return c.Fees.Validate()
}
