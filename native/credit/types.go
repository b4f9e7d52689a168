package credit

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tranchepool/calendar"
)

// CreditState enumerates the lifecycle states of a credit line.
type CreditState uint8

const (
	CreditDeleted CreditState = iota
	CreditApproved
	CreditGoodStanding
	CreditDelayed
	CreditDefaulted
	CreditPaused
)

func (s CreditState) String() string {
	switch s {
	case CreditDeleted:
		return "deleted"
	case CreditApproved:
		return "approved"
	case CreditGoodStanding:
		return "good-standing"
	case CreditDelayed:
		return "delayed"
	case CreditDefaulted:
		return "defaulted"
	case CreditPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Config captures the terms of an approved credit line. It is immutable after
// approval except through re-approval.
type Config struct {
	// CreditLimit bounds the total outstanding principal at any time.
	CreditLimit *big.Int
	// CommittedAmount floors the yield computation: the borrower pays yield
	// on at least this amount regardless of utilisation.
	CommittedAmount *big.Int
	// PeriodDuration fixes the billing cadence of the credit.
	PeriodDuration calendar.PeriodDuration
	// NumPeriods is the total number of billing periods granted.
	NumPeriods uint32
	// YieldBps is the annualised yield rate in basis points.
	YieldBps uint64
	// AdvanceRateBps bounds receivable-backed draws relative to face value.
	AdvanceRateBps uint64
	// Revolving allows repaid principal to be drawn again.
	Revolving bool
	// ReceivableAutoApproval skips per-receivable approval for drawdowns.
	ReceivableAutoApproval bool
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.CreditLimit != nil {
		clone.CreditLimit = new(big.Int).Set(c.CreditLimit)
	}
	if c.CommittedAmount != nil {
		clone.CommittedAmount = new(big.Int).Set(c.CommittedAmount)
	} else {
		clone.CommittedAmount = big.NewInt(0)
	}
	return &clone
}

// Record is the mutable accounting state of a credit line. It is co-mutated
// with DueDetail on every drawdown, payment and period refresh.
type Record struct {
	// UnbilledPrincipal is drawn principal that has not been billed yet.
	UnbilledPrincipal *big.Int
	// NextDueDate marks the start of the next billing period.
	NextDueDate time.Time
	// NextDue is the total amount owed for the current period.
	NextDue *big.Int
	// YieldDue is the unpaid yield portion inside NextDue.
	YieldDue *big.Int
	// TotalPastDue aggregates late fee plus past-due yield and principal.
	TotalPastDue *big.Int
	// MissedPeriods counts consecutive periods with an unpaid bill.
	MissedPeriods uint32
	// RemainingPeriods counts billing periods left on the credit.
	RemainingPeriods uint32
	// State is the lifecycle state of the credit.
	State CreditState
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.UnbilledPrincipal = copyOrZero(r.UnbilledPrincipal)
	clone.NextDue = copyOrZero(r.NextDue)
	clone.YieldDue = copyOrZero(r.YieldDue)
	clone.TotalPastDue = copyOrZero(r.TotalPastDue)
	return &clone
}

// DueDetail decomposes past-due amounts and tracks committed-versus-accrued
// yield for the minimum-yield guarantee.
type DueDetail struct {
	// LateFeeUpdatedDate is the reference point of the last late-fee accrual.
	LateFeeUpdatedDate time.Time
	// LateFee is the accrued, unpaid late fee.
	LateFee *big.Int
	// PrincipalPastDue is billed principal that went unpaid past its due date.
	PrincipalPastDue *big.Int
	// YieldPastDue is billed yield that went unpaid past its due date.
	YieldPastDue *big.Int
	// Committed is the committed-amount yield for the current period.
	Committed *big.Int
	// Accrued is the utilisation-based yield for the current period.
	Accrued *big.Int
	// Paid is the yield already paid within the current period.
	Paid *big.Int
}

// Clone returns a deep copy of the due detail.
func (d *DueDetail) Clone() *DueDetail {
	if d == nil {
		return nil
	}
	clone := *d
	clone.LateFee = copyOrZero(d.LateFee)
	clone.PrincipalPastDue = copyOrZero(d.PrincipalPastDue)
	clone.YieldPastDue = copyOrZero(d.YieldPastDue)
	clone.Committed = copyOrZero(d.Committed)
	clone.Accrued = copyOrZero(d.Accrued)
	clone.Paid = copyOrZero(d.Paid)
	return &clone
}

// Terms groups the pool-level billing parameters applied to every credit in
// the pool.
type Terms struct {
	// PeriodDuration fixes the billing cadence for credits in this pool.
	PeriodDuration calendar.PeriodDuration
	// LateFeeBps is the annualised late-fee rate charged on outstanding
	// principal while a bill is past due.
	LateFeeBps uint64
	// LatePaymentGracePeriodDays delays the delinquency transition after a
	// missed due date.
	LatePaymentGracePeriodDays int
	// DefaultGracePeriods is the number of missed periods tolerated before a
	// credit becomes eligible for default.
	DefaultGracePeriods uint32
	// MinPrincipalRateBps bills this share of unbilled principal each period.
	MinPrincipalRateBps uint64
	// AdvanceRateBps bounds receivable-backed draws relative to face value.
	AdvanceRateBps uint64
	// ReceivableAutoApproval lets receivable draws skip per-receivable
	// approval.
	ReceivableAutoApproval bool
}

// Hash derives the deterministic credit identifier for a borrower-level
// credit. Receivable-level credits include the receivable ID in the preimage.
func Hash(poolID string, borrower common.Address) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(poolID), borrower.Bytes())
}

// ReceivableHash derives the credit identifier for a receivable-level credit.
func ReceivableHash(poolID string, borrower common.Address, receivableID uint64) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(poolID), borrower.Bytes(), new(big.Int).SetUint64(receivableID).Bytes())
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
