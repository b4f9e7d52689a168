package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tranchepool/ledger"
)

// Tranche indexes. The senior tranche always absorbs losses last.
const (
	SeniorTranche = 0
	JuniorTranche = 1
	NumTranches   = 2
)

// Safe is the single custody point for the pool's cash. Every component that
// would move money goes through it, and every withdrawal is checked against
// the available balance after reserves: amounts earmarked for processed
// redemptions, accrued fees and not-yet-distributed tranche profit are never
// lendable.
type Safe struct {
	ledger *ledger.Ledger
	addr   common.Address

	redemptionReserve *big.Int
	feeReserve        *big.Int
	unprocessedProfit [NumTranches]*big.Int
}

func NewSafe(l *ledger.Ledger, addr common.Address) *Safe {
	s := &Safe{
		ledger:            l,
		addr:              addr,
		redemptionReserve: big.NewInt(0),
		feeReserve:        big.NewInt(0),
	}
	for i := range s.unprocessedProfit {
		s.unprocessedProfit[i] = big.NewInt(0)
	}
	return s
}

// Address returns the safe's ledger address.
func (s *Safe) Address() common.Address { return s.addr }

// Balance is the safe's full ledger balance, reserves included.
func (s *Safe) Balance() *big.Int {
	return s.ledger.BalanceOf(s.addr)
}

// AvailableBalanceForPool is the unreserved balance drawdowns and redemption
// processing may consume.
func (s *Safe) AvailableBalanceForPool() *big.Int {
	out := s.Balance()
	out.Sub(out, s.redemptionReserve)
	out.Sub(out, s.feeReserve)
	for i := range s.unprocessedProfit {
		out.Sub(out, s.unprocessedProfit[i])
	}
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

// AvailableBalanceForFees is the fee reserve clamped to what the safe
// actually holds.
func (s *Safe) AvailableBalanceForFees() *big.Int {
	bal := s.Balance()
	if bal.Cmp(s.feeReserve) < 0 {
		return bal
	}
	return new(big.Int).Set(s.feeReserve)
}

// Deposit pulls cash from the payer into the safe.
func (s *Safe) Deposit(from common.Address, amount *big.Int) error {
	return s.ledger.Transfer(from, s.addr, amount)
}

// Withdraw pays cash out of the safe without touching reserves. Callers are
// responsible for having released any reserve the amount was held under.
func (s *Safe) Withdraw(to common.Address, amount *big.Int) error {
	return s.ledger.Transfer(s.addr, to, amount)
}

// ReserveRedemption earmarks processed redemption cash for later disbursement.
func (s *Safe) ReserveRedemption(amount *big.Int) {
	if amount != nil && amount.Sign() > 0 {
		s.redemptionReserve = new(big.Int).Add(s.redemptionReserve, amount)
	}
}

// ReleaseRedemption frees earmarked redemption cash as it is disbursed.
func (s *Safe) ReleaseRedemption(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	s.redemptionReserve = new(big.Int).Sub(s.redemptionReserve, amount)
	if s.redemptionReserve.Sign() < 0 {
		s.redemptionReserve = big.NewInt(0)
	}
}

// RedemptionReserve returns the currently earmarked redemption cash.
func (s *Safe) RedemptionReserve() *big.Int {
	return new(big.Int).Set(s.redemptionReserve)
}

// AddFeeReserve earmarks realized fees.
func (s *Safe) AddFeeReserve(amount *big.Int) {
	if amount != nil && amount.Sign() > 0 {
		s.feeReserve = new(big.Int).Add(s.feeReserve, amount)
	}
}

// TakeFeeReserve releases fee cash for withdrawal or reinvestment.
func (s *Safe) TakeFeeReserve(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	s.feeReserve = new(big.Int).Sub(s.feeReserve, amount)
	if s.feeReserve.Sign() < 0 {
		s.feeReserve = big.NewInt(0)
	}
}

// FeeReserve returns the currently earmarked fee cash.
func (s *Safe) FeeReserve() *big.Int {
	return new(big.Int).Set(s.feeReserve)
}

// AddUnprocessedProfit parks a tranche's realized profit until the next
// ProcessYieldForLenders pass distributes it.
func (s *Safe) AddUnprocessedProfit(tranche int, amount *big.Int) error {
	if tranche < 0 || tranche >= NumTranches {
		return ErrInvalidTrancheIndex
	}
	if amount != nil && amount.Sign() > 0 {
		s.unprocessedProfit[tranche] = new(big.Int).Add(s.unprocessedProfit[tranche], amount)
	}
	return nil
}

// TakeUnprocessedProfit drains and returns a tranche's parked profit.
func (s *Safe) TakeUnprocessedProfit(tranche int) (*big.Int, error) {
	if tranche < 0 || tranche >= NumTranches {
		return nil, ErrInvalidTrancheIndex
	}
	out := s.unprocessedProfit[tranche]
	s.unprocessedProfit[tranche] = big.NewInt(0)
	return out, nil
}

// UnprocessedProfit returns a copy of a tranche's parked profit.
func (s *Safe) UnprocessedProfit(tranche int) (*big.Int, error) {
	if tranche < 0 || tranche >= NumTranches {
		return nil, ErrInvalidTrancheIndex
	}
	return new(big.Int).Set(s.unprocessedProfit[tranche]), nil
}
