package credit

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tranchepool/receivable"
)

// Receivables is the registry interface the manager uses to validate and take
// custody of receivables backing a draw.
type Receivables interface {
	Get(id uint64) (*receivable.Receivable, error)
	TransferFrom(spender, from, to common.Address, id uint64) error
	RecordPayment(id uint64, amount *big.Int) error
}

// ApproveReceivable marks a receivable as eligible backing for the borrower's
// next draws. Pools configured for auto-approval skip this step.
func (m *Manager) ApproveReceivable(borrower common.Address, receivableID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.entryFor(borrower)
	if err != nil {
		return err
	}
	rec, err := m.receivables.Get(receivableID)
	if err != nil {
		return err
	}
	if rec.Owner != borrower && rec.Owner != m.custodian {
		return receivable.ErrNotOwner
	}
	entry.approved[receivableID] = true
	return nil
}

// DrawdownWithReceivable disburses amount against a receivable-backed credit.
// The receivable must be approved (or the pool auto-approving), unexpired and
// have enough uncommitted advance capacity; it is locked in the manager's
// custody for the life of the draw.
func (m *Manager) DrawdownWithReceivable(borrower common.Address, receivableID uint64, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.entryFor(borrower)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	now := m.cal.Now()

	rec, err := m.receivables.Get(receivableID)
	if err != nil {
		return err
	}
	if rec.Matured(now) {
		return ErrReceivableMatured
	}
	if rec.State == receivable.Paid {
		return ErrReceivableExhausted
	}
	if !entry.config.ReceivableAutoApproval && !entry.approved[receivableID] {
		return ErrReceivableNotApproved
	}

	advanceCap := advanceCapacity(rec.FaceValue, entry.config.AdvanceRateBps)
	allocated := zeroIfNil(entry.receivables[receivableID])
	available := new(big.Int).Sub(advanceCap, allocated)
	if available.Cmp(amount) < 0 {
		return ErrReceivableExhausted
	}

	switch rec.Owner {
	case borrower:
		// First draw against this receivable: take custody.
		if err := m.receivables.TransferFrom(m.custodian, borrower, m.custodian, receivableID); err != nil {
			return err
		}
	case m.custodian:
		// Already locked by an earlier draw.
	default:
		return receivable.ErrNotOwner
	}

	if err := m.drawdown(entry, amount, now); err != nil {
		return err
	}
	entry.receivables[receivableID] = new(big.Int).Add(allocated, amount)
	return nil
}

// MakePaymentWithReceivable applies a payment attributed to a specific locked
// receivable. Once the receivable's allocated principal is fully settled the
// association is released and custody returns to the borrower.
func (m *Manager) MakePaymentWithReceivable(borrower common.Address, receivableID uint64, amount *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.entryFor(borrower)
	if err != nil {
		return nil, err
	}
	allocated := entry.receivables[receivableID]
	if allocated == nil || allocated.Sign() == 0 {
		return nil, ErrReceivableNotApproved
	}

	res, err := m.makePaymentLocked(entry, amount)
	if err != nil {
		return nil, err
	}
	if res.Applied.Sign() == 0 {
		return big.NewInt(0), nil
	}

	if err := m.receivables.RecordPayment(receivableID, res.Applied); err != nil {
		return nil, err
	}

	allocated = new(big.Int).Sub(allocated, res.PrincipalPaid)
	if allocated.Sign() <= 0 {
		delete(entry.receivables, receivableID)
		delete(entry.approved, receivableID)
		if err := m.receivables.TransferFrom(m.custodian, m.custodian, borrower, receivableID); err != nil {
			return nil, err
		}
	} else {
		entry.receivables[receivableID] = allocated
	}
	return res.Applied, nil
}

// ReceivableAllocation reports the principal currently allocated against the
// receivable, zero when the receivable backs no active draw.
func (m *Manager) ReceivableAllocation(borrower common.Address, receivableID uint64) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.entryFor(borrower)
	if err != nil {
		return nil, err
	}
	return copyOrZero(entry.receivables[receivableID]), nil
}

func (m *Manager) makePaymentLocked(entry *creditEntry, amount *big.Int) (paymentResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return paymentResult{}, ErrInvalidAmount
	}
	now := m.cal.Now()
	if err := m.refreshEntry(entry, now); err != nil {
		return paymentResult{}, err
	}
	cr := entry.record
	switch cr.State {
	case CreditGoodStanding, CreditDelayed, CreditDefaulted:
	default:
		return paymentResult{}, ErrCreditNotInStateForPay
	}

	wasDefaulted := cr.State == CreditDefaulted
	res := applyPayment(cr, entry.detail, amount, entry.config.Revolving)
	if res.Applied.Sign() == 0 {
		return res, nil
	}
	if err := m.funds.Collect(entry.borrower, res.Applied); err != nil {
		return paymentResult{}, err
	}
	if wasDefaulted {
		m.funds.ReportLossRecovery(new(big.Int).Set(res.Applied))
	} else {
		profit := new(big.Int).Add(res.YieldPaid, res.LateFeePaid)
		m.funds.ReportProfit(profit)
	}
	return res, nil
}

func advanceCapacity(faceValue *big.Int, advanceRateBps uint64) *big.Int {
	if faceValue == nil || faceValue.Sign() <= 0 {
		return big.NewInt(0)
	}
	if advanceRateBps == 0 || advanceRateBps >= 10_000 {
		return new(big.Int).Set(faceValue)
	}
	cap := new(big.Int).Mul(faceValue, new(big.Int).SetUint64(advanceRateBps))
	cap.Quo(cap, basisPoints)
	return cap
}
