package credit

import (
	"bytes"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tranchepool/calendar"
)

// PoolFunds is the credit manager's window into the pool's cash position. The
// pool orchestrator implements it; keeping it narrow lets the manager be
// exercised against a mock in tests.
type PoolFunds interface {
	// AvailableForPool returns the unreserved balance drawdowns may consume.
	AvailableForPool() *big.Int
	// Disburse moves pool cash to the recipient.
	Disburse(to common.Address, amount *big.Int) error
	// Collect pulls cash from the payer into the pool.
	Collect(from common.Address, amount *big.Int) error
	// ReportProfit marks the pool as having pending profit to distribute at
	// the next epoch close. A zero amount still raises the flag.
	ReportProfit(amount *big.Int)
	// ReportLoss records a principal write-off for the next distribution.
	ReportLoss(amount *big.Int)
	// ReportLossRecovery records cash recovered against written-off credit.
	ReportLossRecovery(amount *big.Int)
}

type creditEntry struct {
	borrower    common.Address
	config      *Config
	record      *Record
	detail      *DueDetail
	receivables map[uint64]*big.Int // receivable id -> allocated principal
	approved    map[uint64]bool
}

// Manager orchestrates borrower approval, drawdown authorisation and payment
// application for every credit in the pool. All mutating operations refresh
// the credit first so due amounts are always computed against the current
// period.
type Manager struct {
	mu          sync.Mutex
	cal         calendar.Calendar
	poolID      string
	custodian   common.Address
	terms       Terms
	funds       PoolFunds
	receivables Receivables
	log         *slog.Logger

	credits    map[common.Hash]*creditEntry
	byBorrower map[common.Address]common.Hash
}

// NewManager constructs a credit manager for the named pool. The custodian
// address holds receivables locked against active draws.
func NewManager(poolID string, custodian common.Address, cal calendar.Calendar, terms Terms, funds PoolFunds, receivables Receivables, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cal:         cal,
		poolID:      poolID,
		custodian:   custodian,
		terms:       terms,
		funds:       funds,
		receivables: receivables,
		log:         log.With("component", "credit-manager", "pool", poolID),
		credits:     make(map[common.Hash]*creditEntry),
		byBorrower:  make(map[common.Address]common.Hash),
	}
}

// ApproveBorrower creates the credit config for a borrower and initialises
// the record in the approved state. A borrower may hold only one active
// credit at a time.
func (m *Manager) ApproveBorrower(borrower common.Address, creditLimit *big.Int, numPeriods uint32, yieldBps uint64, committedAmount *big.Int, revolving bool) (common.Hash, error) {
	if borrower == (common.Address{}) {
		return common.Hash{}, ErrZeroAddressProvided
	}
	if creditLimit == nil || creditLimit.Sign() <= 0 {
		return common.Hash{}, ErrInvalidCreditLimit
	}
	if yieldBps > 10_000 {
		return common.Hash{}, ErrInvalidBasisPoints
	}
	if numPeriods == 0 {
		return common.Hash{}, ErrZeroPeriods
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if hash, ok := m.byBorrower[borrower]; ok {
		if entry := m.credits[hash]; entry != nil && entry.record.State != CreditDeleted {
			return common.Hash{}, ErrCreditAlreadyActive
		}
	}

	hash := Hash(m.poolID, borrower)
	entry := &creditEntry{
		borrower: borrower,
		config: &Config{
			CreditLimit:            new(big.Int).Set(creditLimit),
			CommittedAmount:        copyOrZero(committedAmount),
			PeriodDuration:         m.terms.PeriodDuration,
			NumPeriods:             numPeriods,
			YieldBps:               yieldBps,
			AdvanceRateBps:         m.terms.AdvanceRateBps,
			Revolving:              revolving,
			ReceivableAutoApproval: m.terms.ReceivableAutoApproval,
		},
		record: &Record{
			UnbilledPrincipal: big.NewInt(0),
			NextDue:           big.NewInt(0),
			YieldDue:          big.NewInt(0),
			TotalPastDue:      big.NewInt(0),
			RemainingPeriods:  numPeriods,
			State:             CreditApproved,
		},
		detail: &DueDetail{
			LateFee:          big.NewInt(0),
			PrincipalPastDue: big.NewInt(0),
			YieldPastDue:     big.NewInt(0),
			Committed:        big.NewInt(0),
			Accrued:          big.NewInt(0),
			Paid:             big.NewInt(0),
		},
		receivables: make(map[uint64]*big.Int),
		approved:    make(map[uint64]bool),
	}
	m.credits[hash] = entry
	m.byBorrower[borrower] = hash

	m.log.Info("borrower approved",
		"borrower", borrower.Hex(),
		"credit_limit", creditLimit.String(),
		"num_periods", numPeriods,
		"yield_bps", yieldBps,
		"revolving", revolving)
	return hash, nil
}

// RefreshCredit rolls the borrower's credit forward to the current period.
// It is idempotent: calling it any number of times between period boundaries
// never rolls a bill twice.
func (m *Manager) RefreshCredit(borrower common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.entryFor(borrower)
	if err != nil {
		return err
	}
	return m.refreshEntry(entry, m.cal.Now())
}

// Drawdown disburses amount to the borrower against their credit line.
func (m *Manager) Drawdown(borrower common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.entryFor(borrower)
	if err != nil {
		return err
	}
	return m.drawdown(entry, amount, m.cal.Now())
}

func (m *Manager) drawdown(entry *creditEntry, amount *big.Int, now time.Time) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := m.refreshEntry(entry, now); err != nil {
		return err
	}
	cr := entry.record
	if cr.State != CreditApproved && cr.State != CreditGoodStanding {
		return ErrCreditNotInStateForDraw
	}

	outstanding := outstandingPrincipal(cr, entry.detail)
	projected := new(big.Int).Add(outstanding, amount)
	if entry.config.CreditLimit.Cmp(projected) < 0 {
		return ErrCreditLimitExceeded
	}
	if m.funds.AvailableForPool().Cmp(amount) < 0 {
		return ErrInsufficientPoolBalance
	}

	if cr.State == CreditApproved {
		m.billFirstPeriod(entry, amount, now)
	} else {
		m.billAdditionalDraw(entry, amount, now)
	}

	if err := m.funds.Disburse(entry.borrower, amount); err != nil {
		return err
	}
	m.funds.ReportProfit(big.NewInt(0))

	m.log.Info("drawdown",
		"borrower", entry.borrower.Hex(),
		"amount", amount.String(),
		"next_due_date", cr.NextDueDate,
		"next_due", cr.NextDue.String())
	return nil
}

// billFirstPeriod issues the first bill at drawdown time: yield accrues from
// the draw to the next period boundary rather than for a whole period.
func (m *Manager) billFirstPeriod(entry *creditEntry, amount *big.Int, now time.Time) {
	cfg := entry.config
	cr := entry.record
	dd := entry.detail

	cr.NextDueDate = m.cal.StartDateOfNextPeriod(cfg.PeriodDuration, now)
	days, err := m.cal.DaysDiff(now, cr.NextDueDate)
	if err != nil {
		days = 0
	}
	cr.UnbilledPrincipal = new(big.Int).Set(amount)
	dd.Accrued = yieldOverDays(amount, cfg.YieldBps, days)
	dd.Committed = yieldOverDays(cfg.CommittedAmount, cfg.YieldBps, days)
	dd.Paid = big.NewInt(0)
	cr.YieldDue = maxBig(dd.Accrued, dd.Committed)
	cr.RemainingPeriods = cfg.NumPeriods - 1
	principalDue := principalPortionForPeriod(cfg, m.terms, cr, 0)
	cr.UnbilledPrincipal = new(big.Int).Sub(cr.UnbilledPrincipal, principalDue)
	cr.NextDue = new(big.Int).Add(cr.YieldDue, principalDue)
	cr.State = CreditGoodStanding
}

// billAdditionalDraw folds a mid-period draw into the open bill: the new
// principal accrues yield for the remaining days of the period.
func (m *Manager) billAdditionalDraw(entry *creditEntry, amount *big.Int, now time.Time) {
	cfg := entry.config
	cr := entry.record
	dd := entry.detail

	billedPrincipal := new(big.Int).Sub(cr.NextDue, cr.YieldDue)
	days, err := m.cal.DaysDiff(now, cr.NextDueDate)
	if err != nil {
		days = 0
	}
	extra := yieldOverDays(amount, cfg.YieldBps, days)
	dd.Accrued = new(big.Int).Add(dd.Accrued, extra)
	cr.UnbilledPrincipal = new(big.Int).Add(cr.UnbilledPrincipal, amount)

	yieldDue := maxBig(dd.Accrued, dd.Committed)
	yieldDue.Sub(yieldDue, dd.Paid)
	if yieldDue.Sign() < 0 {
		yieldDue = big.NewInt(0)
	}
	cr.YieldDue = yieldDue
	cr.NextDue = new(big.Int).Add(cr.YieldDue, billedPrincipal)
}

// MakePayment applies amount against the credit in the canonical order and
// collects only what was applied; any excess stays with the borrower.
func (m *Manager) MakePayment(borrower common.Address, amount *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.entryFor(borrower)
	if err != nil {
		return nil, err
	}
	res, err := m.makePaymentLocked(entry, amount)
	if err != nil {
		return nil, err
	}
	if res.Applied.Sign() > 0 {
		m.log.Info("payment applied",
			"borrower", entry.borrower.Hex(),
			"applied", res.Applied.String(),
			"principal", res.PrincipalPaid.String(),
			"yield", res.YieldPaid.String(),
			"late_fee", res.LateFeePaid.String(),
			"state", entry.record.State.String())
	}
	return res.Applied, nil
}

// MakePrincipalPayment pays down billed then unbilled principal. Only
// good-standing credits qualify; delinquent borrowers must clear dues through
// MakePayment first.
func (m *Manager) MakePrincipalPayment(borrower common.Address, amount *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.entryFor(borrower)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	now := m.cal.Now()
	if err := m.refreshEntry(entry, now); err != nil {
		return nil, err
	}
	if entry.record.State != CreditGoodStanding {
		return nil, ErrCreditNotInStateForPay
	}

	res := applyPrincipalPayment(entry.record, entry.detail, amount)
	if res.Applied.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := m.funds.Collect(entry.borrower, res.Applied); err != nil {
		return nil, err
	}
	m.funds.ReportProfit(big.NewInt(0))
	return res.Applied, nil
}

// TriggerDefault writes off the borrower's outstanding balance once the
// default grace threshold has been exceeded. The written-off amount is
// reported to the pool as a loss.
func (m *Manager) TriggerDefault(borrower common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.entryFor(borrower)
	if err != nil {
		return nil, err
	}
	now := m.cal.Now()
	cr := entry.record
	if cr.State == CreditDefaulted {
		return nil, ErrDefaultAlreadyTriggered
	}
	if err := m.refreshEntry(entry, now); err != nil {
		return nil, err
	}
	if cr.State == CreditDefaulted {
		// The refresh crossed the threshold on its own; the loss was already
		// reported.
		return payoffAmount(cr), nil
	}
	if cr.MissedPeriods <= m.terms.DefaultGracePeriods {
		return nil, ErrDefaultTriggeredTooEarly
	}
	cr.State = CreditDefaulted
	loss := payoffAmount(cr)
	m.funds.ReportLoss(loss)
	m.log.Warn("default triggered",
		"borrower", entry.borrower.Hex(),
		"loss", loss.String(),
		"missed_periods", cr.MissedPeriods)
	return loss, nil
}

// GetDueInfo returns copies of the borrower's record and due detail after a
// read-only projection to the current period.
func (m *Manager) GetDueInfo(borrower common.Address) (*Record, *DueDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.entryFor(borrower)
	if err != nil {
		return nil, nil, err
	}
	cr := entry.record.Clone()
	dd := entry.detail.Clone()
	if _, err := refreshDue(m.cal, entry.config, m.terms, cr, dd, m.cal.Now()); err != nil {
		return nil, nil, err
	}
	return cr, dd, nil
}

// GetCreditConfig returns a copy of the borrower's credit config.
func (m *Manager) GetCreditConfig(borrower common.Address) (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.entryFor(borrower)
	if err != nil {
		return nil, err
	}
	return entry.config.Clone(), nil
}

// GetCreditRecord returns a copy of the borrower's stored record without
// projecting it forward.
func (m *Manager) GetCreditRecord(borrower common.Address) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.entryFor(borrower)
	if err != nil {
		return nil, err
	}
	return entry.record.Clone(), nil
}

// Borrowers lists every borrower with a credit on file, sorted by address.
func (m *Manager) Borrowers() []common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]common.Address, 0, len(m.byBorrower))
	for borrower := range m.byBorrower {
		out = append(out, borrower)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0
	})
	return out
}

func (m *Manager) entryFor(borrower common.Address) (*creditEntry, error) {
	hash, ok := m.byBorrower[borrower]
	if !ok {
		return nil, ErrCreditNotFound
	}
	entry, ok := m.credits[hash]
	if !ok {
		return nil, ErrCreditNotFound
	}
	return entry, nil
}

// refreshEntry rolls the entry forward and reports a write-off when the
// refresh itself crosses the default threshold.
func (m *Manager) refreshEntry(entry *creditEntry, now time.Time) error {
	before := entry.record.State
	if _, err := refreshDue(m.cal, entry.config, m.terms, entry.record, entry.detail, now); err != nil {
		return err
	}
	if before != CreditDefaulted && entry.record.State == CreditDefaulted {
		loss := payoffAmount(entry.record)
		m.funds.ReportLoss(loss)
		m.log.Warn("credit defaulted on refresh",
			"borrower", entry.borrower.Hex(),
			"loss", loss.String(),
			"missed_periods", entry.record.MissedPeriods)
	}
	return nil
}
