package pool

import (
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tranchepool/calendar"
	"tranchepool/ledger"
	"tranchepool/observability/metrics"
)

// CurrentEpoch is the pool's single mutable epoch record. The id starts at 1
// and both fields strictly increase, advanced exactly once per close.
type CurrentEpoch struct {
	ID      uint64
	EndTime time.Time
}

// Pool is the orchestrator tying the safe, the tranche vaults, the waterfall
// policy, the first-loss covers and the fee manager together. Every mutating
// operation is serialized through a single mutex, standing in for the
// all-or-nothing transaction model the accounting assumes.
type Pool struct {
	mu sync.Mutex

	cfg    *Config
	cal    calendar.Calendar
	ledger *ledger.Ledger
	safe   *Safe
	policy *TranchesPolicy
	covers []*FirstLossCover
	fees   *FeeManager
	vaults [NumTranches]*Vault
	roles  *RoleRegistry
	log    *slog.Logger
	events *EventLog

	poolOwner common.Address
	on        bool

	epoch           CurrentEpoch
	hasProfit       bool
	pendingProfit   *big.Int
	pendingLoss     *big.Int
	pendingRecovery *big.Int
	trancheLosses   [NumTranches]*big.Int
}

// New constructs a pool from a validated config. The safe address holds the
// pool's cash on the ledger; the first epoch ends at the next pay-period
// boundary after the calendar's reference time.
func New(cfg *Config, cal calendar.Calendar, l *ledger.Ledger, safeAddr, poolOwner common.Address, log *slog.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if safeAddr == (common.Address{}) || poolOwner == (common.Address{}) {
		return nil, ErrZeroAddressProvided
	}
	if log == nil {
		log = slog.Default()
	}
	safe := NewSafe(l, safeAddr)
	p := &Pool{
		cfg:             cfg,
		cal:             cal,
		ledger:          l,
		safe:            safe,
		policy:          NewTranchesPolicy(cfg.LP),
		fees:            NewFeeManager(cfg.Fees, safe),
		roles:           NewRoleRegistry(),
		log:             log.With("component", "pool", "pool", cfg.PoolName),
		events:          NewEventLog(0),
		poolOwner:       poolOwner,
		on:              true,
		pendingProfit:   big.NewInt(0),
		pendingLoss:     big.NewInt(0),
		pendingRecovery: big.NewInt(0),
	}
	for i := range p.vaults {
		p.vaults[i] = NewVault(i, safe)
		p.trancheLosses[i] = big.NewInt(0)
	}
	p.epoch = CurrentEpoch{
		ID:      1,
		EndTime: cal.StartDateOfNextPeriod(cfg.Settings.PayPeriodDuration, cal.Now()),
	}
	if err := p.roles.Grant(poolOwner, RolePoolOwner); err != nil {
		return nil, err
	}
	return p, nil
}

// Roles exposes the role registry for construction-time grants.
func (p *Pool) Roles() *RoleRegistry { return p.roles }

// Name returns the pool's configured name.
func (p *Pool) Name() string { return p.cfg.PoolName }

// Enabled reports whether the pool currently accepts lender deposits.
func (p *Pool) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

// Covers returns the registered first-loss covers in absorption order.
func (p *Pool) Covers() []*FirstLossCover {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*FirstLossCover, len(p.covers))
	copy(out, p.covers)
	return out
}

// Safe exposes the pool's custody point.
func (p *Pool) Safe() *Safe { return p.safe }

// Events returns the recent event feed.
func (p *Pool) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events.Events()
}

// AddFirstLossCover registers a cover vault. Covers absorb losses in
// registration order; the first cover is the admin cover fee surpluses are
// swept into.
func (p *Pool) AddFirstLossCover(name string, cfg CoverConfig, addr common.Address) (*FirstLossCover, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if addr == (common.Address{}) {
		return nil, ErrZeroAddressProvided
	}
	cover, err := NewFirstLossCover(name, cfg, p.ledger, addr, p.safe)
	if err != nil {
		return nil, err
	}
	p.covers = append(p.covers, cover)
	return cover, nil
}

// SetEnabled flips the pool on or off. Only operators and the pool owner may
// call it; a disabled pool rejects lender deposits.
func (p *Pool) SetEnabled(caller common.Address, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.roles.Authorize(caller, RolePoolOwner, RoleOperator); err != nil {
		return err
	}
	p.on = on
	return nil
}

// CurrentEpoch returns a copy of the epoch record.
func (p *Pool) CurrentEpoch() CurrentEpoch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

// RestoreEpoch installs a checkpointed epoch so a restarted process keeps
// the id sequence instead of starting over at 1. The id never moves
// backwards.
func (p *Pool) RestoreEpoch(e CurrentEpoch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.ID < p.epoch.ID || e.EndTime.IsZero() {
		return ErrInvalidEpoch
	}
	p.epoch = e
	return nil
}

func (p *Pool) vaultFor(tranche int) (*Vault, error) {
	if tranche < 0 || tranche >= NumTranches {
		return nil, ErrInvalidTrancheIndex
	}
	return p.vaults[tranche], nil
}

// Deposit adds lender liquidity to a tranche, guarded by the pool minimum,
// the liquidity cap and the senior:junior ratio ceiling.
func (p *Pool) Deposit(tranche int, lender common.Address, amount *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return nil, err
	}
	if !p.on {
		return nil, ErrPoolNotOn
	}
	if lender == (common.Address{}) {
		return nil, ErrZeroAddressProvided
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount.Cmp(p.cfg.Settings.MinDepositAmount) < 0 {
		return nil, ErrDepositBelowMinimum
	}
	total := new(big.Int).Add(p.vaults[SeniorTranche].TotalAssets(), p.vaults[JuniorTranche].TotalAssets())
	total.Add(total, amount)
	if total.Cmp(p.cfg.LP.LiquidityCap) > 0 {
		return nil, ErrTrancheLiquidityCapExceeded
	}
	if tranche == SeniorTranche && p.cfg.Settings.MaxSeniorJuniorRatio > 0 {
		projected := new(big.Int).Add(p.vaults[SeniorTranche].TotalAssets(), amount)
		ceiling := new(big.Int).Mul(p.vaults[JuniorTranche].TotalAssets(),
			new(big.Int).SetUint64(p.cfg.Settings.MaxSeniorJuniorRatio))
		if projected.Cmp(ceiling) > 0 {
			return nil, ErrSeniorRatioExceeded
		}
	}
	now := p.cal.Now()
	minted, err := v.Deposit(lender, amount, now)
	if err != nil {
		return nil, err
	}
	p.events.Append(EventDeposit, now, map[string]string{
		"tranche": trancheName(tranche),
		"lender":  lender.Hex(),
		"amount":  amount.String(),
		"shares":  minted.String(),
	})
	p.log.Info("deposit", "tranche", trancheName(tranche), "lender", lender.Hex(), "amount", amount.String(), "shares", minted.String())
	return minted, nil
}

// AddRedemptionRequest escrows lender shares into the current epoch's queue.
// A configured withdrawal lockout holds the lender's whole position for the
// set number of full pay periods after their latest deposit.
func (p *Pool) AddRedemptionRequest(tranche int, lender common.Address, shares *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return err
	}
	if lockout := p.cfg.LP.WithdrawalLockoutPeriods; lockout > 0 {
		if dr := v.DepositRecordOf(lender); dr != nil && !dr.LastDepositTime.IsZero() {
			passed, err := p.cal.NumPeriodsPassed(p.cfg.Settings.PayPeriodDuration, dr.LastDepositTime, p.cal.Now())
			if err != nil {
				return err
			}
			if passed < int(lockout) {
				return ErrRedemptionLockout
			}
		}
	}
	if err := v.AddRedemptionRequest(lender, shares, p.epoch.ID); err != nil {
		return err
	}
	p.events.Append(EventRedemptionRequested, p.cal.Now(), map[string]string{
		"tranche": trancheName(tranche),
		"lender":  lender.Hex(),
		"shares":  shares.String(),
		"epoch":   formatEpoch(p.epoch.ID),
	})
	return nil
}

// CancelRedemptionRequest backs out shares requested in the current epoch.
func (p *Pool) CancelRedemptionRequest(tranche int, lender common.Address, shares *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return err
	}
	if err := v.CancelRedemptionRequest(lender, shares, p.epoch.ID); err != nil {
		return err
	}
	p.events.Append(EventRedemptionCancelled, p.cal.Now(), map[string]string{
		"tranche": trancheName(tranche),
		"lender":  lender.Hex(),
		"shares":  shares.String(),
		"epoch":   formatEpoch(p.epoch.ID),
	})
	return nil
}

// CancellableRedemptionShares reports the lender's still-cancellable shares.
func (p *Pool) CancellableRedemptionShares(tranche int, lender common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return nil, err
	}
	return v.CancellableShares(lender, p.epoch.ID), nil
}

// WithdrawableAssets reports the lender's processed-but-unwithdrawn amount.
func (p *Pool) WithdrawableAssets(tranche int, lender common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return nil, err
	}
	return v.WithdrawableAssets(lender, p.epoch.ID), nil
}

// DisburseRedemption pays the lender everything processed for them so far.
func (p *Pool) DisburseRedemption(tranche int, lender common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return nil, err
	}
	amount, err := v.Disburse(lender, p.epoch.ID)
	if err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		p.events.Append(EventDisbursed, p.cal.Now(), map[string]string{
			"tranche": trancheName(tranche),
			"lender":  lender.Hex(),
			"amount":  amount.String(),
		})
	}
	return amount, nil
}

// ProcessYieldForLenders distributes a tranche's parked profit to its
// lenders. Restricted to the sentinel service account and operators since it
// iterates all lender records.
func (p *Pool) ProcessYieldForLenders(caller common.Address, tranche int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.roles.Authorize(caller, RoleSentinel, RoleOperator, RolePoolOwner); err != nil {
		return nil, err
	}
	v, err := p.vaultFor(tranche)
	if err != nil {
		return nil, err
	}
	distributed, err := v.ProcessYieldForLenders()
	if err != nil {
		return nil, err
	}
	if distributed.Sign() > 0 {
		p.events.Append(EventYieldProcessed, p.cal.Now(), map[string]string{
			"tranche": trancheName(tranche),
			"amount":  distributed.String(),
		})
	}
	return distributed, nil
}

// TotalAssets returns a tranche's asset total.
func (p *Pool) TotalAssets(tranche int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return nil, err
	}
	return v.TotalAssets(), nil
}

// TotalSupply returns a tranche's share supply.
func (p *Pool) TotalSupply(tranche int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return nil, err
	}
	return v.TotalSupply(), nil
}

// SharesOf returns a lender's share balance in a tranche.
func (p *Pool) SharesOf(tranche int, lender common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return nil, err
	}
	return v.SharesOf(lender), nil
}

// ConvertToAssets converts tranche shares to assets at the current price.
func (p *Pool) ConvertToAssets(tranche int, shares *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return nil, err
	}
	return v.ConvertToAssets(shares), nil
}

// ConvertToShares converts an asset amount to tranche shares.
func (p *Pool) ConvertToShares(tranche int, assets *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return nil, err
	}
	return v.ConvertToShares(assets), nil
}

// EpochRedemptionSummary returns a tranche's summary for an epoch.
func (p *Pool) EpochRedemptionSummary(tranche int, epochID uint64) (*EpochRedemptionSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return nil, err
	}
	return v.EpochSummary(epochID), nil
}

// LenderRedemptionRecord returns a lender's caught-up redemption record.
func (p *Pool) LenderRedemptionRecord(tranche int, lender common.Address) (*LenderRedemptionRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return nil, err
	}
	return v.RedemptionRecordOf(lender, p.epoch.ID), nil
}

// DepositRecord returns a lender's deposit record for a tranche.
func (p *Pool) DepositRecord(tranche int, lender common.Address) (*DepositRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return nil, err
	}
	return v.DepositRecordOf(lender), nil
}

// SetReinvestYield flips a lender's yield handling between auto-reinvestment
// and cash payout.
func (p *Pool) SetReinvestYield(tranche int, lender common.Address, reinvest bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vaultFor(tranche)
	if err != nil {
		return err
	}
	return v.SetReinvestYield(lender, reinvest)
}

// FeeManager exposes fee withdrawal operations, guarded by the role checks on
// the withdrawal methods below.
func (p *Pool) Withdrawables() (protocol, poolOwner, ea *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fees.Withdrawables()
}

// WithdrawProtocolFee pays protocol income to the caller, who must hold the
// protocol admin role.
func (p *Pool) WithdrawProtocolFee(caller, to common.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.roles.Authorize(caller, RoleProtocolAdmin); err != nil {
		return err
	}
	return p.fees.WithdrawProtocolFee(to, amount)
}

// WithdrawPoolOwnerFee pays pool-owner income to the caller's target.
func (p *Pool) WithdrawPoolOwnerFee(caller, to common.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.roles.Authorize(caller, RolePoolOwner); err != nil {
		return err
	}
	return p.fees.WithdrawPoolOwnerFee(to, amount)
}

// WithdrawEAFee pays evaluation-agent income to the caller's target.
func (p *Pool) WithdrawEAFee(caller, to common.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.roles.Authorize(caller, RoleEvaluationAgent); err != nil {
		return err
	}
	return p.fees.WithdrawEAFee(to, amount)
}

// AvailableForPool implements the credit manager's funds interface.
func (p *Pool) AvailableForPool() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.safe.AvailableBalanceForPool()
}

// Disburse moves pool cash to a borrower on drawdown.
func (p *Pool) Disburse(to common.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.safe.AvailableBalanceForPool().Cmp(amount) < 0 {
		return ErrInsufficientPoolBalance
	}
	return p.safe.Withdraw(to, amount)
}

// Collect pulls borrower cash into the safe on payment.
func (p *Pool) Collect(from common.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.safe.Deposit(from, amount)
}

// ReportProfit marks the pool as having pending profit for the next close.
func (p *Pool) ReportProfit(amount *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasProfit = true
	if amount != nil && amount.Sign() > 0 {
		p.pendingProfit.Add(p.pendingProfit, amount)
	}
}

// ReportLoss records a principal write-off for the next close.
func (p *Pool) ReportLoss(amount *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasProfit = true
	if amount != nil && amount.Sign() > 0 {
		p.pendingLoss.Add(p.pendingLoss, amount)
		metrics.Pool().ObserveCreditDefault(p.cfg.PoolName)
	}
}

// ReportLossRecovery records recovered cash against earlier write-offs.
func (p *Pool) ReportLossRecovery(amount *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasProfit = true
	if amount != nil && amount.Sign() > 0 {
		p.pendingRecovery.Add(p.pendingRecovery, amount)
	}
}

func trancheName(tranche int) string {
	switch tranche {
	case SeniorTranche:
		return "senior"
	case JuniorTranche:
		return "junior"
	default:
		return "unknown"
	}
}
