package pool

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tranchepool/calendar"
	"tranchepool/ledger"
)

type poolClock struct {
	now time.Time
}

func (c *poolClock) Now() time.Time { return c.now }

var (
	safeAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	ownerAddr = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	lenderA   = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	lenderB   = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	payerAddr = common.HexToAddress("0x00000000000000000000000000000000000000a5")
)

func testConfig() *Config {
	return &Config{
		PoolName: "test-pool",
		Settings: Settings{
			PayPeriodDuration:    calendar.Monthly,
			MinDepositAmount:     big.NewInt(10),
			MaxSeniorJuniorRatio: 4,
		},
		LP: LPConfig{
			LiquidityCap:       big.NewInt(1_000_000),
			TranchesPolicyKind: RiskAdjusted,
		},
		Fees: FeeStructure{},
	}
}

func newTestPool(t *testing.T, clock *poolClock) (*Pool, *ledger.Ledger) {
	t.Helper()
	return newTestPoolWithConfig(t, clock, testConfig())
}

func newTestPoolWithConfig(t *testing.T, clock *poolClock, cfg *Config) (*Pool, *ledger.Ledger) {
	t.Helper()
	l := ledger.New("USD")
	for _, addr := range []common.Address{lenderA, lenderB, payerAddr} {
		if err := l.Mint(addr, big.NewInt(1_000_000)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	cal := calendar.NewWithClock(clock.Now)
	p, err := New(cfg, cal, l, safeAddr, ownerAddr, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return p, l
}

func TestDepositMintsSharesOneToOne(t *testing.T) {
	clock := &poolClock{now: date(2024, time.January, 15)}
	p, _ := newTestPool(t, clock)

	minted, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if minted.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("minted: got %s want 10000", minted)
	}
	supply, _ := p.TotalSupply(JuniorTranche)
	if supply.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("supply: got %s", supply)
	}
	total, _ := p.TotalAssets(JuniorTranche)
	if total.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("assets: got %s", total)
	}
}

func TestDepositGuards(t *testing.T) {
	clock := &poolClock{now: date(2024, time.January, 15)}
	p, _ := newTestPool(t, clock)

	if _, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(5)); err != ErrDepositBelowMinimum {
		t.Fatalf("below minimum: got %v", err)
	}
	if _, err := p.Deposit(SeniorTranche, lenderA, big.NewInt(10_000)); err != ErrSeniorRatioExceeded {
		t.Fatalf("senior with empty junior: got %v", err)
	}
	if _, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(10_000)); err != nil {
		t.Fatalf("junior deposit: %v", err)
	}
	if _, err := p.Deposit(SeniorTranche, lenderB, big.NewInt(40_000)); err != nil {
		t.Fatalf("senior at ratio: %v", err)
	}
	if _, err := p.Deposit(SeniorTranche, lenderB, big.NewInt(10)); err != ErrSeniorRatioExceeded {
		t.Fatalf("senior over ratio: got %v", err)
	}
	if _, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(960_000)); err != ErrTrancheLiquidityCapExceeded {
		t.Fatalf("over cap: got %v", err)
	}
	if err := p.SetEnabled(ownerAddr, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(1_000)); err != ErrPoolNotOn {
		t.Fatalf("disabled pool: got %v", err)
	}
}

func TestShareAssetRoundTrip(t *testing.T) {
	clock := &poolClock{now: date(2024, time.January, 15)}
	p, _ := newTestPool(t, clock)

	if _, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Raise the share price above 1 with a distributed profit.
	if err := p.Collect(payerAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("collect: %v", err)
	}
	p.ReportProfit(big.NewInt(1_000))
	clock.now = date(2024, time.February, 1)
	if err := p.CloseEpoch(); err != nil {
		t.Fatalf("close: %v", err)
	}

	supply, _ := p.TotalSupply(JuniorTranche)
	assets, _ := p.TotalAssets(JuniorTranche)
	if assets.Cmp(big.NewInt(11_000)) != 0 {
		t.Fatalf("assets after profit: got %s want 11000", assets)
	}
	roundTrip, _ := p.ConvertToAssets(JuniorTranche, supply)
	if roundTrip.Cmp(assets) != 0 {
		t.Fatalf("convertToAssets(totalSupply) = %s, totalAssets = %s", roundTrip, assets)
	}
	shares, _ := p.ConvertToShares(JuniorTranche, assets)
	if shares.Cmp(supply) != 0 {
		t.Fatalf("convertToShares(totalAssets) = %s, totalSupply = %s", shares, supply)
	}
}

func TestRedemptionRequestAndCancelSameEpoch(t *testing.T) {
	clock := &poolClock{now: date(2024, time.January, 15)}
	p, _ := newTestPool(t, clock)

	if _, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := p.AddRedemptionRequest(JuniorTranche, lenderA, big.NewInt(5_000)); err != nil {
		t.Fatalf("request: %v", err)
	}
	cancellable, err := p.CancellableRedemptionShares(JuniorTranche, lenderA)
	if err != nil {
		t.Fatalf("cancellable: %v", err)
	}
	if cancellable.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("cancellable: got %s want 5000", cancellable)
	}
	if err := p.CancelRedemptionRequest(JuniorTranche, lenderA, big.NewInt(5_000)); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	epoch := p.CurrentEpoch()
	sum, err := p.EpochRedemptionSummary(JuniorTranche, epoch.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalSharesRequested.Sign() != 0 {
		t.Fatalf("summary requested after cancel: got %s", sum.TotalSharesRequested)
	}
	rec, err := p.LenderRedemptionRecord(JuniorTranche, lenderA)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.NumSharesRequested.Sign() != 0 {
		t.Fatalf("record shares after cancel: got %s", rec.NumSharesRequested)
	}
	dr, err := p.DepositRecord(JuniorTranche, lenderA)
	if err != nil {
		t.Fatalf("deposit record: %v", err)
	}
	if dr.Principal.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("principal restored: got %s want 10000", dr.Principal)
	}
}

func TestCancelMoreThanRequestedFails(t *testing.T) {
	clock := &poolClock{now: date(2024, time.January, 15)}
	p, _ := newTestPool(t, clock)

	if _, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := p.AddRedemptionRequest(JuniorTranche, lenderA, big.NewInt(2_000)); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := p.CancelRedemptionRequest(JuniorTranche, lenderA, big.NewInt(3_000)); err != ErrNothingToCancel {
		t.Fatalf("over-cancel: got %v", err)
	}
}

func TestCloseEpochFullRedemption(t *testing.T) {
	clock := &poolClock{now: date(2024, time.January, 15)}
	p, l := newTestPool(t, clock)

	if _, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := p.AddRedemptionRequest(JuniorTranche, lenderA, big.NewInt(4_000)); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := p.CloseEpoch(); err != ErrEpochNotDue {
		t.Fatalf("early close: got %v", err)
	}
	clock.now = date(2024, time.February, 1)
	if err := p.CloseEpoch(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sum, _ := p.EpochRedemptionSummary(JuniorTranche, 1)
	if sum.TotalSharesProcessed.Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("shares processed: got %s want 4000", sum.TotalSharesProcessed)
	}
	if sum.TotalAmountProcessed.Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("amount processed: got %s want 4000", sum.TotalAmountProcessed)
	}

	balBefore := l.BalanceOf(lenderA)
	paid, err := p.DisburseRedemption(JuniorTranche, lenderA)
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if paid.Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("disbursed: got %s want 4000", paid)
	}
	balAfter := l.BalanceOf(lenderA)
	if new(big.Int).Sub(balAfter, balBefore).Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("lender cash delta: got %s", new(big.Int).Sub(balAfter, balBefore))
	}

	// Conservation: the lender record's processed total matches the summary.
	rec, _ := p.LenderRedemptionRecord(JuniorTranche, lenderA)
	if rec.TotalAmountProcessed.Cmp(sum.TotalAmountProcessed) != 0 {
		t.Fatalf("lender processed %s, summary processed %s", rec.TotalAmountProcessed, sum.TotalAmountProcessed)
	}
	if rec.TotalAmountWithdrawn.Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("withdrawn: got %s", rec.TotalAmountWithdrawn)
	}
}

func TestCloseEpochPartialFillRollsForward(t *testing.T) {
	clock := &poolClock{now: date(2024, time.January, 15)}
	p, _ := newTestPool(t, clock)

	if _, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Simulate a drawdown: 8000 of the pool's cash is lent out.
	if err := p.Disburse(payerAddr, big.NewInt(8_000)); err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if err := p.AddRedemptionRequest(JuniorTranche, lenderA, big.NewInt(5_000)); err != nil {
		t.Fatalf("request: %v", err)
	}

	clock.now = date(2024, time.February, 1)
	if err := p.CloseEpoch(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Only 2000 of cash is available against a 5000 request.
	sum, _ := p.EpochRedemptionSummary(JuniorTranche, 1)
	if sum.TotalSharesProcessed.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("shares processed: got %s want 2000", sum.TotalSharesProcessed)
	}
	if sum.TotalAmountProcessed.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("amount processed: got %s want 2000", sum.TotalAmountProcessed)
	}
	if sum.TotalSharesRequested.Cmp(sum.TotalSharesProcessed) <= 0 {
		t.Fatalf("partial fill expected, requested %s processed %s",
			sum.TotalSharesRequested, sum.TotalSharesProcessed)
	}

	// The unfilled 3000 shares are carried into epoch 2's summary.
	next, _ := p.EpochRedemptionSummary(JuniorTranche, 2)
	if next == nil || next.TotalSharesRequested.Cmp(big.NewInt(3_000)) != 0 {
		t.Fatalf("rolled-forward summary: %+v", next)
	}

	// Rolled-forward requests are not cancellable.
	cancellable, _ := p.CancellableRedemptionShares(JuniorTranche, lenderA)
	if cancellable.Sign() != 0 {
		t.Fatalf("rolled shares cancellable: got %s", cancellable)
	}

	withdrawable, _ := p.WithdrawableAssets(JuniorTranche, lenderA)
	if withdrawable.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("withdrawable: got %s want 2000", withdrawable)
	}
	rec, _ := p.LenderRedemptionRecord(JuniorTranche, lenderA)
	if rec.NumSharesRequested.Cmp(big.NewInt(3_000)) != 0 {
		t.Fatalf("outstanding shares: got %s want 3000", rec.NumSharesRequested)
	}

	// Repay the pool and close again: the remainder fills.
	if err := p.Collect(payerAddr, big.NewInt(8_000)); err != nil {
		t.Fatalf("collect: %v", err)
	}
	clock.now = date(2024, time.March, 1)
	if err := p.CloseEpoch(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	withdrawable, _ = p.WithdrawableAssets(JuniorTranche, lenderA)
	if withdrawable.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("withdrawable after refill: got %s want 5000", withdrawable)
	}
	sum2, _ := p.EpochRedemptionSummary(JuniorTranche, 2)
	if sum2.TotalSharesRequested.Cmp(sum2.TotalSharesProcessed) != 0 {
		t.Fatalf("second epoch should fully fill: requested %s processed %s",
			sum2.TotalSharesRequested, sum2.TotalSharesProcessed)
	}
}

func TestEpochMonotonicity(t *testing.T) {
	clock := &poolClock{now: date(2024, time.January, 15)}
	p, _ := newTestPool(t, clock)

	first := p.CurrentEpoch()
	if first.ID != 1 {
		t.Fatalf("first epoch id: got %d", first.ID)
	}
	clock.now = date(2024, time.February, 1)
	if err := p.CloseEpoch(); err != nil {
		t.Fatalf("close: %v", err)
	}
	second := p.CurrentEpoch()
	if second.ID != first.ID+1 {
		t.Fatalf("epoch id after close: got %d", second.ID)
	}
	if !second.EndTime.After(first.EndTime) {
		t.Fatalf("end time not increasing: %s then %s", first.EndTime, second.EndTime)
	}
	clock.now = date(2024, time.March, 1)
	if err := p.CloseEpoch(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	third := p.CurrentEpoch()
	if third.ID != second.ID+1 || !third.EndTime.After(second.EndTime) {
		t.Fatalf("epoch monotonicity violated: %+v then %+v", second, third)
	}
}

func TestProcessYieldReinvestsPrincipal(t *testing.T) {
	clock := &poolClock{now: date(2024, time.January, 15)}
	p, l := newTestPool(t, clock)

	if _, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(6_000)); err != nil {
		t.Fatalf("deposit A: %v", err)
	}
	if _, err := p.Deposit(JuniorTranche, lenderB, big.NewInt(4_000)); err != nil {
		t.Fatalf("deposit B: %v", err)
	}
	if err := p.SetReinvestYield(JuniorTranche, lenderB, false); err != nil {
		t.Fatalf("set reinvest: %v", err)
	}

	if err := p.Collect(payerAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("collect: %v", err)
	}
	p.ReportProfit(big.NewInt(1_000))
	clock.now = date(2024, time.February, 1)
	if err := p.CloseEpoch(); err != nil {
		t.Fatalf("close: %v", err)
	}

	balBefore := l.BalanceOf(lenderB)
	distributed, err := p.ProcessYieldForLenders(ownerAddr, JuniorTranche)
	if err != nil {
		t.Fatalf("process yield: %v", err)
	}
	if distributed.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("distributed: got %s want 1000", distributed)
	}

	// Lender A reinvests: principal grows by its 60% share.
	drA, _ := p.DepositRecord(JuniorTranche, lenderA)
	if drA.Principal.Cmp(big.NewInt(6_600)) != 0 {
		t.Fatalf("lender A principal: got %s want 6600", drA.Principal)
	}
	// Lender B opted out: its 400 arrives as cash.
	delta := new(big.Int).Sub(l.BalanceOf(lenderB), balBefore)
	if delta.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("lender B payout: got %s want 400", delta)
	}
	if _, err := p.ProcessYieldForLenders(payerAddr, JuniorTranche); err != ErrUnauthorized {
		t.Fatalf("unauthorized yield processing: got %v", err)
	}
}

func TestLossWaterfallThroughCoverAndTranches(t *testing.T) {
	clock := &poolClock{now: date(2024, time.January, 15)}
	p, _ := newTestPool(t, clock)

	coverAddr := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	cover, err := p.AddFirstLossCover("borrower", CoverConfig{
		CoverRatePerLossInBps: 10_000,
		CoverCapPerLoss:       big.NewInt(5_000),
	}, coverAddr)
	if err != nil {
		t.Fatalf("add cover: %v", err)
	}
	if _, err := cover.Deposit(lenderB, big.NewInt(5_000)); err != nil {
		t.Fatalf("cover deposit: %v", err)
	}
	if _, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(10_000)); err != nil {
		t.Fatalf("junior deposit: %v", err)
	}
	if _, err := p.Deposit(SeniorTranche, lenderB, big.NewInt(40_000)); err != nil {
		t.Fatalf("senior deposit: %v", err)
	}

	// A 20k write-off: cover takes 5k, junior 10k, senior 5k.
	p.ReportLoss(big.NewInt(20_000))
	clock.now = date(2024, time.February, 1)
	if err := p.CloseEpoch(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := cover.TotalAssets(); got.Sign() != 0 {
		t.Fatalf("cover assets after loss: got %s want 0", got)
	}
	junior, _ := p.TotalAssets(JuniorTranche)
	if junior.Sign() != 0 {
		t.Fatalf("junior assets after loss: got %s want 0", junior)
	}
	senior, _ := p.TotalAssets(SeniorTranche)
	if senior.Cmp(big.NewInt(35_000)) != 0 {
		t.Fatalf("senior assets after loss: got %s want 35000", senior)
	}

	// A 12k recovery: senior made whole first, then junior, then the cover.
	if err := p.Collect(payerAddr, big.NewInt(12_000)); err != nil {
		t.Fatalf("collect: %v", err)
	}
	p.ReportLossRecovery(big.NewInt(12_000))
	clock.now = date(2024, time.March, 1)
	if err := p.CloseEpoch(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	senior, _ = p.TotalAssets(SeniorTranche)
	if senior.Cmp(big.NewInt(40_000)) != 0 {
		t.Fatalf("senior after recovery: got %s want 40000", senior)
	}
	junior, _ = p.TotalAssets(JuniorTranche)
	if junior.Cmp(big.NewInt(7_000)) != 0 {
		t.Fatalf("junior after recovery: got %s want 7000", junior)
	}
	if got := cover.TotalAssets(); got.Sign() != 0 {
		t.Fatalf("cover after partial recovery: got %s want 0", got)
	}
}

func TestCloseEpochProfitShortfallLeavesNoPartialState(t *testing.T) {
	clock := &poolClock{now: date(2024, time.January, 15)}
	cfg := testConfig()
	cfg.Fees = FeeStructure{ProtocolFeeBps: 1_000}
	p, _ := newTestPoolWithConfig(t, clock, cfg)

	coverAddr := common.HexToAddress("0x00000000000000000000000000000000000000c2")
	cover, err := p.AddFirstLossCover("borrower", CoverConfig{
		RiskYieldMultiplierBps: 10_000,
	}, coverAddr)
	if err != nil {
		t.Fatalf("add cover: %v", err)
	}
	if _, err := cover.Deposit(lenderB, big.NewInt(50)); err != nil {
		t.Fatalf("cover deposit: %v", err)
	}
	if _, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(100)); err != nil {
		t.Fatalf("junior deposit: %v", err)
	}

	// Profit reported before its cash reaches the safe: the cover carve-out
	// cannot be funded and the close must fail without moving anything.
	p.ReportProfit(big.NewInt(10_000))
	clock.now = date(2024, time.February, 1)

	if err := p.CloseEpoch(); !errors.Is(err, ErrInsufficientPoolBalance) {
		t.Fatalf("close: got %v want ErrInsufficientPoolBalance", err)
	}
	if got := p.Safe().FeeReserve(); got.Sign() != 0 {
		t.Fatalf("fee reserve after failed close: got %s want 0", got)
	}
	if err := p.CloseEpoch(); !errors.Is(err, ErrInsufficientPoolBalance) {
		t.Fatalf("retry: got %v want ErrInsufficientPoolBalance", err)
	}
	if got := p.Safe().FeeReserve(); got.Sign() != 0 {
		t.Fatalf("fee reserve after retry: got %s want 0", got)
	}

	// Once the cash arrives the close goes through with a single fee skim.
	if err := p.Collect(payerAddr, big.NewInt(10_000)); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if err := p.CloseEpoch(); err != nil {
		t.Fatalf("close after collect: %v", err)
	}
	if got := p.Safe().FeeReserve(); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("fee reserve after close: got %s want 1000", got)
	}
}

func TestRedemptionLockoutHoldsFreshDeposits(t *testing.T) {
	clock := &poolClock{now: date(2024, time.January, 15)}
	cfg := testConfig()
	cfg.LP.WithdrawalLockoutPeriods = 1
	p, _ := newTestPoolWithConfig(t, clock, cfg)

	if _, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	err := p.AddRedemptionRequest(JuniorTranche, lenderA, big.NewInt(4_000))
	if !errors.Is(err, ErrRedemptionLockout) {
		t.Fatalf("request inside lockout: got %v want ErrRedemptionLockout", err)
	}

	clock.now = date(2024, time.February, 10)
	if err := p.AddRedemptionRequest(JuniorTranche, lenderA, big.NewInt(4_000)); err != nil {
		t.Fatalf("request after lockout: %v", err)
	}

	// A fresh deposit restarts the lockout for the whole position.
	if _, err := p.Deposit(JuniorTranche, lenderA, big.NewInt(1_000)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	err = p.AddRedemptionRequest(JuniorTranche, lenderA, big.NewInt(1_000))
	if !errors.Is(err, ErrRedemptionLockout) {
		t.Fatalf("request after fresh deposit: got %v want ErrRedemptionLockout", err)
	}
}

func TestRestoreEpochResumesSequence(t *testing.T) {
	clock := &poolClock{now: date(2024, time.January, 15)}
	p, _ := newTestPool(t, clock)

	restored := CurrentEpoch{ID: 7, EndTime: date(2024, time.March, 1)}
	if err := p.RestoreEpoch(restored); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got := p.CurrentEpoch()
	if got.ID != 7 || !got.EndTime.Equal(restored.EndTime) {
		t.Fatalf("restored epoch: got %+v", got)
	}

	// Checkpoints never rewind the sequence.
	err := p.RestoreEpoch(CurrentEpoch{ID: 3, EndTime: date(2024, time.April, 1)})
	if !errors.Is(err, ErrInvalidEpoch) {
		t.Fatalf("rewind: got %v want ErrInvalidEpoch", err)
	}

	clock.now = date(2024, time.March, 1)
	if err := p.CloseEpoch(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := p.CurrentEpoch().ID; got != 8 {
		t.Fatalf("epoch id after close: got %d want 8", got)
	}
}

func TestCloseEpochAfterDowntimeCatchesUpInOneClose(t *testing.T) {
	clock := &poolClock{now: date(2024, time.January, 15)}
	p, _ := newTestPool(t, clock)

	// The February, March and April boundaries pass with no close.
	clock.now = date(2024, time.May, 10)
	if err := p.CloseEpoch(); err != nil {
		t.Fatalf("close: %v", err)
	}
	e := p.CurrentEpoch()
	if e.ID != 2 {
		t.Fatalf("epoch id: got %d want 2", e.ID)
	}
	if want := date(2024, time.June, 1); !e.EndTime.Equal(want) {
		t.Fatalf("end time: got %s want %s", e.EndTime, want)
	}
	if err := p.CloseEpoch(); !errors.Is(err, ErrEpochNotDue) {
		t.Fatalf("immediate second close: got %v want ErrEpochNotDue", err)
	}
}
