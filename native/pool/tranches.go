package pool

import (
	"math/big"
	"time"

	"tranchepool/calendar"
)

var basisPoints = big.NewInt(10_000)

// SeniorYieldTracker carries the fixed-senior-yield accrual between profit
// distributions. UnpaidYield is any shortfall the pool could not cover; it is
// carried forward indefinitely and paid before junior sees any profit.
type SeniorYieldTracker struct {
	TotalAssets *big.Int
	UnpaidYield *big.Int
	LastUpdated time.Time
}

// TranchesPolicy is the profit waterfall, modelled as a tagged variant
// selected at pool construction.
type TranchesPolicy struct {
	Kind                PolicyKind
	FixedSeniorYieldBps uint64
	RiskAdjustBps       uint64
	tracker             *SeniorYieldTracker
}

func NewTranchesPolicy(lp LPConfig) *TranchesPolicy {
	p := &TranchesPolicy{
		Kind:                lp.TranchesPolicyKind,
		FixedSeniorYieldBps: lp.FixedSeniorYieldBps,
		RiskAdjustBps:       lp.TranchesRiskAdjustBps,
	}
	if p.Kind == FixedSeniorYield {
		p.tracker = &SeniorYieldTracker{
			TotalAssets: big.NewInt(0),
			UnpaidYield: big.NewInt(0),
		}
	}
	return p
}

// Tracker returns a copy of the senior yield tracker, nil for risk-adjusted
// pools.
func (p *TranchesPolicy) Tracker() *SeniorYieldTracker {
	if p.tracker == nil {
		return nil
	}
	return &SeniorYieldTracker{
		TotalAssets: new(big.Int).Set(p.tracker.TotalAssets),
		UnpaidYield: new(big.Int).Set(p.tracker.UnpaidYield),
		LastUpdated: p.tracker.LastUpdated,
	}
}

// DistributeProfit splits a period's profit between the senior and junior
// tranches. assets holds the tranche totals before distribution.
func (p *TranchesPolicy) DistributeProfit(cal calendar.Calendar, profit *big.Int, assets [NumTranches]*big.Int, now time.Time) [NumTranches]*big.Int {
	out, next := p.previewProfit(cal, profit, assets, now)
	p.commitTracker(next)
	return out
}

// previewProfit computes the tranche split without recording it. For
// fixed-yield pools the second return value is the tracker state to install
// via commitTracker once the distribution goes through; it is nil for
// risk-adjusted pools.
func (p *TranchesPolicy) previewProfit(cal calendar.Calendar, profit *big.Int, assets [NumTranches]*big.Int, now time.Time) ([NumTranches]*big.Int, *SeniorYieldTracker) {
	var out [NumTranches]*big.Int
	for i := range out {
		out[i] = big.NewInt(0)
	}
	if profit == nil || profit.Sign() <= 0 {
		if p.Kind == FixedSeniorYield {
			return out, p.accruedTracker(cal, assets[SeniorTranche], now)
		}
		return out, nil
	}

	switch p.Kind {
	case FixedSeniorYield:
		next := p.accruedTracker(cal, assets[SeniorTranche], now)
		owed := new(big.Int).Set(next.UnpaidYield)
		seniorShare := new(big.Int).Set(profit)
		if seniorShare.Cmp(owed) > 0 {
			seniorShare = new(big.Int).Set(owed)
		}
		next.UnpaidYield = new(big.Int).Sub(owed, seniorShare)
		next.TotalAssets = new(big.Int).Add(assets[SeniorTranche], seniorShare)
		out[SeniorTranche] = seniorShare
		out[JuniorTranche] = new(big.Int).Sub(profit, seniorShare)
		return out, next
	case RiskAdjusted:
		total := new(big.Int).Add(assets[SeniorTranche], assets[JuniorTranche])
		if total.Sign() <= 0 {
			out[JuniorTranche] = new(big.Int).Set(profit)
			return out, nil
		}
		seniorShare := new(big.Int).Mul(profit, assets[SeniorTranche])
		seniorShare.Quo(seniorShare, total)
		adjust := new(big.Int).Mul(seniorShare, new(big.Int).SetUint64(p.RiskAdjustBps))
		adjust.Quo(adjust, basisPoints)
		seniorShare.Sub(seniorShare, adjust)
		out[SeniorTranche] = seniorShare
		out[JuniorTranche] = new(big.Int).Sub(profit, seniorShare)
	}
	return out, nil
}

// commitTracker installs a tracker state produced by previewProfit. A nil
// tracker is a no-op.
func (p *TranchesPolicy) commitTracker(t *SeniorYieldTracker) {
	if t != nil {
		p.tracker = t
	}
}

// accruedTracker returns a copy of the tracker rolled forward to now, the
// carried shortfall included. The live tracker is left untouched.
func (p *TranchesPolicy) accruedTracker(cal calendar.Calendar, seniorAssets *big.Int, now time.Time) *SeniorYieldTracker {
	now = now.UTC()
	next := &SeniorYieldTracker{
		TotalAssets: new(big.Int).Set(seniorAssets),
		UnpaidYield: new(big.Int).Set(p.tracker.UnpaidYield),
		LastUpdated: now,
	}
	if !p.tracker.LastUpdated.IsZero() && seniorAssets.Sign() > 0 {
		days, err := cal.DaysDiff(p.tracker.LastUpdated, now)
		if err == nil && days > 0 {
			accrued := new(big.Int).Mul(seniorAssets, new(big.Int).SetUint64(p.FixedSeniorYieldBps))
			accrued.Mul(accrued, big.NewInt(int64(days)))
			accrued.Quo(accrued, big.NewInt(int64(calendar.DaysInYear)))
			accrued.Quo(accrued, basisPoints)
			next.UnpaidYield = new(big.Int).Add(next.UnpaidYield, accrued)
		}
	}
	return next
}

// DistributeLoss allocates a loss across the tranches after the first-loss
// covers have taken their cut: junior absorbs first, the overflow impairs
// senior. The returned array holds each tranche's share.
func (p *TranchesPolicy) DistributeLoss(loss *big.Int, assets [NumTranches]*big.Int) [NumTranches]*big.Int {
	var out [NumTranches]*big.Int
	for i := range out {
		out[i] = big.NewInt(0)
	}
	if loss == nil || loss.Sign() <= 0 {
		return out
	}
	remaining := new(big.Int).Set(loss)
	juniorLoss := remaining
	if juniorLoss.Cmp(assets[JuniorTranche]) > 0 {
		juniorLoss = new(big.Int).Set(assets[JuniorTranche])
	}
	out[JuniorTranche] = new(big.Int).Set(juniorLoss)
	remaining = new(big.Int).Sub(remaining, juniorLoss)
	seniorLoss := remaining
	if seniorLoss.Cmp(assets[SeniorTranche]) > 0 {
		seniorLoss = new(big.Int).Set(assets[SeniorTranche])
	}
	out[SeniorTranche] = new(big.Int).Set(seniorLoss)
	return out
}

// DistributeLossRecovery pays recovered cash back in the reverse of the loss
// order: senior is made whole before junior. losses holds the outstanding
// realized loss per tranche; the returned array is each tranche's recovered
// share, never exceeding its outstanding loss.
func (p *TranchesPolicy) DistributeLossRecovery(recovery *big.Int, losses [NumTranches]*big.Int) [NumTranches]*big.Int {
	var out [NumTranches]*big.Int
	for i := range out {
		out[i] = big.NewInt(0)
	}
	if recovery == nil || recovery.Sign() <= 0 {
		return out
	}
	remaining := new(big.Int).Set(recovery)
	for _, tranche := range [...]int{SeniorTranche, JuniorTranche} {
		if remaining.Sign() == 0 {
			break
		}
		share := new(big.Int).Set(remaining)
		if share.Cmp(losses[tranche]) > 0 {
			share = new(big.Int).Set(losses[tranche])
		}
		out[tranche] = share
		remaining = new(big.Int).Sub(remaining, share)
	}
	return out
}
