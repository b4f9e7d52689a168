package pool

import (
	"math/big"
	"strconv"
	"time"

	"tranchepool/observability/metrics"
)

func formatEpoch(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// CloseEpoch advances the pool to the next epoch. Callable by anyone once the
// reference time reaches the epoch's end: (1) pending profit, loss and
// recovery are realized through the fee skim, the cover carve-out and the
// tranche waterfall; (2) each tranche settles its redemption queue against
// the unreserved safe balance, partially filling when liquidity is short;
// (3) the epoch id and end time advance.
func (p *Pool) CloseEpoch() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.cal.Now()
	if now.Before(p.epoch.EndTime) {
		return ErrEpochNotDue
	}

	if p.hasProfit {
		if err := p.distributePnL(now); err != nil {
			return err
		}
		p.hasProfit = false
	}

	for _, cover := range p.covers {
		paid, err := cover.PayoutYield()
		if err != nil {
			return err
		}
		if paid.Sign() > 0 {
			p.log.Info("cover yield paid out", "cover", cover.Name(), "amount", paid.String())
		}
	}

	if len(p.covers) > 0 {
		swept, err := p.fees.InvestFeesInCover(p.covers[0], p.poolOwner)
		if err != nil {
			return err
		}
		if swept.Sign() > 0 {
			p.events.Append(EventFeesInvestedInCover, now, map[string]string{
				"cover":  p.covers[0].Name(),
				"amount": swept.String(),
			})
		}
	}

	for tranche, v := range p.vaults {
		requested := big.NewInt(0)
		if sum := v.EpochSummary(p.epoch.ID); sum != nil {
			requested = sum.TotalSharesRequested
		}
		processed, err := v.processEpoch(p.epoch.ID)
		if err != nil {
			return err
		}
		if requested.Sign() == 0 {
			continue
		}
		sum := v.EpochSummary(p.epoch.ID)
		partial := sum.TotalSharesProcessed.Cmp(requested) < 0
		p.events.Append(EventRedemptionProcessed, now, map[string]string{
			"tranche":          trancheName(tranche),
			"epoch":            formatEpoch(p.epoch.ID),
			"shares_requested": requested.String(),
			"shares_processed": sum.TotalSharesProcessed.String(),
			"amount":           processed.String(),
		})
		metrics.Pool().ObserveRedemptionAmount(p.cfg.PoolName, tranche, toFloat(processed))
		if partial {
			metrics.Pool().ObservePartialFill(p.cfg.PoolName, tranche)
			p.log.Warn("redemption partially filled",
				"tranche", trancheName(tranche),
				"epoch", p.epoch.ID,
				"shares_requested", requested.String(),
				"shares_processed", sum.TotalSharesProcessed.String())
		}
	}

	closedID := p.epoch.ID
	p.epoch.ID++
	p.epoch.EndTime = p.cal.StartDateOfNextPeriod(p.cfg.Settings.PayPeriodDuration, now)

	for tranche, v := range p.vaults {
		metrics.Pool().SetTrancheAssets(p.cfg.PoolName, tranche, toFloat(v.TotalAssets()))
	}
	metrics.Pool().SetFeeReserve(toFloat(p.safe.FeeReserve()))
	metrics.Pool().SetRedemptionReserve(toFloat(p.safe.RedemptionReserve()))
	metrics.Pool().ObserveEpochClosed(p.cfg.PoolName)

	p.events.Append(EventEpochClosed, now, map[string]string{
		"epoch":    formatEpoch(closedID),
		"end_time": p.epoch.EndTime.Format(time.RFC3339),
	})
	p.log.Info("epoch closed", "epoch", closedID, "next_epoch", p.epoch.ID, "next_end_time", p.epoch.EndTime)
	return nil
}

// distributePnL realizes the pending loss, recovery and profit in that order.
func (p *Pool) distributePnL(now time.Time) error {
	if p.pendingLoss.Sign() > 0 {
		if err := p.distributeLoss(p.pendingLoss, now); err != nil {
			return err
		}
		p.pendingLoss = big.NewInt(0)
	}
	if p.pendingRecovery.Sign() > 0 {
		if err := p.distributeLossRecovery(p.pendingRecovery, now); err != nil {
			return err
		}
		p.pendingRecovery = big.NewInt(0)
	}
	if p.pendingProfit.Sign() > 0 {
		if err := p.distributeProfit(p.pendingProfit, now); err != nil {
			return err
		}
		p.pendingProfit = big.NewInt(0)
	} else if p.policy.Kind == FixedSeniorYield {
		// Keep the senior yield tracker rolling even through profitless
		// periods so the shortfall accrues.
		assets := p.trancheAssets()
		p.policy.DistributeProfit(p.cal, big.NewInt(0), assets, now)
	}
	return nil
}

func (p *Pool) trancheAssets() [NumTranches]*big.Int {
	var out [NumTranches]*big.Int
	for i, v := range p.vaults {
		out[i] = v.TotalAssets()
	}
	return out
}

// distributeLoss runs the loss waterfall: covers in priority order, then
// junior, then senior. A loss beyond the pool's whole capital is clamped and
// logged rather than failed, since the write-off already happened.
func (p *Pool) distributeLoss(loss *big.Int, now time.Time) error {
	remaining := new(big.Int).Set(loss)
	for _, cover := range p.covers {
		if remaining.Sign() == 0 {
			break
		}
		covered, left, err := cover.CoverLoss(remaining)
		if err != nil {
			return err
		}
		if covered.Sign() > 0 {
			metrics.Pool().ObserveLossAbsorbed(p.cfg.PoolName, "cover", toFloat(covered))
			p.events.Append(EventLossAbsorbed, now, map[string]string{
				"layer":  "cover",
				"cover":  cover.Name(),
				"amount": covered.String(),
			})
		}
		remaining = left
	}

	shares := p.policy.DistributeLoss(remaining, p.trancheAssets())
	for _, tranche := range [...]int{JuniorTranche, SeniorTranche} {
		if shares[tranche].Sign() == 0 {
			continue
		}
		absorbed := p.vaults[tranche].AddLoss(shares[tranche])
		p.trancheLosses[tranche].Add(p.trancheLosses[tranche], absorbed)
		remaining = new(big.Int).Sub(remaining, absorbed)
		metrics.Pool().ObserveLossAbsorbed(p.cfg.PoolName, trancheName(tranche), toFloat(absorbed))
		p.events.Append(EventLossAbsorbed, now, map[string]string{
			"layer":  trancheName(tranche),
			"amount": absorbed.String(),
		})
	}
	if remaining.Sign() > 0 {
		p.log.Error("loss exceeds pool capital, clamped",
			"loss", loss.String(), "unabsorbed", remaining.String())
	}
	return nil
}

// distributeLossRecovery pays recovered cash back senior first, then junior,
// then the covers in reverse priority order.
func (p *Pool) distributeLossRecovery(recovery *big.Int, now time.Time) error {
	shares := p.policy.DistributeLossRecovery(recovery, p.trancheLosses)
	remaining := new(big.Int).Set(recovery)
	for _, tranche := range [...]int{SeniorTranche, JuniorTranche} {
		if shares[tranche].Sign() == 0 {
			continue
		}
		p.vaults[tranche].AddProfit(shares[tranche])
		p.trancheLosses[tranche].Sub(p.trancheLosses[tranche], shares[tranche])
		remaining.Sub(remaining, shares[tranche])
		p.events.Append(EventLossRecovered, now, map[string]string{
			"layer":  trancheName(tranche),
			"amount": shares[tranche].String(),
		})
	}
	for i := len(p.covers) - 1; i >= 0 && remaining.Sign() > 0; i-- {
		recovered, left, err := p.covers[i].RecoverLoss(remaining)
		if err != nil {
			return err
		}
		if recovered.Sign() > 0 {
			p.events.Append(EventLossRecovered, now, map[string]string{
				"layer":  "cover",
				"cover":  p.covers[i].Name(),
				"amount": recovered.String(),
			})
		}
		remaining = left
	}
	return nil
}

// distributeProfit skims fees, runs the waterfall and carves the covers'
// yield share out of the junior portion. Tranche shares are parked in the
// safe's unprocessed-profit buckets until ProcessYieldForLenders runs.
// Every amount is computed up front and the safe is checked against the
// cover payout before anything is recorded, so a failed distribution leaves
// the fee accruals, the yield tracker and the pending profit untouched and
// the close can be retried without double counting.
func (p *Pool) distributeProfit(profit *big.Int, now time.Time) error {
	protocol, poolOwner, ea := p.fees.ProfitCuts(profit)
	remaining := new(big.Int).Sub(profit, protocol)
	remaining.Sub(remaining, poolOwner)
	remaining.Sub(remaining, ea)
	split, tracker := p.policy.previewProfit(p.cal, remaining, p.trancheAssets(), now)

	juniorShare := split[JuniorTranche]
	coverPayout := make([]*big.Int, len(p.covers))
	paid := big.NewInt(0)
	if juniorShare.Sign() > 0 && len(p.covers) > 0 {
		weights := big.NewInt(0)
		for _, cover := range p.covers {
			weights.Add(weights, cover.YieldWeight())
		}
		if weights.Sign() > 0 {
			total := new(big.Int).Add(weights, p.vaults[JuniorTranche].TotalAssets())
			coverPool := new(big.Int).Mul(juniorShare, weights)
			coverPool.Quo(coverPool, total)
			for i, cover := range p.covers {
				weight := cover.YieldWeight()
				if weight.Sign() == 0 {
					continue
				}
				share := new(big.Int).Mul(coverPool, weight)
				share.Quo(share, weights)
				if share.Sign() == 0 {
					continue
				}
				coverPayout[i] = share
				paid.Add(paid, share)
			}
		}
	}
	if paid.Sign() > 0 && p.safe.Balance().Cmp(paid) < 0 {
		return ErrInsufficientPoolBalance
	}

	p.fees.RecordProfitCuts(protocol, poolOwner, ea)
	p.policy.commitTracker(tracker)
	for i, cover := range p.covers {
		if coverPayout[i] == nil {
			continue
		}
		if err := p.safe.Withdraw(cover.addr, coverPayout[i]); err != nil {
			return err
		}
	}
	if paid.Sign() > 0 {
		juniorShare = new(big.Int).Sub(juniorShare, paid)
	}

	if err := p.safe.AddUnprocessedProfit(SeniorTranche, split[SeniorTranche]); err != nil {
		return err
	}
	if err := p.safe.AddUnprocessedProfit(JuniorTranche, juniorShare); err != nil {
		return err
	}
	p.vaults[SeniorTranche].AddProfit(split[SeniorTranche])
	p.vaults[JuniorTranche].AddProfit(juniorShare)

	metrics.Pool().ObserveProfitDistributed(p.cfg.PoolName, toFloat(profit))
	p.events.Append(EventProfitDistributed, now, map[string]string{
		"profit": profit.String(),
		"senior": split[SeniorTranche].String(),
		"junior": juniorShare.String(),
	})
	p.log.Info("profit distributed",
		"profit", profit.String(),
		"senior", split[SeniorTranche].String(),
		"junior", juniorShare.String())
	return nil
}

func toFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
