package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EpochRedemptionSummary accumulates one epoch's redemption requests for one
// tranche. Requests append to it until the epoch closes; the processed fields
// are set exactly once at close and never change afterwards.
type EpochRedemptionSummary struct {
	EpochID              uint64
	TotalSharesRequested *big.Int
	TotalSharesProcessed *big.Int
	TotalAmountProcessed *big.Int
}

func (s *EpochRedemptionSummary) Clone() *EpochRedemptionSummary {
	if s == nil {
		return nil
	}
	return &EpochRedemptionSummary{
		EpochID:              s.EpochID,
		TotalSharesRequested: new(big.Int).Set(s.TotalSharesRequested),
		TotalSharesProcessed: new(big.Int).Set(s.TotalSharesProcessed),
		TotalAmountProcessed: new(big.Int).Set(s.TotalAmountProcessed),
	}
}

// LenderRedemptionRecord is the flattened per-lender view of the redemption
// queue. NextEpochIdToProcess points at the oldest epoch whose outcome the
// record has not absorbed yet; records catch up lazily on the lender's next
// interaction.
type LenderRedemptionRecord struct {
	NextEpochIdToProcess uint64
	NumSharesRequested   *big.Int
	PrincipalRequested   *big.Int
	TotalAmountProcessed *big.Int
	TotalAmountWithdrawn *big.Int
}

func (r *LenderRedemptionRecord) Clone() *LenderRedemptionRecord {
	if r == nil {
		return nil
	}
	return &LenderRedemptionRecord{
		NextEpochIdToProcess: r.NextEpochIdToProcess,
		NumSharesRequested:   new(big.Int).Set(r.NumSharesRequested),
		PrincipalRequested:   new(big.Int).Set(r.PrincipalRequested),
		TotalAmountProcessed: new(big.Int).Set(r.TotalAmountProcessed),
		TotalAmountWithdrawn: new(big.Int).Set(r.TotalAmountWithdrawn),
	}
}

func (v *Vault) summaryFor(epochID uint64) *EpochRedemptionSummary {
	sum, ok := v.summaries[epochID]
	if !ok {
		sum = &EpochRedemptionSummary{
			EpochID:              epochID,
			TotalSharesRequested: big.NewInt(0),
			TotalSharesProcessed: big.NewInt(0),
			TotalAmountProcessed: big.NewInt(0),
		}
		v.summaries[epochID] = sum
	}
	return sum
}

// EpochSummary returns a copy of the summary for the epoch, nil when no
// request ever landed in it.
func (v *Vault) EpochSummary(epochID uint64) *EpochRedemptionSummary {
	return v.summaries[epochID].Clone()
}

func (v *Vault) redemptionFor(lender common.Address, currentEpochID uint64) *LenderRedemptionRecord {
	rec, ok := v.redemptions[lender]
	if !ok {
		rec = &LenderRedemptionRecord{
			NextEpochIdToProcess: currentEpochID,
			NumSharesRequested:   big.NewInt(0),
			PrincipalRequested:   big.NewInt(0),
			TotalAmountProcessed: big.NewInt(0),
			TotalAmountWithdrawn: big.NewInt(0),
		}
		v.redemptions[lender] = rec
	}
	return rec
}

// RedemptionRecordOf returns a copy of the lender's record after catching it
// up to the current epoch.
func (v *Vault) RedemptionRecordOf(lender common.Address, currentEpochID uint64) *LenderRedemptionRecord {
	rec, ok := v.redemptions[lender]
	if !ok {
		return nil
	}
	v.catchUp(rec, currentEpochID)
	return rec.Clone()
}

// catchUp folds every finalized epoch outcome since NextEpochIdToProcess into
// the lender's record. Because unprocessed shares roll wholly into the next
// epoch's summary, a lender's outstanding shares live in exactly one summary
// at a time and the pro-rata split below is well defined.
func (v *Vault) catchUp(rec *LenderRedemptionRecord, currentEpochID uint64) {
	for e := rec.NextEpochIdToProcess; e < currentEpochID; e++ {
		rec.NextEpochIdToProcess = e + 1
		if rec.NumSharesRequested.Sign() == 0 {
			continue
		}
		sum := v.summaries[e]
		if sum == nil || sum.TotalSharesRequested.Sign() == 0 || sum.TotalSharesProcessed.Sign() == 0 {
			continue
		}
		procShares := new(big.Int).Mul(rec.NumSharesRequested, sum.TotalSharesProcessed)
		procShares.Quo(procShares, sum.TotalSharesRequested)
		procAmount := new(big.Int).Mul(rec.NumSharesRequested, sum.TotalAmountProcessed)
		procAmount.Quo(procAmount, sum.TotalSharesRequested)

		if rec.NumSharesRequested.Sign() > 0 {
			principalCut := new(big.Int).Mul(rec.PrincipalRequested, procShares)
			principalCut.Quo(principalCut, rec.NumSharesRequested)
			rec.PrincipalRequested = new(big.Int).Sub(rec.PrincipalRequested, principalCut)
		}
		rec.NumSharesRequested = new(big.Int).Sub(rec.NumSharesRequested, procShares)
		rec.TotalAmountProcessed = new(big.Int).Add(rec.TotalAmountProcessed, procAmount)
	}
}

// AddRedemptionRequest escrows the lender's shares and accumulates them into
// the current epoch's summary.
func (v *Vault) AddRedemptionRequest(lender common.Address, shares *big.Int, currentEpochID uint64) error {
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bal := v.SharesOf(lender)
	if bal.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}
	rec := v.redemptionFor(lender, currentEpochID)
	v.catchUp(rec, currentEpochID)

	// Move the proportional slice of recorded principal into the request.
	dr := v.deposits[lender]
	if dr != nil && dr.Principal.Sign() > 0 {
		portion := new(big.Int).Mul(dr.Principal, shares)
		portion.Quo(portion, bal)
		dr.Principal = new(big.Int).Sub(dr.Principal, portion)
		rec.PrincipalRequested = new(big.Int).Add(rec.PrincipalRequested, portion)
	}

	v.balances[lender] = new(big.Int).Sub(bal, shares)
	v.escrowedShares = new(big.Int).Add(v.escrowedShares, shares)
	rec.NumSharesRequested = new(big.Int).Add(rec.NumSharesRequested, shares)

	sum := v.summaryFor(currentEpochID)
	sum.TotalSharesRequested = new(big.Int).Add(sum.TotalSharesRequested, shares)

	if v.lastRequestEpoch[lender] != currentEpochID {
		v.sharesInEpoch[lender] = big.NewInt(0)
		v.lastRequestEpoch[lender] = currentEpochID
	}
	v.sharesInEpoch[lender] = new(big.Int).Add(v.sharesInEpoch[lender], shares)
	return nil
}

// CancellableShares returns how many of the lender's requested shares are
// still cancellable: only shares requested in the current, not-yet-closed
// epoch qualify. Requests rolled forward from earlier epochs must wait for
// processing.
func (v *Vault) CancellableShares(lender common.Address, currentEpochID uint64) *big.Int {
	if v.lastRequestEpoch[lender] != currentEpochID {
		return big.NewInt(0)
	}
	if pending, ok := v.sharesInEpoch[lender]; ok {
		return new(big.Int).Set(pending)
	}
	return big.NewInt(0)
}

// CancelRedemptionRequest returns escrowed shares requested in the current
// epoch to the lender and backs the request out of the epoch summary.
func (v *Vault) CancelRedemptionRequest(lender common.Address, shares *big.Int, currentEpochID uint64) error {
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidAmount
	}
	cancellable := v.CancellableShares(lender, currentEpochID)
	if cancellable.Sign() == 0 || shares.Cmp(cancellable) > 0 {
		return ErrNothingToCancel
	}
	rec := v.redemptions[lender]
	v.catchUp(rec, currentEpochID)

	// Give the proportional principal slice back to the deposit record.
	if rec.NumSharesRequested.Sign() > 0 {
		portion := new(big.Int).Mul(rec.PrincipalRequested, shares)
		portion.Quo(portion, rec.NumSharesRequested)
		rec.PrincipalRequested = new(big.Int).Sub(rec.PrincipalRequested, portion)
		if dr := v.deposits[lender]; dr != nil {
			dr.Principal = new(big.Int).Add(dr.Principal, portion)
		}
	}
	rec.NumSharesRequested = new(big.Int).Sub(rec.NumSharesRequested, shares)

	sum := v.summaryFor(currentEpochID)
	sum.TotalSharesRequested = new(big.Int).Sub(sum.TotalSharesRequested, shares)
	v.sharesInEpoch[lender] = new(big.Int).Sub(v.sharesInEpoch[lender], shares)
	v.balances[lender] = new(big.Int).Add(v.SharesOf(lender), shares)
	v.escrowedShares = new(big.Int).Sub(v.escrowedShares, shares)
	return nil
}

// processEpoch settles the closing epoch's summary against the available
// unreserved cash. Insufficient liquidity produces a proportional partial
// fill; unprocessed shares roll into the next epoch's summary. The processed
// amount is earmarked in the safe's redemption reserve. Returns the amount
// processed.
func (v *Vault) processEpoch(closingEpochID uint64) (*big.Int, error) {
	sum, ok := v.summaries[closingEpochID]
	if !ok || sum.TotalSharesRequested.Sign() == 0 {
		return big.NewInt(0), nil
	}
	available := v.safe.AvailableBalanceForPool()
	amountRequested := v.ConvertToAssets(sum.TotalSharesRequested)

	procShares := new(big.Int).Set(sum.TotalSharesRequested)
	procAmount := new(big.Int).Set(amountRequested)
	if amountRequested.Cmp(available) > 0 {
		if available.Sign() == 0 {
			procShares = big.NewInt(0)
			procAmount = big.NewInt(0)
		} else {
			procShares = new(big.Int).Mul(sum.TotalSharesRequested, available)
			procShares.Quo(procShares, amountRequested)
			procAmount = v.ConvertToAssets(procShares)
			if procAmount.Cmp(available) > 0 {
				procAmount = new(big.Int).Set(available)
			}
		}
	}

	sum.TotalSharesProcessed = procShares
	sum.TotalAmountProcessed = procAmount

	if procShares.Sign() > 0 {
		v.totalSupply = new(big.Int).Sub(v.totalSupply, procShares)
		v.totalAssets = new(big.Int).Sub(v.totalAssets, procAmount)
		v.escrowedShares = new(big.Int).Sub(v.escrowedShares, procShares)
		v.safe.ReserveRedemption(procAmount)
	}

	unprocessed := new(big.Int).Sub(sum.TotalSharesRequested, procShares)
	if unprocessed.Sign() > 0 {
		next := v.summaryFor(closingEpochID + 1)
		next.TotalSharesRequested = new(big.Int).Add(next.TotalSharesRequested, unprocessed)
	}
	return procAmount, nil
}

// WithdrawableAssets is the processed-but-not-withdrawn amount for the
// lender, after a lazy catch-up.
func (v *Vault) WithdrawableAssets(lender common.Address, currentEpochID uint64) *big.Int {
	rec, ok := v.redemptions[lender]
	if !ok {
		return big.NewInt(0)
	}
	v.catchUp(rec, currentEpochID)
	out := new(big.Int).Sub(rec.TotalAmountProcessed, rec.TotalAmountWithdrawn)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

// Disburse pays the lender's withdrawable amount out of the safe's redemption
// reserve. Returns the amount paid, zero when nothing is withdrawable.
func (v *Vault) Disburse(lender common.Address, currentEpochID uint64) (*big.Int, error) {
	amount := v.WithdrawableAssets(lender, currentEpochID)
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	v.safe.ReleaseRedemption(amount)
	if err := v.safe.Withdraw(lender, amount); err != nil {
		v.safe.ReserveRedemption(amount)
		return nil, err
	}
	rec := v.redemptions[lender]
	rec.TotalAmountWithdrawn = new(big.Int).Add(rec.TotalAmountWithdrawn, amount)
	return amount, nil
}
