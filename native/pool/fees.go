package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FeeManager accrues protocol, pool-owner and evaluation-agent fees out of
// each period's realized profit and lets the fee recipients withdraw them,
// clamped to the safe's fee reserve. Surplus above the reinvestment threshold
// can be swept into the admin first-loss cover at epoch close.
type FeeManager struct {
	fees FeeStructure
	safe *Safe

	protocolIncome  *big.Int
	poolOwnerIncome *big.Int
	eaIncome        *big.Int

	protocolWithdrawn  *big.Int
	poolOwnerWithdrawn *big.Int
	eaWithdrawn        *big.Int
}

func NewFeeManager(fees FeeStructure, safe *Safe) *FeeManager {
	return &FeeManager{
		fees:               fees,
		safe:               safe,
		protocolIncome:     big.NewInt(0),
		poolOwnerIncome:    big.NewInt(0),
		eaIncome:           big.NewInt(0),
		protocolWithdrawn:  big.NewInt(0),
		poolOwnerWithdrawn: big.NewInt(0),
		eaWithdrawn:        big.NewInt(0),
	}
}

func feeCut(profit *big.Int, bps uint64) *big.Int {
	if profit.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(profit, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

// ProfitCuts computes the per-recipient fee take on profit without recording
// anything.
func (f *FeeManager) ProfitCuts(profit *big.Int) (protocol, poolOwner, ea *big.Int) {
	if profit == nil || profit.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0), big.NewInt(0)
	}
	return feeCut(profit, f.fees.ProtocolFeeBps),
		feeCut(profit, f.fees.PoolOwnerFeeBps),
		feeCut(profit, f.fees.EAFeeBps)
}

// RecordProfitCuts accrues previously computed cuts and reserves their cash
// in the safe.
func (f *FeeManager) RecordProfitCuts(protocol, poolOwner, ea *big.Int) {
	f.protocolIncome.Add(f.protocolIncome, protocol)
	f.poolOwnerIncome.Add(f.poolOwnerIncome, poolOwner)
	f.eaIncome.Add(f.eaIncome, ea)

	total := new(big.Int).Add(protocol, poolOwner)
	total.Add(total, ea)
	f.safe.AddFeeReserve(total)
}

// DistributeProfit skims the configured fees off profit, reserves their cash
// in the safe and returns the remainder available to the tranches.
func (f *FeeManager) DistributeProfit(profit *big.Int) *big.Int {
	if profit == nil || profit.Sign() <= 0 {
		return big.NewInt(0)
	}
	protocol, poolOwner, ea := f.ProfitCuts(profit)
	f.RecordProfitCuts(protocol, poolOwner, ea)

	out := new(big.Int).Sub(profit, protocol)
	out.Sub(out, poolOwner)
	return out.Sub(out, ea)
}

// Withdrawables returns the accrued-minus-withdrawn amount per fee recipient,
// each clamped to the safe's available fee balance.
func (f *FeeManager) Withdrawables() (protocol, poolOwner, ea *big.Int) {
	available := f.safe.AvailableBalanceForFees()
	clamp := func(income, withdrawn *big.Int) *big.Int {
		out := new(big.Int).Sub(income, withdrawn)
		if out.Sign() < 0 {
			return big.NewInt(0)
		}
		if out.Cmp(available) > 0 {
			return new(big.Int).Set(available)
		}
		return out
	}
	return clamp(f.protocolIncome, f.protocolWithdrawn),
		clamp(f.poolOwnerIncome, f.poolOwnerWithdrawn),
		clamp(f.eaIncome, f.eaWithdrawn)
}

// WithdrawProtocolFee pays accrued protocol income to the recipient.
func (f *FeeManager) WithdrawProtocolFee(to common.Address, amount *big.Int) error {
	withdrawable, _, _ := f.Withdrawables()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.Cmp(withdrawable) > 0 {
		return ErrProtocolInsufficientLiquidity
	}
	if err := f.payOut(to, amount); err != nil {
		return err
	}
	f.protocolWithdrawn.Add(f.protocolWithdrawn, amount)
	return nil
}

// WithdrawPoolOwnerFee pays accrued pool-owner income to the recipient.
func (f *FeeManager) WithdrawPoolOwnerFee(to common.Address, amount *big.Int) error {
	_, withdrawable, _ := f.Withdrawables()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.Cmp(withdrawable) > 0 {
		return ErrPoolOwnerInsufficientLiquidity
	}
	if err := f.payOut(to, amount); err != nil {
		return err
	}
	f.poolOwnerWithdrawn.Add(f.poolOwnerWithdrawn, amount)
	return nil
}

// WithdrawEAFee pays accrued evaluation-agent income to the recipient.
func (f *FeeManager) WithdrawEAFee(to common.Address, amount *big.Int) error {
	_, _, withdrawable := f.Withdrawables()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.Cmp(withdrawable) > 0 {
		return ErrEvaluationAgentInsufficientLiquidity
	}
	if err := f.payOut(to, amount); err != nil {
		return err
	}
	f.eaWithdrawn.Add(f.eaWithdrawn, amount)
	return nil
}

func (f *FeeManager) payOut(to common.Address, amount *big.Int) error {
	f.safe.TakeFeeReserve(amount)
	if err := f.safe.Withdraw(to, amount); err != nil {
		f.safe.AddFeeReserve(amount)
		return err
	}
	return nil
}

// AvailableFeesToInvestInCover is the total accrued-unwithdrawn fee surplus
// above the reinvestment threshold, clamped to the fee reserve.
func (f *FeeManager) AvailableFeesToInvestInCover() *big.Int {
	if f.fees.FeesReinvestThreshold == nil || f.fees.FeesReinvestThreshold.Sign() == 0 {
		return big.NewInt(0)
	}
	outstanding := new(big.Int).Sub(f.protocolIncome, f.protocolWithdrawn)
	outstanding.Add(outstanding, new(big.Int).Sub(f.poolOwnerIncome, f.poolOwnerWithdrawn))
	outstanding.Add(outstanding, new(big.Int).Sub(f.eaIncome, f.eaWithdrawn))
	surplus := new(big.Int).Sub(outstanding, f.fees.FeesReinvestThreshold)
	if surplus.Sign() <= 0 {
		return big.NewInt(0)
	}
	if reserve := f.safe.AvailableBalanceForFees(); surplus.Cmp(reserve) > 0 {
		surplus = reserve
	}
	return surplus
}

// InvestFeesInCover moves the surplus into the admin first-loss cover as a
// pool-owner deposit, deducting the swept amount from the accruals in
// protocol, pool-owner, evaluation-agent order.
func (f *FeeManager) InvestFeesInCover(cover *FirstLossCover, poolOwner common.Address) (*big.Int, error) {
	amount := f.AvailableFeesToInvestInCover()
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	f.safe.TakeFeeReserve(amount)
	if err := f.safe.Withdraw(poolOwner, amount); err != nil {
		f.safe.AddFeeReserve(amount)
		return nil, err
	}
	if _, err := cover.Deposit(poolOwner, amount); err != nil {
		// Undo the staging withdrawal so the sweep is all-or-nothing.
		if derr := f.safe.Deposit(poolOwner, amount); derr != nil {
			return nil, derr
		}
		f.safe.AddFeeReserve(amount)
		return nil, err
	}

	remaining := new(big.Int).Set(amount)
	for _, bucket := range []struct {
		income, withdrawn *big.Int
	}{
		{f.protocolIncome, f.protocolWithdrawn},
		{f.poolOwnerIncome, f.poolOwnerWithdrawn},
		{f.eaIncome, f.eaWithdrawn},
	} {
		if remaining.Sign() == 0 {
			break
		}
		outstanding := new(big.Int).Sub(bucket.income, bucket.withdrawn)
		take := remaining
		if take.Cmp(outstanding) > 0 {
			take = outstanding
		}
		if take.Sign() > 0 {
			bucket.withdrawn.Add(bucket.withdrawn, take)
			remaining = new(big.Int).Sub(remaining, take)
		}
	}
	return amount, nil
}
