package pool

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DepositRecord tracks a lender's contributed principal and reinvestment
// preference. Principal grows when yield is auto-reinvested and shrinks when
// shares are requested for redemption.
type DepositRecord struct {
	Principal       *big.Int
	ReinvestYield   bool
	LastDepositTime time.Time
}

func (d *DepositRecord) Clone() *DepositRecord {
	if d == nil {
		return nil
	}
	return &DepositRecord{
		Principal:       new(big.Int).Set(d.Principal),
		ReinvestYield:   d.ReinvestYield,
		LastDepositTime: d.LastDepositTime,
	}
}

// Vault is the lender-facing share ledger for one tranche. Share price is
// totalAssets/totalSupply; profit distributions raise the price, losses lower
// it. The vault never holds cash itself: all money stays in the safe, the
// vault only accounts for it.
type Vault struct {
	tranche int
	safe    *Safe

	totalAssets *big.Int
	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	lenders     []common.Address
	deposits    map[common.Address]*DepositRecord

	redemptions      map[common.Address]*LenderRedemptionRecord
	summaries        map[uint64]*EpochRedemptionSummary
	lastRequestEpoch map[common.Address]uint64
	sharesInEpoch    map[common.Address]*big.Int
	escrowedShares   *big.Int
}

func NewVault(tranche int, safe *Safe) *Vault {
	return &Vault{
		tranche:          tranche,
		safe:             safe,
		totalAssets:      big.NewInt(0),
		totalSupply:      big.NewInt(0),
		balances:         make(map[common.Address]*big.Int),
		deposits:         make(map[common.Address]*DepositRecord),
		redemptions:      make(map[common.Address]*LenderRedemptionRecord),
		summaries:        make(map[uint64]*EpochRedemptionSummary),
		lastRequestEpoch: make(map[common.Address]uint64),
		sharesInEpoch:    make(map[common.Address]*big.Int),
		escrowedShares:   big.NewInt(0),
	}
}

func (v *Vault) Tranche() int { return v.tranche }

func (v *Vault) TotalAssets() *big.Int { return new(big.Int).Set(v.totalAssets) }

func (v *Vault) TotalSupply() *big.Int { return new(big.Int).Set(v.totalSupply) }

// SharesOf returns the lender's free (non-escrowed) share balance.
func (v *Vault) SharesOf(lender common.Address) *big.Int {
	if bal, ok := v.balances[lender]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (v *Vault) DepositRecordOf(lender common.Address) *DepositRecord {
	return v.deposits[lender].Clone()
}

// ConvertToShares converts an asset amount to shares at the current price.
func (v *Vault) ConvertToShares(assets *big.Int) *big.Int {
	if v.totalSupply.Sign() == 0 || v.totalAssets.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	out := new(big.Int).Mul(assets, v.totalSupply)
	return out.Quo(out, v.totalAssets)
}

// ConvertToAssets converts a share amount to assets at the current price.
func (v *Vault) ConvertToAssets(shares *big.Int) *big.Int {
	if v.totalSupply.Sign() == 0 {
		return new(big.Int).Set(shares)
	}
	out := new(big.Int).Mul(shares, v.totalAssets)
	return out.Quo(out, v.totalSupply)
}

// Deposit mints shares for the lender at the current price and moves the cash
// into the safe. Pool-level guards (minimum, cap, tranche ratio) run before
// this is called.
func (v *Vault) Deposit(lender common.Address, amount *big.Int, now time.Time) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	minted := v.ConvertToShares(amount)
	if err := v.safe.Deposit(lender, amount); err != nil {
		return nil, err
	}
	dr, ok := v.deposits[lender]
	if !ok {
		dr = &DepositRecord{Principal: big.NewInt(0), ReinvestYield: true}
		v.deposits[lender] = dr
		v.lenders = append(v.lenders, lender)
		v.balances[lender] = big.NewInt(0)
	}
	dr.Principal = new(big.Int).Add(dr.Principal, amount)
	dr.LastDepositTime = now.UTC()
	v.balances[lender] = new(big.Int).Add(v.balances[lender], minted)
	v.totalSupply = new(big.Int).Add(v.totalSupply, minted)
	v.totalAssets = new(big.Int).Add(v.totalAssets, amount)
	return minted, nil
}

// SetReinvestYield switches the lender between auto-reinvestment and cash
// payout of distributed yield.
func (v *Vault) SetReinvestYield(lender common.Address, reinvest bool) error {
	dr, ok := v.deposits[lender]
	if !ok {
		return ErrInsufficientShares
	}
	dr.ReinvestYield = reinvest
	return nil
}

// AddProfit credits realized profit to the tranche's assets. The cash is
// already in the safe; callers park it in the unprocessed-profit bucket until
// ProcessYieldForLenders runs.
func (v *Vault) AddProfit(amount *big.Int) {
	if amount != nil && amount.Sign() > 0 {
		v.totalAssets = new(big.Int).Add(v.totalAssets, amount)
	}
}

// AddLoss writes a realized loss off the tranche's assets, clamped at zero.
// It returns the absorbed amount.
func (v *Vault) AddLoss(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	absorbed := new(big.Int).Set(amount)
	if absorbed.Cmp(v.totalAssets) > 0 {
		absorbed = new(big.Int).Set(v.totalAssets)
	}
	v.totalAssets = new(big.Int).Sub(v.totalAssets, absorbed)
	return absorbed
}

// ProcessYieldForLenders distributes the tranche's unprocessed-profit bucket
// pro-rata over free shares. Reinvesting lenders get their recorded principal
// bumped and keep the cash at work in the pool; payout lenders receive cash
// and have the matching shares burned. Rounding dust stays as pool assets.
func (v *Vault) ProcessYieldForLenders() (*big.Int, error) {
	bucket, err := v.safe.TakeUnprocessedProfit(v.tranche)
	if err != nil {
		return nil, err
	}
	if bucket.Sign() == 0 {
		return big.NewInt(0), nil
	}
	freeSupply := new(big.Int).Sub(v.totalSupply, v.escrowedShares)
	if freeSupply.Sign() == 0 {
		return big.NewInt(0), nil
	}
	distributed := big.NewInt(0)
	for _, lender := range v.lenders {
		bal := v.balances[lender]
		if bal == nil || bal.Sign() == 0 {
			continue
		}
		share := new(big.Int).Mul(bucket, bal)
		share.Quo(share, freeSupply)
		if share.Sign() == 0 {
			continue
		}
		dr := v.deposits[lender]
		if dr.ReinvestYield {
			dr.Principal = new(big.Int).Add(dr.Principal, share)
		} else {
			burned := v.ConvertToShares(share)
			if err := v.safe.Withdraw(lender, share); err != nil {
				return nil, err
			}
			v.balances[lender] = new(big.Int).Sub(bal, burned)
			v.totalSupply = new(big.Int).Sub(v.totalSupply, burned)
			v.totalAssets = new(big.Int).Sub(v.totalAssets, share)
		}
		distributed.Add(distributed, share)
	}
	return distributed, nil
}
