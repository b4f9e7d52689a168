package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tranchepool/ledger"
)

// FirstLossCover is a share-based buffer vault that absorbs pool losses before
// the tranches do and earns a carved-out slice of period profit in return. The
// cover's cash lives at its own ledger address; absorbing a loss moves cash
// into the safe, a recovery moves it back.
type FirstLossCover struct {
	name   string
	cfg    CoverConfig
	ledger *ledger.Ledger
	addr   common.Address
	safe   *Safe

	totalShares *big.Int
	shares      map[common.Address]*big.Int
	providers   []common.Address
	coveredLoss *big.Int
}

func NewFirstLossCover(name string, cfg CoverConfig, l *ledger.Ledger, addr common.Address, safe *Safe) (*FirstLossCover, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &FirstLossCover{
		name:        name,
		cfg:         cfg,
		ledger:      l,
		addr:        addr,
		safe:        safe,
		totalShares: big.NewInt(0),
		shares:      make(map[common.Address]*big.Int),
		coveredLoss: big.NewInt(0),
	}, nil
}

func (c *FirstLossCover) Name() string { return c.name }

func (c *FirstLossCover) Config() CoverConfig { return c.cfg }

// TotalAssets is the cover's full cash balance.
func (c *FirstLossCover) TotalAssets() *big.Int {
	return c.ledger.BalanceOf(c.addr)
}

func (c *FirstLossCover) TotalShares() *big.Int {
	return new(big.Int).Set(c.totalShares)
}

func (c *FirstLossCover) SharesOf(provider common.Address) *big.Int {
	if bal, ok := c.shares[provider]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// CoveredLoss is the outstanding absorbed loss still eligible for recovery.
func (c *FirstLossCover) CoveredLoss() *big.Int {
	return new(big.Int).Set(c.coveredLoss)
}

func (c *FirstLossCover) convertToShares(assets *big.Int) *big.Int {
	total := c.TotalAssets()
	if c.totalShares.Sign() == 0 || total.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	out := new(big.Int).Mul(assets, c.totalShares)
	return out.Quo(out, total)
}

func (c *FirstLossCover) convertToAssets(shares *big.Int) *big.Int {
	if c.totalShares.Sign() == 0 {
		return new(big.Int).Set(shares)
	}
	out := new(big.Int).Mul(shares, c.TotalAssets())
	return out.Quo(out, c.totalShares)
}

// Deposit adds cover liquidity from a provider, minting shares at the current
// price. Fails when max liquidity would be exceeded.
func (c *FirstLossCover) Deposit(provider common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if c.cfg.MaxLiquidity != nil && c.cfg.MaxLiquidity.Sign() > 0 {
		projected := new(big.Int).Add(c.TotalAssets(), amount)
		if projected.Cmp(c.cfg.MaxLiquidity) > 0 {
			return nil, ErrCoverLiquidityCapExceeded
		}
	}
	minted := c.convertToShares(amount)
	if err := c.ledger.Transfer(provider, c.addr, amount); err != nil {
		return nil, err
	}
	if _, ok := c.shares[provider]; !ok {
		c.providers = append(c.providers, provider)
		c.shares[provider] = big.NewInt(0)
	}
	c.shares[provider] = new(big.Int).Add(c.shares[provider], minted)
	c.totalShares = new(big.Int).Add(c.totalShares, minted)
	return minted, nil
}

// Redeem burns provider shares for cash. The cover must retain its minimum
// liquidity after the redemption.
func (c *FirstLossCover) Redeem(provider common.Address, shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	held := c.SharesOf(provider)
	if held.Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}
	assets := c.convertToAssets(shares)
	if c.cfg.MinLiquidity != nil && c.cfg.MinLiquidity.Sign() > 0 {
		remaining := new(big.Int).Sub(c.TotalAssets(), assets)
		if remaining.Cmp(c.cfg.MinLiquidity) < 0 {
			return nil, ErrCoverBelowMinLiquidity
		}
	}
	if err := c.ledger.Transfer(c.addr, provider, assets); err != nil {
		return nil, err
	}
	c.shares[provider] = new(big.Int).Sub(held, shares)
	c.totalShares = new(big.Int).Sub(c.totalShares, shares)
	return assets, nil
}

// CoverLoss absorbs up to min(rate x loss, cap per loss, current assets) of
// the loss, moving that cash into the safe. It returns the covered amount and
// the uncovered remainder.
func (c *FirstLossCover) CoverLoss(loss *big.Int) (*big.Int, *big.Int, error) {
	if loss == nil || loss.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0), nil
	}
	covered := new(big.Int).Set(loss)
	if c.cfg.CoverRatePerLossInBps > 0 && c.cfg.CoverRatePerLossInBps < 10_000 {
		covered.Mul(loss, new(big.Int).SetUint64(c.cfg.CoverRatePerLossInBps))
		covered.Quo(covered, basisPoints)
	}
	if c.cfg.CoverCapPerLoss != nil && c.cfg.CoverCapPerLoss.Sign() > 0 && covered.Cmp(c.cfg.CoverCapPerLoss) > 0 {
		covered = new(big.Int).Set(c.cfg.CoverCapPerLoss)
	}
	if assets := c.TotalAssets(); covered.Cmp(assets) > 0 {
		covered = assets
	}
	if covered.Sign() > 0 {
		if err := c.ledger.Transfer(c.addr, c.safe.Address(), covered); err != nil {
			return nil, nil, err
		}
		c.coveredLoss = new(big.Int).Add(c.coveredLoss, covered)
	}
	remaining := new(big.Int).Sub(loss, covered)
	return covered, remaining, nil
}

// RecoverLoss replenishes the cover from recovered cash, up to the
// outstanding covered loss. It returns the recovered amount and the unused
// remainder.
func (c *FirstLossCover) RecoverLoss(recovery *big.Int) (*big.Int, *big.Int, error) {
	if recovery == nil || recovery.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0), nil
	}
	recovered := new(big.Int).Set(recovery)
	if recovered.Cmp(c.coveredLoss) > 0 {
		recovered = new(big.Int).Set(c.coveredLoss)
	}
	if recovered.Sign() > 0 {
		if err := c.ledger.Transfer(c.safe.Address(), c.addr, recovered); err != nil {
			return nil, nil, err
		}
		c.coveredLoss = new(big.Int).Sub(c.coveredLoss, recovered)
	}
	remaining := new(big.Int).Sub(recovery, recovered)
	return recovered, remaining, nil
}

// YieldWeight is the cover's weight in the junior-side profit carve-out:
// assets scaled by the risk yield multiplier.
func (c *FirstLossCover) YieldWeight() *big.Int {
	if c.cfg.RiskYieldMultiplierBps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(c.TotalAssets(), new(big.Int).SetUint64(c.cfg.RiskYieldMultiplierBps))
	return out.Quo(out, basisPoints)
}

// PayoutYield distributes everything above max liquidity to providers
// pro-rata by shares. Called on epoch close once the cover has received its
// profit share; a cover below capacity keeps the yield as extra buffer.
func (c *FirstLossCover) PayoutYield() (*big.Int, error) {
	if c.cfg.MaxLiquidity == nil || c.cfg.MaxLiquidity.Sign() == 0 {
		return big.NewInt(0), nil
	}
	excess := new(big.Int).Sub(c.TotalAssets(), c.cfg.MaxLiquidity)
	if excess.Sign() <= 0 || c.totalShares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	paid := big.NewInt(0)
	for _, provider := range c.providers {
		held := c.shares[provider]
		if held == nil || held.Sign() == 0 {
			continue
		}
		share := new(big.Int).Mul(excess, held)
		share.Quo(share, c.totalShares)
		if share.Sign() == 0 {
			continue
		}
		if err := c.ledger.Transfer(c.addr, provider, share); err != nil {
			return nil, err
		}
		paid.Add(paid, share)
	}
	return paid, nil
}
