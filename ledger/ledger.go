// Package ledger provides the fungible-asset ledger the pool engine settles
// against. It models a single deposit asset with mint, transfer and allowance
// semantics; the pool treats it as an opaque custody substrate.
package ledger

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount         = errors.New("ledger: amount must be positive")
	ErrInsufficientBalance   = errors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	ErrZeroAddress           = errors.New("ledger: zero address provided")
)

// Ledger is a mutex-guarded account book for one fungible asset. All state
// transitions are atomic per call.
type Ledger struct {
	mu         sync.RWMutex
	symbol     string
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	supply     *big.Int
}

// New constructs an empty ledger for the named asset.
func New(symbol string) *Ledger {
	return &Ledger{
		symbol:     symbol,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		supply:     big.NewInt(0),
	}
}

// Symbol returns the asset symbol the ledger was created with.
func (l *Ledger) Symbol() string { return l.symbol }

// TotalSupply returns the total minted amount.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.supply)
}

// BalanceOf returns the balance held by addr.
func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Mint credits amount to addr, growing total supply.
func (l *Ledger) Mint(addr common.Address, amount *big.Int) error {
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(addr, amount)
	l.supply = new(big.Int).Add(l.supply, amount)
	return nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// Approve authorises spender to move up to amount from owner's balance.
func (l *Ledger) Approve(owner, spender common.Address, amount *big.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	grants, ok := l.allowances[owner]
	if !ok {
		grants = make(map[common.Address]*big.Int)
		l.allowances[owner] = grants
	}
	grants[spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance reports the remaining amount spender may move from owner.
func (l *Ledger) Allowance(owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if grants, ok := l.allowances[owner]; ok {
		if amt, ok := grants[spender]; ok {
			return new(big.Int).Set(amt)
		}
	}
	return big.NewInt(0)
}

// TransferFrom moves amount from owner to recipient on behalf of spender,
// consuming allowance.
func (l *Ledger) TransferFrom(spender, owner, to common.Address, amount *big.Int) error {
	if spender == (common.Address{}) || owner == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	grants := l.allowances[owner]
	allowed := big.NewInt(0)
	if grants != nil && grants[spender] != nil {
		allowed = grants[spender]
	}
	if allowed.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.move(owner, to, amount); err != nil {
		return err
	}
	grants[spender] = new(big.Int).Sub(allowed, amount)
	return nil
}

func (l *Ledger) move(from, to common.Address, amount *big.Int) error {
	bal := l.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.balances[from] = new(big.Int).Sub(bal, amount)
	l.credit(to, amount)
	return nil
}

func (l *Ledger) credit(addr common.Address, amount *big.Int) {
	if bal, ok := l.balances[addr]; ok {
		l.balances[addr] = new(big.Int).Add(bal, amount)
		return
	}
	l.balances[addr] = new(big.Int).Set(amount)
}
