// Package receivable implements the receivable asset registry backing the
// receivable-financed credit lines. Each receivable is a non-fungible claim
// with a face value and maturity date; the credit manager takes custody of a
// receivable for the life of the draw it secures.
package receivable

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound           = errors.New("receivable: not found")
	ErrNotOwner           = errors.New("receivable: caller is not the owner")
	ErrNotApprovedSpender = errors.New("receivable: spender not approved")
	ErrInvalidFaceValue   = errors.New("receivable: face value must be positive")
	ErrZeroAddress        = errors.New("receivable: zero address provided")
	ErrAlreadyPaid        = errors.New("receivable: already fully paid")
)

// State tracks how much of a receivable's face value has been settled.
type State uint8

const (
	Minted State = iota
	PartiallyPaid
	Paid
)

func (s State) String() string {
	switch s {
	case Minted:
		return "minted"
	case PartiallyPaid:
		return "partially-paid"
	case Paid:
		return "paid"
	default:
		return "unknown"
	}
}

// Receivable is a single claim registered with the registry.
type Receivable struct {
	ID           uint64
	Owner        common.Address
	FaceValue    *big.Int
	PaidAmount   *big.Int
	MaturityDate time.Time
	CreatedAt    time.Time
	State        State
	Currency     string
}

// Clone returns a deep copy so callers can mutate freely.
func (r *Receivable) Clone() *Receivable {
	if r == nil {
		return nil
	}
	clone := *r
	if r.FaceValue != nil {
		clone.FaceValue = new(big.Int).Set(r.FaceValue)
	}
	if r.PaidAmount != nil {
		clone.PaidAmount = new(big.Int).Set(r.PaidAmount)
	} else {
		clone.PaidAmount = big.NewInt(0)
	}
	return &clone
}

// Matured reports whether the receivable's maturity date has passed.
func (r *Receivable) Matured(now time.Time) bool {
	return !now.Before(r.MaturityDate)
}

// Registry is the mutex-guarded receivable book.
type Registry struct {
	mu        sync.RWMutex
	nextID    uint64
	items     map[uint64]*Receivable
	approvals map[uint64]common.Address
}

// NewRegistry constructs an empty registry. IDs start at 1.
func NewRegistry() *Registry {
	return &Registry{
		nextID:    1,
		items:     make(map[uint64]*Receivable),
		approvals: make(map[uint64]common.Address),
	}
}

// Create registers a new receivable owned by owner and returns its ID.
func (reg *Registry) Create(owner common.Address, currency string, faceValue *big.Int, maturity, now time.Time) (uint64, error) {
	if owner == (common.Address{}) {
		return 0, ErrZeroAddress
	}
	if faceValue == nil || faceValue.Sign() <= 0 {
		return 0, ErrInvalidFaceValue
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	id := reg.nextID
	reg.nextID++
	reg.items[id] = &Receivable{
		ID:           id,
		Owner:        owner,
		FaceValue:    new(big.Int).Set(faceValue),
		PaidAmount:   big.NewInt(0),
		MaturityDate: maturity.UTC(),
		CreatedAt:    now.UTC(),
		State:        Minted,
		Currency:     currency,
	}
	return id, nil
}

// Get returns a copy of the receivable with the given ID.
func (reg *Registry) Get(id uint64) (*Receivable, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	item, ok := reg.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return item.Clone(), nil
}

// Approve authorises spender to take custody of the receivable.
func (reg *Registry) Approve(owner common.Address, id uint64, spender common.Address) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	item, ok := reg.items[id]
	if !ok {
		return ErrNotFound
	}
	if item.Owner != owner {
		return ErrNotOwner
	}
	reg.approvals[id] = spender
	return nil
}

// TransferFrom moves custody of the receivable to a new owner. The spender
// must be the current owner or hold an approval.
func (reg *Registry) TransferFrom(spender, from, to common.Address, id uint64) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	item, ok := reg.items[id]
	if !ok {
		return ErrNotFound
	}
	if item.Owner != from {
		return ErrNotOwner
	}
	if spender != from && reg.approvals[id] != spender {
		return ErrNotApprovedSpender
	}
	item.Owner = to
	delete(reg.approvals, id)
	return nil
}

// RecordPayment credits a settlement against the receivable's face value and
// advances its state. Paying past the face value is rejected once settled.
func (reg *Registry) RecordPayment(id uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidFaceValue
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	item, ok := reg.items[id]
	if !ok {
		return ErrNotFound
	}
	if item.State == Paid {
		return ErrAlreadyPaid
	}
	item.PaidAmount = new(big.Int).Add(item.PaidAmount, amount)
	if item.PaidAmount.Cmp(item.FaceValue) >= 0 {
		item.State = Paid
	} else {
		item.State = PartiallyPaid
	}
	return nil
}
