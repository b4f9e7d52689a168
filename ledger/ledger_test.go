package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func addr(suffix byte) common.Address {
	var a common.Address
	a[len(a)-1] = suffix
	return a
}

func TestMintAndTransfer(t *testing.T) {
	l := New("USDX")
	alice := addr(0x01)
	bob := addr(0x02)

	if err := l.Mint(alice, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Transfer(alice, bob, big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := l.BalanceOf(alice); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("alice balance: got %s", got)
	}
	if got := l.BalanceOf(bob); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("bob balance: got %s", got)
	}
	if got := l.TotalSupply(); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("supply: got %s", got)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	l := New("USDX")
	alice := addr(0x01)
	bob := addr(0x02)
	if err := l.Mint(alice, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Transfer(alice, bob, big.NewInt(11)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := l.BalanceOf(alice); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("failed transfer mutated balance: %s", got)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	l := New("USDX")
	owner := addr(0x01)
	spender := addr(0x02)
	sink := addr(0x03)

	if err := l.Mint(owner, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Approve(owner, spender, big.NewInt(300)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := l.TransferFrom(spender, owner, sink, big.NewInt(200)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if got := l.Allowance(owner, spender); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("allowance after spend: got %s", got)
	}
	if err := l.TransferFrom(spender, owner, sink, big.NewInt(200)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
}

func TestZeroAddressRejected(t *testing.T) {
	l := New("USDX")
	if err := l.Mint(common.Address{}, big.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	if err := l.Transfer(common.Address{}, addr(0x01), big.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
}
