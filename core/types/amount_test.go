package types

import (
	"errors"
	"math/big"
	"testing"
)

func TestValidateU128Bounds(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	if err := ValidateU128(max); err != nil {
		t.Fatalf("max u128 rejected: %v", err)
	}
	over := new(big.Int).Lsh(big.NewInt(1), 128)
	if err := ValidateU128(over); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if err := ValidateU128(big.NewInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected negative error, got %v", err)
	}
	if err := ValidateU128(nil); err != nil {
		t.Fatalf("nil should be zero: %v", err)
	}
}

func TestAddSubU128(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	if _, err := AddU128(max, big.NewInt(1)); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	sum, err := AddU128(big.NewInt(7), big.NewInt(5))
	if err != nil || sum.Cmp(big.NewInt(12)) != 0 {
		t.Fatalf("unexpected sum %v err %v", sum, err)
	}
	if _, err := SubU128(big.NewInt(1), big.NewInt(2)); err == nil {
		t.Fatalf("expected underflow error")
	}
	diff, err := SubU128(big.NewInt(15), big.NewInt(10))
	if err != nil || diff.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("unexpected diff %v err %v", diff, err)
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount(" 400000 ")
	if err != nil || v.Cmp(big.NewInt(400000)) != 0 {
		t.Fatalf("unexpected parse %v err %v", v, err)
	}
	if _, err := ParseAmount("1.5"); err == nil {
		t.Fatalf("expected error for fractional amount")
	}
	if _, err := ParseAmount("340282366920938463463374607431768211456"); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestAccountIDValidate(t *testing.T) {
	valid := []string{"alice.near", "oracle-1.testnet", "a_b"}
	for _, id := range valid {
		if _, err := ParseAccountID(id); err != nil {
			t.Fatalf("%s rejected: %v", id, err)
		}
	}
	invalid := []string{"", "a", "Alice.near", "bob..near", ".bob", "bob.", "bob near"}
	for _, id := range invalid {
		if _, err := ParseAccountID(id); err == nil {
			t.Fatalf("%q accepted", id)
		}
	}
}
