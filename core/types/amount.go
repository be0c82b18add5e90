package types

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// U128Bits is the width of every balance, fee and price handled by the programs.
const U128Bits = 128

var (
	ErrNegativeAmount = errors.New("amount: must not be negative")
	ErrAmountOverflow = errors.New("amount: exceeds 128 bits")
)

// ValidateU128 reports whether v is a non-negative integer that fits in 128
// bits. A nil value is treated as zero.
func ValidateU128(v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 {
		return ErrNegativeAmount
	}
	u, overflow := uint256.FromBig(v)
	if overflow || u.BitLen() > U128Bits {
		return ErrAmountOverflow
	}
	return nil
}

// CloneAmount returns a copy of v, or zero for nil.
func CloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// AddU128 returns a+b, failing when the sum leaves the 128-bit range.
func AddU128(a, b *big.Int) (*big.Int, error) {
	if err := ValidateU128(a); err != nil {
		return nil, err
	}
	if err := ValidateU128(b); err != nil {
		return nil, err
	}
	x, _ := uint256.FromBig(CloneAmount(a))
	y, _ := uint256.FromBig(CloneAmount(b))
	sum, carry := new(uint256.Int).AddOverflow(x, y)
	if carry || sum.BitLen() > U128Bits {
		return nil, ErrAmountOverflow
	}
	return sum.ToBig(), nil
}

// SubU128 returns a-b, failing when b exceeds a.
func SubU128(a, b *big.Int) (*big.Int, error) {
	if err := ValidateU128(a); err != nil {
		return nil, err
	}
	if err := ValidateU128(b); err != nil {
		return nil, err
	}
	x, _ := uint256.FromBig(CloneAmount(a))
	y, _ := uint256.FromBig(CloneAmount(b))
	diff, borrow := new(uint256.Int).SubOverflow(x, y)
	if borrow {
		return nil, fmt.Errorf("amount: %s exceeds %s", CloneAmount(b), CloneAmount(a))
	}
	return diff.ToBig(), nil
}

// ParseAmount decodes a base-10 uint128 string.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount: invalid integer %q", raw)
	}
	if err := ValidateU128(v); err != nil {
		return nil, err
	}
	return v, nil
}
