package storagefee

import (
	"math/big"

	"fporacle/core/types"
)

// StorageBalance is the prepaid storage escrow of one account. Available never
// exceeds Total.
type StorageBalance struct {
	Total     *big.Int `json:"total"`
	Available *big.Int `json:"available"`
}

// Clone returns a deep copy of the balance.
func (b *StorageBalance) Clone() *StorageBalance {
	if b == nil {
		return nil
	}
	return &StorageBalance{
		Total:     types.CloneAmount(b.Total),
		Available: types.CloneAmount(b.Available),
	}
}

func (b *StorageBalance) normalize() *StorageBalance {
	if b.Total == nil {
		b.Total = big.NewInt(0)
	}
	if b.Available == nil {
		b.Available = big.NewInt(0)
	}
	return b
}

// Bounds describes the accepted deposit range. A nil Max means unbounded.
type Bounds struct {
	Min *big.Int `json:"min"`
	Max *big.Int `json:"max,omitempty"`
}

// Params configures the ledger pricing.
type Params struct {
	// MinDeposit is the smallest accepted deposit.
	MinDeposit *big.Int
	// ByteCost is the price of one byte of persistent state.
	ByteCost *big.Int
}

var (
	defaultMinDeposit = new(big.Int).Exp(big.NewInt(10), big.NewInt(22), nil)
	defaultByteCost   = new(big.Int).Exp(big.NewInt(10), big.NewInt(19), nil)
)

// DefaultParams returns the production pricing: a minimum deposit of 10^22
// and 10^19 per byte.
func DefaultParams() Params {
	return Params{
		MinDeposit: new(big.Int).Set(defaultMinDeposit),
		ByteCost:   new(big.Int).Set(defaultByteCost),
	}
}

func (p Params) normalize() Params {
	if p.MinDeposit == nil {
		p.MinDeposit = new(big.Int).Set(defaultMinDeposit)
	}
	if p.ByteCost == nil {
		p.ByteCost = new(big.Int).Set(defaultByteCost)
	}
	return p
}
