package registry

import (
	"math/big"

	"fporacle/core/types"
)

// PriceEntry is the latest price published by a provider for one ticker.
// LastUpdate is expressed in nanoseconds.
type PriceEntry struct {
	Price      *big.Int `json:"price"`
	Decimals   uint32   `json:"decimals"`
	LastUpdate uint64   `json:"last_update"`
}

// Clone returns a deep copy of the entry.
func (p *PriceEntry) Clone() *PriceEntry {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Price = types.CloneAmount(p.Price)
	return &clone
}

// Provider is the account-level record of a price publisher.
type Provider struct {
	QueryFee *big.Int `json:"query_fee"`
	Earnings *big.Int `json:"earnings"`
	Tickers  []string `json:"tickers"`
}

// Clone returns a deep copy of the provider.
func (p *Provider) Clone() *Provider {
	if p == nil {
		return nil
	}
	return &Provider{
		QueryFee: types.CloneAmount(p.QueryFee),
		Earnings: types.CloneAmount(p.Earnings),
		Tickers:  append([]string(nil), p.Tickers...),
	}
}

type storedProvider struct {
	QueryFee *big.Int
	Earnings *big.Int
}

// MaxTickerLength bounds the size of a ticker symbol.
const MaxTickerLength = 64

// MaxDecimals bounds the fractional digits of a price. A uint128 holds at most
// 39 decimal digits.
const MaxDecimals = 38
