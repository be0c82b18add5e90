package aggregator

import (
	"fmt"
	"math/big"

	oerrors "fporacle/core/errors"
	"fporacle/native/registry"
)

// MaxAverageDecimals caps the fractional digits of an averaged price.
const MaxAverageDecimals = 15

// Reason explains why a single lookup produced no entry.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonMissing
	ReasonInsufficientPayment
	ReasonStale
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "ok"
	case ReasonMissing:
		return "missing"
	case ReasonInsufficientPayment:
		return "insufficient_payment"
	case ReasonStale:
		return "stale"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// Outcome is the settlement result of a query. Entries is nil when nothing was
// served. For collect queries it holds one element per requested index, nil
// for excluded ones. Charged plus Refund always equals the attached amount.
type Outcome struct {
	Entries []*registry.PriceEntry
	Refund  *big.Int
	Charged *big.Int
	Reason  Reason
}

// Entry returns the first served entry, if any.
func (o *Outcome) Entry() *registry.PriceEntry {
	if o == nil || len(o.Entries) == 0 {
		return nil
	}
	return o.Entries[0]
}

// Err converts a failed single lookup into the error surfaced to callers.
func (o *Outcome) Err() error {
	if o == nil {
		return nil
	}
	switch o.Reason {
	case ReasonMissing:
		return fmt.Errorf("%w: ticker or provider not registered", oerrors.ErrValidation)
	case ReasonInsufficientPayment:
		return fmt.Errorf("%w: attached amount below query fee", oerrors.ErrPaymentInsufficient)
	case ReasonStale:
		return fmt.Errorf("%w: entry not updated after requested time", oerrors.ErrStale)
	default:
		return nil
	}
}
