package aggregator

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"

	oerrors "fporacle/core/errors"
	"fporacle/core/events"
	"fporacle/core/types"
	"fporacle/native/registry"
)

const EventTypeEntryServed = "oracle.entry.served"

var errNilRegistry = errors.New("aggregator engine: registry not configured")

type registryState interface {
	Entry(provider types.AccountID, ticker string) (*registry.PriceEntry, bool, error)
	Fee(provider types.AccountID) (*big.Int, error)
	Credit(provider types.AccountID, fee *big.Int) error
}

// Engine charges query fees and serves single, averaged or collected entries.
type Engine struct {
	registry registryState
	emitter  events.Emitter
}

// NewEngine creates an aggregation engine reading from reg.
func NewEngine(reg registryState) *Engine {
	return &Engine{registry: reg, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Typed{Evt: evt})
}

func refused(amount *big.Int, reason Reason) *Outcome {
	return &Outcome{Refund: types.CloneAmount(amount), Charged: big.NewInt(0), Reason: reason}
}

// GetEntry serves the entry of provider for ticker when it exists, the amount
// covers the query fee and the entry is newer than minLastUpdate. Otherwise the
// whole amount is refunded and no fee is charged. The returned error is only
// set for state failures; lookup failures are reported via Outcome.Reason.
func (e *Engine) GetEntry(ticker string, provider types.AccountID, minLastUpdate uint64, amount *big.Int) (*Outcome, error) {
	if e.registry == nil {
		return nil, errNilRegistry
	}
	if err := types.ValidateU128(amount); err != nil {
		return nil, fmt.Errorf("%w: amount: %v", oerrors.ErrValidation, err)
	}
	amount = types.CloneAmount(amount)
	entry, ok, err := e.registry.Entry(provider, ticker)
	if err != nil {
		return nil, err
	}
	if !ok {
		return refused(amount, ReasonMissing), nil
	}
	fee, err := e.registry.Fee(provider)
	if errors.Is(err, oerrors.ErrNotFound) {
		return refused(amount, ReasonMissing), nil
	}
	if err != nil {
		return nil, err
	}
	if amount.Cmp(fee) < 0 {
		return refused(amount, ReasonInsufficientPayment), nil
	}
	if entry.LastUpdate <= minLastUpdate {
		return refused(amount, ReasonStale), nil
	}
	if err := e.registry.Credit(provider, fee); err != nil {
		return nil, err
	}
	e.emit(types.NewEvent(EventTypeEntryServed).
		With("provider", provider.String()).
		With("ticker", ticker).
		With("fee", fee.String()).
		With("lastUpdate", strconv.FormatUint(entry.LastUpdate, 10)))
	return &Outcome{
		Entries: []*registry.PriceEntry{entry},
		Refund:  new(big.Int).Sub(amount, fee),
		Charged: fee,
	}, nil
}

func validateBatch(tickers []string, providers []types.AccountID) error {
	if len(tickers) == 0 {
		return fmt.Errorf("%w: empty batch", oerrors.ErrValidation)
	}
	if len(tickers) != len(providers) {
		return fmt.Errorf("%w: %d tickers for %d providers", oerrors.ErrValidation, len(tickers), len(providers))
	}
	return nil
}

// each threads the running refund through GetEntry for every index.
func (e *Engine) each(tickers []string, providers []types.AccountID, minLastUpdate uint64, amount *big.Int, fn func(i int, out *Outcome) error) (*big.Int, *big.Int, error) {
	if err := validateBatch(tickers, providers); err != nil {
		return nil, nil, err
	}
	if err := types.ValidateU128(amount); err != nil {
		return nil, nil, fmt.Errorf("%w: amount: %v", oerrors.ErrValidation, err)
	}
	refund := types.CloneAmount(amount)
	charged := big.NewInt(0)
	for i := range tickers {
		out, err := e.GetEntry(tickers[i], providers[i], minLastUpdate, refund)
		if err != nil {
			return nil, nil, err
		}
		refund = out.Refund
		charged.Add(charged, out.Charged)
		if err := fn(i, out); err != nil {
			return nil, nil, err
		}
	}
	return refund, charged, nil
}

// AggregateAvg averages every servable entry of the batch. Excluded entries
// neither contribute to the sum nor to the divisor.
func (e *Engine) AggregateAvg(tickers []string, providers []types.AccountID, minLastUpdate uint64, amount *big.Int) (*Outcome, error) {
	sum := decimal.Zero
	count := int64(0)
	refund, charged, err := e.each(tickers, providers, minLastUpdate, amount, func(_ int, out *Outcome) error {
		entry := out.Entry()
		if entry == nil {
			return nil
		}
		v, err := EntryValue(entry)
		if err != nil {
			return err
		}
		sum = sum.Add(v)
		count++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return &Outcome{Refund: refund, Charged: charged, Reason: ReasonMissing}, nil
	}
	price, decimals, err := ScaledPrice(Average(sum, count))
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Entries: []*registry.PriceEntry{{Price: price, Decimals: decimals, LastUpdate: minLastUpdate}},
		Refund:  refund,
		Charged: charged,
	}, nil
}

// AggregateCollect serves every index of the batch, leaving nil in place of
// excluded entries.
func (e *Engine) AggregateCollect(tickers []string, providers []types.AccountID, minLastUpdate uint64, amount *big.Int) (*Outcome, error) {
	entries := make([]*registry.PriceEntry, len(tickers))
	refund, charged, err := e.each(tickers, providers, minLastUpdate, amount, func(i int, out *Outcome) error {
		entries[i] = out.Entry()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Entries: entries, Refund: refund, Charged: charged}, nil
}

// FeeTotal sums the query fees of the providers in the batch.
func (e *Engine) FeeTotal(tickers []string, providers []types.AccountID) (*big.Int, error) {
	if e.registry == nil {
		return nil, errNilRegistry
	}
	if err := validateBatch(tickers, providers); err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, provider := range providers {
		fee, err := e.registry.Fee(provider)
		if err != nil {
			return nil, err
		}
		if total, err = types.AddU128(total, fee); err != nil {
			return nil, fmt.Errorf("%w: fee total: %v", oerrors.ErrValidation, err)
		}
	}
	return total, nil
}

// Average divides sum by count, rounding half to even at MaxAverageDecimals
// fractional digits.
func Average(sum decimal.Decimal, count int64) decimal.Decimal {
	if count <= 0 {
		return decimal.Zero
	}
	return sum.DivRound(decimal.NewFromInt(count), 2*MaxAverageDecimals).RoundBank(MaxAverageDecimals)
}

// MinimalDecimals returns the smallest number of fractional digits that
// reproduces v exactly, or 0 when none up to MaxAverageDecimals does.
func MinimalDecimals(v decimal.Decimal) uint32 {
	for d := int32(0); d <= MaxAverageDecimals; d++ {
		if v.Round(d).Equal(v) {
			return uint32(d)
		}
	}
	return 0
}

// EntryValue returns price / 10^decimals for entry.
func EntryValue(entry *registry.PriceEntry) (decimal.Decimal, error) {
	if entry.Decimals > registry.MaxDecimals {
		return decimal.Zero, fmt.Errorf("%w: decimals %d exceeds %d", oerrors.ErrValidation, entry.Decimals, registry.MaxDecimals)
	}
	return decimal.NewFromBigInt(types.CloneAmount(entry.Price), -int32(entry.Decimals)), nil
}

// ScaledPrice encodes avg as an integer price and its decimals. Fractional
// digits that would push the price past 128 bits are rounded away half to even.
func ScaledPrice(avg decimal.Decimal) (*big.Int, uint32, error) {
	d := int32(MinimalDecimals(avg))
	for ; d > 0; d-- {
		if types.ValidateU128(avg.RoundBank(d).Shift(d).BigInt()) == nil {
			break
		}
	}
	rounded := avg.RoundBank(d)
	decimals := MinimalDecimals(rounded)
	price := rounded.Shift(int32(decimals)).BigInt()
	if err := types.ValidateU128(price); err != nil {
		return nil, 0, fmt.Errorf("%w: average %s not representable: %v", oerrors.ErrValidation, avg, err)
	}
	return price, decimals, nil
}
