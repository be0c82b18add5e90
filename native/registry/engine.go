package registry

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	oerrors "fporacle/core/errors"
	"fporacle/core/events"
	"fporacle/core/types"
)

var errNilState = errors.New("registry engine: state not configured")

var (
	providerPrefix = []byte("registry/provider/")
	pairPrefix     = []byte("registry/pair/")
	tickersPrefix  = []byte("registry/tickers/")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Engine stores providers, their query fees, earnings and price entries.
type Engine struct {
	state          engineState
	emitter        events.Emitter
	allowOverwrite bool
}

// NewEngine creates a registry with a no-op emitter. Re-creating an existing
// pair is rejected unless SetAllowPairOverwrite(true) is called.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetAllowPairOverwrite toggles whether CreatePair replaces an existing entry.
func (e *Engine) SetAllowPairOverwrite(allow bool) { e.allowOverwrite = allow }

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Typed{Evt: evt})
}

func joinKey(prefix []byte, parts ...string) []byte {
	buf := append([]byte(nil), prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, '/')
		}
		buf = append(buf, part...)
	}
	return buf
}

func normalizeTicker(ticker string) (string, error) {
	trimmed := strings.TrimSpace(ticker)
	if trimmed == "" {
		return "", fmt.Errorf("%w: ticker required", oerrors.ErrValidation)
	}
	if len(trimmed) > MaxTickerLength {
		return "", fmt.Errorf("%w: ticker exceeds %d bytes", oerrors.ErrValidation, MaxTickerLength)
	}
	return trimmed, nil
}

func validateDecimals(decimals uint32) error {
	if decimals > MaxDecimals {
		return fmt.Errorf("%w: decimals %d exceeds %d", oerrors.ErrValidation, decimals, MaxDecimals)
	}
	return nil
}

func (e *Engine) loadProvider(account types.AccountID) (*storedProvider, bool, error) {
	if e.state == nil {
		return nil, false, errNilState
	}
	var stored storedProvider
	ok, err := e.state.KVGet(joinKey(providerPrefix, account.String()), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	if stored.QueryFee == nil {
		stored.QueryFee = big.NewInt(0)
	}
	if stored.Earnings == nil {
		stored.Earnings = big.NewInt(0)
	}
	return &stored, true, nil
}

func (e *Engine) ensureProvider(account types.AccountID) (*storedProvider, error) {
	stored, ok, err := e.loadProvider(account)
	if err != nil {
		return nil, err
	}
	if ok {
		return stored, nil
	}
	return &storedProvider{QueryFee: big.NewInt(0), Earnings: big.NewInt(0)}, nil
}

func (e *Engine) storeProvider(account types.AccountID, p *storedProvider) error {
	if e.state == nil {
		return errNilState
	}
	return e.state.KVPut(joinKey(providerPrefix, account.String()), p)
}

func (e *Engine) loadEntry(provider types.AccountID, ticker string) (*PriceEntry, bool, error) {
	if e.state == nil {
		return nil, false, errNilState
	}
	var entry PriceEntry
	ok, err := e.state.KVGet(joinKey(pairPrefix, provider.String(), ticker), &entry)
	if err != nil || !ok {
		return nil, ok, err
	}
	if entry.Price == nil {
		entry.Price = big.NewInt(0)
	}
	return &entry, true, nil
}

func (e *Engine) storeEntry(provider types.AccountID, ticker string, entry *PriceEntry) error {
	if e.state == nil {
		return errNilState
	}
	return e.state.KVPut(joinKey(pairPrefix, provider.String(), ticker), entry)
}

// CreatePair registers ticker for provider with an initial price, creating the
// provider record on first use.
func (e *Engine) CreatePair(provider types.AccountID, ticker string, decimals uint32, price *big.Int, now uint64) (*PriceEntry, error) {
	if err := provider.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", oerrors.ErrValidation, err)
	}
	ticker, err := normalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	if err := types.ValidateU128(price); err != nil {
		return nil, fmt.Errorf("%w: price: %v", oerrors.ErrValidation, err)
	}
	if err := validateDecimals(decimals); err != nil {
		return nil, err
	}
	_, exists, err := e.loadEntry(provider, ticker)
	if err != nil {
		return nil, err
	}
	if exists && !e.allowOverwrite {
		return nil, fmt.Errorf("%w: %s/%s", oerrors.ErrPairExists, provider, ticker)
	}
	p, err := e.ensureProvider(provider)
	if err != nil {
		return nil, err
	}
	if err := e.storeProvider(provider, p); err != nil {
		return nil, err
	}
	entry := &PriceEntry{Price: types.CloneAmount(price), Decimals: decimals, LastUpdate: now}
	if err := e.storeEntry(provider, ticker, entry); err != nil {
		return nil, err
	}
	if err := e.state.KVAppend(joinKey(tickersPrefix, provider.String()), []byte(ticker)); err != nil {
		return nil, err
	}
	e.emit(newEntryEvent(EventTypePairCreated, provider, ticker, entry))
	return entry.Clone(), nil
}

// PushData updates the price (and optionally the decimals) of an existing
// pair. The query fee is left untouched.
func (e *Engine) PushData(provider types.AccountID, ticker string, price *big.Int, decimals *uint32, now uint64) (*PriceEntry, error) {
	ticker, err := normalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	if err := types.ValidateU128(price); err != nil {
		return nil, fmt.Errorf("%w: price: %v", oerrors.ErrValidation, err)
	}
	if decimals != nil {
		if err := validateDecimals(*decimals); err != nil {
			return nil, err
		}
	}
	entry, ok, err := e.loadEntry(provider, ticker)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: pair %s/%s not registered", oerrors.ErrValidation, provider, ticker)
	}
	entry.Price = types.CloneAmount(price)
	if decimals != nil {
		entry.Decimals = *decimals
	}
	entry.LastUpdate = now
	if err := e.storeEntry(provider, ticker, entry); err != nil {
		return nil, err
	}
	e.emit(newEntryEvent(EventTypePricePushed, provider, ticker, entry))
	return entry.Clone(), nil
}

// SetFee overwrites the query fee charged by provider.
func (e *Engine) SetFee(provider types.AccountID, fee *big.Int) error {
	if err := provider.Validate(); err != nil {
		return fmt.Errorf("%w: %v", oerrors.ErrValidation, err)
	}
	if err := types.ValidateU128(fee); err != nil {
		return fmt.Errorf("%w: fee: %v", oerrors.ErrValidation, err)
	}
	p, err := e.ensureProvider(provider)
	if err != nil {
		return err
	}
	p.QueryFee = types.CloneAmount(fee)
	if err := e.storeProvider(provider, p); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeFeeUpdated).
		With("provider", provider.String()).
		With("fee", p.QueryFee.String()))
	return nil
}

// Provider returns the provider record including its ticker index.
func (e *Engine) Provider(account types.AccountID) (*Provider, bool, error) {
	stored, ok, err := e.loadProvider(account)
	if err != nil || !ok {
		return nil, ok, err
	}
	tickers, err := e.Tickers(account)
	if err != nil {
		return nil, false, err
	}
	return &Provider{
		QueryFee: types.CloneAmount(stored.QueryFee),
		Earnings: types.CloneAmount(stored.Earnings),
		Tickers:  tickers,
	}, true, nil
}

// ProviderExists reports whether account has a provider record.
func (e *Engine) ProviderExists(account types.AccountID) (bool, error) {
	_, ok, err := e.loadProvider(account)
	return ok, err
}

// Entry returns the price entry of provider for ticker.
func (e *Engine) Entry(provider types.AccountID, ticker string) (*PriceEntry, bool, error) {
	entry, ok, err := e.loadEntry(provider, strings.TrimSpace(ticker))
	if err != nil || !ok {
		return nil, ok, err
	}
	return entry.Clone(), true, nil
}

// PairExists reports whether provider has registered ticker.
func (e *Engine) PairExists(provider types.AccountID, ticker string) (bool, error) {
	_, ok, err := e.loadEntry(provider, strings.TrimSpace(ticker))
	return ok, err
}

// Fee returns the query fee of provider.
func (e *Engine) Fee(provider types.AccountID) (*big.Int, error) {
	stored, ok, err := e.loadProvider(provider)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: provider %s", oerrors.ErrNotFound, provider)
	}
	return types.CloneAmount(stored.QueryFee), nil
}

// Earnings returns the unclaimed earnings of provider, zero when unknown.
func (e *Engine) Earnings(provider types.AccountID) (*big.Int, error) {
	stored, ok, err := e.loadProvider(provider)
	if err != nil || !ok {
		return big.NewInt(0), err
	}
	return types.CloneAmount(stored.Earnings), nil
}

// Tickers lists the pairs registered by provider in creation order.
func (e *Engine) Tickers(provider types.AccountID) ([]string, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(joinKey(tickersPrefix, provider.String()), &raw); err != nil {
		return nil, err
	}
	tickers := make([]string, len(raw))
	for i, t := range raw {
		tickers[i] = string(t)
	}
	return tickers, nil
}

// Credit adds fee to the earnings of provider.
func (e *Engine) Credit(provider types.AccountID, fee *big.Int) error {
	if fee == nil || fee.Sign() == 0 {
		return nil
	}
	stored, ok, err := e.loadProvider(provider)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: provider %s", oerrors.ErrNotFound, provider)
	}
	earnings, err := types.AddU128(stored.Earnings, fee)
	if err != nil {
		return fmt.Errorf("%w: earnings: %v", oerrors.ErrValidation, err)
	}
	stored.Earnings = earnings
	return e.storeProvider(provider, stored)
}

// TakeEarnings zeroes the earnings of provider and returns the previous value.
func (e *Engine) TakeEarnings(provider types.AccountID) (*big.Int, error) {
	stored, ok, err := e.loadProvider(provider)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	taken := types.CloneAmount(stored.Earnings)
	if taken.Sign() == 0 {
		return taken, nil
	}
	stored.Earnings = big.NewInt(0)
	if err := e.storeProvider(provider, stored); err != nil {
		return nil, err
	}
	e.emit(types.NewEvent(EventTypeEarningsPaid).
		With("provider", provider.String()).
		With("amount", taken.String()))
	return taken, nil
}
