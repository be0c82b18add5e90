package registry

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	oerrors "fporacle/core/errors"
	"fporacle/core/events"
	"fporacle/core/state"
	"fporacle/core/types"
	"fporacle/storage"
)

const provider = types.AccountID("provider.test")

func newTestEngine(t *testing.T) (*Engine, *events.Recorder) {
	t.Helper()
	mgr, err := state.NewManager(storage.NewMemDB())
	require.NoError(t, err)
	engine := NewEngine()
	engine.SetState(mgr.Begin())
	rec := &events.Recorder{}
	engine.SetEmitter(rec)
	return engine, rec
}

func TestCreatePushGetRoundTrip(t *testing.T) {
	engine, rec := newTestEngine(t)
	created, err := engine.CreatePair(provider, "ETHUSD", 2, big.NewInt(400000), 100)
	require.NoError(t, err)
	require.Equal(t, uint64(100), created.LastUpdate)

	updated, err := engine.PushData(provider, "ETHUSD", big.NewInt(410000), nil, 250)
	require.NoError(t, err)
	require.Equal(t, uint32(2), updated.Decimals)

	entry, ok, err := engine.Entry(provider, "ETHUSD")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "410000", entry.Price.String())
	require.Equal(t, uint32(2), entry.Decimals)
	require.GreaterOrEqual(t, entry.LastUpdate, created.LastUpdate)

	evts := rec.Events()
	require.Len(t, evts, 2)
	require.Equal(t, EventTypePairCreated, evts[0].EventType())
	require.Equal(t, EventTypePricePushed, evts[1].EventType())
}

func TestPushDataUpdatesDecimalsWhenGiven(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.CreatePair(provider, "BTCUSD", 2, big.NewInt(1), 1)
	require.NoError(t, err)
	decimals := uint32(8)
	entry, err := engine.PushData(provider, "BTCUSD", big.NewInt(5), &decimals, 2)
	require.NoError(t, err)
	require.Equal(t, uint32(8), entry.Decimals)
}

func TestPushDataRequiresRegisteredPair(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.PushData(provider, "ETHUSD", big.NewInt(1), nil, 1)
	require.True(t, errors.Is(err, oerrors.ErrValidation))
}

func TestPushDataKeepsQueryFee(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.CreatePair(provider, "ETHUSD", 2, big.NewInt(1), 1)
	require.NoError(t, err)
	require.NoError(t, engine.SetFee(provider, big.NewInt(10)))
	_, err = engine.PushData(provider, "ETHUSD", big.NewInt(2), nil, 2)
	require.NoError(t, err)
	fee, err := engine.Fee(provider)
	require.NoError(t, err)
	require.Equal(t, int64(10), fee.Int64())
}

func TestCreatePairRejectsExisting(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.CreatePair(provider, "ETHUSD", 2, big.NewInt(1), 1)
	require.NoError(t, err)
	_, err = engine.CreatePair(provider, "ETHUSD", 4, big.NewInt(9), 2)
	require.True(t, errors.Is(err, oerrors.ErrPairExists))

	entry, _, err := engine.Entry(provider, "ETHUSD")
	require.NoError(t, err)
	require.Equal(t, uint32(2), entry.Decimals)
	require.Equal(t, "1", entry.Price.String())
}

func TestCreatePairOverwriteWhenAllowed(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.SetAllowPairOverwrite(true)
	_, err := engine.CreatePair(provider, "ETHUSD", 2, big.NewInt(1), 1)
	require.NoError(t, err)
	_, err = engine.CreatePair(provider, "ETHUSD", 4, big.NewInt(9), 2)
	require.NoError(t, err)

	entry, _, err := engine.Entry(provider, "ETHUSD")
	require.NoError(t, err)
	require.Equal(t, uint32(4), entry.Decimals)
	require.Equal(t, "9", entry.Price.String())

	tickers, err := engine.Tickers(provider)
	require.NoError(t, err)
	require.Equal(t, []string{"ETHUSD"}, tickers)
}

func TestSetFeeCreatesProvider(t *testing.T) {
	engine, _ := newTestEngine(t)
	exists, err := engine.ProviderExists(provider)
	require.NoError(t, err)
	require.False(t, exists)
	_, err = engine.Fee(provider)
	require.True(t, errors.Is(err, oerrors.ErrNotFound))

	require.NoError(t, engine.SetFee(provider, big.NewInt(0)))
	p, ok, err := engine.Provider(provider)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0), p.QueryFee.Int64())
	require.Empty(t, p.Tickers)
}

func TestCreditAndTakeEarnings(t *testing.T) {
	engine, rec := newTestEngine(t)
	require.True(t, errors.Is(engine.Credit(provider, big.NewInt(1)), oerrors.ErrNotFound))
	_, err := engine.CreatePair(provider, "ETHUSD", 2, big.NewInt(1), 1)
	require.NoError(t, err)
	require.NoError(t, engine.Credit(provider, big.NewInt(10)))
	require.NoError(t, engine.Credit(provider, big.NewInt(5)))

	taken, err := engine.TakeEarnings(provider)
	require.NoError(t, err)
	require.Equal(t, int64(15), taken.Int64())
	earnings, err := engine.Earnings(provider)
	require.NoError(t, err)
	require.Equal(t, int64(0), earnings.Int64())

	last := rec.Events()[len(rec.Events())-1]
	require.Equal(t, EventTypeEarningsPaid, last.EventType())
}

func TestTickerValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.CreatePair(provider, "  ", 2, big.NewInt(1), 1)
	require.True(t, errors.Is(err, oerrors.ErrValidation))
	over := new(big.Int).Lsh(big.NewInt(1), 128)
	_, err = engine.CreatePair(provider, "ETHUSD", 2, over, 1)
	require.True(t, errors.Is(err, oerrors.ErrValidation))
}

func TestDecimalsBound(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.CreatePair(provider, "ETHUSD", MaxDecimals, big.NewInt(5), 1)
	require.NoError(t, err)
	_, err = engine.CreatePair(provider, "BTCUSD", MaxDecimals+1, big.NewInt(5), 1)
	require.True(t, errors.Is(err, oerrors.ErrValidation))
	exists, err := engine.PairExists(provider, "BTCUSD")
	require.NoError(t, err)
	require.False(t, exists)

	for _, decimals := range []uint32{MaxDecimals + 1, 1 << 31, math.MaxUint32} {
		d := decimals
		_, err = engine.PushData(provider, "ETHUSD", big.NewInt(6), &d, 2)
		require.True(t, errors.Is(err, oerrors.ErrValidation), "decimals %d", d)
	}
	entry, ok, err := engine.Entry(provider, "ETHUSD")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "5", entry.Price.String())
	require.Equal(t, uint32(MaxDecimals), entry.Decimals)
}
