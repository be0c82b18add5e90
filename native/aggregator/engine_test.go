package aggregator

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	oerrors "fporacle/core/errors"
	"fporacle/core/state"
	"fporacle/core/types"
	"fporacle/native/registry"
	"fporacle/storage"
)

const (
	providerA = types.AccountID("alpha.test")
	providerB = types.AccountID("beta.test")
)

func newTestEngines(t testing.TB) (*Engine, *registry.Engine) {
	t.Helper()
	mgr, err := state.NewManager(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	reg := registry.NewEngine()
	reg.SetState(mgr.Begin())
	return NewEngine(reg), reg
}

func mustCreate(t testing.TB, reg *registry.Engine, provider types.AccountID, ticker string, decimals uint32, price int64, fee int64, now uint64) {
	t.Helper()
	if _, err := reg.CreatePair(provider, ticker, decimals, big.NewInt(price), now); err != nil {
		t.Fatalf("create pair: %v", err)
	}
	if err := reg.SetFee(provider, big.NewInt(fee)); err != nil {
		t.Fatalf("set fee: %v", err)
	}
}

func TestGetEntryFreeLookup(t *testing.T) {
	engine, reg := newTestEngines(t)
	mustCreate(t, reg, providerA, "ETHUSD", 2, 400000, 0, 10)

	out, err := engine.GetEntry("ETHUSD", providerA, 0, big.NewInt(0))
	require.NoError(t, err)
	require.NoError(t, out.Err())
	entry := out.Entry()
	require.NotNil(t, entry)
	require.Equal(t, "400000", entry.Price.String())
	require.Equal(t, uint32(2), entry.Decimals)
	require.Equal(t, uint64(10), entry.LastUpdate)
	require.Equal(t, int64(0), out.Refund.Int64())
}

func TestGetEntryUnderpaidLeavesEarnings(t *testing.T) {
	engine, reg := newTestEngines(t)
	mustCreate(t, reg, providerA, "ETHUSD", 2, 400000, 10, 10)

	out, err := engine.GetEntry("ETHUSD", providerA, 0, big.NewInt(5))
	require.NoError(t, err)
	require.Nil(t, out.Entries)
	require.Equal(t, int64(5), out.Refund.Int64())
	require.True(t, errors.Is(out.Err(), oerrors.ErrPaymentInsufficient))

	earnings, err := reg.Earnings(providerA)
	require.NoError(t, err)
	require.Equal(t, int64(0), earnings.Int64())
}

func TestGetEntryChargesFee(t *testing.T) {
	engine, reg := newTestEngines(t)
	mustCreate(t, reg, providerA, "ETHUSD", 2, 400000, 10, 10)
	_, err := reg.PushData(providerA, "ETHUSD", big.NewInt(401000), nil, 20)
	require.NoError(t, err)

	out, err := engine.GetEntry("ETHUSD", providerA, 0, big.NewInt(15))
	require.NoError(t, err)
	require.Equal(t, int64(5), out.Refund.Int64())
	require.Equal(t, int64(10), out.Charged.Int64())
	require.Equal(t, "401000", out.Entry().Price.String())

	earnings, err := reg.Earnings(providerA)
	require.NoError(t, err)
	require.Equal(t, int64(10), earnings.Int64())
}

func TestGetEntryMissingAndStale(t *testing.T) {
	engine, reg := newTestEngines(t)
	mustCreate(t, reg, providerA, "ETHUSD", 2, 400000, 0, 10)

	out, err := engine.GetEntry("BTCUSD", providerA, 0, big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, ReasonMissing, out.Reason)
	require.True(t, errors.Is(out.Err(), oerrors.ErrValidation))

	out, err = engine.GetEntry("ETHUSD", providerB, 0, big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, ReasonMissing, out.Reason)

	out, err = engine.GetEntry("ETHUSD", providerA, 10, big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, ReasonStale, out.Reason)
	require.True(t, errors.Is(out.Err(), oerrors.ErrStale))
	require.Equal(t, int64(3), out.Refund.Int64())
}

func TestAggregateAvgExcludesStale(t *testing.T) {
	engine, reg := newTestEngines(t)
	mustCreate(t, reg, providerA, "ETHUSD", 2, 40005000, 1, 50)
	mustCreate(t, reg, providerB, "ETHUSD", 2, 39000000, 1, 5)

	out, err := engine.AggregateAvg([]string{"ETHUSD", "ETHUSD"}, []types.AccountID{providerA, providerB}, 10, big.NewInt(2))
	require.NoError(t, err)
	entry := out.Entry()
	require.NotNil(t, entry)
	require.Equal(t, "400050", entry.Price.String())
	require.Equal(t, uint32(0), entry.Decimals)
	require.Equal(t, uint64(10), entry.LastUpdate)
	require.Equal(t, int64(1), out.Refund.Int64())
	require.Equal(t, int64(1), out.Charged.Int64())
}

func TestAggregateAvgDividesBySuccessfulCount(t *testing.T) {
	engine, reg := newTestEngines(t)
	mustCreate(t, reg, providerA, "ETHUSD", 1, 11, 0, 50)
	mustCreate(t, reg, providerB, "ETHUSD", 3, 1250, 0, 50)

	out, err := engine.AggregateAvg([]string{"ETHUSD", "ETHUSD", "BTCUSD"}, []types.AccountID{providerA, providerB, providerB}, 0, big.NewInt(0))
	require.NoError(t, err)
	// (1.1 + 1.25) / 2 = 1.175
	require.Equal(t, "1175", out.Entry().Price.String())
	require.Equal(t, uint32(3), out.Entry().Decimals)
}

func TestAggregateAvgRejectsBadBatch(t *testing.T) {
	engine, _ := newTestEngines(t)
	_, err := engine.AggregateAvg(nil, nil, 0, big.NewInt(1))
	require.True(t, errors.Is(err, oerrors.ErrValidation))
	_, err = engine.AggregateAvg([]string{"ETHUSD"}, []types.AccountID{providerA, providerB}, 0, big.NewInt(1))
	require.True(t, errors.Is(err, oerrors.ErrValidation))
}

func TestAggregateAvgNothingServed(t *testing.T) {
	engine, _ := newTestEngines(t)
	out, err := engine.AggregateAvg([]string{"ETHUSD"}, []types.AccountID{providerA}, 0, big.NewInt(7))
	require.NoError(t, err)
	require.Nil(t, out.Entries)
	require.Equal(t, int64(7), out.Refund.Int64())
}

func TestAggregateCollectKeepsPositions(t *testing.T) {
	engine, reg := newTestEngines(t)
	mustCreate(t, reg, providerA, "ETHUSD", 2, 100, 2, 50)
	mustCreate(t, reg, providerB, "ETHUSD", 2, 200, 5, 50)

	out, err := engine.AggregateCollect(
		[]string{"ETHUSD", "BTCUSD", "ETHUSD"},
		[]types.AccountID{providerA, providerA, providerB},
		0, big.NewInt(6))
	require.NoError(t, err)
	require.Len(t, out.Entries, 3)
	require.Equal(t, "100", out.Entries[0].Price.String())
	require.Nil(t, out.Entries[1])
	// Only 4 units remain after the first charge, so providerB is unaffordable.
	require.Nil(t, out.Entries[2])
	require.Equal(t, int64(4), out.Refund.Int64())
	require.Equal(t, int64(2), out.Charged.Int64())
}

func TestFeeTotal(t *testing.T) {
	engine, reg := newTestEngines(t)
	mustCreate(t, reg, providerA, "ETHUSD", 2, 100, 2, 50)
	mustCreate(t, reg, providerB, "ETHUSD", 2, 200, 5, 50)
	total, err := engine.FeeTotal([]string{"ETHUSD", "ETHUSD"}, []types.AccountID{providerA, providerB})
	require.NoError(t, err)
	require.Equal(t, int64(7), total.Int64())

	_, err = engine.FeeTotal([]string{"ETHUSD"}, []types.AccountID{"gamma.test"})
	require.True(t, errors.Is(err, oerrors.ErrNotFound))
}

func TestMinimalDecimals(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
	}{
		{"400050", 0},
		{"400050.0", 0},
		{"1.5", 1},
		{"0.125", 3},
		{"123456789012345678901234567.25", 2},
		{"0.000000000000001", 15},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, MinimalDecimals(decimal.RequireFromString(tc.in)), tc.in)
	}
}

func TestAverageRoundsAtMaxDecimals(t *testing.T) {
	avg := Average(decimal.NewFromInt(1), 3)
	require.Equal(t, "0.333333333333333", avg.String())
	require.Equal(t, uint32(MaxAverageDecimals), MinimalDecimals(avg))
}

func TestMinimalDecimalsRoundTripsLargeMagnitudes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		price := rapid.Uint64().Draw(rt, "price")
		decimals := rapid.Uint32Range(0, 18).Draw(rt, "decimals")
		v := decimal.NewFromBigInt(new(big.Int).SetUint64(price), -int32(decimals)).RoundBank(MaxAverageDecimals)
		d := MinimalDecimals(v)
		back := decimal.NewFromBigInt(v.Shift(int32(d)).BigInt(), -int32(d))
		if !back.Equal(v) {
			rt.Fatalf("round trip mismatch: %s -> %d -> %s", v, d, back)
		}
	})
}

func mustCreateBig(t testing.TB, reg *registry.Engine, provider types.AccountID, decimals uint32, price *big.Int) {
	t.Helper()
	if _, err := reg.CreatePair(provider, "ETHUSD", decimals, price, 50); err != nil {
		t.Fatalf("create pair: %v", err)
	}
}

func TestAggregateAvgScalesByEntryDecimals(t *testing.T) {
	engine, reg := newTestEngines(t)
	mustCreate(t, reg, providerA, "ETHUSD", registry.MaxDecimals, 5, 0, 50)
	mustCreate(t, reg, providerB, "ETHUSD", 0, 5, 0, 50)

	out, err := engine.AggregateAvg([]string{"ETHUSD", "ETHUSD"}, []types.AccountID{providerA, providerB}, 0, big.NewInt(0))
	require.NoError(t, err)
	// (5e-38 + 5) / 2 rounds to 2.5 at 15 fractional digits.
	require.Equal(t, "25", out.Entry().Price.String())
	require.Equal(t, uint32(1), out.Entry().Decimals)
}

func TestEntryValueRejectsOversizedDecimals(t *testing.T) {
	for _, decimals := range []uint32{registry.MaxDecimals + 1, 1 << 31, math.MaxUint32} {
		_, err := EntryValue(&registry.PriceEntry{Price: big.NewInt(5), Decimals: decimals})
		require.True(t, errors.Is(err, oerrors.ErrValidation), "decimals %d", decimals)
	}
	v, err := EntryValue(&registry.PriceEntry{Price: big.NewInt(5), Decimals: registry.MaxDecimals})
	require.NoError(t, err)
	require.True(t, v.Equal(decimal.New(5, -registry.MaxDecimals)))
}

func TestAggregateAvgTrimsDecimalsToFit(t *testing.T) {
	engine, reg := newTestEngines(t)
	base, _ := new(big.Int).SetString("1000000000000000000000000", 10)
	mustCreateBig(t, reg, providerA, 0, base)
	mustCreateBig(t, reg, providerB, 0, base)
	mustCreateBig(t, reg, "gamma.test", 0, new(big.Int).Add(base, big.NewInt(1)))

	out, err := engine.AggregateAvg(
		[]string{"ETHUSD", "ETHUSD", "ETHUSD"},
		[]types.AccountID{providerA, providerB, "gamma.test"},
		0, big.NewInt(0))
	require.NoError(t, err)
	entry := out.Entry()
	require.Equal(t, "100000000000000000000000033333333333333", entry.Price.String())
	require.Equal(t, uint32(14), entry.Decimals)
	require.NoError(t, types.ValidateU128(entry.Price))
}

func TestAggregateAvgNearTopOfRange(t *testing.T) {
	engine, reg := newTestEngines(t)
	top := new(big.Int).Lsh(big.NewInt(1), 127)
	mustCreateBig(t, reg, providerA, 0, top)
	mustCreateBig(t, reg, providerB, 0, new(big.Int).Add(top, big.NewInt(1)))

	out, err := engine.AggregateAvg([]string{"ETHUSD", "ETHUSD"}, []types.AccountID{providerA, providerB}, 0, big.NewInt(0))
	require.NoError(t, err)
	// 2^127 + 0.5 has no room for a fractional digit and rounds half to even.
	require.Equal(t, top.String(), out.Entry().Price.String())
	require.Equal(t, uint32(0), out.Entry().Decimals)
}

func TestScaledPriceAlwaysFits(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 4).Draw(rt, "n")
		sum := decimal.Zero
		for i := 0; i < n; i++ {
			hi := rapid.Uint64().Draw(rt, "hi")
			lo := rapid.Uint64().Draw(rt, "lo")
			price := new(big.Int).Lsh(new(big.Int).SetUint64(hi), 64)
			price.Or(price, new(big.Int).SetUint64(lo))
			decimals := rapid.Uint32Range(0, registry.MaxDecimals).Draw(rt, "decimals")
			v, err := EntryValue(&registry.PriceEntry{Price: price, Decimals: decimals})
			if err != nil {
				rt.Fatalf("entry value: %v", err)
			}
			sum = sum.Add(v)
		}
		avg := Average(sum, int64(n))
		price, d, err := ScaledPrice(avg)
		if err != nil {
			rt.Fatalf("scaled price of %s: %v", avg, err)
		}
		if err := types.ValidateU128(price); err != nil {
			rt.Fatalf("price %s out of range: %v", price, err)
		}
		if d > MaxAverageDecimals {
			rt.Fatalf("decimals %d above cap", d)
		}
		back := decimal.NewFromBigInt(price, -int32(d))
		if limit := decimal.New(5, -int32(d)-1); back.Sub(avg).Abs().GreaterThan(limit) {
			rt.Fatalf("%s encoded as %s", avg, back)
		}
	})
}

func TestQueryConservesValue(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		engine, reg := newTestEngines(t)
		providers := []types.AccountID{providerA, providerB, "gamma.test"}
		for i, p := range providers {
			fee := rapid.Int64Range(0, 50).Draw(rt, "fee")
			updated := rapid.Uint64Range(1, 100).Draw(rt, "updated")
			mustCreate(t, reg, p, "ETHUSD", uint32(i), rapid.Int64Range(0, 1_000_000).Draw(rt, "price"), fee, updated)
		}
		n := rapid.IntRange(1, 6).Draw(rt, "n")
		tickers := make([]string, n)
		batch := make([]types.AccountID, n)
		for i := range tickers {
			tickers[i] = rapid.SampledFrom([]string{"ETHUSD", "BTCUSD"}).Draw(rt, "ticker")
			batch[i] = rapid.SampledFrom(append(providers, "delta.test")).Draw(rt, "provider")
		}
		amount := big.NewInt(rapid.Int64Range(0, 200).Draw(rt, "amount"))
		minLast := rapid.Uint64Range(0, 100).Draw(rt, "minLast")

		before := big.NewInt(0)
		for _, p := range providers {
			e, _ := reg.Earnings(p)
			before.Add(before, e)
		}
		var out *Outcome
		var err error
		if rapid.Bool().Draw(rt, "avg") {
			out, err = engine.AggregateAvg(tickers, batch, minLast, amount)
		} else {
			out, err = engine.AggregateCollect(tickers, batch, minLast, amount)
		}
		if err != nil {
			rt.Fatalf("aggregate: %v", err)
		}
		after := big.NewInt(0)
		for _, p := range providers {
			e, _ := reg.Earnings(p)
			after.Add(after, e)
		}
		if sum := new(big.Int).Add(out.Charged, out.Refund); sum.Cmp(amount) != 0 {
			rt.Fatalf("charged %s + refund %s != amount %s", out.Charged, out.Refund, amount)
		}
		if gained := new(big.Int).Sub(after, before); gained.Cmp(out.Charged) != 0 {
			rt.Fatalf("earnings grew by %s, charged %s", gained, out.Charged)
		}
	})
}
