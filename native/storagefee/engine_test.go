package storagefee

import (
	"errors"
	"math/big"
	"testing"

	"pgregory.net/rapid"

	oerrors "fporacle/core/errors"
	"fporacle/core/events"
	"fporacle/core/state"
	"fporacle/core/types"
	"fporacle/storage"
)

const alice = types.AccountID("alice.test")

func newTestEngine(t testing.TB, params Params) (*Engine, *state.Journal, *events.Recorder) {
	t.Helper()
	mgr, err := state.NewManager(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	journal := mgr.Begin()
	rec := &events.Recorder{}
	engine := NewEngine(params)
	engine.SetState(journal)
	engine.SetEmitter(rec)
	return engine, journal, rec
}

func smallParams() Params {
	return Params{MinDeposit: big.NewInt(100), ByteCost: big.NewInt(2)}
}

func TestDepositBelowMinimumRejected(t *testing.T) {
	engine, _, rec := newTestEngine(t, DefaultParams())
	below := new(big.Int).Sub(defaultMinDeposit, big.NewInt(1))
	if _, err := engine.Deposit(alice, below); !errors.Is(err, oerrors.ErrStorageInsufficient) {
		t.Fatalf("expected storage insufficient, got %v", err)
	}
	if _, ok, _ := engine.BalanceOf(alice); ok {
		t.Fatalf("rejected deposit must not create a balance")
	}
	bal, err := engine.Deposit(alice, new(big.Int).Set(defaultMinDeposit))
	if err != nil {
		t.Fatalf("deposit minimum: %v", err)
	}
	if bal.Total.Cmp(defaultMinDeposit) != 0 || bal.Available.Cmp(defaultMinDeposit) != 0 {
		t.Fatalf("unexpected balance: total=%s available=%s", bal.Total, bal.Available)
	}
	evts := rec.Events()
	if len(evts) != 1 || evts[0].EventType() != EventTypeDeposited {
		t.Fatalf("unexpected events: %+v", evts)
	}
}

func TestBalanceOfUnknownAccountDoesNotMutate(t *testing.T) {
	engine, journal, _ := newTestEngine(t, smallParams())
	for i := 0; i < 2; i++ {
		bal, ok, err := engine.BalanceOf("nobody.test")
		if err != nil || ok || bal != nil {
			t.Fatalf("expected absent balance, got %+v ok=%v err=%v", bal, ok, err)
		}
	}
	if journal.Dirty() {
		t.Fatalf("balance lookup staged writes")
	}
}

func TestWithdrawRequiresSingleUnit(t *testing.T) {
	engine, _, _ := newTestEngine(t, smallParams())
	if _, err := engine.Deposit(alice, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	for _, attached := range []*big.Int{nil, big.NewInt(0), big.NewInt(2)} {
		if _, _, err := engine.Withdraw(alice, big.NewInt(10), attached); !errors.Is(err, oerrors.ErrPaymentInsufficient) {
			t.Fatalf("attached %v: expected payment insufficient, got %v", attached, err)
		}
	}
	if _, _, err := engine.Withdraw(alice, big.NewInt(501), big.NewInt(1)); !errors.Is(err, oerrors.ErrStorageInsufficient) {
		t.Fatalf("expected storage insufficient, got %v", err)
	}
	withdrawn, bal, err := engine.Withdraw(alice, big.NewInt(200), big.NewInt(1))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Int64() != 200 || bal.Total.Int64() != 300 || bal.Available.Int64() != 300 {
		t.Fatalf("unexpected withdraw result: %s %+v", withdrawn, bal)
	}
	withdrawn, bal, err = engine.Withdraw(alice, nil, big.NewInt(1))
	if err != nil {
		t.Fatalf("withdraw all: %v", err)
	}
	if withdrawn.Int64() != 300 || bal.Total.Sign() != 0 || bal.Available.Sign() != 0 {
		t.Fatalf("unexpected withdraw-all result: %s %+v", withdrawn, bal)
	}
}

func TestWithdrawUnknownAccount(t *testing.T) {
	engine, _, _ := newTestEngine(t, smallParams())
	if _, _, err := engine.Withdraw(alice, nil, big.NewInt(1)); !errors.Is(err, oerrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSettleChargesGrowth(t *testing.T) {
	engine, _, _ := newTestEngine(t, smallParams())
	if _, err := engine.Deposit(alice, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	bal, err := engine.Settle(alice, 10, 40, big.NewInt(100))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if bal.Available.Int64() != 40 || bal.Total.Int64() != 100 {
		t.Fatalf("unexpected balance after growth: %+v", bal)
	}
	if _, err := engine.Settle(alice, 40, 61, bal.Available); !errors.Is(err, oerrors.ErrStorageInsufficient) {
		t.Fatalf("expected storage insufficient, got %v", err)
	}
}

func TestSettleShrinkIsCappedAtTotal(t *testing.T) {
	engine, _, _ := newTestEngine(t, smallParams())
	if _, err := engine.Deposit(alice, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	bal, err := engine.Settle(alice, 40, 30, big.NewInt(90))
	if err != nil {
		t.Fatalf("settle shrink: %v", err)
	}
	if bal.Available.Int64() != 100 {
		t.Fatalf("expected available capped at total, got %s", bal.Available)
	}
}

func TestSettleWithoutBalance(t *testing.T) {
	engine, _, _ := newTestEngine(t, smallParams())
	if _, err := engine.Settle(alice, 0, 1, big.NewInt(0)); !errors.Is(err, oerrors.ErrStorageInsufficient) {
		t.Fatalf("expected storage insufficient, got %v", err)
	}
	if _, err := engine.Settle(alice, 5, 1, big.NewInt(0)); err != nil {
		t.Fatalf("shrink without balance: %v", err)
	}
}

func TestAvailableNeverExceedsTotal(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		engine, _, _ := newTestEngine(t, smallParams())
		for i := 0; i < 30; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				amt := rapid.Int64Range(0, 1000).Draw(rt, "deposit")
				_, _ = engine.Deposit(alice, big.NewInt(amt))
			case 1:
				amt := rapid.Int64Range(0, 1000).Draw(rt, "withdraw")
				_, _, _ = engine.Withdraw(alice, big.NewInt(amt), big.NewInt(1))
			case 2:
				before := rapid.Uint64Range(0, 200).Draw(rt, "before")
				after := rapid.Uint64Range(0, 200).Draw(rt, "after")
				cur, ok, _ := engine.BalanceOf(alice)
				if !ok {
					continue
				}
				_, _ = engine.Settle(alice, before, after, cur.Available)
			}
			bal, ok, err := engine.BalanceOf(alice)
			if err != nil {
				rt.Fatalf("balance: %v", err)
			}
			if ok && bal.Available.Cmp(bal.Total) > 0 {
				rt.Fatalf("available %s exceeds total %s", bal.Available, bal.Total)
			}
			if ok && bal.Available.Sign() < 0 {
				rt.Fatalf("negative available %s", bal.Available)
			}
		}
	})
}
