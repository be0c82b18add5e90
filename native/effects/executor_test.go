package effects

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	oerrors "fporacle/core/errors"
	"fporacle/core/types"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	seen   []*Effect
	failOn map[types.AccountID]error
	unused *big.Int
	block  bool
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, eff *Effect) (*big.Int, error) {
	d.mu.Lock()
	d.seen = append(d.seen, eff)
	err := d.failOn[eff.To]
	d.mu.Unlock()
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return d.unused, nil
}

type handlerFunc func(ctx context.Context, cb Callback, res Result) error

func (f handlerFunc) HandleCallback(ctx context.Context, cb Callback, res Result) error {
	return f(ctx, cb, res)
}

func TestDrainPreservesOrder(t *testing.T) {
	d := &recordingDispatcher{}
	x := NewExecutor(d, nil)
	first := NewTransfer("token.test", "oracle.test", "a.test", big.NewInt(1), "")
	second := NewNativeTransfer("oracle.test", "b.test", big.NewInt(2))
	third := NewTransferCall("token.test", "oracle.test", "c.test", big.NewInt(3), "", []byte(`{}`))
	x.Submit([]*Effect{first, second})
	x.Submit([]*Effect{third})
	require.Equal(t, 3, x.Pending())

	x.Drain(context.Background())
	require.Equal(t, 0, x.Pending())
	require.Len(t, d.seen, 3)
	require.Equal(t, first.ID, d.seen[0].ID)
	require.Equal(t, second.ID, d.seen[1].ID)
	require.Equal(t, third.ID, d.seen[2].ID)
}

func TestCallbackReceivesResultAndMaySchedule(t *testing.T) {
	d := &recordingDispatcher{
		failOn: map[types.AccountID]error{"bad.test": errors.New("ledger rejected")},
		unused: big.NewInt(4),
	}
	x := NewExecutor(d, nil)
	var results []Result
	x.Register("requester", handlerFunc(func(_ context.Context, cb Callback, res Result) error {
		require.Equal(t, "on_resolved", cb.Method)
		results = append(results, res)
		if res.Succeeded() {
			x.Submit([]*Effect{NewNativeTransfer("requester.test", "follow.test", res.Unused)})
		}
		return nil
	}))

	ok := NewTransferCall("token.test", "requester.test", "good.test", big.NewInt(10), "", nil).
		WithCallback("requester", "on_resolved", []byte("1"))
	failed := NewTransfer("token.test", "requester.test", "bad.test", big.NewInt(5), "").
		WithCallback("requester", "on_resolved", nil)
	x.Submit([]*Effect{ok, failed})
	x.Drain(context.Background())

	require.Len(t, results, 2)
	require.True(t, results[0].Succeeded())
	require.Equal(t, int64(4), results[0].Unused.Int64())
	require.False(t, results[1].Succeeded())
	require.Len(t, d.seen, 3)
	require.Equal(t, types.AccountID("follow.test"), d.seen[2].To)
}

func TestDispatchTimeoutIsBudgetExceeded(t *testing.T) {
	d := &recordingDispatcher{block: true}
	x := NewExecutor(d, nil)
	x.SetTimeout(10 * time.Millisecond)
	var got Result
	x.SetObserver(func(_ *Effect, res Result, _ time.Duration) { got = res })
	x.Submit([]*Effect{NewNativeTransfer("a.test", "b.test", big.NewInt(1))})
	x.Drain(context.Background())
	require.True(t, errors.Is(got.Err, oerrors.ErrBudgetExceeded))
}

func TestRunProcessesSubmissions(t *testing.T) {
	d := &recordingDispatcher{}
	x := NewExecutor(d, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		x.Run(ctx)
		close(done)
	}()
	x.Submit([]*Effect{NewNativeTransfer("a.test", "b.test", big.NewInt(1))})
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.seen) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestBatchSkipsNil(t *testing.T) {
	var b Batch
	b.Add(nil, NewNativeTransfer("a.test", "b.test", big.NewInt(1)), nil)
	require.Equal(t, 1, b.Len())
	require.Len(t, b.Effects(), 1)
	b.Reset()
	require.Equal(t, 0, b.Len())
}
