// Package core hosts the programs that front the native engines. Every call
// runs against a fresh state journal; it either commits its writes, events and
// effects together or leaves no trace at all.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	oerrors "fporacle/core/errors"
	"fporacle/core/events"
	"fporacle/core/state"
	"fporacle/core/types"
	"fporacle/native/effects"
	"fporacle/native/gateway"
	"fporacle/observability"
	"fporacle/storage"
)

// DefaultCallBudget bounds the execution of a single program call.
const DefaultCallBudget = 2 * time.Second

// Call carries the context of a top-level invocation.
type Call struct {
	Caller   types.AccountID
	Attached *big.Int
	// Now is the block timestamp in nanoseconds. Zero means wall clock.
	Now uint64
}

// Submitter accepts committed effects for dispatch.
type Submitter interface {
	Submit(effs []*effects.Effect)
}

// Options wires a program to its collaborators.
type Options struct {
	// Native moves attached value between callers and the program.
	Native  gateway.NativeBank
	Effects Submitter
	Emitter events.Emitter
	Logger  *slog.Logger
	Budget  time.Duration
	NowFunc func() time.Time
}

type callScope struct {
	call     Call
	journal  *state.Journal
	recorder *events.Recorder
	batch    effects.Batch
}

func (s *callScope) attached() *big.Int { return types.CloneAmount(s.call.Attached) }

type runtime struct {
	name    string
	self    types.AccountID
	stateMu sync.Mutex
	state   *state.Manager
	native  gateway.NativeBank
	submit  Submitter
	emitter events.Emitter
	logger  *slog.Logger
	budget  time.Duration
	nowFunc func() time.Time
	bind    func(j *state.Journal, emitter events.Emitter)
}

func newRuntime(name string, self types.AccountID, db storage.Database, opts Options) (*runtime, error) {
	if err := self.Validate(); err != nil {
		return nil, fmt.Errorf("%s: self account: %w", name, err)
	}
	if db == nil {
		return nil, fmt.Errorf("%s: database not configured", name)
	}
	manager, err := state.NewManager(db)
	if err != nil {
		return nil, fmt.Errorf("%s: open state: %w", name, err)
	}
	rt := &runtime{
		name:    name,
		self:    self,
		state:   manager,
		native:  opts.Native,
		submit:  opts.Effects,
		emitter: opts.Emitter,
		logger:  opts.Logger,
		budget:  opts.Budget,
		nowFunc: opts.NowFunc,
	}
	if rt.emitter == nil {
		rt.emitter = events.NoopEmitter{}
	}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	rt.logger = rt.logger.With(slog.String("program", name))
	if rt.budget <= 0 {
		rt.budget = DefaultCallBudget
	}
	if rt.nowFunc == nil {
		rt.nowFunc = time.Now
	}
	return rt, nil
}

// StorageUsage reports the committed bytes held by the program.
func (r *runtime) StorageUsage() uint64 { return r.state.StorageUsage() }

func (r *runtime) now(call Call) uint64 {
	if call.Now != 0 {
		return call.Now
	}
	return uint64(r.nowFunc().UnixNano())
}

// collect moves attached value from the caller into the program account.
func (r *runtime) collect(ctx context.Context, call Call) error {
	if call.Attached == nil || call.Attached.Sign() == 0 {
		return nil
	}
	if err := types.ValidateU128(call.Attached); err != nil {
		return fmt.Errorf("%w: attached: %v", oerrors.ErrValidation, err)
	}
	if r.native == nil {
		return fmt.Errorf("%w: %s does not accept attached value", oerrors.ErrValidation, r.name)
	}
	if err := r.native.Transfer(ctx, call.Caller, r.self, call.Attached, "attach"); err != nil {
		return fmt.Errorf("%w: attach: %v", oerrors.ErrPaymentInsufficient, err)
	}
	return nil
}

// giveBack returns the attached value of an aborted call.
func (r *runtime) giveBack(call Call) {
	if call.Attached == nil || call.Attached.Sign() == 0 || r.native == nil {
		return
	}
	if err := r.native.Transfer(context.Background(), r.self, call.Caller, call.Attached, "abort refund"); err != nil {
		r.logger.Error("return of attached value failed",
			slog.String("caller", call.Caller.String()),
			slog.String("amount", call.Attached.String()),
			slog.Any("error", err))
	}
}

// exec runs fn as one atomic call. Writes, events and effects of fn become
// visible only if fn and the commit both succeed.
func (r *runtime) exec(ctx context.Context, method string, call Call, fn func(ctx context.Context, s *callScope) error) (err error) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	start := time.Now()
	defer func() {
		observability.Oracle().ObserveCall(r.name, method, err, time.Since(start))
	}()

	if call.Attached == nil {
		call.Attached = big.NewInt(0)
	}
	ctx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	if err := r.collect(ctx, call); err != nil {
		return err
	}
	scope := &callScope{call: call, journal: r.state.Begin(), recorder: &events.Recorder{}}
	r.bind(scope.journal, scope.recorder)
	defer r.bind(nil, nil)

	err = fn(ctx, scope)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %s.%s: %v", oerrors.ErrBudgetExceeded, r.name, method, err)
	}
	if err == nil {
		if cerr := scope.journal.Commit(); cerr != nil {
			err = fmt.Errorf("%s: commit: %w", r.name, cerr)
		}
	}
	if err != nil {
		scope.journal.Discard()
		scope.recorder.Reset()
		r.giveBack(call)
		r.logger.Debug("call aborted",
			slog.String("method", method),
			slog.String("caller", call.Caller.String()),
			slog.Any("error", err))
		return err
	}

	scope.recorder.Flush(r.emitter)
	if effs := scope.batch.Effects(); len(effs) > 0 && r.submit != nil {
		r.submit.Submit(effs)
	}
	observability.Oracle().SetStorageUsage(r.name, r.state.StorageUsage())
	return nil
}

// view runs fn against a throwaway journal. Nothing it writes is kept.
func (r *runtime) view(fn func() error) error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	journal := r.state.Begin()
	defer journal.Discard()
	r.bind(journal, events.NoopEmitter{})
	defer r.bind(nil, nil)
	return fn()
}

func requireNoDeposit(call Call) error {
	if call.Attached != nil && call.Attached.Sign() != 0 {
		return fmt.Errorf("%w: method is not payable", oerrors.ErrValidation)
	}
	return nil
}
