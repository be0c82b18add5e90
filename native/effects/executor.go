package effects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	oerrors "fporacle/core/errors"
)

// DefaultTimeout bounds a single dispatch or callback.
const DefaultTimeout = 5 * time.Second

// Dispatcher performs an effect against the external collaborators.
type Dispatcher interface {
	Dispatch(ctx context.Context, eff *Effect) (unused *big.Int, err error)
}

// CallbackHandler runs the callback of an effect as a new top-level call.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb Callback, res Result) error
}

// Observer is notified after every dispatch.
type Observer func(eff *Effect, res Result, elapsed time.Duration)

// Executor dispatches committed effects from a single ordered queue. Effects of
// one batch run in scheduling order and the callback of an effect runs right
// after it completes. Nothing is retried.
type Executor struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	tracer     trace.Tracer
	timeout    time.Duration

	mu       sync.Mutex
	queue    []*Effect
	handlers map[string]CallbackHandler
	observer Observer
	notify   chan struct{}

	process sync.Mutex
}

// NewExecutor creates an executor dispatching through d.
func NewExecutor(d Dispatcher, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		dispatcher: d,
		logger:     logger.With(slog.String("component", "effects")),
		tracer:     otel.Tracer("fporacle/effects"),
		timeout:    DefaultTimeout,
		handlers:   make(map[string]CallbackHandler),
		notify:     make(chan struct{}, 1),
	}
}

// SetTimeout overrides the per-effect budget. Non-positive values restore the
// default.
func (x *Executor) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	x.timeout = d
}

// SetObserver installs a hook invoked after every dispatch.
func (x *Executor) SetObserver(obs Observer) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.observer = obs
}

// Register routes callbacks addressed to program to h.
func (x *Executor) Register(program string, h CallbackHandler) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.handlers[program] = h
}

// Submit enqueues the effects of a committed call.
func (x *Executor) Submit(effs []*Effect) {
	if len(effs) == 0 {
		return
	}
	x.mu.Lock()
	x.queue = append(x.queue, effs...)
	x.mu.Unlock()
	select {
	case x.notify <- struct{}{}:
	default:
	}
}

// Pending reports the number of queued effects.
func (x *Executor) Pending() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.queue)
}

func (x *Executor) next() *Effect {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.queue) == 0 {
		return nil
	}
	eff := x.queue[0]
	x.queue[0] = nil
	x.queue = x.queue[1:]
	return eff
}

// Drain processes the queue until it is empty, including effects scheduled by
// callbacks along the way.
func (x *Executor) Drain(ctx context.Context) {
	x.process.Lock()
	defer x.process.Unlock()
	for {
		if ctx.Err() != nil {
			return
		}
		eff := x.next()
		if eff == nil {
			return
		}
		x.execute(ctx, eff)
	}
}

// Run drains the queue whenever effects are submitted until ctx is done.
func (x *Executor) Run(ctx context.Context) {
	for {
		x.Drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-x.notify:
		}
	}
}

func (x *Executor) execute(ctx context.Context, eff *Effect) {
	start := time.Now()
	spanCtx, span := x.tracer.Start(ctx, "effects.dispatch",
		trace.WithAttributes(
			attribute.String("effect.id", eff.ID.String()),
			attribute.String("effect.kind", eff.Kind.String()),
			attribute.String("effect.to", eff.To.String()),
		))
	defer span.End()

	res := Result{EffectID: eff.ID, Unused: big.NewInt(0)}
	if x.dispatcher == nil {
		res.Err = errors.New("effects: dispatcher not configured")
	} else {
		dctx, cancel := context.WithTimeout(spanCtx, x.timeout)
		unused, err := x.dispatcher.Dispatch(dctx, eff)
		if err == nil && dctx.Err() != nil {
			err = dctx.Err()
		}
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", oerrors.ErrBudgetExceeded, err)
		}
		res.Err = err
		if unused != nil {
			res.Unused = unused
		}
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		x.logger.Warn("effect failed",
			slog.String("effect", eff.ID.String()),
			slog.String("kind", eff.Kind.String()),
			slog.String("to", eff.To.String()),
			slog.String("amount", eff.Amount.String()),
			slog.Any("error", res.Err))
	} else {
		span.SetStatus(codes.Ok, "dispatched")
	}

	x.mu.Lock()
	obs := x.observer
	x.mu.Unlock()
	if obs != nil {
		obs(eff, res, time.Since(start))
	}

	if eff.Callback != nil {
		x.callback(spanCtx, eff, res)
	}
}

func (x *Executor) callback(ctx context.Context, eff *Effect, res Result) {
	x.mu.Lock()
	h := x.handlers[eff.Callback.Program]
	x.mu.Unlock()
	if h == nil {
		x.logger.Error("callback target not registered",
			slog.String("effect", eff.ID.String()),
			slog.String("program", eff.Callback.Program),
			slog.String("method", eff.Callback.Method))
		return
	}
	cctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	if err := h.HandleCallback(cctx, *eff.Callback, res); err != nil {
		x.logger.Error("callback failed",
			slog.String("effect", eff.ID.String()),
			slog.String("program", eff.Callback.Program),
			slog.String("method", eff.Callback.Method),
			slog.Any("error", err))
	}
}
