package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"fporacle/core/events"
	"fporacle/core/state"
	"fporacle/core/types"
	"fporacle/native/aggregator"
	"fporacle/native/effects"
	"fporacle/native/gateway"
	"fporacle/native/registry"
	"fporacle/native/storagefee"
	"fporacle/observability"
	"fporacle/storage"
)

// OracleProgramName is the callback address of the oracle program.
const OracleProgramName = "oracle"

// OracleConfig configures the oracle program.
type OracleConfig struct {
	Self               types.AccountID
	PaymentToken       types.AccountID
	Storage            storagefee.Params
	AllowPairOverwrite bool
}

// OracleProgram hosts provider price feeds, fee-metered queries and the
// storage escrow of its users.
type OracleProgram struct {
	*runtime
	cfg        OracleConfig
	registry   *registry.Engine
	aggregator *aggregator.Engine
	storage    *storagefee.Engine
	gateway    *gateway.Engine
}

// NewOracleProgram opens the oracle program on db.
func NewOracleProgram(cfg OracleConfig, db storage.Database, opts Options) (*OracleProgram, error) {
	rt, err := newRuntime(OracleProgramName, cfg.Self, db, opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.PaymentToken.Validate(); err != nil {
		return nil, fmt.Errorf("oracle: payment token: %w", err)
	}
	reg := registry.NewEngine()
	reg.SetAllowPairOverwrite(cfg.AllowPairOverwrite)
	fees := storagefee.NewEngine(cfg.Storage)
	p := &OracleProgram{
		runtime:    rt,
		cfg:        cfg,
		registry:   reg,
		aggregator: aggregator.NewEngine(reg),
		storage:    fees,
		gateway:    gateway.NewEngine(cfg.Self, OracleProgramName, cfg.PaymentToken, reg, fees),
	}
	rt.bind = p.bind
	return p, nil
}

func (p *OracleProgram) bind(j *state.Journal, emitter events.Emitter) {
	if j == nil {
		p.registry.SetState(nil)
		p.storage.SetState(nil)
		p.gateway.SetState(nil)
	} else {
		p.registry.SetState(j)
		p.storage.SetState(j)
		p.gateway.SetState(j)
	}
	p.registry.SetEmitter(emitter)
	p.storage.SetEmitter(emitter)
	p.aggregator.SetEmitter(emitter)
	p.gateway.SetEmitter(emitter)
}

// Self returns the program account.
func (p *OracleProgram) Self() types.AccountID { return p.cfg.Self }

// settleProviderStorage charges the storage growth of a provider call against
// the attached payment and refunds the rest.
func (p *OracleProgram) settleProviderStorage(s *callScope) error {
	eff, _, err := p.gateway.RefundStorage(s.journal, s.call.Caller, s.attached())
	if err != nil {
		return err
	}
	s.batch.Add(eff)
	return nil
}

// CreatePair registers ticker for the calling provider.
func (p *OracleProgram) CreatePair(ctx context.Context, call Call, ticker string, decimals uint32, initialPrice *big.Int) (*registry.PriceEntry, error) {
	var entry *registry.PriceEntry
	err := p.exec(ctx, "create_pair", call, func(ctx context.Context, s *callScope) error {
		var err error
		entry, err = p.registry.CreatePair(call.Caller, ticker, decimals, initialPrice, p.now(call))
		if err != nil {
			return err
		}
		return p.settleProviderStorage(s)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PushData publishes a new price for an existing pair of the caller.
func (p *OracleProgram) PushData(ctx context.Context, call Call, ticker string, price *big.Int, decimals *uint32) (*registry.PriceEntry, error) {
	var entry *registry.PriceEntry
	err := p.exec(ctx, "push_data", call, func(ctx context.Context, s *callScope) error {
		var err error
		entry, err = p.registry.PushData(call.Caller, ticker, price, decimals, p.now(call))
		if err != nil {
			return err
		}
		return p.settleProviderStorage(s)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// SetFee sets the query fee of the calling provider.
func (p *OracleProgram) SetFee(ctx context.Context, call Call, fee *big.Int) error {
	return p.exec(ctx, "set_fee", call, func(ctx context.Context, s *callScope) error {
		if err := p.registry.SetFee(call.Caller, fee); err != nil {
			return err
		}
		return p.settleProviderStorage(s)
	})
}

func (p *OracleProgram) settleQuery(s *callScope, method string, out *aggregator.Outcome) {
	s.batch.Add(p.gateway.Refund(s.call.Caller, out.Refund))
	observability.Oracle().RecordSettlement(method, out.Charged, out.Refund)
}

// GetEntry buys the latest entry of provider for ticker. A lookup that cannot
// be served aborts the call so the whole attachment goes back to the caller.
func (p *OracleProgram) GetEntry(ctx context.Context, call Call, ticker string, provider types.AccountID, minLastUpdate uint64) (*aggregator.Outcome, error) {
	var out *aggregator.Outcome
	err := p.exec(ctx, "get_entry", call, func(ctx context.Context, s *callScope) error {
		var err error
		out, err = p.aggregator.GetEntry(ticker, provider, minLastUpdate, s.attached())
		if err != nil {
			return err
		}
		if err := out.Err(); err != nil {
			return err
		}
		p.settleQuery(s, "get_entry", out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AggregateAvg averages the entries of (tickers[i], providers[i]) pairs that
// can be served, charging their fees and refunding the rest.
func (p *OracleProgram) AggregateAvg(ctx context.Context, call Call, tickers []string, providers []types.AccountID, minLastUpdate uint64) (*aggregator.Outcome, error) {
	var out *aggregator.Outcome
	err := p.exec(ctx, "aggregate_avg", call, func(ctx context.Context, s *callScope) error {
		var err error
		out, err = p.aggregator.AggregateAvg(tickers, providers, minLastUpdate, s.attached())
		if err != nil {
			return err
		}
		p.settleQuery(s, "aggregate_avg", out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AggregateCollect returns every servable entry, nil for the others.
func (p *OracleProgram) AggregateCollect(ctx context.Context, call Call, tickers []string, providers []types.AccountID, minLastUpdate uint64) (*aggregator.Outcome, error) {
	var out *aggregator.Outcome
	err := p.exec(ctx, "aggregate_collect", call, func(ctx context.Context, s *callScope) error {
		var err error
		out, err = p.aggregator.AggregateCollect(tickers, providers, minLastUpdate, s.attached())
		if err != nil {
			return err
		}
		p.settleQuery(s, "aggregate_collect", out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimEarnings pays the accumulated fees of the caller out in the payment
// token. The earnings are debited before the transfer settles.
func (p *OracleProgram) ClaimEarnings(ctx context.Context, call Call) (*big.Int, error) {
	var amount *big.Int
	err := p.exec(ctx, "claim_earnings", call, func(ctx context.Context, s *callScope) error {
		if err := requireNoDeposit(call); err != nil {
			return err
		}
		eff, claimed, err := p.gateway.ClaimEarnings(call.Caller)
		if err != nil {
			return err
		}
		amount = claimed
		s.batch.Add(eff)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// StorageDeposit credits the attachment to the storage escrow of account, or
// of the caller when account is empty.
func (p *OracleProgram) StorageDeposit(ctx context.Context, call Call, account types.AccountID) (*storagefee.StorageBalance, error) {
	if account == "" {
		account = call.Caller
	}
	var bal *storagefee.StorageBalance
	err := p.exec(ctx, "storage_deposit", call, func(ctx context.Context, s *callScope) error {
		var err error
		bal, err = p.storage.Deposit(account, s.attached())
		return err
	})
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// StorageWithdraw releases amount (everything available when nil) from the
// escrow of the caller. Exactly one unit must be attached.
func (p *OracleProgram) StorageWithdraw(ctx context.Context, call Call, amount *big.Int) (*storagefee.StorageBalance, error) {
	var bal *storagefee.StorageBalance
	err := p.exec(ctx, "storage_withdraw", call, func(ctx context.Context, s *callScope) error {
		eff, b, err := p.gateway.WithdrawStorage(call.Caller, amount, s.attached())
		if err != nil {
			return err
		}
		bal = b
		s.batch.Add(eff)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// StorageBalanceOf returns the escrow of account, false when it has none.
func (p *OracleProgram) StorageBalanceOf(account types.AccountID) (*storagefee.StorageBalance, bool, error) {
	var (
		bal *storagefee.StorageBalance
		ok  bool
	)
	err := p.view(func() error {
		var err error
		bal, ok, err = p.storage.BalanceOf(account)
		return err
	})
	return bal, ok, err
}

// StorageBalanceBounds reports the accepted deposit range.
func (p *OracleProgram) StorageBalanceBounds() storagefee.Bounds { return p.storage.Bounds() }

// FeeTotal sums the fees a query over the given pairs would cost.
func (p *OracleProgram) FeeTotal(tickers []string, providers []types.AccountID) (*big.Int, error) {
	var total *big.Int
	err := p.view(func() error {
		var err error
		total, err = p.aggregator.FeeTotal(tickers, providers)
		return err
	})
	return total, err
}

// PairExists reports whether provider registered ticker.
func (p *OracleProgram) PairExists(provider types.AccountID, ticker string) (bool, error) {
	var ok bool
	err := p.view(func() error {
		var err error
		ok, err = p.registry.PairExists(provider, ticker)
		return err
	})
	return ok, err
}

// Earnings returns the unclaimed fees of provider.
func (p *OracleProgram) Earnings(provider types.AccountID) (*big.Int, error) {
	var amount *big.Int
	err := p.view(func() error {
		var err error
		amount, err = p.registry.Earnings(provider)
		return err
	})
	return amount, err
}

// Provider returns the record of provider without charging a fee.
func (p *OracleProgram) Provider(account types.AccountID) (*registry.Provider, bool, error) {
	var (
		rec *registry.Provider
		ok  bool
	)
	err := p.view(func() error {
		var err error
		rec, ok, err = p.registry.Provider(account)
		return err
	})
	return rec, ok, err
}

// HandleCallback implements effects.CallbackHandler.
func (p *OracleProgram) HandleCallback(ctx context.Context, cb effects.Callback, res effects.Result) error {
	switch cb.Method {
	case gateway.MethodOnClaimResolved:
		return p.exec(ctx, cb.Method, Call{Caller: p.cfg.Self}, func(ctx context.Context, s *callScope) error {
			failure, err := p.gateway.ResolveClaim(cb.Args, res)
			if err != nil {
				return err
			}
			if failure != nil {
				p.logger.Error("earnings claim transfer failed; earnings stay debited",
					slog.String("account", failure.Account.String()),
					slog.String("amount", failure.Amount.String()),
					slog.String("effect", res.EffectID.String()),
					slog.String("reason", failure.Reason))
			}
			return nil
		})
	default:
		return fmt.Errorf("oracle: unknown callback %q", cb.Method)
	}
}

var _ effects.CallbackHandler = (*OracleProgram)(nil)
