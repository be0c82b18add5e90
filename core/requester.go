package core

import (
	"context"
	"fmt"
	"math/big"

	"fporacle/core/events"
	"fporacle/core/state"
	"fporacle/core/types"
	"fporacle/native/bank"
	"fporacle/native/effects"
	"fporacle/native/gateway"
	"fporacle/native/requester"
	"fporacle/native/storagefee"
	"fporacle/storage"
)

// RequesterProgramName is the callback address of the requester program.
const RequesterProgramName = "requester"

// RequesterConfig configures the requester program.
type RequesterConfig struct {
	Requester requester.Config
	Storage   storagefee.Params
}

// RequesterProgram brokers data requests between token holders and the
// oracle. Request records are paid for out of the creator's storage escrow.
type RequesterProgram struct {
	*runtime
	cfg       RequesterConfig
	requester *requester.Engine
	storage   *storagefee.Engine
	gateway   *gateway.Engine
}

// NewRequesterProgram opens the requester program on db.
func NewRequesterProgram(cfg RequesterConfig, db storage.Database, opts Options) (*RequesterProgram, error) {
	rc := cfg.Requester
	rt, err := newRuntime(RequesterProgramName, rc.Self, db, opts)
	if err != nil {
		return nil, err
	}
	for name, acc := range map[string]types.AccountID{"oracle": rc.Oracle, "payment token": rc.PaymentToken, "stake token": rc.StakeToken} {
		if err := acc.Validate(); err != nil {
			return nil, fmt.Errorf("requester: %s: %w", name, err)
		}
	}
	fees := storagefee.NewEngine(cfg.Storage)
	p := &RequesterProgram{
		runtime:   rt,
		cfg:       cfg,
		requester: requester.NewEngine(rc, RequesterProgramName),
		storage:   fees,
		gateway:   gateway.NewEngine(rc.Self, RequesterProgramName, rc.PaymentToken, nil, fees),
	}
	rt.bind = p.bind
	return p, nil
}

func (p *RequesterProgram) bind(j *state.Journal, emitter events.Emitter) {
	if j == nil {
		p.requester.SetState(nil)
		p.storage.SetState(nil)
	} else {
		p.requester.SetState(j)
		p.storage.SetState(j)
	}
	p.requester.SetEmitter(emitter)
	p.storage.SetEmitter(emitter)
	p.gateway.SetEmitter(emitter)
}

// Self returns the program account.
func (p *RequesterProgram) Self() types.AccountID { return p.cfg.Requester.Self }

// OnTransfer implements bank.Receiver. token is the notifying ledger and
// sender the account whose tokens arrived. Storage added by the call is
// charged to the sender's escrow.
func (p *RequesterProgram) OnTransfer(ctx context.Context, token, sender types.AccountID, amount *big.Int, msg []byte) (*big.Int, error) {
	var unused *big.Int
	err := p.exec(ctx, "on_transfer", Call{Caller: token}, func(ctx context.Context, s *callScope) error {
		availableBefore := big.NewInt(0)
		bal, ok, err := p.storage.BalanceOf(sender)
		if err != nil {
			return err
		}
		if ok {
			availableBefore = bal.Available
		}
		u, effs, err := p.requester.OnTransfer(token, sender, amount, msg)
		if err != nil {
			return err
		}
		if _, err := p.storage.Settle(sender, s.journal.BaseUsage(), s.journal.StorageUsage(), availableBefore); err != nil {
			return err
		}
		unused = u
		s.batch.Add(effs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unused, nil
}

// SetOutcome finalizes a request on behalf of the oracle and returns the bond
// to its creator.
func (p *RequesterProgram) SetOutcome(ctx context.Context, call Call, requestor types.AccountID, outcome requester.Outcome, tags []string) (*requester.DataRequestDetails, error) {
	var details *requester.DataRequestDetails
	err := p.exec(ctx, "set_outcome", call, func(ctx context.Context, s *callScope) error {
		d, eff, err := p.requester.SetOutcome(call.Caller, s.attached(), requestor, outcome, tags)
		if err != nil {
			return err
		}
		details = d
		s.batch.Add(eff)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// RequestTransfer moves payment tokens held by the program on behalf of the
// oracle.
func (p *RequesterProgram) RequestTransfer(ctx context.Context, call Call, token types.AccountID, amount *big.Int, receiver types.AccountID) error {
	return p.exec(ctx, "request_transfer", call, func(ctx context.Context, s *callScope) error {
		if err := requireNoDeposit(call); err != nil {
			return err
		}
		eff, err := p.requester.RequestTransfer(call.Caller, token, amount, receiver)
		if err != nil {
			return err
		}
		s.batch.Add(eff)
		return nil
	})
}

// GetDataRequest returns the request with id.
func (p *RequesterProgram) GetDataRequest(id uint64) (*requester.DataRequestDetails, bool, error) {
	var (
		details *requester.DataRequestDetails
		ok      bool
	)
	err := p.view(func() error {
		var err error
		details, ok, err = p.requester.GetDataRequest(id)
		return err
	})
	return details, ok, err
}

// Nonce returns the id the next request will get.
func (p *RequesterProgram) Nonce() (uint64, error) {
	var nonce uint64
	err := p.view(func() error {
		var err error
		nonce, err = p.requester.Nonce()
		return err
	})
	return nonce, err
}

// StorageDeposit credits the attachment to the storage escrow of account, or
// of the caller when account is empty.
func (p *RequesterProgram) StorageDeposit(ctx context.Context, call Call, account types.AccountID) (*storagefee.StorageBalance, error) {
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
// escrow of the caller.
func (p *RequesterProgram) StorageWithdraw(ctx context.Context, call Call, amount *big.Int) (*storagefee.StorageBalance, error) {
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
func (p *RequesterProgram) StorageBalanceOf(account types.AccountID) (*storagefee.StorageBalance, bool, error) {
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
func (p *RequesterProgram) StorageBalanceBounds() storagefee.Bounds { return p.storage.Bounds() }

// HandleCallback implements effects.CallbackHandler.
func (p *RequesterProgram) HandleCallback(ctx context.Context, cb effects.Callback, res effects.Result) error {
	switch cb.Method {
	case requester.MethodOnStakeForwarded:
		return p.exec(ctx, cb.Method, Call{Caller: p.Self()}, func(ctx context.Context, s *callScope) error {
			eff, err := p.requester.OnStakeForwarded(cb.Args, res)
			if err != nil {
				return err
			}
			s.batch.Add(eff)
			return nil
		})
	default:
		return fmt.Errorf("requester: unknown callback %q", cb.Method)
	}
}

var (
	_ bank.Receiver           = (*RequesterProgram)(nil)
	_ effects.CallbackHandler = (*RequesterProgram)(nil)
)
