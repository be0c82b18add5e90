package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"fporacle/core/types"
	"fporacle/native/bank"
	"fporacle/native/gateway"
	"fporacle/native/requester"
)

// ForwardedRequest is a data request received by DevOracle.
type ForwardedRequest struct {
	Sender types.AccountID
	Amount *big.Int
	Args   requester.NewDataRequestArgs
}

// ForwardedStake is a stake received by DevOracle.
type ForwardedStake struct {
	Sender   types.AccountID
	Amount   *big.Int
	Accepted *big.Int
	Args     requester.StakeDataRequestArgs
}

// DevOracle stands in for the oracle peer on devnets and in tests. It keeps
// every forwarded request and stake and can finalize requests back on the
// requester program.
type DevOracle struct {
	account types.AccountID
	bonds   gateway.TokenLedger

	mu       sync.Mutex
	stakeCap *big.Int
	requests []ForwardedRequest
	stakes   []ForwardedStake
}

// NewDevOracle creates a peer acting as account. Bonds of finalized requests
// are returned through bonds.
func NewDevOracle(account types.AccountID, bonds gateway.TokenLedger) *DevOracle {
	return &DevOracle{account: account, bonds: bonds}
}

// Account returns the oracle account.
func (o *DevOracle) Account() types.AccountID { return o.account }

// SetStakeCap limits the stake accepted per forward. The excess is reported
// unused. Nil accepts everything.
func (o *DevOracle) SetStakeCap(limit *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if limit == nil {
		o.stakeCap = nil
		return
	}
	o.stakeCap = types.CloneAmount(limit)
}

// OnTransfer implements bank.Receiver.
func (o *DevOracle) OnTransfer(_ context.Context, _ types.AccountID, sender types.AccountID, amount *big.Int, msg []byte) (*big.Int, error) {
	payload, err := requester.ParsePayload(msg)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if payload.NewDataRequest != nil {
		o.requests = append(o.requests, ForwardedRequest{Sender: sender, Amount: types.CloneAmount(amount), Args: *payload.NewDataRequest})
		return big.NewInt(0), nil
	}
	accepted := types.CloneAmount(amount)
	if o.stakeCap != nil && accepted.Cmp(o.stakeCap) > 0 {
		accepted = types.CloneAmount(o.stakeCap)
	}
	o.stakes = append(o.stakes, ForwardedStake{Sender: sender, Amount: types.CloneAmount(amount), Accepted: accepted, Args: *payload.StakeDataRequest})
	return new(big.Int).Sub(amount, accepted), nil
}

// Requests returns the forwarded requests in arrival order.
func (o *DevOracle) Requests() []ForwardedRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ForwardedRequest(nil), o.requests...)
}

// Stakes returns the forwarded stakes in arrival order.
func (o *DevOracle) Stakes() []ForwardedStake {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ForwardedStake(nil), o.stakes...)
}

// Finalize resolves the i-th forwarded request on target. The request bond
// goes back to the requester first so it can pay the creator; a rejected
// outcome takes it back.
func (o *DevOracle) Finalize(ctx context.Context, target *RequesterProgram, i int, outcome requester.Outcome) (*requester.DataRequestDetails, error) {
	o.mu.Lock()
	if i < 0 || i >= len(o.requests) {
		o.mu.Unlock()
		return nil, fmt.Errorf("devoracle: no forwarded request %d", i)
	}
	req := o.requests[i]
	tags := append([]string(nil), req.Args.Tags...)
	o.mu.Unlock()

	returned := false
	if o.bonds != nil && req.Amount.Sign() > 0 {
		if err := o.bonds.Transfer(ctx, o.account, target.Self(), req.Amount, "bond return"); err != nil {
			return nil, fmt.Errorf("devoracle: return bond: %w", err)
		}
		returned = true
	}
	details, err := target.SetOutcome(ctx, Call{Caller: o.account, Attached: big.NewInt(1)}, target.Self(), outcome, tags)
	if err != nil && returned {
		if rerr := o.bonds.Transfer(ctx, target.Self(), o.account, req.Amount, "bond reclaim"); rerr != nil {
			return nil, errors.Join(err, fmt.Errorf("devoracle: reclaim bond: %w", rerr))
		}
	}
	return details, err
}

var _ bank.Receiver = (*DevOracle)(nil)
