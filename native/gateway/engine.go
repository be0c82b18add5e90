package gateway

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	oerrors "fporacle/core/errors"
	"fporacle/core/events"
	"fporacle/core/types"
	"fporacle/native/effects"
	"fporacle/native/storagefee"
)

const (
	EventTypeClaimScheduled = "oracle.claim.scheduled"
	EventTypeClaimSettled   = "oracle.claim.settled"
	EventTypeClaimFailed    = "oracle.claim.failed"
	EventTypeStorageRefund  = "storage.refund.scheduled"
)

// MethodOnClaimResolved is the callback invoked once a claim transfer settles.
const MethodOnClaimResolved = "on_claim_resolved"

var errNilState = errors.New("gateway engine: state not configured")

var storagePaidPrefix = []byte("gateway/storage-paid/")

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// StorageMeter reports the storage usage of the running call.
type StorageMeter interface {
	BaseUsage() uint64
	StorageUsage() uint64
}

type earningsState interface {
	TakeEarnings(provider types.AccountID) (*big.Int, error)
}

type storageLedger interface {
	StorageCost(bytesBefore, bytesAfter uint64) *big.Int
	Withdraw(account types.AccountID, amount *big.Int, attached *big.Int) (*big.Int, *storagefee.StorageBalance, error)
}

// ClaimArgs travels with the claim transfer to its callback.
type ClaimArgs struct {
	Account types.AccountID `json:"account"`
	Amount  string          `json:"amount"`
}

// Engine turns internal debits into outbound transfer effects.
type Engine struct {
	self         types.AccountID
	program      string
	paymentToken types.AccountID
	earnings     earningsState
	storage      storageLedger
	state        engineState
	emitter      events.Emitter
}

// NewEngine creates a gateway paying out of the self account. program names
// the callback target for claim resolutions.
func NewEngine(self types.AccountID, program string, paymentToken types.AccountID, earnings earningsState, storage storageLedger) *Engine {
	return &Engine{
		self:         self,
		program:      program,
		paymentToken: paymentToken,
		earnings:     earnings,
		storage:      storage,
		emitter:      events.NoopEmitter{},
	}
}

// SetState configures the state backend holding the bytes each sender has
// paid for.
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

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Typed{Evt: evt})
}

// ClaimEarnings zeroes the earnings of account and schedules their transfer on
// the payment token. The debit stands even if the transfer later fails.
func (e *Engine) ClaimEarnings(account types.AccountID) (*effects.Effect, *big.Int, error) {
	amount, err := e.earnings.TakeEarnings(account)
	if err != nil {
		return nil, nil, err
	}
	if amount.Sign() == 0 {
		return nil, nil, fmt.Errorf("%w: %s has no earnings to claim", oerrors.ErrValidation, account)
	}
	args, err := json.Marshal(ClaimArgs{Account: account, Amount: amount.String()})
	if err != nil {
		return nil, nil, err
	}
	eff := effects.NewTransfer(e.paymentToken, e.self, account, amount, "claim earnings").
		WithCallback(e.program, MethodOnClaimResolved, args)
	e.emit(types.NewEvent(EventTypeClaimScheduled).
		With("account", account.String()).
		With("amount", amount.String()).
		With("effect", eff.ID.String()))
	return eff, amount, nil
}

// ClaimFailure describes a claim transfer that did not settle. The earnings
// were already debited and are not restored.
type ClaimFailure struct {
	Account types.AccountID
	Amount  *big.Int
	Reason  string
}

// ResolveClaim handles the result of a claim transfer. It returns a failure
// description when the transfer did not settle.
func (e *Engine) ResolveClaim(args []byte, res effects.Result) (*ClaimFailure, error) {
	var claim ClaimArgs
	if err := json.Unmarshal(args, &claim); err != nil {
		return nil, fmt.Errorf("%w: claim callback args: %v", oerrors.ErrValidation, err)
	}
	amount, err := types.ParseAmount(claim.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: claim callback amount: %v", oerrors.ErrValidation, err)
	}
	if res.Succeeded() {
		e.emit(types.NewEvent(EventTypeClaimSettled).
			With("account", claim.Account.String()).
			With("amount", amount.String()).
			With("effect", res.EffectID.String()))
		return nil, nil
	}
	failure := &ClaimFailure{Account: claim.Account, Amount: amount, Reason: res.Err.Error()}
	e.emit(types.NewEvent(EventTypeClaimFailed).
		With("account", claim.Account.String()).
		With("amount", amount.String()).
		With("effect", res.EffectID.String()).
		With("reason", failure.Reason))
	return failure, nil
}

func storagePaidKey(account types.AccountID) []byte {
	return append(append([]byte(nil), storagePaidPrefix...), account...)
}

// loadStoragePaid returns the bytes sender has paid for and not yet been
// credited back. The record is created on first use so that its own size is
// part of the usage measured afterwards; it is fixed width so rewrites never
// change the usage.
func (e *Engine) loadStoragePaid(sender types.AccountID) (uint64, error) {
	if e.state == nil {
		return 0, errNilState
	}
	var raw []byte
	ok, err := e.state.KVGet(storagePaidKey(sender), &raw)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, e.storeStoragePaid(sender, 0)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("gateway: corrupt storage record for %s", sender)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (e *Engine) storeStoragePaid(sender types.AccountID, paid uint64) error {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], paid)
	return e.state.KVPut(storagePaidKey(sender), raw[:])
}

// RefundStorage settles the storage growth of a call against the attached
// payment and schedules the remainder back to sender. Freed bytes are added to
// the refund only up to the bytes sender itself paid for earlier.
func (e *Engine) RefundStorage(meter StorageMeter, sender types.AccountID, attached *big.Int) (*effects.Effect, *big.Int, error) {
	attached = types.CloneAmount(attached)
	paid, err := e.loadStoragePaid(sender)
	if err != nil {
		return nil, nil, err
	}
	before, after := meter.BaseUsage(), meter.StorageUsage()
	var cost *big.Int
	if after >= before {
		cost = e.storage.StorageCost(before, after)
		if cost.Cmp(attached) > 0 {
			return nil, nil, fmt.Errorf("%w: storage cost %s exceeds attached %s", oerrors.ErrStorageInsufficient, cost, attached)
		}
		paid += after - before
	} else {
		freed := before - after
		if freed > paid {
			freed = paid
		}
		cost = e.storage.StorageCost(freed, 0)
		paid -= freed
	}
	if err := e.storeStoragePaid(sender, paid); err != nil {
		return nil, nil, err
	}
	refund := new(big.Int).Sub(attached, cost)
	if err := types.ValidateU128(refund); err != nil {
		return nil, nil, fmt.Errorf("%w: refund: %v", oerrors.ErrValidation, err)
	}
	if refund.Sign() == 0 {
		return nil, refund, nil
	}
	e.emit(types.NewEvent(EventTypeStorageRefund).
		With("account", sender.String()).
		With("amount", refund.String()))
	return effects.NewNativeTransfer(e.self, sender, refund), refund, nil
}

// Refund schedules the return of an unused query attachment.
func (e *Engine) Refund(account types.AccountID, amount *big.Int) *effects.Effect {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	return effects.NewNativeTransfer(e.self, account, amount)
}

// WithdrawStorage debits the storage escrow of account and schedules the
// outbound transfer of the withdrawn amount.
func (e *Engine) WithdrawStorage(account types.AccountID, amount, attached *big.Int) (*effects.Effect, *storagefee.StorageBalance, error) {
	withdrawn, bal, err := e.storage.Withdraw(account, amount, attached)
	if err != nil {
		return nil, nil, err
	}
	if withdrawn.Sign() == 0 {
		return nil, bal, nil
	}
	return effects.NewNativeTransfer(e.self, account, withdrawn), bal, nil
}
