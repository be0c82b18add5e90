package storagefee

import (
	"errors"
	"fmt"
	"math/big"

	oerrors "fporacle/core/errors"
	"fporacle/core/events"
	"fporacle/core/types"
)

var errNilState = errors.New("storagefee engine: state not configured")

var balancePrefix = []byte("storagefee/balance/")

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type storedBalance struct {
	Total     *big.Int
	Available *big.Int
}

// Engine maintains the per-account storage escrow and reconciles the marginal
// storage cost of mutating calls against it.
type Engine struct {
	state   engineState
	emitter events.Emitter
	params  Params
}

// NewEngine creates a ledger with the supplied pricing and a no-op emitter.
func NewEngine(params Params) *Engine {
	return &Engine{emitter: events.NoopEmitter{}, params: params.normalize()}
}

// SetState configures the state backend used by the engine.
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

// Params returns a copy of the configured pricing.
func (e *Engine) Params() Params {
	return Params{
		MinDeposit: types.CloneAmount(e.params.MinDeposit),
		ByteCost:   types.CloneAmount(e.params.ByteCost),
	}
}

// Bounds returns the accepted deposit range.
func (e *Engine) Bounds() Bounds {
	return Bounds{Min: types.CloneAmount(e.params.MinDeposit)}
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Typed{Evt: evt})
}

func balanceKey(account types.AccountID) []byte {
	buf := make([]byte, len(balancePrefix)+len(account))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], account)
	return buf
}

func (e *Engine) load(account types.AccountID) (*StorageBalance, bool, error) {
	if e.state == nil {
		return nil, false, errNilState
	}
	var stored storedBalance
	ok, err := e.state.KVGet(balanceKey(account), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	bal := &StorageBalance{Total: stored.Total, Available: stored.Available}
	return bal.normalize(), true, nil
}

func (e *Engine) store(account types.AccountID, bal *StorageBalance) error {
	if e.state == nil {
		return errNilState
	}
	if bal.Available.Cmp(bal.Total) > 0 {
		return fmt.Errorf("storagefee: available %s exceeds total %s", bal.Available, bal.Total)
	}
	return e.state.KVPut(balanceKey(account), storedBalance{
		Total:     types.CloneAmount(bal.Total),
		Available: types.CloneAmount(bal.Available),
	})
}

// BalanceOf returns the balance of account. Unknown accounts report false and
// no state is touched.
func (e *Engine) BalanceOf(account types.AccountID) (*StorageBalance, bool, error) {
	bal, ok, err := e.load(account)
	if err != nil || !ok {
		return nil, ok, err
	}
	return bal.Clone(), true, nil
}

// Deposit credits amount to both total and available. Deposits below the
// configured minimum are rejected.
func (e *Engine) Deposit(account types.AccountID, amount *big.Int) (*StorageBalance, error) {
	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", oerrors.ErrValidation, err)
	}
	if err := types.ValidateU128(amount); err != nil {
		return nil, fmt.Errorf("%w: deposit: %v", oerrors.ErrValidation, err)
	}
	if amount == nil || amount.Cmp(e.params.MinDeposit) < 0 {
		return nil, fmt.Errorf("%w: deposit %s below minimum %s", oerrors.ErrStorageInsufficient, types.CloneAmount(amount), e.params.MinDeposit)
	}
	bal, _, err := e.load(account)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		bal = (&StorageBalance{}).normalize()
	}
	total, err := types.AddU128(bal.Total, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: deposit: %v", oerrors.ErrValidation, err)
	}
	available, err := types.AddU128(bal.Available, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: deposit: %v", oerrors.ErrValidation, err)
	}
	bal.Total, bal.Available = total, available
	if err := e.store(account, bal); err != nil {
		return nil, err
	}
	e.emit(newBalanceEvent(EventTypeDeposited, account, amount, bal))
	return bal.Clone(), nil
}

// Withdraw removes amount (or the whole available balance when amount is nil)
// from the escrow. Exactly one unit must be attached. The returned amount is
// what the caller must transfer out.
func (e *Engine) Withdraw(account types.AccountID, amount *big.Int, attached *big.Int) (*big.Int, *StorageBalance, error) {
	if attached == nil || attached.Cmp(big.NewInt(1)) != 0 {
		return nil, nil, fmt.Errorf("%w: withdraw requires exactly 1 attached unit", oerrors.ErrPaymentInsufficient)
	}
	if err := types.ValidateU128(amount); err != nil {
		return nil, nil, fmt.Errorf("%w: withdraw: %v", oerrors.ErrValidation, err)
	}
	bal, ok, err := e.load(account)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: storage account %s", oerrors.ErrNotFound, account)
	}
	withdrawn := types.CloneAmount(bal.Available)
	if amount != nil {
		withdrawn = types.CloneAmount(amount)
	}
	if withdrawn.Cmp(bal.Available) > 0 {
		return nil, nil, fmt.Errorf("%w: withdraw %s exceeds available %s", oerrors.ErrStorageInsufficient, withdrawn, bal.Available)
	}
	bal.Total = new(big.Int).Sub(bal.Total, withdrawn)
	bal.Available = new(big.Int).Sub(bal.Available, withdrawn)
	if err := e.store(account, bal); err != nil {
		return nil, nil, err
	}
	e.emit(newBalanceEvent(EventTypeWithdrawn, account, withdrawn, bal))
	return withdrawn, bal.Clone(), nil
}

// StorageCost prices a change in storage usage. Growth yields a positive cost
// and shrinkage a negative one.
func (e *Engine) StorageCost(bytesBefore, bytesAfter uint64) *big.Int {
	delta := new(big.Int).Sub(new(big.Int).SetUint64(bytesAfter), new(big.Int).SetUint64(bytesBefore))
	return delta.Mul(delta, e.params.ByteCost)
}

// Settle charges the storage growth of a call against availableBefore. When
// the cost exceeds it the enclosing call must abort. Freed bytes are credited
// back without letting available exceed total.
func (e *Engine) Settle(account types.AccountID, bytesBefore, bytesAfter uint64, availableBefore *big.Int) (*StorageBalance, error) {
	cost := e.StorageCost(bytesBefore, bytesAfter)
	bal, ok, err := e.load(account)
	if err != nil {
		return nil, err
	}
	if !ok {
		if cost.Sign() > 0 {
			return nil, fmt.Errorf("%w: %s has no storage balance for %d bytes", oerrors.ErrStorageInsufficient, account, bytesAfter-bytesBefore)
		}
		return (&StorageBalance{}).normalize(), nil
	}
	before := types.CloneAmount(availableBefore)
	if before.Cmp(bal.Total) > 0 {
		before = types.CloneAmount(bal.Total)
	}
	switch cost.Sign() {
	case 0:
		return bal.Clone(), nil
	case 1:
		if cost.Cmp(before) > 0 {
			return nil, fmt.Errorf("%w: storage cost %s exceeds available %s", oerrors.ErrStorageInsufficient, cost, before)
		}
		bal.Available = new(big.Int).Sub(before, cost)
	default:
		credited := new(big.Int).Sub(before, cost)
		if credited.Cmp(bal.Total) > 0 {
			credited = types.CloneAmount(bal.Total)
		}
		bal.Available = credited
	}
	if err := e.store(account, bal); err != nil {
		return nil, err
	}
	e.emit(newSettledEvent(account, bytesBefore, bytesAfter, bal))
	return bal.Clone(), nil
}
