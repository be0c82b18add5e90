package effects

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"fporacle/core/types"
)

// Kind identifies the outbound operation an effect performs.
type Kind uint8

const (
	KindTokenTransfer Kind = iota + 1
	KindTokenTransferCall
	KindNativeTransfer
)

func (k Kind) String() string {
	switch k {
	case KindTokenTransfer:
		return "token_transfer"
	case KindTokenTransferCall:
		return "token_transfer_call"
	case KindNativeTransfer:
		return "native_transfer"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Callback names the program entry point invoked with the result of an effect.
type Callback struct {
	Program string
	Method  string
	Args    []byte
}

// Effect is an outbound call scheduled by a committed program call.
type Effect struct {
	ID       uuid.UUID
	Kind     Kind
	Token    types.AccountID
	From     types.AccountID
	To       types.AccountID
	Amount   *big.Int
	Memo     string
	Msg      []byte
	Callback *Callback
}

// Result reports how an effect completed. Unused is the amount a
// transfer-with-message receiver handed back.
type Result struct {
	EffectID uuid.UUID
	Unused   *big.Int
	Err      error
}

// Succeeded reports whether the effect completed without error.
func (r Result) Succeeded() bool { return r.Err == nil }

// NewTransfer schedules a plain token transfer.
func NewTransfer(token, from, to types.AccountID, amount *big.Int, memo string) *Effect {
	return &Effect{
		ID:     uuid.New(),
		Kind:   KindTokenTransfer,
		Token:  token,
		From:   from,
		To:     to,
		Amount: types.CloneAmount(amount),
		Memo:   memo,
	}
}

// NewTransferCall schedules a token transfer that notifies the receiver with msg.
func NewTransferCall(token, from, to types.AccountID, amount *big.Int, memo string, msg []byte) *Effect {
	eff := NewTransfer(token, from, to, amount, memo)
	eff.Kind = KindTokenTransferCall
	eff.Msg = append([]byte(nil), msg...)
	return eff
}

// NewNativeTransfer schedules a transfer of the native value.
func NewNativeTransfer(from, to types.AccountID, amount *big.Int) *Effect {
	return &Effect{
		ID:     uuid.New(),
		Kind:   KindNativeTransfer,
		From:   from,
		To:     to,
		Amount: types.CloneAmount(amount),
	}
}

// WithCallback attaches a callback and returns the effect for chaining.
func (e *Effect) WithCallback(program, method string, args []byte) *Effect {
	e.Callback = &Callback{Program: program, Method: method, Args: append([]byte(nil), args...)}
	return e
}

// Batch collects the effects of one call in scheduling order.
type Batch struct {
	effects []*Effect
}

// Add appends effects to the batch, skipping nils.
func (b *Batch) Add(effs ...*Effect) {
	for _, eff := range effs {
		if eff != nil {
			b.effects = append(b.effects, eff)
		}
	}
}

// Effects returns the scheduled effects in order.
func (b *Batch) Effects() []*Effect {
	if b == nil {
		return nil
	}
	return append([]*Effect(nil), b.effects...)
}

// Len reports the number of scheduled effects.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.effects)
}

// Reset drops every scheduled effect.
func (b *Batch) Reset() { b.effects = nil }
