package gateway

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"fporacle/core/types"
	"fporacle/native/effects"
)

// TokenLedger is the external fungible-token ledger used for payments and
// stakes.
type TokenLedger interface {
	Transfer(ctx context.Context, from, to types.AccountID, amount *big.Int, memo string) error
	TransferCall(ctx context.Context, from, to types.AccountID, amount *big.Int, memo string, msg []byte) (*big.Int, error)
	BalanceOf(ctx context.Context, account types.AccountID) (*big.Int, error)
}

// NativeBank moves the native value attached to calls.
type NativeBank interface {
	Transfer(ctx context.Context, from, to types.AccountID, amount *big.Int, memo string) error
	BalanceOf(ctx context.Context, account types.AccountID) (*big.Int, error)
}

// Dispatcher executes effects against the configured ledgers.
type Dispatcher struct {
	mu     sync.RWMutex
	tokens map[types.AccountID]TokenLedger
	native NativeBank
}

// NewDispatcher creates a dispatcher using native for native transfers.
func NewDispatcher(native NativeBank) *Dispatcher {
	return &Dispatcher{tokens: make(map[types.AccountID]TokenLedger), native: native}
}

// AddToken registers the ledger serving token.
func (d *Dispatcher) AddToken(token types.AccountID, ledger TokenLedger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[token] = ledger
}

func (d *Dispatcher) token(id types.AccountID) (TokenLedger, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ledger, ok := d.tokens[id]
	if !ok {
		return nil, fmt.Errorf("gateway: token %s not configured", id)
	}
	return ledger, nil
}

// Dispatch implements effects.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, eff *effects.Effect) (*big.Int, error) {
	switch eff.Kind {
	case effects.KindTokenTransfer:
		ledger, err := d.token(eff.Token)
		if err != nil {
			return nil, err
		}
		return nil, ledger.Transfer(ctx, eff.From, eff.To, eff.Amount, eff.Memo)
	case effects.KindTokenTransferCall:
		ledger, err := d.token(eff.Token)
		if err != nil {
			return nil, err
		}
		return ledger.TransferCall(ctx, eff.From, eff.To, eff.Amount, eff.Memo, eff.Msg)
	case effects.KindNativeTransfer:
		if d.native == nil {
			return nil, fmt.Errorf("gateway: native bank not configured")
		}
		return nil, d.native.Transfer(ctx, eff.From, eff.To, eff.Amount, eff.Memo)
	default:
		return nil, fmt.Errorf("gateway: unsupported effect kind %s", eff.Kind)
	}
}
