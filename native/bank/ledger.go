package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	oerrors "fporacle/core/errors"
	"fporacle/core/types"
)

// ErrInsufficientBalance is returned when a sender cannot cover a transfer.
var ErrInsufficientBalance = errors.New("bank: insufficient balance")

// Receiver is notified of transfer-with-message deliveries and reports the
// amount it did not use.
type Receiver interface {
	OnTransfer(ctx context.Context, token, sender types.AccountID, amount *big.Int, msg []byte) (*big.Int, error)
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(ctx context.Context, token, sender types.AccountID, amount *big.Int, msg []byte) (*big.Int, error)

// OnTransfer implements Receiver.
func (f ReceiverFunc) OnTransfer(ctx context.Context, token, sender types.AccountID, amount *big.Int, msg []byte) (*big.Int, error) {
	return f(ctx, token, sender, amount, msg)
}

// Record is one settled movement on the ledger.
type Record struct {
	From   types.AccountID
	To     types.AccountID
	Amount *big.Int
	Memo   string
}

// Ledger is an in-memory fungible balance ledger. It serves as the payment and
// stake token on devnet and in tests, and as the native value bank.
type Ledger struct {
	id types.AccountID

	mu        sync.Mutex
	balances  map[types.AccountID]*big.Int
	receivers map[types.AccountID]Receiver
	history   []Record
}

// NewLedger creates an empty ledger identified by id.
func NewLedger(id types.AccountID) *Ledger {
	return &Ledger{
		id:        id,
		balances:  make(map[types.AccountID]*big.Int),
		receivers: make(map[types.AccountID]Receiver),
	}
}

// ID returns the ledger account identifier.
func (l *Ledger) ID() types.AccountID { return l.id }

// Mint credits amount to account.
func (l *Ledger) Mint(account types.AccountID, amount *big.Int) error {
	if err := types.ValidateU128(amount); err != nil {
		return fmt.Errorf("%w: mint: %v", oerrors.ErrValidation, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	next, err := types.AddU128(l.balanceLocked(account), amount)
	if err != nil {
		return fmt.Errorf("%w: mint: %v", oerrors.ErrValidation, err)
	}
	l.balances[account] = next
	return nil
}

// RegisterReceiver routes transfer-with-message deliveries for account to r.
func (l *Ledger) RegisterReceiver(account types.AccountID, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receivers[account] = r
}

func (l *Ledger) balanceLocked(account types.AccountID) *big.Int {
	if bal, ok := l.balances[account]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (l *Ledger) moveLocked(from, to types.AccountID, amount *big.Int, memo string) error {
	if err := types.ValidateU128(amount); err != nil {
		return fmt.Errorf("%w: transfer: %v", oerrors.ErrValidation, err)
	}
	if amount == nil || amount.Sign() == 0 {
		return fmt.Errorf("%w: transfer amount must be positive", oerrors.ErrValidation)
	}
	if from == to {
		return fmt.Errorf("%w: sender and receiver are the same account", oerrors.ErrValidation)
	}
	src := l.balanceLocked(from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from, src, amount)
	}
	dst, err := types.AddU128(l.balanceLocked(to), amount)
	if err != nil {
		return fmt.Errorf("%w: transfer: %v", oerrors.ErrValidation, err)
	}
	l.balances[from] = new(big.Int).Sub(src, amount)
	l.balances[to] = dst
	l.history = append(l.history, Record{From: from, To: to, Amount: types.CloneAmount(amount), Memo: memo})
	return nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(ctx context.Context, from, to types.AccountID, amount *big.Int, memo string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.moveLocked(from, to, amount, memo)
}

// TransferCall moves amount to the receiver and notifies it with msg. The
// unused part reported by the receiver is returned to the sender. A failing
// receiver gets the whole amount refunded and its error is returned together
// with the refunded amount.
func (l *Ledger) TransferCall(ctx context.Context, from, to types.AccountID, amount *big.Int, memo string, msg []byte) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	receiver := l.receivers[to]
	if receiver == nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s does not accept transfer calls", oerrors.ErrValidation, to)
	}
	if err := l.moveLocked(from, to, amount, memo); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	unused, callErr := receiver.OnTransfer(ctx, l.id, from, types.CloneAmount(amount), msg)
	if callErr != nil || unused == nil {
		unused = big.NewInt(0)
	}
	if callErr != nil {
		unused = types.CloneAmount(amount)
	}
	if unused.Sign() < 0 || unused.Cmp(amount) > 0 {
		unused = types.CloneAmount(amount)
	}
	if unused.Sign() > 0 {
		l.mu.Lock()
		err := l.moveLocked(to, from, unused, "refund")
		l.mu.Unlock()
		if err != nil {
			return big.NewInt(0), errors.Join(callErr, fmt.Errorf("bank: refund unused: %w", err))
		}
	}
	return unused, callErr
}

// BalanceOf returns the balance of account.
func (l *Ledger) BalanceOf(_ context.Context, account types.AccountID) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return types.CloneAmount(l.balanceLocked(account)), nil
}

// TotalSupply sums every balance.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := big.NewInt(0)
	for _, bal := range l.balances {
		total.Add(total, bal)
	}
	return total
}

// History returns the settled movements in order.
func (l *Ledger) History() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.history))
	for i, rec := range l.history {
		out[i] = rec
		out[i].Amount = types.CloneAmount(rec.Amount)
	}
	return out
}
