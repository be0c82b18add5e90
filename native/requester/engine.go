package requester

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	oerrors "fporacle/core/errors"
	"fporacle/core/events"
	"fporacle/core/types"
	"fporacle/native/effects"
)

const (
	EventTypeRequestCreated   = "requester.request.created"
	EventTypeRequestFinalized = "requester.request.finalized"
	EventTypeStakeForwarded   = "requester.stake.forwarded"
	EventTypeStakeRefunded    = "requester.stake.refunded"
)

// MethodOnStakeForwarded is the callback invoked once a stake reached the oracle.
const MethodOnStakeForwarded = "on_stake_forwarded"

var errNilState = errors.New("requester engine: state not configured")

var (
	nonceKey      = []byte("requester/nonce")
	requestPrefix = "requester/request/"
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Engine runs the data-request lifecycle: Pending until the oracle sets an
// outcome, then Finalized for good.
type Engine struct {
	state     engineState
	emitter   events.Emitter
	cfg       Config
	program   string
	whitelist map[types.AccountID]struct{}
}

// NewEngine creates a coordinator. program names the callback target for
// forwarded stakes.
func NewEngine(cfg Config, program string) *Engine {
	wl := make(map[types.AccountID]struct{}, len(cfg.Whitelist))
	for _, acc := range cfg.Whitelist {
		wl[acc] = struct{}{}
	}
	return &Engine{emitter: events.NoopEmitter{}, cfg: cfg, program: program, whitelist: wl}
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

// Config returns the coordinator configuration.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Typed{Evt: evt})
}

func requestKey(id uint64) []byte {
	return []byte(requestPrefix + strconv.FormatUint(id, 10))
}

// Nonce returns the id the next request will receive.
func (e *Engine) Nonce() (uint64, error) {
	if e.state == nil {
		return 0, errNilState
	}
	var nonce uint64
	if _, err := e.state.KVGet(nonceKey, &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

func (e *Engine) load(id uint64) (*DataRequestDetails, bool, error) {
	if e.state == nil {
		return nil, false, errNilState
	}
	var raw []byte
	ok, err := e.state.KVGet(requestKey(id), &raw)
	if err != nil || !ok {
		return nil, ok, err
	}
	var details DataRequestDetails
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, false, fmt.Errorf("requester: decode request %d: %w", id, err)
	}
	return &details, true, nil
}

func (e *Engine) store(details *DataRequestDetails) error {
	if e.state == nil {
		return errNilState
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("requester: encode request %d: %w", details.ID, err)
	}
	return e.state.KVPut(requestKey(details.ID), raw)
}

// GetDataRequest returns the request with id.
func (e *Engine) GetDataRequest(id uint64) (*DataRequestDetails, bool, error) {
	details, ok, err := e.load(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return details, true, nil
}

func (e *Engine) isWhitelisted(account types.AccountID) bool {
	if len(e.whitelist) == 0 {
		return true
	}
	_, ok := e.whitelist[account]
	return ok
}

// OnTransfer handles a deposit notification from token on behalf of sender.
// It returns the unused amount to hand back to the sender and the effects to
// dispatch after commit.
func (e *Engine) OnTransfer(token, sender types.AccountID, amount *big.Int, msg []byte) (*big.Int, []*effects.Effect, error) {
	if err := types.ValidateU128(amount); err != nil {
		return nil, nil, fmt.Errorf("%w: amount: %v", oerrors.ErrValidation, err)
	}
	payload, err := ParsePayload(msg)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case payload.NewDataRequest != nil:
		if token != e.cfg.PaymentToken {
			return nil, nil, fmt.Errorf("%w: ERR_WRONG_PAYMENT_TOKEN: %s", oerrors.ErrUnauthorized, token)
		}
		if !e.isWhitelisted(sender) {
			return nil, nil, fmt.Errorf("%w: ERR_NOT_WHITELISTED: %s", oerrors.ErrUnauthorized, sender)
		}
		_, eff, err := e.CreateDataRequest(amount, sender, *payload.NewDataRequest)
		if err != nil {
			return nil, nil, err
		}
		return big.NewInt(0), []*effects.Effect{eff}, nil
	default:
		if token != e.cfg.StakeToken {
			return nil, nil, fmt.Errorf("%w: ERR_WRONG_STAKE_TOKEN: %s", oerrors.ErrUnauthorized, token)
		}
		eff, err := e.forwardStake(sender, amount, *payload.StakeDataRequest)
		if err != nil {
			return nil, nil, err
		}
		return big.NewInt(0), []*effects.Effect{eff}, nil
	}
}

// CreateDataRequest persists a Pending request under the next nonce, appends
// the id as the last tag and schedules its forwarding to the oracle.
func (e *Engine) CreateDataRequest(amount *big.Int, creator types.AccountID, args NewDataRequestArgs) (*DataRequestDetails, *effects.Effect, error) {
	if err := creator.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: creator: %v", oerrors.ErrValidation, err)
	}
	if err := types.ValidateU128(amount); err != nil {
		return nil, nil, fmt.Errorf("%w: amount: %v", oerrors.ErrValidation, err)
	}
	id, err := e.Nonce()
	if err != nil {
		return nil, nil, err
	}
	if err := e.state.KVPut(nonceKey, id+1); err != nil {
		return nil, nil, err
	}
	args.Tags = append(append([]string(nil), args.Tags...), strconv.FormatUint(id, 10))
	details := &DataRequestDetails{
		ID:      id,
		Amount:  types.CloneAmount(amount),
		Payload: args,
		Tags:    append([]string(nil), args.Tags...),
		Status:  StatusPending,
		Creator: creator,
	}
	if err := e.store(details); err != nil {
		return nil, nil, err
	}
	msg, err := json.Marshal(Payload{NewDataRequest: &args})
	if err != nil {
		return nil, nil, err
	}
	eff := effects.NewTransferCall(e.cfg.PaymentToken, e.cfg.Self, e.cfg.Oracle, amount, "", msg)
	e.emit(types.NewEvent(EventTypeRequestCreated).
		With("id", strconv.FormatUint(id, 10)).
		With("creator", creator.String()).
		With("amount", details.Amount.String()))
	return details.Clone(), eff, nil
}

func (e *Engine) forwardStake(staker types.AccountID, amount *big.Int, args StakeDataRequestArgs) (*effects.Effect, error) {
	id := uint64(args.ID)
	details, ok, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: data request %d", oerrors.ErrNotFound, id)
	}
	if details.Status != StatusPending {
		return nil, fmt.Errorf("%w: data request %d", oerrors.ErrAlreadyFinalized, id)
	}
	msg, err := json.Marshal(Payload{StakeDataRequest: &args})
	if err != nil {
		return nil, err
	}
	cbArgs, err := json.Marshal(StakeArgs{Staker: staker, RequestID: id, Amount: types.CloneAmount(amount).String()})
	if err != nil {
		return nil, err
	}
	eff := effects.NewTransferCall(e.cfg.StakeToken, e.cfg.Self, e.cfg.Oracle, amount, "", msg).
		WithCallback(e.program, MethodOnStakeForwarded, cbArgs)
	e.emit(types.NewEvent(EventTypeStakeForwarded).
		With("id", strconv.FormatUint(id, 10)).
		With("staker", staker.String()).
		With("amount", types.CloneAmount(amount).String()))
	return eff, nil
}

// OnStakeForwarded returns whatever part of a forwarded stake the oracle did
// not use to the staker.
func (e *Engine) OnStakeForwarded(args []byte, res effects.Result) (*effects.Effect, error) {
	var stake StakeArgs
	if err := json.Unmarshal(args, &stake); err != nil {
		return nil, fmt.Errorf("%w: stake callback args: %v", oerrors.ErrValidation, err)
	}
	unused := types.CloneAmount(res.Unused)
	if unused.Sign() == 0 {
		return nil, nil
	}
	e.emit(types.NewEvent(EventTypeStakeRefunded).
		With("id", strconv.FormatUint(stake.RequestID, 10)).
		With("staker", stake.Staker.String()).
		With("amount", unused.String()))
	return effects.NewTransfer(e.cfg.StakeToken, e.cfg.Self, stake.Staker, unused, "stake refund"), nil
}

// SetOutcome finalizes the request correlated by the last tag and schedules
// the bond back to its creator. Only the oracle may call it, with exactly one
// unit attached.
func (e *Engine) SetOutcome(caller types.AccountID, attached *big.Int, requestor types.AccountID, outcome Outcome, tags []string) (*DataRequestDetails, *effects.Effect, error) {
	if caller != e.cfg.Oracle {
		return nil, nil, fmt.Errorf("%w: ERR_INVALID_ORACLE_ADDRESS: %s", oerrors.ErrUnauthorized, caller)
	}
	if attached == nil || attached.Cmp(big.NewInt(1)) != 0 {
		return nil, nil, fmt.Errorf("%w: set_outcome requires exactly 1 attached unit", oerrors.ErrPaymentInsufficient)
	}
	if requestor != "" && requestor != e.cfg.Self {
		return nil, nil, fmt.Errorf("%w: outcome addressed to %s", oerrors.ErrValidation, requestor)
	}
	if len(tags) == 0 {
		return nil, nil, fmt.Errorf("%w: tags must end with the request id", oerrors.ErrValidation)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(tags[len(tags)-1]), 10, 64)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: request id tag: %v", oerrors.ErrValidation, err)
	}
	if _, err := outcome.MarshalJSON(); err != nil {
		return nil, nil, fmt.Errorf("%w: outcome: %v", oerrors.ErrValidation, err)
	}
	details, ok, err := e.load(id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: data request %d", oerrors.ErrNotFound, id)
	}
	if details.Status == StatusFinalized {
		return nil, nil, fmt.Errorf("%w: data request %d", oerrors.ErrAlreadyFinalized, id)
	}
	details.Status = StatusFinalized
	details.Outcome = &outcome
	details.BondWithdrawn = true
	if err := e.store(details); err != nil {
		return nil, nil, err
	}
	var eff *effects.Effect
	if details.Amount.Sign() > 0 {
		eff = effects.NewTransfer(e.cfg.PaymentToken, e.cfg.Self, details.Creator, details.Amount, "bond")
	}
	e.emit(types.NewEvent(EventTypeRequestFinalized).
		With("id", strconv.FormatUint(id, 10)).
		With("creator", details.Creator.String()).
		With("bond", details.Amount.String()))
	return details.Clone(), eff, nil
}

// RequestTransfer lets the oracle move payment tokens held by the requester.
func (e *Engine) RequestTransfer(caller, token types.AccountID, amount *big.Int, receiver types.AccountID) (*effects.Effect, error) {
	if caller != e.cfg.Oracle {
		return nil, fmt.Errorf("%w: ERR_INVALID_ORACLE_ADDRESS: %s", oerrors.ErrUnauthorized, caller)
	}
	if token != e.cfg.PaymentToken {
		return nil, fmt.Errorf("%w: ERR_INVALID_PAYMENT_TOKEN: %s", oerrors.ErrValidation, token)
	}
	if err := types.ValidateU128(amount); err != nil || amount == nil || amount.Sign() == 0 {
		return nil, fmt.Errorf("%w: transfer amount must be a positive uint128", oerrors.ErrValidation)
	}
	if err := receiver.Validate(); err != nil {
		return nil, fmt.Errorf("%w: receiver: %v", oerrors.ErrValidation, err)
	}
	return effects.NewTransfer(e.cfg.PaymentToken, e.cfg.Self, receiver, amount, ""), nil
}
