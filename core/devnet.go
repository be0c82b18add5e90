package core

import (
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"fporacle/core/events"
	"fporacle/core/types"
	"fporacle/native/bank"
	"fporacle/native/effects"
	"fporacle/native/gateway"
	"fporacle/native/requester"
	"fporacle/native/storagefee"
	"fporacle/observability"
	"fporacle/storage"
)

// NativeLedgerID names the ledger carrying attached value.
const NativeLedgerID = types.AccountID("native")

// DevnetConfig describes a self-contained deployment: both programs, the
// token ledgers they talk to and an in-process oracle peer.
type DevnetConfig struct {
	OracleAccount      types.AccountID
	RequesterAccount   types.AccountID
	PeerAccount        types.AccountID
	PaymentToken       types.AccountID
	StakeToken         types.AccountID
	Whitelist          []types.AccountID
	Storage            storagefee.Params
	AllowPairOverwrite bool
	CallBudget         time.Duration
	EffectTimeout      time.Duration
	// Genesis balances keyed by ledger id (NativeLedgerID or a token id).
	Genesis map[types.AccountID]map[types.AccountID]*big.Int
}

// Devnet bundles a running deployment.
type Devnet struct {
	Native    *bank.Ledger
	Payment   *bank.Ledger
	Stake     *bank.Ledger
	Executor  *effects.Executor
	Oracle    *OracleProgram
	Requester *RequesterProgram
	Peer      *DevOracle
}

// NewDevnet wires a deployment on db. Each program owns a prefix of db.
func NewDevnet(cfg DevnetConfig, db storage.Database, emitter events.Emitter, logger *slog.Logger) (*Devnet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	native := bank.NewLedger(NativeLedgerID)
	payment := bank.NewLedger(cfg.PaymentToken)
	stake := bank.NewLedger(cfg.StakeToken)
	ledgers := map[types.AccountID]*bank.Ledger{NativeLedgerID: native, cfg.PaymentToken: payment, cfg.StakeToken: stake}
	for id, balances := range cfg.Genesis {
		ledger, ok := ledgers[id]
		if !ok {
			return nil, fmt.Errorf("devnet: genesis for unknown ledger %s", id)
		}
		for account, amount := range balances {
			if err := ledger.Mint(account, amount); err != nil {
				return nil, fmt.Errorf("devnet: mint %s on %s: %w", account, id, err)
			}
		}
	}

	dispatcher := gateway.NewDispatcher(native)
	dispatcher.AddToken(cfg.PaymentToken, payment)
	dispatcher.AddToken(cfg.StakeToken, stake)
	executor := effects.NewExecutor(dispatcher, logger)
	executor.SetTimeout(cfg.EffectTimeout)
	executor.SetObserver(func(eff *effects.Effect, res effects.Result, elapsed time.Duration) {
		observability.Oracle().ObserveEffect(eff.Kind.String(), res.Err, elapsed)
	})

	opts := Options{Native: native, Effects: executor, Emitter: emitter, Logger: logger, Budget: cfg.CallBudget}
	oracle, err := NewOracleProgram(OracleConfig{
		Self:               cfg.OracleAccount,
		PaymentToken:       cfg.PaymentToken,
		Storage:            cfg.Storage,
		AllowPairOverwrite: cfg.AllowPairOverwrite,
	}, storage.NewPrefixDB(db, "oracle/"), opts)
	if err != nil {
		return nil, err
	}
	req, err := NewRequesterProgram(RequesterConfig{
		Requester: requester.Config{
			Self:         cfg.RequesterAccount,
			Oracle:       cfg.PeerAccount,
			PaymentToken: cfg.PaymentToken,
			StakeToken:   cfg.StakeToken,
			Whitelist:    cfg.Whitelist,
		},
		Storage: cfg.Storage,
	}, storage.NewPrefixDB(db, "requester/"), opts)
	if err != nil {
		return nil, err
	}
	peer := NewDevOracle(cfg.PeerAccount, payment)

	executor.Register(OracleProgramName, oracle)
	executor.Register(RequesterProgramName, req)
	for _, token := range []*bank.Ledger{payment, stake} {
		token.RegisterReceiver(req.Self(), req)
		token.RegisterReceiver(peer.Account(), peer)
	}
	return &Devnet{
		Native:    native,
		Payment:   payment,
		Stake:     stake,
		Executor:  executor,
		Oracle:    oracle,
		Requester: req,
		Peer:      peer,
	}, nil
}
