package rpc

import (
	"context"
	"math/big"

	"fporacle/core"
	"fporacle/core/types"
)

type createPairParams struct {
	Ticker       string `json:"ticker"`
	Decimals     uint32 `json:"decimals"`
	InitialPrice string `json:"initialPrice"`
	Attached     string `json:"attached"`
}

type pushDataParams struct {
	Ticker   string  `json:"ticker"`
	Price    string  `json:"price"`
	Decimals *uint32 `json:"decimals,omitempty"`
	Attached string  `json:"attached"`
}

type setFeeParams struct {
	Fee      string `json:"fee"`
	Attached string `json:"attached"`
}

type getEntryParams struct {
	Ticker        string `json:"ticker"`
	Provider      string `json:"provider"`
	MinLastUpdate uint64 `json:"minLastUpdate"`
	Attached      string `json:"attached"`
}

type aggregateParams struct {
	Tickers       []string `json:"tickers"`
	Providers     []string `json:"providers"`
	MinLastUpdate uint64   `json:"minLastUpdate"`
	Attached      string   `json:"attached"`
}

type attachedParams struct {
	Attached string `json:"attached"`
}

type feeTotalParams struct {
	Tickers   []string `json:"tickers"`
	Providers []string `json:"providers"`
}

type pairParams struct {
	Provider string `json:"provider"`
	Ticker   string `json:"ticker"`
}

type accountParams struct {
	Account string `json:"account"`
}

// AmountResult wraps a single decimal amount.
type AmountResult struct {
	Amount string `json:"amount"`
}

func newCall(caller types.AccountID, rawAttached string) (core.Call, *RPCError) {
	attached, rpcErr := parseOptionalAmount("attached", rawAttached)
	if rpcErr != nil {
		return core.Call{}, rpcErr
	}
	return core.Call{Caller: caller, Attached: attached}, nil
}

func (s *Server) oracleCreatePair(ctx context.Context, caller types.AccountID, req *RPCRequest) (interface{}, error) {
	var params createPairParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	price, rpcErr := parseAmount("initialPrice", params.InitialPrice)
	if rpcErr != nil {
		return nil, rpcErr
	}
	call, rpcErr := newCall(caller, params.Attached)
	if rpcErr != nil {
		return nil, rpcErr
	}
	entry, err := s.devnet.Oracle.CreatePair(ctx, call, params.Ticker, params.Decimals, price)
	if err != nil {
		return nil, err
	}
	return priceEntryResult(entry), nil
}

func (s *Server) oraclePushData(ctx context.Context, caller types.AccountID, req *RPCRequest) (interface{}, error) {
	var params pushDataParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	price, rpcErr := parseAmount("price", params.Price)
	if rpcErr != nil {
		return nil, rpcErr
	}
	call, rpcErr := newCall(caller, params.Attached)
	if rpcErr != nil {
		return nil, rpcErr
	}
	entry, err := s.devnet.Oracle.PushData(ctx, call, params.Ticker, price, params.Decimals)
	if err != nil {
		return nil, err
	}
	return priceEntryResult(entry), nil
}

func (s *Server) oracleSetFee(ctx context.Context, caller types.AccountID, req *RPCRequest) (interface{}, error) {
	var params setFeeParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	fee, rpcErr := parseAmount("fee", params.Fee)
	if rpcErr != nil {
		return nil, rpcErr
	}
	call, rpcErr := newCall(caller, params.Attached)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.devnet.Oracle.SetFee(ctx, call, fee); err != nil {
		return nil, err
	}
	return AmountResult{Amount: fee.String()}, nil
}

func (s *Server) oracleGetEntry(ctx context.Context, caller types.AccountID, req *RPCRequest) (interface{}, error) {
	var params getEntryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	provider, rpcErr := parseAccount("provider", params.Provider)
	if rpcErr != nil {
		return nil, rpcErr
	}
	call, rpcErr := newCall(caller, params.Attached)
	if rpcErr != nil {
		return nil, rpcErr
	}
	out, err := s.devnet.Oracle.GetEntry(ctx, call, params.Ticker, provider, params.MinLastUpdate)
	if err != nil {
		return nil, err
	}
	return queryResult(out), nil
}

func (s *Server) parseAggregate(caller types.AccountID, req *RPCRequest) ([]string, []types.AccountID, uint64, core.Call, *RPCError) {
	var params aggregateParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, nil, 0, core.Call{}, rpcErr
	}
	providers, rpcErr := parseAccounts("providers", params.Providers)
	if rpcErr != nil {
		return nil, nil, 0, core.Call{}, rpcErr
	}
	call, rpcErr := newCall(caller, params.Attached)
	if rpcErr != nil {
		return nil, nil, 0, core.Call{}, rpcErr
	}
	return params.Tickers, providers, params.MinLastUpdate, call, nil
}

func (s *Server) oracleAggregateAvg(ctx context.Context, caller types.AccountID, req *RPCRequest) (interface{}, error) {
	tickers, providers, minLastUpdate, call, rpcErr := s.parseAggregate(caller, req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	out, err := s.devnet.Oracle.AggregateAvg(ctx, call, tickers, providers, minLastUpdate)
	if err != nil {
		return nil, err
	}
	return queryResult(out), nil
}

func (s *Server) oracleAggregateCollect(ctx context.Context, caller types.AccountID, req *RPCRequest) (interface{}, error) {
	tickers, providers, minLastUpdate, call, rpcErr := s.parseAggregate(caller, req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	out, err := s.devnet.Oracle.AggregateCollect(ctx, call, tickers, providers, minLastUpdate)
	if err != nil {
		return nil, err
	}
	return queryResult(out), nil
}

func (s *Server) oracleClaimEarnings(ctx context.Context, caller types.AccountID, req *RPCRequest) (interface{}, error) {
	var params attachedParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	call, rpcErr := newCall(caller, params.Attached)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := s.devnet.Oracle.ClaimEarnings(ctx, call)
	if err != nil {
		return nil, err
	}
	return AmountResult{Amount: formatAmount(amount)}, nil
}

func (s *Server) oracleGetFeeTotal(_ context.Context, _ types.AccountID, req *RPCRequest) (interface{}, error) {
	var params feeTotalParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	providers, rpcErr := parseAccounts("providers", params.Providers)
	if rpcErr != nil {
		return nil, rpcErr
	}
	total, err := s.devnet.Oracle.FeeTotal(params.Tickers, providers)
	if err != nil {
		return nil, err
	}
	return AmountResult{Amount: formatAmount(total)}, nil
}

func (s *Server) oraclePairExists(_ context.Context, _ types.AccountID, req *RPCRequest) (interface{}, error) {
	var params pairParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	provider, rpcErr := parseAccount("provider", params.Provider)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.devnet.Oracle.PairExists(provider, params.Ticker)
}

func (s *Server) oracleGetEarnings(_ context.Context, _ types.AccountID, req *RPCRequest) (interface{}, error) {
	var params pairParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	provider, rpcErr := parseAccount("provider", params.Provider)
	if rpcErr != nil {
		return nil, rpcErr
	}
	earnings, err := s.devnet.Oracle.Earnings(provider)
	if err != nil {
		return nil, err
	}
	return AmountResult{Amount: formatAmount(earnings)}, nil
}

func (s *Server) oracleGetProvider(_ context.Context, _ types.AccountID, req *RPCRequest) (interface{}, error) {
	var params accountParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccount("account", params.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	provider, ok, err := s.devnet.Oracle.Provider(account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	fee := provider.QueryFee
	if fee == nil {
		fee = big.NewInt(0)
	}
	return &ProviderResult{
		QueryFee: fee.String(),
		Earnings: formatAmount(provider.Earnings),
		Tickers:  append([]string{}, provider.Tickers...),
	}, nil
}
