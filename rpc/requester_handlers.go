package rpc

import (
	"context"
	"encoding/json"
	"math/big"

	"fporacle/core/types"
	"fporacle/native/bank"
	"fporacle/native/requester"
)

type onTransferParams struct {
	Token  string          `json:"token"`
	Amount string          `json:"amount"`
	Msg    json.RawMessage `json:"msg"`
}

// OnTransferResult reports how much of a deposit the requester kept.
type OnTransferResult struct {
	Used     string `json:"used"`
	Refunded string `json:"refunded"`
	Nonce    uint64 `json:"nonce"`
}

type setOutcomeParams struct {
	Requestor string            `json:"requestor,omitempty"`
	Outcome   requester.Outcome `json:"outcome"`
	Tags      []string          `json:"tags"`
	Attached  string            `json:"attached"`
}

type dataRequestParams struct {
	ID uint64 `json:"id"`
}

type requestTransferParams struct {
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	Receiver string `json:"receiver"`
	Attached string `json:"attached"`
}

func (s *Server) tokenLedger(field, raw string) (*bank.Ledger, *RPCError) {
	id, rpcErr := parseAccount(field, raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	switch id {
	case s.devnet.Payment.ID():
		return s.devnet.Payment, nil
	case s.devnet.Stake.ID():
		return s.devnet.Stake, nil
	default:
		return nil, invalidParams("%s: unknown token %s", field, id)
	}
}

// requesterOnTransfer moves the caller's tokens to the requester program,
// which creates or stakes on a data request according to msg.
func (s *Server) requesterOnTransfer(ctx context.Context, caller types.AccountID, req *RPCRequest) (interface{}, error) {
	var params onTransferParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	ledger, rpcErr := s.tokenLedger("token", params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(params.Msg) == 0 {
		return nil, invalidParams("msg required")
	}
	unused, err := ledger.TransferCall(ctx, caller, s.devnet.Requester.Self(), amount, "", params.Msg)
	if err != nil {
		return nil, err
	}
	if unused == nil {
		unused = big.NewInt(0)
	}
	nonce, err := s.devnet.Requester.Nonce()
	if err != nil {
		return nil, err
	}
	return OnTransferResult{
		Used:     new(big.Int).Sub(amount, unused).String(),
		Refunded: unused.String(),
		Nonce:    nonce,
	}, nil
}

func (s *Server) requesterSetOutcome(ctx context.Context, caller types.AccountID, req *RPCRequest) (interface{}, error) {
	var params setOutcomeParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var requestor types.AccountID
	if params.Requestor != "" {
		var rpcErr *RPCError
		if requestor, rpcErr = parseAccount("requestor", params.Requestor); rpcErr != nil {
			return nil, rpcErr
		}
	}
	call, rpcErr := newCall(caller, params.Attached)
	if rpcErr != nil {
		return nil, rpcErr
	}
	details, err := s.devnet.Requester.SetOutcome(ctx, call, requestor, params.Outcome, params.Tags)
	if err != nil {
		return nil, err
	}
	return dataRequestResult(details), nil
}

func (s *Server) requesterGetDataRequest(_ context.Context, _ types.AccountID, req *RPCRequest) (interface{}, error) {
	var params dataRequestParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	details, ok, err := s.devnet.Requester.GetDataRequest(params.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return dataRequestResult(details), nil
}

func (s *Server) requesterRequestTransfer(ctx context.Context, caller types.AccountID, req *RPCRequest) (interface{}, error) {
	var params requestTransferParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseAccount("token", params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	receiver, rpcErr := parseAccount("receiver", params.Receiver)
	if rpcErr != nil {
		return nil, rpcErr
	}
	call, rpcErr := newCall(caller, params.Attached)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.devnet.Requester.RequestTransfer(ctx, call, token, amount, receiver); err != nil {
		return nil, err
	}
	return AmountResult{Amount: amount.String()}, nil
}
