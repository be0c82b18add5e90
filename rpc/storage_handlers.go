package rpc

import (
	"context"
	"math/big"
	"strings"

	"fporacle/core"
	"fporacle/core/types"
	"fporacle/native/storagefee"
)

// storageProgram is the storage-escrow surface both programs expose.
type storageProgram interface {
	StorageDeposit(ctx context.Context, call core.Call, account types.AccountID) (*storagefee.StorageBalance, error)
	StorageWithdraw(ctx context.Context, call core.Call, amount *big.Int) (*storagefee.StorageBalance, error)
	StorageBalanceOf(account types.AccountID) (*storagefee.StorageBalance, bool, error)
	StorageBalanceBounds() storagefee.Bounds
}

type storageDepositParams struct {
	Program  string `json:"program,omitempty"`
	Account  string `json:"account,omitempty"`
	Attached string `json:"attached"`
}

type storageWithdrawParams struct {
	Program  string `json:"program,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Attached string `json:"attached"`
}

type storageQueryParams struct {
	Program string `json:"program,omitempty"`
	Account string `json:"account,omitempty"`
}

// program resolves the escrow owner addressed by name. The oracle program is
// the default.
func (s *Server) program(name string) (storageProgram, *RPCError) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", core.OracleProgramName:
		return s.devnet.Oracle, nil
	case core.RequesterProgramName:
		return s.devnet.Requester, nil
	default:
		return nil, invalidParams("unknown program %q", name)
	}
}

func (s *Server) storageDeposit(ctx context.Context, caller types.AccountID, req *RPCRequest) (interface{}, error) {
	var params storageDepositParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	prog, rpcErr := s.program(params.Program)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var account types.AccountID
	if strings.TrimSpace(params.Account) != "" {
		if account, rpcErr = parseAccount("account", params.Account); rpcErr != nil {
			return nil, rpcErr
		}
	}
	call, rpcErr := newCall(caller, params.Attached)
	if rpcErr != nil {
		return nil, rpcErr
	}
	bal, err := prog.StorageDeposit(ctx, call, account)
	if err != nil {
		return nil, err
	}
	return storageBalanceResult(bal), nil
}

func (s *Server) storageWithdraw(ctx context.Context, caller types.AccountID, req *RPCRequest) (interface{}, error) {
	var params storageWithdrawParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	prog, rpcErr := s.program(params.Program)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var amount *big.Int
	if strings.TrimSpace(params.Amount) != "" {
		if amount, rpcErr = parseAmount("amount", params.Amount); rpcErr != nil {
			return nil, rpcErr
		}
	}
	call, rpcErr := newCall(caller, params.Attached)
	if rpcErr != nil {
		return nil, rpcErr
	}
	bal, err := prog.StorageWithdraw(ctx, call, amount)
	if err != nil {
		return nil, err
	}
	return storageBalanceResult(bal), nil
}

func (s *Server) storageBalanceOf(_ context.Context, _ types.AccountID, req *RPCRequest) (interface{}, error) {
	var params storageQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	prog, rpcErr := s.program(params.Program)
	if rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccount("account", params.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	bal, ok, err := prog.StorageBalanceOf(account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return storageBalanceResult(bal), nil
}

func (s *Server) storageBalanceBounds(_ context.Context, _ types.AccountID, req *RPCRequest) (interface{}, error) {
	var params storageQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	prog, rpcErr := s.program(params.Program)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return storageBoundsResult(prog.StorageBalanceBounds()), nil
}
