package rpc

import (
	"errors"
	"net/http"

	oerrors "fporacle/core/errors"
	"fporacle/native/bank"
)

// toRPCError maps a program failure onto a JSON-RPC error object.
func toRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	status, code, message := http.StatusInternalServerError, codeServerError, "internal_error"
	switch {
	case errors.Is(err, oerrors.ErrValidation):
		status, code, message = http.StatusBadRequest, codeInvalidParams, "validation_failed"
	case errors.Is(err, oerrors.ErrPaymentInsufficient), errors.Is(err, bank.ErrInsufficientBalance):
		status, code, message = http.StatusPaymentRequired, codePaymentInsufficient, "payment_insufficient"
	case errors.Is(err, oerrors.ErrStorageInsufficient):
		status, code, message = http.StatusPaymentRequired, codeStorageInsufficient, "storage_insufficient"
	case errors.Is(err, oerrors.ErrUnauthorized):
		status, code, message = http.StatusForbidden, codeUnauthorized, "unauthorized"
	case errors.Is(err, oerrors.ErrNotFound):
		status, code, message = http.StatusNotFound, codeNotFound, "not_found"
	case errors.Is(err, oerrors.ErrPairExists), errors.Is(err, oerrors.ErrAlreadyFinalized):
		status, code, message = http.StatusConflict, codeConflict, "conflict"
	case errors.Is(err, oerrors.ErrStale):
		status, code, message = http.StatusConflict, codeStale, "stale"
	case errors.Is(err, oerrors.ErrBudgetExceeded):
		status, code, message = http.StatusServiceUnavailable, codeBudgetExceeded, "budget_exceeded"
	}
	return &RPCError{HTTPStatus: status, Code: code, Message: message, Data: err.Error()}
}
