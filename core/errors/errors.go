// Package errors defines the failure taxonomy shared by every program. Each
// failure aborts the enclosing call; callers match with errors.Is.
package errors

import stderrors "errors"

var (
	ErrValidation          = stderrors.New("validation failed")
	ErrPaymentInsufficient = stderrors.New("payment insufficient")
	ErrStorageInsufficient = stderrors.New("storage balance insufficient")
	ErrUnauthorized        = stderrors.New("unauthorized")
	ErrNotFound            = stderrors.New("not found")
	ErrPairExists          = stderrors.New("pair already exists")
	ErrStale               = stderrors.New("entry not recent enough")
	ErrAlreadyFinalized    = stderrors.New("already finalized")
	ErrBudgetExceeded      = stderrors.New("compute budget exceeded")
)
