package storagefee

import (
	"strconv"

	"fporacle/core/types"
)

const (
	EventTypeDeposited = "storage.deposited"
	EventTypeWithdrawn = "storage.withdrawn"
	EventTypeSettled   = "storage.settled"
)

func newBalanceEvent(eventType string, account types.AccountID, amount interface{ String() string }, bal *StorageBalance) *types.Event {
	evt := types.NewEvent(eventType).
		With("account", account.String()).
		With("amount", amount.String())
	if bal != nil {
		evt.With("total", bal.Total.String()).With("available", bal.Available.String())
	}
	return evt
}

func newSettledEvent(account types.AccountID, before, after uint64, bal *StorageBalance) *types.Event {
	return types.NewEvent(EventTypeSettled).
		With("account", account.String()).
		With("bytesBefore", strconv.FormatUint(before, 10)).
		With("bytesAfter", strconv.FormatUint(after, 10)).
		With("total", bal.Total.String()).
		With("available", bal.Available.String())
}
