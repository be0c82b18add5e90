package registry

import (
	"strconv"

	"fporacle/core/types"
)

const (
	EventTypePairCreated  = "oracle.pair.created"
	EventTypePricePushed  = "oracle.price.pushed"
	EventTypeFeeUpdated   = "oracle.fee.updated"
	EventTypeEarningsPaid = "oracle.earnings.debited"
)

func newEntryEvent(eventType string, provider types.AccountID, ticker string, entry *PriceEntry) *types.Event {
	return types.NewEvent(eventType).
		With("provider", provider.String()).
		With("ticker", ticker).
		With("price", entry.Price.String()).
		With("decimals", strconv.FormatUint(uint64(entry.Decimals), 10)).
		With("lastUpdate", strconv.FormatUint(entry.LastUpdate, 10))
}
