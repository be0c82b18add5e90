package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"fporacle/core/types"
	"fporacle/native/aggregator"
	"fporacle/native/registry"
	"fporacle/native/requester"
	"fporacle/native/storagefee"
)

const jsonRPCVersion = "2.0"

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020

	codePaymentInsufficient = -32030
	codeStorageInsufficient = -32031
	codeNotFound            = -32032
	codeConflict            = -32033
	codeStale               = -32034
	codeBudgetExceeded      = -32035
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	HTTPStatus int         `json:"-"`
	Code       int         `json:"code"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidParams(format string, args ...interface{}) *RPCError {
	return &RPCError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid_params", Data: fmt.Sprintf(format, args...)}
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// decodeParams unmarshals the single parameter object carried by req.
// A missing object leaves dst untouched.
func decodeParams(req *RPCRequest, dst interface{}) *RPCError {
	switch len(req.Params) {
	case 0:
		return nil
	case 1:
		if err := json.Unmarshal(req.Params[0], dst); err != nil {
			return invalidParams("%v", err)
		}
		return nil
	default:
		return invalidParams("exactly one parameter object expected")
	}
}

func parseAccount(field, raw string) (types.AccountID, *RPCError) {
	id, err := types.ParseAccountID(raw)
	if err != nil {
		return "", invalidParams("%s: %v", field, err)
	}
	return id, nil
}

func parseAccounts(field string, raw []string) ([]types.AccountID, *RPCError) {
	out := make([]types.AccountID, len(raw))
	for i, entry := range raw {
		id, rpcErr := parseAccount(fmt.Sprintf("%s[%d]", field, i), entry)
		if rpcErr != nil {
			return nil, rpcErr
		}
		out[i] = id
	}
	return out, nil
}

func parseOptionalAmount(field, raw string) (*big.Int, *RPCError) {
	if strings.TrimSpace(raw) == "" {
		return big.NewInt(0), nil
	}
	return parseAmount(field, raw)
}

func parseAmount(field, raw string) (*big.Int, *RPCError) {
	v, err := types.ParseAmount(raw)
	if err != nil {
		return nil, invalidParams("%s: %v", field, err)
	}
	return v, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// PriceEntryResult is the wire form of a stored price.
type PriceEntryResult struct {
	Price      string `json:"price"`
	Decimals   uint32 `json:"decimals"`
	LastUpdate uint64 `json:"lastUpdate"`
}

func priceEntryResult(e *registry.PriceEntry) *PriceEntryResult {
	if e == nil {
		return nil
	}
	return &PriceEntryResult{Price: formatAmount(e.Price), Decimals: e.Decimals, LastUpdate: e.LastUpdate}
}

// QueryResult reports a paid lookup together with its settlement.
type QueryResult struct {
	Entries []*PriceEntryResult `json:"entries"`
	Charged string              `json:"charged"`
	Refund  string              `json:"refund"`
	Reason  string              `json:"reason,omitempty"`
}

func queryResult(out *aggregator.Outcome) *QueryResult {
	if out == nil {
		return &QueryResult{Charged: "0", Refund: "0"}
	}
	res := &QueryResult{Charged: formatAmount(out.Charged), Refund: formatAmount(out.Refund)}
	if out.Entries != nil {
		res.Entries = make([]*PriceEntryResult, len(out.Entries))
		for i, e := range out.Entries {
			res.Entries[i] = priceEntryResult(e)
		}
	}
	if out.Reason != aggregator.ReasonNone {
		res.Reason = out.Reason.String()
	}
	return res
}

// StorageBalanceResult mirrors storagefee.StorageBalance with string amounts.
type StorageBalanceResult struct {
	Total     string `json:"total"`
	Available string `json:"available"`
}

func storageBalanceResult(b *storagefee.StorageBalance) *StorageBalanceResult {
	if b == nil {
		return nil
	}
	return &StorageBalanceResult{Total: formatAmount(b.Total), Available: formatAmount(b.Available)}
}

type StorageBoundsResult struct {
	Min string  `json:"min"`
	Max *string `json:"max,omitempty"`
}

func storageBoundsResult(b storagefee.Bounds) StorageBoundsResult {
	res := StorageBoundsResult{Min: formatAmount(b.Min)}
	if b.Max != nil {
		max := b.Max.String()
		res.Max = &max
	}
	return res
}

// DataRequestResult is the wire form of a data request record.
type DataRequestResult struct {
	ID            uint64             `json:"id"`
	Amount        string             `json:"amount"`
	Creator       string             `json:"creator"`
	Status        string             `json:"status"`
	Tags          []string           `json:"tags"`
	Description   *string            `json:"description,omitempty"`
	Sources       []requester.Source `json:"sources,omitempty"`
	Outcome       *requester.Outcome `json:"outcome,omitempty"`
	BondWithdrawn bool               `json:"bondWithdrawn"`
}

func dataRequestResult(d *requester.DataRequestDetails) *DataRequestResult {
	if d == nil {
		return nil
	}
	return &DataRequestResult{
		ID:            d.ID,
		Amount:        formatAmount(d.Amount),
		Creator:       d.Creator.String(),
		Status:        d.Status.String(),
		Tags:          append([]string(nil), d.Tags...),
		Description:   d.Payload.Description,
		Sources:       d.Payload.Sources,
		Outcome:       d.Outcome,
		BondWithdrawn: d.BondWithdrawn,
	}
}

type ProviderResult struct {
	QueryFee string   `json:"queryFee"`
	Earnings string   `json:"earnings"`
	Tickers  []string `json:"tickers"`
}
