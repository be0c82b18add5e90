package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"fporacle/core"
	"fporacle/core/events"
	"fporacle/core/types"
	"fporacle/native/storagefee"
	"fporacle/storage"
)

const (
	testSecret   = "rpc-test-secret"
	testIssuer   = "rpc-tests"
	oracleAcc    = types.AccountID("oracle.test")
	requesterAcc = types.AccountID("requester.test")
	peerAcc      = types.AccountID("peer.test")
	paymentTok   = types.AccountID("usdc.test")
	stakeTok     = types.AccountID("flx.test")
	alice        = types.AccountID("alice.test")
	bob          = types.AccountID("bob.test")
	dave         = types.AccountID("dave.test")
)

type testEnv struct {
	srv    *Server
	devnet *core.Devnet
	hub    *Hub
	http   *httptest.Server
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	hub := NewHub(16)
	dn, err := core.NewDevnet(core.DevnetConfig{
		OracleAccount:    oracleAcc,
		RequesterAccount: requesterAcc,
		PeerAccount:      peerAcc,
		PaymentToken:     paymentTok,
		StakeToken:       stakeTok,
		Storage:          storagefee.Params{MinDeposit: big.NewInt(100), ByteCost: big.NewInt(1)},
		Genesis: map[types.AccountID]map[types.AccountID]*big.Int{
			core.NativeLedgerID: {
				alice:     big.NewInt(1_000_000),
				bob:       big.NewInt(1_000),
				dave:      big.NewInt(100_000),
				oracleAcc: big.NewInt(1_000_000),
			},
			paymentTok: {dave: big.NewInt(1_000)},
		},
	}, storage.NewMemDB(), events.Fanout{hub}, nil)
	require.NoError(t, err)
	if cfg.Auth.HMACSecret == "" {
		cfg.Auth = AuthConfig{HMACSecret: testSecret, Issuer: testIssuer}
	}
	srv, err := NewServer(dn, hub, cfg, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, devnet: dn, hub: hub, http: ts}
}

func token(t *testing.T, account types.AccountID) string {
	t.Helper()
	tok, err := IssueToken(testSecret, testIssuer, account, time.Minute)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) call(t *testing.T, bearer, method string, params interface{}) (int, RPCResponse) {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	httpReq, err := http.NewRequest(http.MethodPost, e.http.URL+"/", bytes.NewReader(body))
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := e.http.Client().Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func decodeResult(t *testing.T, resp RPCResponse, dst interface{}) {
	t.Helper()
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, Config{})
	resp, err := env.http.Client().Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthenticatedMethodRequiresBearer(t *testing.T) {
	env := newTestEnv(t, Config{})
	status, resp := env.call(t, "", "oracle_createPair", createPairParams{Ticker: "ETHUSD", Decimals: 2, InitialPrice: "1", Attached: "10000"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	forged, err := IssueToken("other-secret", testIssuer, alice, time.Minute)
	require.NoError(t, err)
	status, resp = env.call(t, forged, "oracle_createPair", createPairParams{Ticker: "ETHUSD", Decimals: 2, InitialPrice: "1", Attached: "10000"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	env := newTestEnv(t, Config{})
	status, resp := env.call(t, "", "oracle_nope", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestCreatePairAndLookup(t *testing.T) {
	env := newTestEnv(t, Config{})
	status, resp := env.call(t, token(t, alice), "oracle_createPair", createPairParams{Ticker: "ETHUSD", Decimals: 2, InitialPrice: "400000", Attached: "10000"})
	require.Equal(t, http.StatusOK, status)
	var entry PriceEntryResult
	decodeResult(t, resp, &entry)
	require.Equal(t, "400000", entry.Price)
	require.Equal(t, uint32(2), entry.Decimals)

	_, resp = env.call(t, "", "oracle_pairExists", pairParams{Provider: alice.String(), Ticker: "ETHUSD"})
	var exists bool
	decodeResult(t, resp, &exists)
	require.True(t, exists)

	status, resp = env.call(t, token(t, bob), "oracle_getEntry", getEntryParams{Ticker: "ETHUSD", Provider: alice.String()})
	require.Equal(t, http.StatusOK, status)
	var query QueryResult
	decodeResult(t, resp, &query)
	require.Len(t, query.Entries, 1)
	require.Equal(t, "400000", query.Entries[0].Price)
	require.Equal(t, "0", query.Charged)
}

func TestProgramErrorsMapToCodes(t *testing.T) {
	env := newTestEnv(t, Config{})
	status, resp := env.call(t, token(t, alice), "oracle_createPair", createPairParams{Ticker: "ETHUSD", Decimals: 2, InitialPrice: "1", Attached: "1"})
	require.Equal(t, http.StatusPaymentRequired, status)
	require.Equal(t, codeStorageInsufficient, resp.Error.Code)

	status, resp = env.call(t, token(t, alice), "oracle_createPair", createPairParams{Ticker: "ETHUSD", Decimals: 2, InitialPrice: "-4", Attached: "1"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	status, resp = env.call(t, token(t, bob), "requester_requestTransfer", requestTransferParams{Token: paymentTok.String(), Amount: "1", Receiver: bob.String()})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestStorageMethods(t *testing.T) {
	env := newTestEnv(t, Config{})
	_, resp := env.call(t, "", "storage_balanceBounds", storageQueryParams{})
	var bounds StorageBoundsResult
	decodeResult(t, resp, &bounds)
	require.Equal(t, "100", bounds.Min)

	status, resp := env.call(t, token(t, dave), "storage_deposit", storageDepositParams{Program: "requester", Attached: "10000"})
	require.Equal(t, http.StatusOK, status)
	var bal StorageBalanceResult
	decodeResult(t, resp, &bal)
	require.Equal(t, "10000", bal.Total)

	_, resp = env.call(t, "", "storage_balanceOf", storageQueryParams{Program: "requester", Account: dave.String()})
	decodeResult(t, resp, &bal)
	require.Equal(t, "10000", bal.Available)

	status, resp = env.call(t, "", "storage_balanceOf", storageQueryParams{Program: "ledger", Account: dave.String()})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestRequesterOnTransferCreatesRequest(t *testing.T) {
	env := newTestEnv(t, Config{})
	_, resp := env.call(t, token(t, dave), "storage_deposit", storageDepositParams{Program: "requester", Attached: "10000"})
	require.Nil(t, resp.Error)

	msg := json.RawMessage(`{"NewDataRequest":{"sources":[],"tags":["eth"],"description":"eth price","outcomes":["up","down"],"challenge_period":"1500","data_type":"String"}}`)
	status, resp := env.call(t, token(t, dave), "requester_onTransfer", onTransferParams{Token: paymentTok.String(), Amount: "100", Msg: msg})
	require.Equal(t, http.StatusOK, status)
	var res OnTransferResult
	decodeResult(t, resp, &res)
	require.Equal(t, "100", res.Used)
	require.Equal(t, uint64(1), res.Nonce)
	env.devnet.Executor.Drain(context.Background())

	_, resp = env.call(t, "", "requester_getDataRequest", dataRequestParams{ID: 0})
	var details DataRequestResult
	decodeResult(t, resp, &details)
	require.Equal(t, "Pending", details.Status)
	require.Equal(t, dave.String(), details.Creator)
	require.Equal(t, "100", details.Amount)
}

func TestRateLimitedClient(t *testing.T) {
	env := newTestEnv(t, Config{RatePerSecond: 0.001, Burst: 1})
	status, _ := env.call(t, "", "storage_balanceBounds", nil)
	require.Equal(t, http.StatusOK, status)
	status, resp := env.call(t, "", "storage_balanceBounds", nil)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestOversizedBodyRejected(t *testing.T) {
	env := newTestEnv(t, Config{MaxRequestBytes: 32})
	resp, err := env.http.Client().Post(env.http.URL+"/", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"storage_balanceBounds","params":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestEventStreamReplaysBacklog(t *testing.T) {
	env := newTestEnv(t, Config{})
	_, resp := env.call(t, token(t, alice), "oracle_createPair", createPairParams{Ticker: "ETHUSD", Decimals: 2, InitialPrice: "400000", Attached: "10000"})
	require.Nil(t, resp.Error)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/events?cursor=0"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt StreamEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, uint64(1), evt.Seq)
	require.NotEmpty(t, evt.Type)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, Config{CORS: CORSConfig{AllowedOrigins: []string{"https://dash.example"}}})
	req, err := http.NewRequest(http.MethodOptions, env.http.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dash.example")
	resp, err := env.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "https://dash.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
