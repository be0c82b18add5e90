package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"fporacle/core"
	"fporacle/core/types"
	"fporacle/observability"
)

const defaultMaxRequestBytes = 1 << 20 // 1 MiB

// Config configures the JSON-RPC listener.
type Config struct {
	ListenAddress   string
	Auth            AuthConfig
	RatePerSecond   float64
	Burst           int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRequestBytes int64
	CORS            CORSConfig
}

// methodFunc executes one JSON-RPC method. caller is empty for methods that
// do not require authentication.
type methodFunc func(ctx context.Context, caller types.AccountID, req *RPCRequest) (interface{}, error)

type method struct {
	auth bool
	fn   methodFunc
}

// Server exposes the oracle and requester programs over JSON-RPC 2.0.
type Server struct {
	devnet  *core.Devnet
	cfg     Config
	auth    *authenticator
	limiter *rateLimiter
	hub     *Hub
	logger  *slog.Logger
	methods map[string]method

	httpSrv *http.Server
}

// NewServer builds a server over devnet. hub may be nil, in which case the
// websocket stream reports unavailable.
func NewServer(devnet *core.Devnet, hub *Hub, cfg Config, logger *slog.Logger) (*Server, error) {
	if devnet == nil {
		return nil, errors.New("rpc: devnet required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	s := &Server{
		devnet:  devnet,
		cfg:     cfg,
		auth:    newAuthenticator(cfg.Auth),
		limiter: newRateLimiter(cfg.RatePerSecond, cfg.Burst),
		hub:     hub,
		logger:  logger.With("component", "rpc"),
	}
	s.methods = map[string]method{
		"oracle_createPair":         {auth: true, fn: s.oracleCreatePair},
		"oracle_pushData":           {auth: true, fn: s.oraclePushData},
		"oracle_setFee":             {auth: true, fn: s.oracleSetFee},
		"oracle_getEntry":           {auth: true, fn: s.oracleGetEntry},
		"oracle_aggregateAvg":       {auth: true, fn: s.oracleAggregateAvg},
		"oracle_aggregateCollect":   {auth: true, fn: s.oracleAggregateCollect},
		"oracle_claimEarnings":      {auth: true, fn: s.oracleClaimEarnings},
		"oracle_getFeeTotal":        {fn: s.oracleGetFeeTotal},
		"oracle_pairExists":         {fn: s.oraclePairExists},
		"oracle_getEarnings":        {fn: s.oracleGetEarnings},
		"oracle_getProvider":        {fn: s.oracleGetProvider},
		"storage_deposit":           {auth: true, fn: s.storageDeposit},
		"storage_withdraw":          {auth: true, fn: s.storageWithdraw},
		"storage_balanceOf":         {fn: s.storageBalanceOf},
		"storage_balanceBounds":     {fn: s.storageBalanceBounds},
		"requester_onTransfer":      {auth: true, fn: s.requesterOnTransfer},
		"requester_setOutcome":      {auth: true, fn: s.requesterSetOutcome},
		"requester_getDataRequest":  {fn: s.requesterGetDataRequest},
		"requester_requestTransfer": {auth: true, fn: s.requesterRequestTransfer},
	}
	return s, nil
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors(s.cfg.CORS))
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	return otelhttp.NewHandler(r, "fporacle-rpc")
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("starting JSON-RPC server", "addr", s.cfg.ListenAddress)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func moduleOf(name string) string {
	if idx := strings.IndexByte(name, '_'); idx > 0 {
		return name[:idx]
	}
	return "rpc"
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !s.limiter.allow(clientSource(r)) {
		observability.ModuleMetrics().RecordThrottle("rpc", "client_rate")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()
	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	start := time.Now()
	module := moduleOf(req.Method)
	var caller types.AccountID
	if m.auth {
		account, authErr := s.auth.caller(r)
		if authErr != nil {
			observability.ModuleMetrics().Observe(module, req.Method, authErr.Code, time.Since(start))
			writeError(w, authErr.HTTPStatus, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		caller = account
	}

	result, err := m.fn(r.Context(), caller, req)
	if err != nil {
		rpcErr := toRPCError(err)
		observability.ModuleMetrics().Observe(module, req.Method, rpcErr.Code, time.Since(start))
		if rpcErr.Code == codeServerError {
			s.logger.Error("rpc method failed", "method", req.Method, "caller", caller.String(), "error", err)
		}
		writeError(w, rpcErr.HTTPStatus, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	observability.ModuleMetrics().Observe(module, req.Method, 0, time.Since(start))
	writeResult(w, req.ID, result)
}
