package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"fporacle/cmd/internal/passphrase"
	"fporacle/config"
	"fporacle/core"
	"fporacle/core/events"
	"fporacle/core/types"
	"fporacle/observability"
	"fporacle/observability/auditlog"
	"fporacle/observability/logging"
	telemetry "fporacle/observability/otel"
	"fporacle/rpc"
	"fporacle/storage"
)

const serviceName = "oracled"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file (.toml or .yaml)")
	issueToken := flag.String("issue-token", "", "Print a caller token for the given account and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens printed by -issue-token")
	auditExport := flag.String("audit-export", "", "Export the audit log to a parquet file and exit")
	auditVerify := flag.Bool("audit-verify", false, "Verify the audit digest chain and exit")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(logging.Options{
		Service:    serviceName,
		Env:        cfg.Node.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	secret := newSecret(cfg)

	if account := strings.TrimSpace(*issueToken); account != "" {
		if err := printToken(cfg, secret, account, *tokenTTL); err != nil {
			logger.Error("Failed to issue token", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}
	if *auditExport != "" || *auditVerify {
		if err := auditCommand(cfg, logger, *auditExport, *auditVerify); err != nil {
			logger.Error("Audit command failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, secret, logger); err != nil {
		logger.Error("oracled exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func printToken(cfg *config.Config, secret *passphrase.Source, raw string, ttl time.Duration) error {
	account, err := types.ParseAccountID(raw)
	if err != nil {
		return err
	}
	key, err := secret.Get()
	if err != nil {
		return err
	}
	tok, err := rpc.IssueToken(key, cfg.RPC.Issuer, account, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

// startupAttrs describes the effective configuration without leaking secrets.
func startupAttrs(cfg *config.Config) []any {
	return []any{
		logging.MaskField("addr", cfg.RPC.ListenAddress),
		logging.MaskField("jwt_secret", cfg.RPC.JWTSecret),
		logging.MaskField("jwt_secret_env", cfg.RPC.JWTSecretEnv),
		logging.MaskField("driver", cfg.Audit.Driver),
		logging.MaskDSN("audit_dsn", cfg.Audit.DSN),
	}
}

func openAudit(cfg *config.Config, logger *slog.Logger) (*auditlog.Store, error) {
	logger.Info("Opening audit log", logging.MaskField("driver", cfg.Audit.Driver), logging.MaskDSN("audit_dsn", cfg.Audit.DSN))
	if strings.EqualFold(cfg.Audit.Driver, "sqlite") {
		if dir := filepath.Dir(cfg.Audit.DSN); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("prepare audit directory: %w", err)
			}
		}
	}
	return auditlog.Open(cfg.Audit.Driver, cfg.Audit.DSN, logger)
}

func auditCommand(cfg *config.Config, logger *slog.Logger, exportPath string, verify bool) error {
	store, err := openAudit(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()
	if verify {
		if err := store.Verify(ctx); err != nil {
			return err
		}
		logger.Info("Audit chain verified", slog.String("head", store.Head()))
	}
	if exportPath != "" {
		n, err := store.ExportParquet(ctx, exportPath, time.Time{})
		if err != nil {
			return err
		}
		logger.Info("Audit log exported", slog.String("path", exportPath), slog.Int("records", n))
	}
	return nil
}

func devnetConfig(cfg *config.Config) (core.DevnetConfig, error) {
	params, err := cfg.StorageParams()
	if err != nil {
		return core.DevnetConfig{}, err
	}
	genesis, err := cfg.GenesisBalances()
	if err != nil {
		return core.DevnetConfig{}, err
	}
	whitelist := make([]types.AccountID, 0, len(cfg.Accounts.Whitelist))
	for _, entry := range cfg.Accounts.Whitelist {
		whitelist = append(whitelist, types.AccountID(strings.TrimSpace(entry)))
	}
	return core.DevnetConfig{
		OracleAccount:      types.AccountID(cfg.Accounts.Oracle),
		RequesterAccount:   types.AccountID(cfg.Accounts.Requester),
		PeerAccount:        types.AccountID(cfg.Accounts.Peer),
		PaymentToken:       types.AccountID(cfg.Accounts.PaymentToken),
		StakeToken:         types.AccountID(cfg.Accounts.StakeToken),
		Whitelist:          whitelist,
		Storage:            params,
		AllowPairOverwrite: cfg.Programs.AllowPairOverwrite,
		CallBudget:         cfg.Programs.CallBudget,
		EffectTimeout:      cfg.Programs.EffectTimeout,
		Genesis:            genesis,
	}, nil
}

func run(cfg *config.Config, secret *passphrase.Source, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info("oracled starting", startupAttrs(cfg)...)

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Node.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
		NodeID:      cfg.Node.NodeID,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	key, err := secret.Get()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.Node.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hub := rpc.NewHub(0)
	emitters := events.Fanout{observability.EventEmitter{}, hub}
	if cfg.Audit.Enabled {
		store, err := openAudit(cfg, logger)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer store.Close()
		emitters = append(emitters, store)
	}

	dnCfg, err := devnetConfig(cfg)
	if err != nil {
		return err
	}
	devnet, err := core.NewDevnet(dnCfg, db, emitters, logger)
	if err != nil {
		return fmt.Errorf("start programs: %w", err)
	}
	go devnet.Executor.Run(ctx)

	server, err := rpc.NewServer(devnet, hub, rpc.Config{
		ListenAddress:   cfg.RPC.ListenAddress,
		Auth:            rpc.AuthConfig{HMACSecret: key, Issuer: cfg.RPC.Issuer},
		RatePerSecond:   cfg.RPC.RatePerSecond,
		Burst:           cfg.RPC.Burst,
		ReadTimeout:     cfg.RPC.ReadTimeout,
		WriteTimeout:    cfg.RPC.WriteTimeout,
		MaxRequestBytes: cfg.RPC.MaxRequestBytes,
		CORS:            rpc.CORSConfig{AllowedOrigins: cfg.RPC.AllowedOrigins},
	}, logger)
	if err != nil {
		return err
	}

	errs := make(chan error, 2)
	go func() { errs <- server.Start() }()

	var grpcServer *grpc.Server
	healthSrv := health.NewServer()
	if addr := strings.TrimSpace(cfg.GRPC.HealthAddress); addr != "" {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		grpcServer = grpc.NewServer(
			grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor()),
			grpc.ChainStreamInterceptor(otelgrpc.StreamServerInterceptor()),
		)
		healthpb.RegisterHealthServer(grpcServer, healthSrv)
		healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
		go func() {
			logger.Info("gRPC health listening", slog.String("addr", addr))
			errs <- grpcServer.Serve(listener)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	healthSrv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc shutdown", slog.Any("error", err))
	}
	if grpcServer != nil {
		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
	}
	devnet.Executor.Drain(shutdownCtx)
	return runErr
}

func newSecret(cfg *config.Config) *passphrase.Source {
	return passphrase.NewSource("RPC signing secret", cfg.RPC.JWTSecretEnv, cfg.JWTSecret)
}
