package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fporacle/config"
	"fporacle/core"
	"fporacle/core/types"
	"fporacle/observability/logging"
	"fporacle/storage"
)

func TestDevnetConfigFromDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Genesis = []config.GenesisBalance{
		{Ledger: "native", Account: "alice.devnet", Amount: "500"},
		{Ledger: "native", Account: "alice.devnet", Amount: "250"},
		{Ledger: "usdc.devnet", Account: "bob.devnet", Amount: "10"},
	}
	dnCfg, err := devnetConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, types.AccountID("oracle.devnet"), dnCfg.OracleAccount)
	require.Equal(t, types.AccountID("peer.devnet"), dnCfg.PeerAccount)
	require.Equal(t, int64(750), dnCfg.Genesis[core.NativeLedgerID]["alice.devnet"].Int64())

	dn, err := core.NewDevnet(dnCfg, storage.NewMemDB(), nil, slog.Default())
	require.NoError(t, err)
	require.Equal(t, "10", dn.Payment.TotalSupply().String())
}

func TestAuditCommandVerifiesAndExports(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Audit.DSN = filepath.Join(dir, "audit", "audit.db")
	out := filepath.Join(dir, "audit.parquet")
	require.NoError(t, auditCommand(cfg, slog.Default(), out, true))
	require.FileExists(t, out)
}

func TestPrintTokenRejectsBadAccount(t *testing.T) {
	cfg := config.Default()
	cfg.RPC.JWTSecret = "secret"
	src := newSecret(cfg)
	require.Error(t, printToken(cfg, src, "NOT VALID", time.Minute))
	require.NoError(t, printToken(cfg, src, "alice.devnet", time.Minute))
}

func TestStartupLogMasksSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.RPC.JWTSecret = "hunter2"
	cfg.Audit.Driver = "postgres"
	cfg.Audit.DSN = "postgres://audit:hunter2@db:5432/fporacle"

	var buf bytes.Buffer
	logger := logging.New(&buf, logging.Options{Service: serviceName})
	logger.Info("oracled starting", startupAttrs(cfg)...)

	line := buf.String()
	require.NotContains(t, line, "hunter2")
	require.Contains(t, line, logging.Redacted)
	require.Contains(t, line, "postgres://audit:redacted@db:5432/fporacle")
	require.Contains(t, line, cfg.RPC.JWTSecretEnv)
}
