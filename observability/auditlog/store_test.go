package auditlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store, err := New(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, db
}

func TestRecordChainsDigests(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	store.Emit(typedEvent("oracle.pair.created", "provider", "alice", "ticker", "BTC/USD"))
	first := store.Head()
	require.NotEmpty(t, first)
	store.Emit(typedEvent("oracle.price.pushed", "provider", "alice", "price", "101"))

	rows, err := store.Events(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "", rows[0].PrevDigest)
	require.Equal(t, first, rows[1].PrevDigest)
	require.Equal(t, store.Head(), rows[1].Digest)
	require.NoError(t, store.Verify(ctx))
}

func TestVerifyDetectsTampering(t *testing.T) {
	store, db := setupStore(t)
	ctx := context.Background()
	store.Emit(typedEvent("oracle.fee.updated", "provider", "alice", "fee", "5"))
	store.Emit(typedEvent("oracle.fee.updated", "provider", "alice", "fee", "6"))

	require.NoError(t, db.Model(&EventRecord{}).Where("seq = ?", 1).Update("attributes", `{"fee":"500"}`).Error)
	require.ErrorIs(t, store.Verify(ctx), ErrChainBroken)
}

func TestClaimFailureLifecycle(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	store.Emit(typedEvent("oracle.claim.failed",
		"account", "alice", "amount", "40", "effect", "eff-1", "reason", "receiver rejected"))

	open, err := store.OpenClaimFailures(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "alice", open[0].Account)
	require.Equal(t, "40", open[0].Amount)

	require.NoError(t, store.ResolveClaimFailure(ctx, "eff-1"))
	require.Error(t, store.ResolveClaimFailure(ctx, "eff-1"))
	open, err = store.OpenClaimFailures(ctx)
	require.NoError(t, err)
	require.Empty(t, open)
	require.NoError(t, store.Verify(ctx))
}

func TestReopenKeepsHead(t *testing.T) {
	store, db := setupStore(t)
	store.Emit(typedEvent("storage.deposited", "account", "bob", "amount", "100"))
	reopened, err := New(db, nil)
	require.NoError(t, err)
	require.Equal(t, store.Head(), reopened.Head())
}

func TestExportParquet(t *testing.T) {
	store, _ := setupStore(t)
	store.Emit(typedEvent("storage.deposited", "account", "bob", "amount", "100"))
	store.Emit(typedEvent("storage.withdrawn", "account", "bob", "amount", "10"))

	path := filepath.Join(t.TempDir(), "audit.parquet")
	n, err := store.ExportParquet(context.Background(), path, time.Unix(0, 0))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("sqlite", " ", nil)
	require.ErrorIs(t, err, ErrDSNRequired)
	_, err = Open("mysql", "x", nil)
	require.Error(t, err)
}
