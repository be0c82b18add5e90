// Package auditlog persists committed program events and unreconciled claim
// failures for operators.
package auditlog

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"fporacle/core/events"
	"fporacle/core/types"
)

const (
	eventTypeClaimFailed   = "oracle.claim.failed"
	eventTypeClaimResolved = "audit.claim.resolved"
)

var (
	// ErrDSNRequired is returned when no database location is configured.
	ErrDSNRequired = errors.New("auditlog: dsn must be configured")
	// ErrChainBroken reports a digest that does not match its record.
	ErrChainBroken = errors.New("auditlog: digest chain broken")
)

// Store is an events.Emitter persisting every event it receives.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	head string
}

// Open connects to the audit database. driver is "sqlite" (default) or
// "postgres".
func Open(driver, dsn string, log *slog.Logger) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("auditlog: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("auditlog: open: %w", err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle, migrating the schema and loading the
// current chain head.
func New(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auditlog: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Store{db: db, logger: log.With(slog.String("component", "auditlog")), now: time.Now}
	var last EventRecord
	err := db.Order("seq DESC").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("auditlog: load head: %w", err)
	}
	s.head = last.Digest
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Persistence errors are logged, never
// propagated into the emitting call.
func (s *Store) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	if err := s.Record(context.Background(), evt); err != nil {
		s.logger.Error("audit record failed", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Record appends evt to the chain. Claim failures also open a ClaimFailure row.
func (s *Store) Record(ctx context.Context, evt events.Event) error {
	attrs := map[string]string{}
	if typed, ok := evt.(events.Typed); ok && typed.Evt != nil {
		attrs = typed.Evt.Attributes
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("auditlog: encode attributes: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rec := EventRecord{
		Type:       evt.EventType(),
		Attributes: string(encoded),
		PrevDigest: s.head,
		CreatedAt:  now,
	}
	rec.Digest = digest(rec.PrevDigest, rec.Type, rec.Attributes)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		if rec.Type != eventTypeClaimFailed {
			return nil
		}
		failure := ClaimFailure{
			ID:        attrs["effect"],
			Account:   attrs["account"],
			Amount:    attrs["amount"],
			Reason:    attrs["reason"],
			CreatedAt: now,
		}
		if failure.ID == "" {
			failure.ID = rec.Digest[:36]
		}
		return tx.Create(&failure).Error
	})
	if err != nil {
		return fmt.Errorf("auditlog: insert: %w", err)
	}
	s.head = rec.Digest
	return nil
}

// Head returns the digest of the latest record.
func (s *Store) Head() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Events returns records with sequence greater than after, oldest first.
func (s *Store) Events(ctx context.Context, after uint64, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []EventRecord
	err := s.db.WithContext(ctx).Where("seq > ?", after).Order("seq ASC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("auditlog: list events: %w", err)
	}
	return out, nil
}

// Verify walks the whole chain and checks every digest.
func (s *Store) Verify(ctx context.Context) error {
	var rows []EventRecord
	if err := s.db.WithContext(ctx).Order("seq ASC").Find(&rows).Error; err != nil {
		return fmt.Errorf("auditlog: load chain: %w", err)
	}
	prev := ""
	for _, row := range rows {
		if row.PrevDigest != prev || row.Digest != digest(row.PrevDigest, row.Type, row.Attributes) {
			return fmt.Errorf("%w at seq %d", ErrChainBroken, row.Seq)
		}
		prev = row.Digest
	}
	return nil
}

// OpenClaimFailures lists claim failures not yet resolved.
func (s *Store) OpenClaimFailures(ctx context.Context) ([]ClaimFailure, error) {
	var out []ClaimFailure
	err := s.db.WithContext(ctx).Where("resolved = ?", false).Order("created_at ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("auditlog: list claim failures: %w", err)
	}
	return out, nil
}

// ResolveClaimFailure marks a failure as handled by an operator.
func (s *Store) ResolveClaimFailure(ctx context.Context, id string) error {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&ClaimFailure{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{"resolved": true, "resolved_at": &now})
	if res.Error != nil {
		return fmt.Errorf("auditlog: resolve claim failure: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("auditlog: claim failure %s not open", id)
	}
	return s.Record(ctx, typedEvent(eventTypeClaimResolved, "effect", id))
}

func digest(prev, eventType, attrs string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(prev))
	h.Write([]byte{0})
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write([]byte(attrs))
	return hex.EncodeToString(h.Sum(nil))
}

var _ events.Emitter = (*Store)(nil)

func typedEvent(eventType string, kv ...string) events.Typed {
	evt := types.NewEvent(eventType)
	for i := 0; i+1 < len(kv); i += 2 {
		evt.With(kv[i], kv[i+1])
	}
	return events.Typed{Evt: evt}
}
