package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"fporacle/storage"
)

// RecordOverhead is the number of bytes charged for every stored record on top
// of its hashed key and encoded value.
const RecordOverhead = 40

var usageKey = []byte("meta/storage-usage")

// Manager owns the committed key-value state of a single program. Values are
// RLP encoded and keys hashed with keccak256 before they reach the database.
// Mutations go through a Journal obtained from Begin.
type Manager struct {
	mu    sync.RWMutex
	db    storage.Database
	usage uint64
}

// NewManager creates a state manager on top of the supplied database and loads
// the persisted storage usage counter.
func NewManager(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	m := &Manager{db: db}
	raw, err := db.Get(usageKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("state: load usage: %w", err)
	default:
		if err := rlp.DecodeBytes(raw, &m.usage); err != nil {
			return nil, fmt.Errorf("state: decode usage: %w", err)
		}
	}
	return m, nil
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func recordSize(value []byte) uint64 {
	return uint64(len(value)) + 32 + RecordOverhead
}

// StorageUsage returns the committed number of bytes occupied by the program.
func (m *Manager) StorageUsage() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage
}

// Begin opens a write overlay. Nothing reaches the database until Commit.
func (m *Manager) Begin() *Journal {
	return &Journal{
		manager: m,
		writes:  make(map[string][]byte),
		base:    m.StorageUsage(),
	}
}

// KVGet reads committed state. The boolean reports whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.raw(kvKey(key))
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) raw(hashed []byte) ([]byte, error) {
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (m *Manager) apply(batch *storage.Batch, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := int64(m.usage) + delta
	if next < 0 {
		return fmt.Errorf("state: storage usage underflow")
	}
	encoded, err := rlp.EncodeToBytes(uint64(next))
	if err != nil {
		return err
	}
	batch.Put(usageKey, encoded)
	if err := m.db.Write(batch); err != nil {
		return err
	}
	m.usage = uint64(next)
	return nil
}
