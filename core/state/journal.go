package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/rlp"

	"fporacle/storage"
)

// ErrJournalClosed is returned when a committed or discarded journal is used.
var ErrJournalClosed = errors.New("state: journal closed")

// Journal buffers the writes of one call on top of committed state and tracks
// the storage usage they would produce. Either Commit persists every write in a
// single batch or Discard drops them all.
type Journal struct {
	manager *Manager
	writes  map[string][]byte
	deleted map[string]bool
	order   []string
	base    uint64
	delta   int64
	closed  bool
}

func (j *Journal) lookup(hashed []byte) ([]byte, error) {
	k := string(hashed)
	if j.deleted[k] {
		return nil, nil
	}
	if v, ok := j.writes[k]; ok {
		return v, nil
	}
	return j.manager.raw(hashed)
}

func (j *Journal) touch(k string) {
	if _, ok := j.writes[k]; ok {
		return
	}
	if j.deleted[k] {
		return
	}
	j.order = append(j.order, k)
}

func (j *Journal) putRaw(hashed, encoded []byte) error {
	previous, err := j.lookup(hashed)
	if err != nil {
		return err
	}
	if previous != nil {
		j.delta -= int64(recordSize(previous))
	}
	j.delta += int64(recordSize(encoded))
	k := string(hashed)
	j.touch(k)
	if j.deleted != nil {
		delete(j.deleted, k)
	}
	j.writes[k] = encoded
	return nil
}

// KVPut RLP encodes value and stages it under key.
func (j *Journal) KVPut(key []byte, value interface{}) error {
	if j.closed {
		return ErrJournalClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return j.putRaw(kvKey(key), encoded)
}

// KVGet reads through the overlay into committed state.
func (j *Journal) KVGet(key []byte, out interface{}) (bool, error) {
	if j.closed {
		return false, ErrJournalClosed
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := j.lookup(kvKey(key))
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

// KVDelete stages the removal of key. Deleting an absent key is a no-op.
func (j *Journal) KVDelete(key []byte) error {
	if j.closed {
		return ErrJournalClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	previous, err := j.lookup(hashed)
	if err != nil {
		return err
	}
	if previous == nil {
		return nil
	}
	j.delta -= int64(recordSize(previous))
	k := string(hashed)
	j.touch(k)
	delete(j.writes, k)
	if j.deleted == nil {
		j.deleted = make(map[string]bool)
	}
	j.deleted[k] = true
	return nil
}

// KVAppend appends value to the RLP-encoded byte slice list stored under key.
// Duplicate values are ignored to keep indexes deterministic.
func (j *Journal) KVAppend(key []byte, value []byte) error {
	if j.closed {
		return ErrJournalClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := j.lookup(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return j.putRaw(hashed, encoded)
}

// KVGetList decodes the slice stored under key into out, which must be a
// pointer to a slice. Absent keys yield an empty slice.
func (j *Journal) KVGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	ok, err := j.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}

// StorageUsage returns the bytes the program would occupy if the journal were
// committed now.
func (j *Journal) StorageUsage() uint64 {
	next := int64(j.base) + j.delta
	if next < 0 {
		return 0
	}
	return uint64(next)
}

// BaseUsage returns the committed usage the journal started from.
func (j *Journal) BaseUsage() uint64 { return j.base }

// Dirty reports whether the journal holds staged writes.
func (j *Journal) Dirty() bool {
	return len(j.order) > 0
}

// Commit writes every staged change atomically.
func (j *Journal) Commit() error {
	if j.closed {
		return ErrJournalClosed
	}
	j.closed = true
	batch := &storage.Batch{}
	for _, k := range j.order {
		if j.deleted[k] {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), j.writes[k])
	}
	if batch.Len() == 0 {
		return nil
	}
	return j.manager.apply(batch, j.delta)
}

// Discard drops every staged change.
func (j *Journal) Discard() {
	j.closed = true
	j.writes = nil
	j.deleted = nil
	j.order = nil
	j.delta = 0
}
