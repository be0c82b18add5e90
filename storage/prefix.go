package storage

// PrefixDB namespaces every key of an underlying database so several programs
// can share one physical store while owning disjoint key spaces.
type PrefixDB struct {
	inner  Database
	prefix []byte
}

// NewPrefixDB wraps inner, prepending prefix to every key.
func NewPrefixDB(inner Database, prefix string) *PrefixDB {
	return &PrefixDB{inner: inner, prefix: []byte(prefix)}
}

func (p *PrefixDB) key(k []byte) []byte {
	out := make([]byte, len(p.prefix)+len(k))
	copy(out, p.prefix)
	copy(out[len(p.prefix):], k)
	return out
}

func (p *PrefixDB) Put(key, value []byte) error { return p.inner.Put(p.key(key), value) }

func (p *PrefixDB) Get(key []byte) ([]byte, error) { return p.inner.Get(p.key(key)) }

func (p *PrefixDB) Has(key []byte) (bool, error) { return p.inner.Has(p.key(key)) }

func (p *PrefixDB) Delete(key []byte) error { return p.inner.Delete(p.key(key)) }

func (p *PrefixDB) Write(batch *Batch) error {
	if batch == nil {
		return nil
	}
	prefixed := &Batch{ops: make([]batchOp, len(batch.ops))}
	for i, op := range batch.ops {
		prefixed.ops[i] = batchOp{key: p.key(op.key), value: op.value, delete: op.delete}
	}
	return p.inner.Write(prefixed)
}

// Close is a no-op; the owner of the inner database closes it.
func (p *PrefixDB) Close() {}
