package store

// PrefixedStore narrows a Database down to one table: every key passed
// in is prefixed before touching the backing store, and every key
// coming back out of iteration has the prefix stripped again, so
// callers work in table-local key space. Facade keeps one PrefixedStore
// per fixed-prefix table (community, user, key) instead of hand-building
// a prefixed key on every call.
type PrefixedStore struct {
	db     KeyValueIterator
	prefix []byte
}

// NewPrefixedStore wraps db, scoping every operation to keys under prefix.
func NewPrefixedStore(db KeyValueIterator, prefix []byte) *PrefixedStore {
	return &PrefixedStore{db: db, prefix: prefix}
}

func (p *PrefixedStore) key(suffix []byte) []byte {
	buf := make([]byte, len(p.prefix)+len(suffix))
	copy(buf, p.prefix)
	copy(buf[len(p.prefix):], suffix)
	return buf
}

// Has reports whether suffix exists in this table.
func (p *PrefixedStore) Has(suffix []byte) (bool, error) { return p.db.Has(p.key(suffix)) }

// Get reads the value stored at suffix in this table.
func (p *PrefixedStore) Get(suffix []byte) ([]byte, error) { return p.db.Get(p.key(suffix)) }

// Put writes value at suffix in this table, outside of any batch.
func (p *PrefixedStore) Put(suffix, value []byte) error { return p.db.Put(p.key(suffix), value) }

// Delete removes suffix from this table, outside of any batch.
func (p *PrefixedStore) Delete(suffix []byte) error { return p.db.Delete(p.key(suffix)) }

// Iterator walks every row in this table, in key order, with the table
// prefix already stripped from Key().
func (p *PrefixedStore) Iterator() *PrefixedIterator {
	return &PrefixedIterator{inner: p.db.NewIterator(p.prefix), prefixLen: len(p.prefix)}
}

// PrefixedIterator strips a table's prefix from the keys a backing
// Iterator returns.
type PrefixedIterator struct {
	inner     Iterator
	prefixLen int
}

func (it *PrefixedIterator) Next() bool { return it.inner.Next() }

func (it *PrefixedIterator) Key() []byte {
	k := it.inner.Key()
	if len(k) < it.prefixLen {
		return nil
	}
	return k[it.prefixLen:]
}

func (it *PrefixedIterator) Value() []byte { return it.inner.Value() }

func (it *PrefixedIterator) Release() { it.inner.Release() }

// PrefixedBatch scopes a Batch to one table the same way PrefixedStore
// scopes direct reads/writes, so Facade.Tx can stage writes against
// several tables in one batch without each Txn method rebuilding its
// own prefixed key by hand.
type PrefixedBatch struct {
	batch  Batch
	prefix []byte
}

// NewPrefixedBatch scopes batch to keys under prefix.
func NewPrefixedBatch(batch Batch, prefix []byte) *PrefixedBatch {
	return &PrefixedBatch{batch: batch, prefix: prefix}
}

func (p *PrefixedBatch) key(suffix []byte) []byte {
	buf := make([]byte, len(p.prefix)+len(suffix))
	copy(buf, p.prefix)
	copy(buf[len(p.prefix):], suffix)
	return buf
}

// Put stages a write at suffix in this table.
func (p *PrefixedBatch) Put(suffix, value []byte) error { return p.batch.Put(p.key(suffix), value) }

// Delete stages a delete at suffix in this table.
func (p *PrefixedBatch) Delete(suffix []byte) error { return p.batch.Delete(p.key(suffix)) }
