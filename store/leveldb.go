package store

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a goleveldb-backed Database, the persistent counterpart to
// MemoryDB. Same Database interface, so the community/member/timeline
// code that depends on it is storage-engine agnostic.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (creating if absent) a LevelDB store at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	err := l.db.Delete(key, nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	return err
}

func (l *LevelDB) Close() error { return l.db.Close() }

// NewBatch returns a Batch that commits to the underlying leveldb.Batch
// atomically on Write, the same all-or-nothing semantics MemoryDB's
// batch gives Facade.Tx.
func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db, b: new(leveldb.Batch)}
}

// NewIterator returns an Iterator over all keys sharing prefix.
func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	return &levelIterator{it: it}
}

type levelBatch struct {
	db   *leveldb.DB
	b    *leveldb.Batch
	size int
}

func (b *levelBatch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *levelBatch) Delete(key []byte) error {
	b.b.Delete(key)
	b.size += len(key)
	return nil
}

func (b *levelBatch) ValueSize() int { return b.size }

func (b *levelBatch) Write() error {
	return b.db.Write(b.b, nil)
}

func (b *levelBatch) Reset() {
	b.b.Reset()
	b.size = 0
}

type levelIterator struct {
	it interface {
		Next() bool
		Key() []byte
		Value() []byte
		Release()
	}
}

// Key and Value copy out of goleveldb's iterator, whose returned slices
// are only valid until the next iterator call.
func (it *levelIterator) Next() bool { return it.it.Next() }

func (it *levelIterator) Key() []byte {
	k := it.it.Key()
	cp := make([]byte, len(k))
	copy(cp, k)
	return cp
}

func (it *levelIterator) Value() []byte {
	v := it.it.Value()
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp
}

func (it *levelIterator) Release() { it.it.Release() }
