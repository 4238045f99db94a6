package store

import (
	"bytes"
	"testing"
)

func TestPrefixedStoreScopesKeysToTable(t *testing.T) {
	db := NewMemoryDB()
	ps := NewPrefixedStore(db, []byte{prefixCommunity})

	if err := ps.Put([]byte("key1"), []byte("val1")); err != nil {
		t.Fatal(err)
	}
	val, err := ps.Get([]byte("key1"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(val, []byte("val1")) {
		t.Errorf("Get = %s, want val1", val)
	}

	ok, err := ps.Has([]byte("key1"))
	if err != nil || !ok {
		t.Errorf("Has(key1) = %v, %v, want true, nil", ok, err)
	}

	// The backing Database sees the prefixed key, not the bare one.
	if _, err := db.Get(append([]byte{prefixCommunity}, "key1"...)); err != nil {
		t.Errorf("db missing prefixed key: %v", err)
	}
	if _, err := db.Get([]byte("key1")); err == nil {
		t.Error("db should not have the bare, unprefixed key")
	}

	if err := ps.Delete([]byte("key1")); err != nil {
		t.Fatal(err)
	}
	if ok, _ := ps.Has([]byte("key1")); ok {
		t.Error("key1 should be deleted")
	}
}

func TestPrefixedStoreIteratorStripsPrefix(t *testing.T) {
	db := NewMemoryDB()
	community := NewPrefixedStore(db, []byte{prefixCommunity})
	user := NewPrefixedStore(db, []byte{prefixUser})

	community.Put([]byte("a"), []byte("1"))
	community.Put([]byte("b"), []byte("2"))
	user.Put([]byte("x"), []byte("9")) // different table, must not leak into community's iteration

	it := community.Iterator()
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("keys = %v, want [a b]", keys)
	}
}

func TestPrefixedBatchStagesScopedWrites(t *testing.T) {
	db := NewMemoryDB()
	batch := db.NewBatch()
	pb := NewPrefixedBatch(batch, []byte{prefixUser})

	if err := pb.Put([]byte("m1"), []byte("blob")); err != nil {
		t.Fatal(err)
	}
	if db.Len() != 0 {
		t.Error("write should not be visible before the batch is written")
	}
	if err := batch.Write(); err != nil {
		t.Fatal(err)
	}

	got, err := db.Get(append([]byte{prefixUser}, "m1"...))
	if err != nil || !bytes.Equal(got, []byte("blob")) {
		t.Errorf("db.Get = %s, %v, want blob, nil", got, err)
	}
}
