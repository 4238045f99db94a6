package codec

import (
	"errors"
	"testing"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	enc := Encode(v)
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestRoundTripScalars(t *testing.T) {
	t.Run("uint", func(t *testing.T) {
		got := roundTrip(t, Uint(42))
		if got.Kind != KindUint || got.U != 42 {
			t.Fatalf("got %v", got)
		}
	})
	t.Run("int", func(t *testing.T) {
		got := roundTrip(t, Int(-7))
		if got.Kind != KindInt || got.I != -7 {
			t.Fatalf("got %v", got)
		}
	})
	t.Run("bytes", func(t *testing.T) {
		got := roundTrip(t, Bytes([]byte{1, 2, 3}))
		if got.Kind != KindBytes || string(got.B) != "\x01\x02\x03" {
			t.Fatalf("got %v", got)
		}
	})
	t.Run("text", func(t *testing.T) {
		got := roundTrip(t, Text("hello"))
		if got.Kind != KindText || got.S != "hello" {
			t.Fatalf("got %v", got)
		}
	})
}

func TestRoundTripList(t *testing.T) {
	in := List(Uint(1), Text("a"), Bytes([]byte("b")))
	got := roundTrip(t, in)
	if got.Kind != KindList || len(got.List) != 3 {
		t.Fatalf("got %v", got)
	}
	if got.List[0].U != 1 || got.List[1].S != "a" || string(got.List[2].B) != "b" {
		t.Fatalf("list contents mismatch: %+v", got.List)
	}
}

func TestRoundTripMapPreservesInsertionOrder(t *testing.T) {
	in := Map(
		Entry{Key: "signed_by", Value: Bytes([]byte("pubkey"))},
		Entry{Key: "destination", Value: Text("community")},
		Entry{Key: "distribution", Value: Uint(100)},
	)
	got := roundTrip(t, in)
	if len(got.Map) != 3 {
		t.Fatalf("got %d entries, want 3", len(got.Map))
	}
	wantKeys := []string{"signed_by", "destination", "distribution"}
	for i, k := range wantKeys {
		if got.Map[i].Key != k {
			t.Errorf("entry %d key = %q, want %q", i, got.Map[i].Key, k)
		}
	}
}

func TestMapGetIsOrderInsensitive(t *testing.T) {
	v := Map(
		Entry{Key: "b", Value: Uint(2)},
		Entry{Key: "a", Value: Uint(1)},
	)
	got, ok := v.Get("a")
	if !ok || got.U != 1 {
		t.Fatalf("Get(a) = %v, %v", got, ok)
	}
}

func TestDecodeDropsOnTruncation(t *testing.T) {
	full := Encode(Text("hello world"))
	_, err := Decode(full[:len(full)-3])
	if !errors.Is(err, ErrDropPacket) || !errors.Is(err, ErrTruncated) {
		t.Fatalf("Decode(truncated) = %v, want ErrDropPacket+ErrTruncated", err)
	}
}

func TestDecodeDropsOnUnknownTag(t *testing.T) {
	_, err := Decode([]byte{0xff, 0, 0, 0, 0})
	if !errors.Is(err, ErrDropPacket) || !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("Decode(unknown tag) = %v, want ErrDropPacket+ErrUnknownTag", err)
	}
}

func TestDecodeDropsOnOversizeLength(t *testing.T) {
	buf := []byte{byte(KindBytes), 0xff, 0xff, 0xff, 0xff}
	_, err := Decode(buf)
	if !errors.Is(err, ErrDropPacket) || !errors.Is(err, ErrOversizeLen) {
		t.Fatalf("Decode(oversize len) = %v, want ErrDropPacket+ErrOversizeLen", err)
	}
}

func TestDecodeDropsOnDuplicateKeys(t *testing.T) {
	raw := Encode(KindMapDuplicateFixture())
	_, err := Decode(raw)
	if !errors.Is(err, ErrDropPacket) || !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("Decode(duplicate keys) = %v, want ErrDropPacket+ErrDuplicateKey", err)
	}
}

// KindMapDuplicateFixture builds a Map value with a duplicate key by
// bypassing the Map() constructor, which callers would never do in
// practice — the duplicate can only arise from a malicious or buggy
// encoder, exactly what decode must reject.
func KindMapDuplicateFixture() Value {
	return Value{Kind: KindMap, Map: []Entry{
		{Key: "global_time", Value: Uint(1)},
		{Key: "global_time", Value: Uint(2)},
	}}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	enc := Encode(Uint(1))
	_, err := Decode(append(enc, 0xde, 0xad))
	if !errors.Is(err, ErrDropPacket) {
		t.Fatalf("Decode(trailing bytes) = %v, want ErrDropPacket", err)
	}
}
