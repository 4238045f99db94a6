// Package codec implements the Encoding component: a self-describing
// binary encoding of a tree of unsigned/signed integers, byte strings,
// text strings, lists, and maps with unique keys.
//
// It borrows rlp's hand-rolled-tag approach, but without rlp's
// reflection: it encodes an explicit Value tree instead of arbitrary Go
// values, and generalizes RLP's two-shape (string/list) wire format to an explicit
// tag-per-kind format: RLP has no native map or signed-integer shape,
// and the conversion layer needs maps with mandatory keys (signed_by,
// destination, distribution, permission) plus duplicate-key rejection
// that RLP doesn't define.
package codec

import "fmt"

// Kind tags the shape of an encoded Value.
type Kind uint8

const (
	KindUint Kind = 1 + iota
	KindInt
	KindBytes
	KindText
	KindList
	KindMap
)

// Entry is one key/value pair of a Map, in insertion order.
type Entry struct {
	Key   string
	Value Value
}

// Value is a node in the container tree the Encoding component moves
// across the wire. Exactly one of the fields matching Kind is populated.
type Value struct {
	Kind Kind
	U    uint64
	I    int64
	B    []byte
	S    string
	List []Value
	Map  []Entry
}

func Uint(u uint64) Value   { return Value{Kind: KindUint, U: u} }
func Int(i int64) Value     { return Value{Kind: KindInt, I: i} }
func Bytes(b []byte) Value  { return Value{Kind: KindBytes, B: b} }
func Text(s string) Value   { return Value{Kind: KindText, S: s} }
func List(v ...Value) Value { return Value{Kind: KindList, List: v} }

// Map builds a map Value from entries, in the given order. Duplicate
// keys are a caller bug, not a wire concern — they can only arise on
// decode, where they are rejected.
func Map(entries ...Entry) Value { return Value{Kind: KindMap, Map: entries} }

// Get returns the value for key in a Map Value, or false if absent or v
// is not a Map.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindMap {
		return Value{}, false
	}
	for _, e := range v.Map {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

func (v Value) String() string {
	switch v.Kind {
	case KindUint:
		return fmt.Sprintf("uint(%d)", v.U)
	case KindInt:
		return fmt.Sprintf("int(%d)", v.I)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.B))
	case KindText:
		return fmt.Sprintf("text(%q)", v.S)
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.List))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(v.Map))
	default:
		return "invalid"
	}
}
