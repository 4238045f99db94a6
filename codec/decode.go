package codec

import (
	"encoding/binary"
	"fmt"
)

// Decode decodes a single Value from b. It fails with ErrDropPacket
// (wrapping the specific reason) unless b is consumed exactly — trailing
// bytes are a caller error, not a partial-decode success, since every
// call site decodes one complete container.
func Decode(b []byte) (Value, error) {
	v, n, err := decodeValue(b)
	if err != nil {
		return Value{}, err
	}
	if n != len(b) {
		return Value{}, drop(ErrTruncated, "trailing bytes after decoded value")
	}
	return v, nil
}

// DecodePrefix decodes a single Value starting at b[0] and returns it
// together with the number of bytes it consumed, leaving any trailing
// bytes unexamined. Conversion uses this to split a wire packet's
// container map from its fixed-at-the-end but variably-sized-by-key
// detached signature, whose length Decode's exact-consumption rule
// can't otherwise accommodate.
func DecodePrefix(b []byte) (Value, int, error) {
	return decodeValue(b)
}

func drop(reason error, detail string) error {
	return fmt.Errorf("%w: %w: %s", ErrDropPacket, reason, detail)
}

func decodeValue(b []byte) (Value, int, error) {
	if len(b) < 1 {
		return Value{}, 0, drop(ErrTruncated, "empty buffer")
	}
	switch Kind(b[0]) {
	case KindUint:
		if len(b) < 9 {
			return Value{}, 0, drop(ErrTruncated, "short uint")
		}
		return Uint(binary.BigEndian.Uint64(b[1:9])), 9, nil

	case KindInt:
		if len(b) < 9 {
			return Value{}, 0, drop(ErrTruncated, "short int")
		}
		return Int(int64(binary.BigEndian.Uint64(b[1:9]))), 9, nil

	case KindBytes:
		data, n, err := decodeLenPrefixed(b)
		if err != nil {
			return Value{}, 0, err
		}
		return Bytes(data), n, nil

	case KindText:
		data, n, err := decodeLenPrefixed(b)
		if err != nil {
			return Value{}, 0, err
		}
		return Text(string(data)), n, nil

	case KindList:
		count, hdr, err := decodeCount(b)
		if err != nil {
			return Value{}, 0, err
		}
		items := make([]Value, 0, count)
		off := hdr
		for i := uint32(0); i < count; i++ {
			item, n, err := decodeValue(b[off:])
			if err != nil {
				return Value{}, 0, err
			}
			items = append(items, item)
			off += n
		}
		return List(items...), off, nil

	case KindMap:
		count, hdr, err := decodeCount(b)
		if err != nil {
			return Value{}, 0, err
		}
		entries := make([]Entry, 0, count)
		seen := make(map[string]struct{}, count)
		off := hdr
		for i := uint32(0); i < count; i++ {
			keyBytes, n, err := decodeLenPrefixed(b[off:])
			if err != nil {
				return Value{}, 0, err
			}
			off += n
			key := string(keyBytes)
			if _, dup := seen[key]; dup {
				return Value{}, 0, drop(ErrDuplicateKey, key)
			}
			seen[key] = struct{}{}

			val, n, err := decodeValue(b[off:])
			if err != nil {
				return Value{}, 0, err
			}
			off += n
			entries = append(entries, Entry{Key: key, Value: val})
		}
		return Map(entries...), off, nil

	default:
		return Value{}, 0, drop(ErrUnknownTag, fmt.Sprintf("0x%02x", b[0]))
	}
}

// decodeLenPrefixed reads a [tag][4-byte len][data] frame and returns the
// data, the total bytes consumed including the header, and any error.
func decodeLenPrefixed(b []byte) ([]byte, int, error) {
	if len(b) < 5 {
		return nil, 0, drop(ErrTruncated, "short length header")
	}
	n := binary.BigEndian.Uint32(b[1:5])
	if n > MaxLength {
		return nil, 0, drop(ErrOversizeLen, fmt.Sprintf("%d", n))
	}
	total := 5 + int(n)
	if len(b) < total {
		return nil, 0, drop(ErrTruncated, "declared length exceeds buffer")
	}
	return b[5:total], total, nil
}

// decodeCount reads a [tag][4-byte count] header for List/Map.
func decodeCount(b []byte) (uint32, int, error) {
	if len(b) < 5 {
		return 0, 0, drop(ErrTruncated, "short count header")
	}
	n := binary.BigEndian.Uint32(b[1:5])
	if n > MaxLength {
		return 0, 0, drop(ErrOversizeLen, fmt.Sprintf("%d", n))
	}
	return n, 5, nil
}
