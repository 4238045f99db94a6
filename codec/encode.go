package codec

import "encoding/binary"

// Encode returns the wire encoding of v.
func Encode(v Value) []byte {
	switch v.Kind {
	case KindUint:
		buf := make([]byte, 9)
		buf[0] = byte(KindUint)
		binary.BigEndian.PutUint64(buf[1:], v.U)
		return buf

	case KindInt:
		buf := make([]byte, 9)
		buf[0] = byte(KindInt)
		binary.BigEndian.PutUint64(buf[1:], uint64(v.I))
		return buf

	case KindBytes:
		return encodeLenPrefixed(byte(KindBytes), v.B)

	case KindText:
		return encodeLenPrefixed(byte(KindText), []byte(v.S))

	case KindList:
		buf := []byte{byte(KindList)}
		buf = appendUint32(buf, uint32(len(v.List)))
		for _, item := range v.List {
			buf = append(buf, Encode(item)...)
		}
		return buf

	case KindMap:
		buf := []byte{byte(KindMap)}
		buf = appendUint32(buf, uint32(len(v.Map)))
		for _, e := range v.Map {
			buf = append(buf, encodeLenPrefixed(byte(KindText), []byte(e.Key))...)
			buf = append(buf, Encode(e.Value)...)
		}
		return buf

	default:
		// Encoding an invalid/zero Value is a caller bug; produce an
		// empty byte string rather than panic so a buggy caller fails
		// at decode (DropPacket) instead of crashing the reactor.
		return []byte{byte(KindBytes), 0, 0, 0, 0}
	}
}

func encodeLenPrefixed(tag byte, data []byte) []byte {
	buf := []byte{tag}
	buf = appendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

func appendUint32(buf []byte, n uint32) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], n)
	return append(buf, l[:]...)
}
