package codec

import "errors"

// ErrDropPacket is the sentinel for every decode failure the Encoding
// component can produce: truncation, an unknown tag byte, an oversize
// declared length, or a duplicate map key. Callers that need the
// specific reason inspect the wrapped error with errors.Is against the
// more specific sentinels below.
var ErrDropPacket = errors.New("codec: drop packet")

var (
	ErrTruncated    = errors.New("codec: truncated")
	ErrUnknownTag   = errors.New("codec: unknown tag")
	ErrOversizeLen  = errors.New("codec: oversize length")
	ErrDuplicateKey = errors.New("codec: duplicate map key")
)

// MaxLength bounds any single declared length (string/bytes/list count/map
// count) to guard against a crafted header claiming an absurd size.
const MaxLength = 16 << 20 // 16 MiB
