package dispersy

import (
	"fmt"

	"github.com/dispersy-go/dispersy/ids"
	"github.com/dispersy-go/dispersy/rlp"
)

// SyncPayload is the concrete payload of a dispersy-sync permit: the
// Bloom window's lower bound and the filter bytes themselves.
type SyncPayload struct {
	WindowStart uint64
	Filter      []byte
}

// Encode serializes p for the wire, as a Permission.Payload blob.
func (p SyncPayload) Encode() []byte {
	b, err := rlp.EncodeToBytes(p)
	if err != nil {
		panic(fmt.Sprintf("dispersy: encode sync payload: %v", err))
	}
	return b
}

// DecodeSyncPayload parses a dispersy-sync Permission.Payload blob.
func DecodeSyncPayload(b []byte) (SyncPayload, error) {
	var p SyncPayload
	if err := rlp.DecodeBytes(b, &p); err != nil {
		return SyncPayload{}, fmt.Errorf("dispersy: decode sync payload: %w", err)
	}
	return p, nil
}

// MissingSequencePayload is the concrete payload of a
// dispersy-missing-sequence permit: which signer/privilege/range of
// sequence numbers the requester is missing.
type MissingSequencePayload struct {
	Member      ids.MID
	Privilege   string
	MissingLow  uint64
	MissingHigh uint64
}

// Encode serializes p for the wire, as a Permission.Payload blob.
func (p MissingSequencePayload) Encode() []byte {
	b, err := rlp.EncodeToBytes(p)
	if err != nil {
		panic(fmt.Sprintf("dispersy: encode missing-sequence payload: %v", err))
	}
	return b
}

// DecodeMissingSequencePayload parses a dispersy-missing-sequence
// Permission.Payload blob.
func DecodeMissingSequencePayload(b []byte) (MissingSequencePayload, error) {
	var p MissingSequencePayload
	if err := rlp.DecodeBytes(b, &p); err != nil {
		return MissingSequencePayload{}, fmt.Errorf("dispersy: decode missing-sequence payload: %w", err)
	}
	return p, nil
}
