// Package message implements the Message Model: the typed, immutable
// record produced by decoding a wire packet (or about to be encoded for
// one) — distribution policy, destination policy, and the permission
// (privilege + kind + payload) it carries. The tagged-variant shape
// mirrors the way codec.Value itself is tagged; DistributionKind is an
// iota enum like timeline.Kind, without a String method.
package message

import (
	"github.com/dispersy-go/dispersy/ids"
	"github.com/dispersy-go/dispersy/timeline"
)

// DistributionKind tags which Distribution variant a message carries.
type DistributionKind int

const (
	DistFullSync DistributionKind = iota
	DistLastSync
	DistDirect
	DistRelay
)

// Distribution is the tagged distribution record. Only the field(s)
// relevant to Kind are meaningful.
type Distribution struct {
	Kind DistributionKind

	// FullSync
	SequenceNumber uint64
	Capacity       uint64
	HistorySize    uint64
	ErrorRate      float64

	// FullSync, LastSync, Direct
	GlobalTime uint64
}

// DestinationKind tags which Destination variant a message carries.
type DestinationKind int

const (
	DestCommunity DestinationKind = iota
	DestAddress
	DestMember
)

// Destination is the tagged destination record.
type Destination struct {
	Kind    DestinationKind
	Addr    string    // DestAddress
	Members []ids.MID // DestMember
}

// Permission names the privilege, the permission flavor (Permit,
// Authorize, or Revoke), and carries the flavor-specific payload.
type Permission struct {
	Privilege string
	Kind      timeline.Kind

	Payload []byte // Permit

	To             ids.MID // Authorize, Revoke: the member being granted/revoked
	PermissionName string  // Authorize, Revoke: which Kind is being authorized/revoked
}

// Message is the immutable, fully-decoded (or about-to-be-encoded)
// record. Signer is a MID rather than a *member.Member to keep this
// package independent of the Member Registry's interning lifecycle;
// Community resolves it via the registry.
type Message struct {
	CommunityID  ids.CID
	Signer       ids.MID
	Distribution Distribution
	Destination  Destination
	Permission   Permission

	Encoded   []byte // the full wire packet: the signed bytes followed by Signature
	Signature []byte
}

// Persisted reports whether this message's distribution policy requires
// storage in the sync table (FullSync and LastSync do; Direct and Relay
// do not).
func (m *Message) Persisted() bool {
	switch m.Distribution.Kind {
	case DistFullSync, DistLastSync:
		return true
	default:
		return false
	}
}
