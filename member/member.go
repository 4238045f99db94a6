// Package member implements the Member Registry: a singleton-per-
// public-key cache of Member records, keyed the way a peer would be
// keyed by its node ID and looked up through a shared set. It uses
// crypto/identity.go for the actual signing/verification primitives.
//
// This invariant is load-bearing: two Member records with
// equal public key MUST be the same object instance within a process,
// so callers can compare members by pointer and so a Member's cached
// sequence-number state is never split across two instances.
package member

import (
	"fmt"
	"sync"

	"github.com/dispersy-go/dispersy/crypto"
	"github.com/dispersy-go/dispersy/ids"
)

// Member is the canonical record for one public key. Remote members
// can only verify; a local-identity member additionally holds the
// private key and a sequence-number cursor per community.
type Member struct {
	publicBlob []byte
	mid        ids.MID

	mu   sync.Mutex
	seq  map[ids.CID]uint64
	keys *crypto.Keypair // nil unless this is a local-identity member
}

// PublicBlob returns the member's public key blob.
func (m *Member) PublicBlob() []byte { return m.publicBlob }

// MID returns the member's identifier.
func (m *Member) MID() ids.MID { return m.mid }

// IsLocal reports whether this Member holds a private key and can sign.
func (m *Member) IsLocal() bool { return m.keys != nil }

// Verify checks a detached signature over b against this member's
// public key. Never returns an error for an ordinary mismatch, only for
// a structurally invalid signature or key blob.
func (m *Member) Verify(b, signature []byte) (bool, error) {
	return crypto.Verify(m.publicBlob, b, signature)
}

// Sign produces a detached signature over b. Only valid on a
// local-identity member.
func (m *Member) Sign(b []byte) ([]byte, error) {
	if m.keys == nil {
		return nil, fmt.Errorf("member: %x is not a local identity", m.mid)
	}
	return m.keys.Sign(b)
}

// ClaimSequenceNumber returns the next sequence number for this member
// within the given community and advances the cursor. Sequence numbers
// are process-local, monotonic per (community, signer), and start at 1;
// persisting them across restarts is the caller's responsibility
// (community.LoadCommunities seeds the cursor from the sync table).
func (m *Member) ClaimSequenceNumber(cid ids.CID) (uint64, error) {
	if m.keys == nil {
		return 0, fmt.Errorf("member: %x is not a local identity", m.mid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq == nil {
		m.seq = make(map[ids.CID]uint64)
	}
	m.seq[cid]++
	return m.seq[cid], nil
}

// SeedSequenceNumber sets the sequence cursor for cid to at least n,
// used when a Community rejoins and must resume after its last
// persisted message rather than restarting at 1.
func (m *Member) SeedSequenceNumber(cid ids.CID, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq == nil {
		m.seq = make(map[ids.CID]uint64)
	}
	if m.seq[cid] < n {
		m.seq[cid] = n
	}
}
