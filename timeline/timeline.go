// Package timeline implements a community's permission/authority ledger
// and its monotonic global-time clock: a sorted, per-(member, privilege,
// kind) history of grants and revocations, queried to decide whether a
// signer was authorized to send a given message at the global time it
// claims.
package timeline

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/dispersy-go/dispersy/errs"
	"github.com/dispersy-go/dispersy/ids"
)

// Kind is a permission flavor: Permit, Authorize, or Revoke.
type Kind int

const (
	Permit Kind = iota
	Authorize
	Revoke
)

func (k Kind) String() string {
	switch k {
	case Permit:
		return "permit"
	case Authorize:
		return "authorize"
	case Revoke:
		return "revoke"
	default:
		return "unknown"
	}
}

// verb is grant or revoke within the ledger, distinct from Kind: an
// Authorize *fact* grants permission to exercise some Kind; a Revoke
// fact un-grants it.
type verb int

const (
	grant verb = iota
	revokeVerb
)

// Fact is one entry folded into the ledger by update: member signer was
// granted or had revoked, at globalTime, permission to exercise kind on
// privilege, as established by causingMessage (its encoded bytes, used
// only for tie-breaking and as proof material).
type Fact struct {
	Signer         ids.MID
	Privilege      string
	Kind           Kind
	GlobalTime     uint64
	Grant          bool // true = Authorize fact, false = Revoke fact
	CausingMessage []byte
}

type ledgerKey struct {
	member    ids.MID
	privilege string
	kind      Kind
}

type entry struct {
	globalTime uint64
	v          verb
	message    []byte
}

// Timeline is one community's permission ledger and global-time clock.
type Timeline struct {
	mu         sync.Mutex
	clock      uint64
	ledger     map[ledgerKey][]entry
	publicPriv map[string]bool // privileges usable without authorization
	masterMID  ids.MID         // implicit full authority, never on the wire
}

// New creates an empty Timeline. masterMID is the community's
// master-member: its implicit authorization at global_time 0 is an
// in-memory fact with no wire representation, so it is threaded in here
// rather than recorded as a Fact.
func New(masterMID ids.MID, publicPrivileges []string) *Timeline {
	pub := make(map[string]bool, len(publicPrivileges))
	for _, p := range publicPrivileges {
		pub[p] = true
	}
	return &Timeline{
		ledger:     make(map[ledgerKey][]entry),
		publicPriv: pub,
		masterMID:  masterMID,
	}
}

// ClaimGlobalTime increments the counter and returns the new value, so
// the first claim on a fresh Timeline is 1. Monotonic, never reused.
func (t *Timeline) ClaimGlobalTime() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock++
	return t.clock
}

// ObserveGlobalTime advances the clock to at least globalTime, used when
// a message from the wire carries a higher global_time than anything
// claimed locally so far.
func (t *Timeline) ObserveGlobalTime(globalTime uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if globalTime > t.clock {
		t.clock = globalTime
	}
}

// Check decides whether signer was allowed to exercise kind on privilege
// at globalTime. Public privileges always return (true, nil). Restricted
// privileges are resolved from the ledger; an unresolved prerequisite
// returns errs.ErrDelayMessageByProof.
func (t *Timeline) Check(signer ids.MID, privilege string, kind Kind, globalTime uint64) (bool, []Fact, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.publicPriv[privilege] {
		return true, nil, nil
	}
	if signer == t.masterMID {
		return true, nil, nil
	}

	key := ledgerKey{member: signer, privilege: privilege, kind: kind}
	entries := t.ledger[key]
	if len(entries) == 0 {
		return false, nil, fmt.Errorf("%w: no authorize record for %x on %q/%s",
			errs.ErrDelayMessageByProof, signer, privilege, kind)
	}

	best, found := latestAtOrBefore(entries, globalTime, signer)
	if !found {
		return false, nil, fmt.Errorf("%w: no authorize record at or before global_time %d for %x on %q/%s",
			errs.ErrDelayMessageByProof, globalTime, signer, privilege, kind)
	}
	return best.v == grant, []Fact{{
		Signer: signer, Privilege: privilege, Kind: kind,
		GlobalTime: best.globalTime, Grant: best.v == grant, CausingMessage: best.message,
	}}, nil
}

// latestAtOrBefore finds the entry with the greatest global_time <= at,
// ties broken by lexicographic order on (signer MID, message bytes).
// entries is assumed sorted ascending by global_time on insertion (see
// Update); ties are resolved by scanning the tied group.
func latestAtOrBefore(entries []entry, at uint64, signer ids.MID) (entry, bool) {
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].globalTime > at })
	if idx == 0 {
		return entry{}, false
	}
	// entries[idx-1] is the last one with globalTime <= at. Scan
	// backward over the tied group at that same global_time and pick
	// the lexicographically greatest (signer.mid, message) pair.
	gt := entries[idx-1].globalTime
	best := entries[idx-1]
	for i := idx - 2; i >= 0 && entries[i].globalTime == gt; i-- {
		if bytes.Compare(entries[i].message, best.message) > 0 {
			best = entries[i]
		}
	}
	return best, true
}

// Update folds a validated fact into the ledger. Callers must only call
// Update after independently verifying the fact's signature and
// admission (Update does not re-check).
func (t *Timeline) Update(f Fact) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if f.GlobalTime > t.clock {
		t.clock = f.GlobalTime
	}

	key := ledgerKey{member: f.Signer, privilege: f.Privilege, kind: f.Kind}
	v := revokeVerb
	if f.Grant {
		v = grant
	}
	e := entry{globalTime: f.GlobalTime, v: v, message: f.CausingMessage}

	entries := t.ledger[key]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].globalTime >= f.GlobalTime })
	entries = append(entries, entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	t.ledger[key] = entries
}
