package member

import (
	"sync"

	"github.com/dispersy-go/dispersy/crypto"
	"github.com/dispersy-go/dispersy/ids"
)

// Registry is the process-wide Member cache, interning one Member per
// MID so every community in a process shares the same instance for a
// given public key.
type Registry struct {
	mu      sync.Mutex
	members map[ids.MID]*Member
}

// NewRegistry creates an empty Member Registry.
func NewRegistry() *Registry {
	return &Registry{members: make(map[ids.MID]*Member)}
}

// GetOrIntern returns the canonical Member for publicBlob, creating one
// on first sight. Subsequent calls with an equal blob return the same
// *Member instance.
func (r *Registry) GetOrIntern(publicBlob []byte) *Member {
	mid := ids.MemberID(publicBlob)

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[mid]; ok {
		return m
	}
	m := &Member{publicBlob: append([]byte(nil), publicBlob...), mid: mid}
	r.members[mid] = m
	return m
}

// InternLocal interns a local-identity member from a keypair: the
// returned Member can sign and claim sequence numbers. If the public
// key was already interned as a remote member, it is promoted in place
// so earlier references still see the upgrade.
func (r *Registry) InternLocal(kp *crypto.Keypair) *Member {
	publicBlob := kp.ToPublicBlob()
	mid := ids.MemberID(publicBlob)

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[mid]; ok {
		m.mu.Lock()
		m.keys = kp
		m.mu.Unlock()
		return m
	}
	m := &Member{publicBlob: publicBlob, mid: mid, keys: kp}
	r.members[mid] = m
	return m
}

// Lookup returns the interned Member for mid, if any.
func (r *Registry) Lookup(mid ids.MID) (*Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[mid]
	return m, ok
}

// Count returns the number of interned members, for diagnostics.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
