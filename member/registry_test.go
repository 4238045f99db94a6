package member

import "testing"

func TestGetOrInternReturnsSameInstance(t *testing.T) {
	r := NewRegistry()
	blob := []byte("some-public-key-blob")

	a := r.GetOrIntern(blob)
	b := r.GetOrIntern(append([]byte(nil), blob...))
	if a != b {
		t.Fatalf("GetOrIntern returned distinct instances for equal keys")
	}
}

func TestGetOrInternDistinctKeysDistinctMembers(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrIntern([]byte("key-a"))
	b := r.GetOrIntern([]byte("key-b"))
	if a == b {
		t.Fatalf("GetOrIntern collapsed distinct keys into one Member")
	}
	if a.MID() == b.MID() {
		t.Fatalf("distinct keys produced the same MID")
	}
}

func TestInternLocalCanSignAndVerify(t *testing.T) {
	kp, err := testKeypair(t)
	if err != nil {
		t.Fatalf("testKeypair: %v", err)
	}
	r := NewRegistry()
	local := r.InternLocal(kp)
	if !local.IsLocal() {
		t.Fatal("InternLocal produced a non-local Member")
	}

	msg := []byte("hello overlay")
	sig, err := local.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// The same key, interned remotely by another node, must verify it.
	remote := r.GetOrIntern(local.PublicBlob())
	ok, err := remote.Verify(msg, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("Verify returned false for a genuine signature")
	}
}

func TestRemoteMemberCannotSign(t *testing.T) {
	r := NewRegistry()
	remote := r.GetOrIntern([]byte("remote-only"))
	if _, err := remote.Sign([]byte("x")); err == nil {
		t.Fatal("expected Sign on a remote Member to fail")
	}
	if _, err := remote.ClaimSequenceNumber(zeroCID()); err == nil {
		t.Fatal("expected ClaimSequenceNumber on a remote Member to fail")
	}
}

func TestClaimSequenceNumberMonotonicPerCommunity(t *testing.T) {
	kp, err := testKeypair(t)
	if err != nil {
		t.Fatalf("testKeypair: %v", err)
	}
	r := NewRegistry()
	local := r.InternLocal(kp)

	cidA := zeroCID()
	cidA[0] = 0xAA
	cidB := zeroCID()
	cidB[0] = 0xBB

	n1, _ := local.ClaimSequenceNumber(cidA)
	n2, _ := local.ClaimSequenceNumber(cidA)
	n3, _ := local.ClaimSequenceNumber(cidB)

	if n1 != 1 || n2 != 2 {
		t.Fatalf("sequence for cidA = %d, %d, want 1, 2", n1, n2)
	}
	if n3 != 1 {
		t.Fatalf("sequence for cidB = %d, want 1 (independent counter)", n3)
	}
}

func TestSeedSequenceNumberOnlyRaises(t *testing.T) {
	kp, err := testKeypair(t)
	if err != nil {
		t.Fatalf("testKeypair: %v", err)
	}
	r := NewRegistry()
	local := r.InternLocal(kp)
	cid := zeroCID()

	local.SeedSequenceNumber(cid, 10)
	n, _ := local.ClaimSequenceNumber(cid)
	if n != 11 {
		t.Fatalf("ClaimSequenceNumber after seed = %d, want 11", n)
	}

	local.SeedSequenceNumber(cid, 3) // must not lower the cursor
	n2, _ := local.ClaimSequenceNumber(cid)
	if n2 != 12 {
		t.Fatalf("ClaimSequenceNumber after lower seed = %d, want 12", n2)
	}
}
