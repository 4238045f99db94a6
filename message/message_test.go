package message

import "testing"

func TestPersistedFullSync(t *testing.T) {
	m := &Message{Distribution: Distribution{Kind: DistFullSync}}
	if !m.Persisted() {
		t.Fatal("FullSync should be persisted")
	}
}

func TestPersistedLastSync(t *testing.T) {
	m := &Message{Distribution: Distribution{Kind: DistLastSync}}
	if !m.Persisted() {
		t.Fatal("LastSync should be persisted")
	}
}

func TestNotPersistedDirect(t *testing.T) {
	m := &Message{Distribution: Distribution{Kind: DistDirect}}
	if m.Persisted() {
		t.Fatal("Direct should not be persisted")
	}
}

func TestNotPersistedRelay(t *testing.T) {
	m := &Message{Distribution: Distribution{Kind: DistRelay}}
	if m.Persisted() {
		t.Fatal("Relay should not be persisted")
	}
}
