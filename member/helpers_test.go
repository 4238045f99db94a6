package member

import (
	"testing"

	"github.com/dispersy-go/dispersy/crypto"
	"github.com/dispersy-go/dispersy/ids"
)

func testKeypair(t *testing.T) (*crypto.Keypair, error) {
	t.Helper()
	return crypto.GenerateKeypair(1024)
}

func zeroCID() ids.CID {
	return ids.CID{}
}
