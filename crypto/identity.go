// Package crypto implements member identity: RSA keypair generation,
// PEM-like public/private blob encoding, and detached signing and
// verification. Member identifiers are derived in package ids.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrInvalidKey is returned when a public or private blob cannot be parsed.
var ErrInvalidKey = errors.New("crypto: invalid key")

// DefaultKeyBits is the RSA modulus size used by GenerateKeypair when the
// caller does not need a specific size (tests may request smaller keys).
const DefaultKeyBits = 2048

// Keypair holds an RSA private key; its public blob is derived from the
// key on each ToPublicBlob call.
type Keypair struct {
	priv *rsa.PrivateKey
}

// GenerateKeypair creates a new RSA keypair with the given modulus size.
func GenerateKeypair(bits int) (*Keypair, error) {
	if bits <= 0 {
		bits = DefaultKeyBits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	return &Keypair{priv: priv}, nil
}

// ToPublicBlob encodes the public half as a PEM block (PKIX DER inside).
func (k *Keypair) ToPublicBlob() []byte {
	return publicBlobFromKey(&k.priv.PublicKey)
}

// ToPrivateBlob encodes the private half as a PEM block (PKCS#1 DER inside).
func (k *Keypair) ToPrivateBlob() []byte {
	der := x509.MarshalPKCS1PrivateKey(k.priv)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	return pem.EncodeToMemory(block)
}

// Sign produces a detached signature over bytes using PKCS#1 v1.5 with
// SHA-256. The signature length is fixed by the key's modulus size.
func (k *Keypair) Sign(b []byte) ([]byte, error) {
	digest := sha256.Sum256(b)
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	return sig, nil
}

// KeypairFromPrivateBlob reconstructs a Keypair from a private PEM blob,
// e.g. after loading it back out of the Database Facade's key table.
func KeypairFromPrivateBlob(blob []byte) (*Keypair, error) {
	block, _ := pem.Decode(blob)
	if block == nil {
		return nil, ErrInvalidKey
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Keypair{priv: priv}, nil
}

func publicBlobFromKey(pub *rsa.PublicKey) []byte {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		// Only fails on unsupported key types; an *rsa.PublicKey always marshals.
		panic(err)
	}
	block := &pem.Block{Type: "RSA PUBLIC KEY", Bytes: der}
	return pem.EncodeToMemory(block)
}

// Verify checks a detached signature over bytes against a public blob.
// It returns false, not an error, on signature mismatch — only a
// malformed blob is an error.
func Verify(publicBlob, b, signature []byte) (bool, error) {
	pub, err := parsePublicBlob(publicBlob)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(b)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return false, nil
	}
	return true, nil
}

func parsePublicBlob(blob []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(blob)
	if block == nil {
		return nil, ErrInvalidKey
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return pub, nil
}
