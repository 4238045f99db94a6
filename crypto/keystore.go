package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrWrongPassphrase is returned by Unseal when the MAC does not match.
var ErrWrongPassphrase = errors.New("crypto: wrong passphrase (MAC mismatch)")

// SealedBlob is a passphrase-encrypted private key blob, the form a
// local-identity member's private_blob takes in the Database Facade's
// key table when KeystoreConfig.Encrypt is enabled. It carries its own
// salt and IV, with a Keccak256 MAC over the ciphertext to detect a
// wrong passphrase before returning garbage key material.
type SealedBlob struct {
	CipherText []byte
	IV         []byte
	Salt       []byte
	MAC        []byte
}

// scryptIterations derives a round count from a CPU/memory cost
// parameter, clamped to a sane range.
func scryptIterations(n int) int {
	iterations := n / 1024
	if iterations < 1 {
		iterations = 1
	}
	if iterations > 4096 {
		iterations = 4096
	}
	return iterations
}

// Seal encrypts a private key blob under a passphrase.
func Seal(privateBlob []byte, passphrase string, scryptN int) (*SealedBlob, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	iv := make([]byte, 16)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("crypto: generate iv: %w", err)
	}

	derived := deriveKey([]byte(passphrase), salt, scryptN)
	cipherText := streamCipher(privateBlob, derived[:16], iv)
	mac := Keccak256(derived[16:32], cipherText)

	return &SealedBlob{CipherText: cipherText, IV: iv, Salt: salt, MAC: mac}, nil
}

// Unseal decrypts a SealedBlob, returning ErrWrongPassphrase if the MAC
// does not match.
func Unseal(sb *SealedBlob, passphrase string, scryptN int) ([]byte, error) {
	derived := deriveKey([]byte(passphrase), sb.Salt, scryptN)
	mac := Keccak256(derived[16:32], sb.CipherText)
	if !constantTimeEqual(mac, sb.MAC) {
		return nil, ErrWrongPassphrase
	}
	return streamCipher(sb.CipherText, derived[:16], sb.IV), nil
}

// deriveKey starts from Keccak256(passphrase || salt) and rehashes it
// with the salt until scryptIterations(n) rounds are done, a simplified
// stand-in for a real scrypt KDF.
func deriveKey(passphrase, salt []byte, n int) []byte {
	iterations := scryptIterations(n)
	key := Keccak256(passphrase, salt)
	for i := 1; i < iterations; i++ {
		key = Keccak256(key, salt)
	}
	return key
}

// streamCipher XORs data against a Keccak256(key||iv||counter) key
// stream, 32 bytes at a time. Symmetric: calling it twice with the same
// key/iv recovers the original data.
func streamCipher(data, key, iv []byte) []byte {
	result := make([]byte, len(data))
	counter := make([]byte, 8)

	for offset := 0; offset < len(data); offset += 32 {
		binary.BigEndian.PutUint64(counter, uint64(offset/32))
		stream := Keccak256(key, iv, counter)

		end := offset + 32
		if end > len(data) {
			end = len(data)
		}
		for i := offset; i < end; i++ {
			result[i] = data[i] ^ stream[i-offset]
		}
	}
	return result
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
