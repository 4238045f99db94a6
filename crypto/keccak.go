package crypto

import "golang.org/x/crypto/sha3"

// Keccak256 calculates the Keccak-256 hash of the given data. Used by the
// Bloom Filter's double-hashing scheme and by the at-rest key encryption
// in keystore.go; member and community identifiers stay SHA-1 per the
// wire format (see package ids).
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}
