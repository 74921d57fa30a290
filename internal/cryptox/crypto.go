// Package cryptox holds the cryptographic primitives of GeoCrypt: the
// location-bound key derivation, the AES-GCM file envelope and the password
// verifier used for user accounts.
package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"

	"github.com/dmitrijs2005/geocrypt/internal/common"
)

// SaltSize is the length of the per-user password salt.
const SaltSize = 32

// DeriveMasterKey stretches password with Argon2id. The parameters are part
// of the stored verifier format, changing them locks out existing users.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// MakeVerifier hashes a master key into the value persisted for login checks.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// PasswordVerifier returns the verifier for password under salt.
func PasswordVerifier(password, salt []byte) []byte {
	mk := DeriveMasterKey(password, salt)
	v := MakeVerifier(mk)
	common.WipeByteArray(mk)
	return v
}

// CheckVerifier compares two verifiers in constant time.
func CheckVerifier(stored, candidate []byte) bool {
	return subtle.ConstantTimeCompare(stored, candidate) == 1
}
