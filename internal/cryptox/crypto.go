// Package cryptox holds the credential derivation used by the wire
// protocol. Both ends must be able to derive the same password hash
// without an out-of-band salt exchange, so the login itself is the salt.
package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 10000
	pbkdf2KeyLen     = sha512.Size
)

// DerivePasswordHash derives the stored password hash from a plaintext
// password and the account login: PBKDF2-HMAC-SHA512 with the login as
// salt. The server keeps only this value; the client re-derives it at
// login time to key the challenge digest.
func DerivePasswordHash(password []byte, login string) []byte {
	return pbkdf2.Key(password, []byte(login), pbkdf2Iterations, pbkdf2KeyLen, sha512.New)
}

// ChallengeDigest computes the keyed digest a client must return for a
// server challenge: HMAC-SHA256(passwordHash, challenge).
func ChallengeDigest(passwordHash, challenge []byte) []byte {
	mac := hmac.New(sha256.New, passwordHash)
	mac.Write(challenge)
	return mac.Sum(nil)
}
