// Package security provides password and secret hashing utilities
package security

import (
	"golang.org/x/crypto/bcrypt"
)

// HashSecret hashes a shared secret (postback secrets, the ops dashboard
// password) with bcrypt at the default cost.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifySecret compares a plaintext secret against a bcrypt hash.
func VerifySecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
