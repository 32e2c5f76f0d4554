package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	passwordSaltLength = 32
	passwordKeyLength  = 32
	passwordIterations = 100_000
)

// ErrEmptyPassword indicates a blank password was supplied for hashing.
var ErrEmptyPassword = errors.New("auth: password must not be empty")

// HashPassword derives a salted PBKDF2-SHA256 key from the supplied password
// and returns the salt and key concatenated as a base64 string. Every call
// draws a fresh salt, so hashing the same password twice yields different
// encodings.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, passwordSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: read salt entropy: %w", err)
	}

	derived := pbkdf2.Key([]byte(password), salt, passwordIterations, passwordKeyLength, sha256.New)

	buffer := make([]byte, 0, passwordSaltLength+passwordKeyLength)
	buffer = append(buffer, salt...)
	buffer = append(buffer, derived...)

	return base64.StdEncoding.EncodeToString(buffer), nil
}

// VerifyPassword reports whether the password matches the stored encoded hash.
// The stored key comparison is constant-time so verification latency does not
// leak how many leading bytes matched.
func VerifyPassword(password, encodedHash string) bool {
	decoded, err := base64.StdEncoding.DecodeString(encodedHash)
	if err != nil || len(decoded) != passwordSaltLength+passwordKeyLength {
		return false
	}

	salt := decoded[:passwordSaltLength]
	stored := decoded[passwordSaltLength:]

	derived := pbkdf2.Key([]byte(password), salt, passwordIterations, passwordKeyLength, sha256.New)

	return subtle.ConstantTimeCompare(stored, derived) == 1
}
