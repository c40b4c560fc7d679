// password.go

// Password hashing and verification. New hashes are bcrypt; Argon2id PHC
// hashes from earlier deployments still verify and are upgraded on login.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for new hashes.
const BcryptCost = 12

// MaxPasswordBytes is bcrypt's input limit.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned by HashPassword for inputs over MaxPasswordBytes.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

const argonPrefix = "$argon2id$"

// dummyPasswordHash is verified against when no account matches the submitted
// email, so unknown-email and wrong-password logins take the same time.
var dummyPasswordHash = sync.OnceValue(func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("timing-equaliser"), BcryptCost)
	if err != nil {
		panic(fmt.Sprintf("generating dummy hash: %v", err))
	}
	return string(h)
})

// HashPassword returns a bcrypt hash of password with a fresh salt.
func HashPassword(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// VerifyPassword reports whether password matches hash.
// Malformed or unsupported hashes simply do not match.
func VerifyPassword(password, hash string) bool {
	if strings.HasPrefix(hash, argonPrefix) {
		ok, err := verifyArgon2id(password, hash)
		return err == nil && ok
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NeedsRehash reports whether hash should be replaced after a successful
// verify: legacy Argon2id hashes and bcrypt hashes below BcryptCost.
func NeedsRehash(hash string) bool {
	if strings.HasPrefix(hash, argonPrefix) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return cost < BcryptCost
}

// verifyArgon2id checks password against a PHC-formatted Argon2id hash.
// Format: $argon2id$v=19$m=65536,t=3,p=2$<base64 salt>$<base64 hash>
// Params come from the stored hash so old parameter sets still verify.
func verifyArgon2id(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return false, fmt.Errorf("unsupported algorithm")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parsing hash version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version: %d", version)
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("parsing hash params: %w", err)
	}
	if memory == 0 || time == 0 || threads == 0 {
		return false, fmt.Errorf("invalid hash params")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decoding salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decoding hash: %w", err)
	}
	if len(expected) == 0 {
		return false, fmt.Errorf("empty hash")
	}

	hash := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(expected)))

	// Compare w/ constant time for timing attacks
	return subtle.ConstantTimeCompare(hash, expected) == 1, nil
}
