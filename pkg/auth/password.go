package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

const (
	SaltLength     = 16
	MinPasswordLen = 8
	MaxPasswordLen = 128
)

var errInvalidParams = errors.New("argon2: invalid parameters")

// Argon2Params holds the Argon2id cost parameters. Memory is in KiB.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
}

// DefaultArgon2Params returns the production cost: 64 MiB, 3 passes, 4 lanes, 32-byte key.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		KeyLength:   32,
	}
}

// Validate rejects parameters too weak to be meaningful.
func (p Argon2Params) Validate() error {
	if p.Memory < 8*1024 {
		return fmt.Errorf("%w: memory must be at least 8192 KiB", errInvalidParams)
	}
	if p.Iterations == 0 {
		return fmt.Errorf("%w: iterations must be greater than zero", errInvalidParams)
	}
	if p.Parallelism == 0 {
		return fmt.Errorf("%w: parallelism must be greater than zero", errInvalidParams)
	}
	if p.KeyLength < 16 {
		return fmt.Errorf("%w: key length must be at least 16 bytes", errInvalidParams)
	}
	return nil
}

// CredentialVerifier hashes and verifies passwords with Argon2id.
// It holds no mutable state and is safe for concurrent use.
type CredentialVerifier struct {
	params Argon2Params
}

// NewCredentialVerifier creates a CredentialVerifier with the given cost parameters
func NewCredentialVerifier(params Argon2Params) (*CredentialVerifier, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &CredentialVerifier{params: params}, nil
}

// Params returns the cost parameters in use
func (v *CredentialVerifier) Params() Argon2Params {
	return v.params
}

// Hash derives the digest for password and salt. The password is used as raw
// bytes; empty and non-ASCII input are valid and never normalized.
func (v *CredentialVerifier) Hash(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, v.params.Iterations, v.params.Memory, v.params.Parallelism, v.params.KeyLength)
}

// Verify recomputes the digest and compares in constant time.
func (v *CredentialVerifier) Verify(password string, digest, salt []byte) bool {
	computed := v.Hash(password, salt)
	return subtle.ConstantTimeCompare(computed, digest) == 1
}

// GenerateSalt returns SaltLength random bytes
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	// Never expose the specific requirement that failed
	return "invalid password"
}

// Common weak passwords to reject
var commonPasswords = map[string]bool{
	"password":     true,
	"12345678":     true,
	"123456789":    true,
	"qwertyuiop":   true,
	"password1":    true,
	"password123":  true,
	"password123!": true,
	"iloveyou":     true,
	"sunshine":     true,
	"princess":     true,
	"football":     true,
	"trustno1":     true,
	"letmein1":     true,
	"welcome1":     true,
	"passw0rd":     true,
}

// ValidatePassword enforces the registration password policy. Length is
// counted in characters, not bytes, so multi-byte passwords are not penalized.
func ValidatePassword(password string) error {
	errs := make([]string, 0)

	length := utf8.RuneCountInString(password)
	if length < MinPasswordLen {
		errs = append(errs, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if length > MaxPasswordLen {
		errs = append(errs, fmt.Sprintf("must be at most %d characters", MaxPasswordLen))
	}
	if strings.TrimSpace(password) == "" {
		errs = append(errs, "must not be blank")
	}
	if commonPasswords[strings.ToLower(password)] {
		errs = append(errs, "is too common")
	}

	if len(errs) > 0 {
		return &PasswordValidationError{Errors: errs}
	}
	return nil
}
