// Package password derives and checks Argon2id hashes stored as PHC strings:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

// MinLength is the shortest plaintext accepted for hashing
const MinLength = 8

const phcPrefix = "$argon2id$"

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	ErrTooShort            = fmt.Errorf("password must be at least %d characters", MinLength)
)

var b64 = base64.RawStdEncoding

// Params is the Argon2id cost. Memory is in KiB.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams follows the OWASP Argon2id baseline
func DefaultParams() *Params {
	return &Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (p *Params) derive(plaintext string, salt []byte) []byte {
	return argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
}

func (p *Params) sameCost(o *Params) bool {
	return p.Memory == o.Memory &&
		p.Iterations == o.Iterations &&
		p.Parallelism == o.Parallelism &&
		p.KeyLength == o.KeyLength
}

// Validate reports whether plaintext is acceptable as a password.
// Length is counted in characters, not bytes.
func Validate(plaintext string) error {
	if utf8.RuneCountInString(plaintext) < MinLength {
		return ErrTooShort
	}
	return nil
}

// Hash validates plaintext and returns its PHC-encoded hash under a fresh
// random salt. A nil params means DefaultParams.
func Hash(plaintext string, params *Params) (string, error) {
	if err := Validate(plaintext); err != nil {
		return "", err
	}
	if params == nil {
		params = DefaultParams()
	}

	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	return encode(params, salt, params.derive(plaintext, salt)), nil
}

// Verify re-derives the key with the parameters recorded in encodedHash and
// compares in constant time
func Verify(plaintext, encodedHash string) (bool, error) {
	params, salt, key, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare(key, params.derive(plaintext, salt)) == 1, nil
}

// NeedsRehash reports whether encodedHash was produced with a cost other
// than want, so it can be upgraded after the next successful login.
func NeedsRehash(encodedHash string, want *Params) bool {
	if want == nil {
		want = DefaultParams()
	}
	got, _, _, err := decodeHash(encodedHash)
	if err != nil {
		return true
	}
	return !got.sameCost(want)
}

func encode(p *Params, salt, key []byte) string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		phcPrefix, argon2.Version,
		p.Memory, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	)
}

func decodeHash(encodedHash string) (*Params, []byte, []byte, error) {
	if !strings.HasPrefix(encodedHash, phcPrefix) {
		return nil, nil, nil, ErrInvalidHash
	}

	// version, cost, salt, key
	fields := strings.Split(strings.TrimPrefix(encodedHash, phcPrefix), "$")
	if len(fields) != 4 {
		return nil, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[0], "v=%d", &version); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if version != argon2.Version {
		return nil, nil, nil, ErrIncompatibleVersion
	}

	p := &Params{}
	if _, err := fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	// argon2.IDKey panics on zero passes or lanes
	if p.Iterations < 1 || p.Parallelism < 1 {
		return nil, nil, nil, fmt.Errorf("%w: t=%d p=%d", ErrInvalidHash, p.Iterations, p.Parallelism)
	}

	salt, err := b64.DecodeString(fields[2])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: salt: %v", ErrInvalidHash, err)
	}
	key, err := b64.DecodeString(fields[3])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: key: %v", ErrInvalidHash, err)
	}
	if len(salt) == 0 || len(key) == 0 {
		return nil, nil, nil, ErrInvalidHash
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
