// Package auth verifies the API keys that protect the backend. Keys are
// configured as Argon2id hashes; raw keys never touch disk.
package auth

import (
	"errors"
	"fmt"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidKey is returned when no configured key matches.
var ErrInvalidKey = errors.New("invalid api key")

// Key is one configured API key.
type Key struct {
	// Name labels the key in logs; never the key itself.
	Name string
	// Hash is the Argon2id hash in PHC format.
	Hash string
}

// Verifier checks presented keys against the configured set. An empty set
// means authentication is disabled and every request passes.
type Verifier struct {
	keys []Key
}

// NewVerifier creates a verifier over the configured keys.
func NewVerifier(keys []Key) *Verifier {
	return &Verifier{keys: keys}
}

// Enabled reports whether any keys are configured.
func (v *Verifier) Enabled() bool {
	return len(v.keys) > 0
}

// Verify returns the matching key's name, or ErrInvalidKey. With no keys
// configured every request passes with an empty name.
func (v *Verifier) Verify(rawKey string) (string, error) {
	if !v.Enabled() {
		return "", nil
	}
	for _, k := range v.keys {
		match, err := safeCompare(rawKey, k.Hash)
		if err != nil {
			continue
		}
		if match {
			return k.Name, nil
		}
	}
	return "", ErrInvalidKey
}

// hashParams follow the OWASP minimum for Argon2id.
var hashParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKey returns the Argon2id hash of a raw key in PHC format, with a
// random salt. Used by the hash-key command to prepare config entries.
func HashKey(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, hashParams)
}

// safeCompare wraps argon2id.ComparePasswordAndHash with panic recovery:
// the underlying library panics on malformed hashes with zero-valued
// parameters, and a bad config entry must not take the server down.
func safeCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
