package auth

import (
	"errors"
	"testing"
)

func TestVerifierMatchesHashedKey(t *testing.T) {
	t.Parallel()

	hash, err := HashKey("s3cret")
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	v := NewVerifier([]Key{{Name: "ops", Hash: hash}})

	name, err := v.Verify("s3cret")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if name != "ops" {
		t.Errorf("key name = %q, want ops", name)
	}

	if _, err := v.Verify("wrong"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("wrong key err = %v, want ErrInvalidKey", err)
	}
}

func TestVerifierDisabledWithoutKeys(t *testing.T) {
	t.Parallel()

	v := NewVerifier(nil)
	if v.Enabled() {
		t.Error("empty verifier reports enabled")
	}
	if _, err := v.Verify("anything"); err != nil {
		t.Errorf("disabled verifier rejected: %v", err)
	}
}

func TestVerifierSkipsMalformedHash(t *testing.T) {
	t.Parallel()

	good, err := HashKey("s3cret")
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	v := NewVerifier([]Key{
		{Name: "broken", Hash: "$argon2id$v=19$m=0,t=0,p=0$AAAA$AAAA"},
		{Name: "ops", Hash: good},
	})

	name, err := v.Verify("s3cret")
	if err != nil {
		t.Fatalf("Verify with malformed sibling hash: %v", err)
	}
	if name != "ops" {
		t.Errorf("key name = %q", name)
	}
}

func TestHashKeyProducesUniqueSalts(t *testing.T) {
	t.Parallel()

	a, err := HashKey("same")
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	b, err := HashKey("same")
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	if a == b {
		t.Error("two hashes of the same key are identical")
	}
}
