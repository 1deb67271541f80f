package crypto

import (
	"bytes"
	"crypto/sha256"

	"github.com/ugorji/go/codec"
)

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	hash := hasher.Sum(nil)
	return hash
}

// SHA256Parts returns the SHA256 hash of the concatenation of parts.
func SHA256Parts(parts ...[]byte) []byte {
	hasher := sha256.New()
	for _, p := range parts {
		hasher.Write(p)
	}
	return hasher.Sum(nil)
}

// CanonicalEncode serialises v to canonical JSON: map keys are sorted so that
// equal values always produce equal bytes.
func CanonicalEncode(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// CanonicalHash is the SHA256 of the canonical encoding of v. Everything that
// gets signed by a section is hashed this way.
func CanonicalHash(v interface{}) ([]byte, error) {
	bs, err := CanonicalEncode(v)
	if err != nil {
		return nil, err
	}
	return SHA256(bs), nil
}
