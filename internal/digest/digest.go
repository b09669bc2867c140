// Package digest computes content digests used for file and archive
// integrity. Output is lowercase hex of fixed length per algorithm.
package digest

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Supported algorithm names.
const (
	SHA256    = "sha256"
	SHA512    = "sha512"
	BLAKE2b   = "blake2b-256"
	BLAKE3    = "blake3"
	Default   = SHA256
	bufferLen = 32 * 1024
)

var constructors = map[string]func() hash.Hash{
	SHA256: sha256.New,
	SHA512: sha512.New,
	BLAKE2b: func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	},
	BLAKE3: func() hash.Hash { return blake3.New() },
}

// Supported reports whether alg is a known algorithm name.
func Supported(alg string) bool {
	_, ok := constructors[alg]
	return ok
}

// New returns a fresh hash for alg.
func New(alg string) (hash.Hash, error) {
	ctor, ok := constructors[alg]
	if !ok {
		return nil, fmt.Errorf("unsupported digest algorithm %q", alg)
	}
	return ctor(), nil
}

// Reader streams r through alg and returns the hex digest and byte count.
func Reader(alg string, r io.Reader) (string, int64, error) {
	h, err := New(alg)
	if err != nil {
		return "", 0, err
	}
	n, err := io.CopyBuffer(h, r, make([]byte, bufferLen))
	if err != nil {
		return "", n, fmt.Errorf("digest read: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Bytes digests an in-memory buffer.
func Bytes(alg string, b []byte) (string, error) {
	h, err := New(alg)
	if err != nil {
		return "", err
	}
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Size is the hex length of a digest produced by alg, or 0 if unknown.
func Size(alg string) int {
	h, err := New(alg)
	if err != nil {
		return 0
	}
	return h.Size() * 2
}
