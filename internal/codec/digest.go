package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm identifies a digest function. The numeric value is carried in
// frame headers and must not change.
type Algorithm uint8

const (
	AlgorithmSha256 Algorithm = 1
	AlgorithmBlake3 Algorithm = 2
)

const DigestSize = 32

var ErrUnknownAlgorithm = errors.New("unknown digest algorithm")
var ErrMalformedDigest = errors.New("malformed digest")

func (a Algorithm) String() string {
	switch a {
	case AlgorithmSha256:
		return "sha256"
	case AlgorithmBlake3:
		return "blake3"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(name) {
	case "sha256":
		return AlgorithmSha256, nil
	case "blake3":
		return AlgorithmBlake3, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

func (a Algorithm) valid() bool {
	return a == AlgorithmSha256 || a == AlgorithmBlake3
}

func NewHasher(a Algorithm) (hash.Hash, error) {
	switch a {
	case AlgorithmSha256:
		return sha256.New(), nil
	case AlgorithmBlake3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, a)
	}
}

type Digest struct {
	Algorithm Algorithm
	Sum       [DigestSize]byte
}

// ParseDigest parses the "<algorithm>:<hex>" form produced by String.
func ParseDigest(s string) (Digest, error) {
	name, encoded, found := strings.Cut(s, ":")
	if !found {
		return Digest{}, fmt.Errorf("%w: missing algorithm prefix in %q", ErrMalformedDigest, s)
	}

	algorithm, err := ParseAlgorithm(name)
	if err != nil {
		return Digest{}, err
	}

	if len(encoded) != hex.EncodedLen(DigestSize) {
		return Digest{}, fmt.Errorf("%w: expected %d hex characters, got %d", ErrMalformedDigest, hex.EncodedLen(DigestSize), len(encoded))
	}

	digest := Digest{Algorithm: algorithm}
	_, err = hex.Decode(digest.Sum[:], []byte(strings.ToLower(encoded)))
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %w", ErrMalformedDigest, err)
	}

	return digest, nil
}

func (d Digest) String() string {
	return d.Algorithm.String() + ":" + hex.EncodeToString(d.Sum[:])
}

func (d Digest) IsZero() bool {
	return d.Algorithm == 0
}

func (d Digest) Equal(other Digest) bool {
	return d.Algorithm == other.Algorithm && bytes.Equal(d.Sum[:], other.Sum[:])
}

// Matches reports whether data hashes to d.
func (d Digest) Matches(data []byte) bool {
	actual, err := Compute(d.Algorithm, data)
	if err != nil {
		return false
	}

	return actual.Equal(d)
}

func Compute(a Algorithm, data []byte) (Digest, error) {
	hasher, err := NewHasher(a)
	if err != nil {
		return Digest{}, err
	}

	_, _ = hasher.Write(data)
	return fromHasher(a, hasher), nil
}

// DigestReader streams r to EOF and returns its digest and the number of
// bytes read.
func DigestReader(a Algorithm, r io.Reader) (Digest, int64, error) {
	hasher, err := NewHasher(a)
	if err != nil {
		return Digest{}, 0, err
	}

	n, err := io.Copy(hasher, r)
	if err != nil {
		return Digest{}, n, fmt.Errorf("digesting stream: %w", err)
	}

	return fromHasher(a, hasher), n, nil
}

func fromHasher(a Algorithm, hasher hash.Hash) Digest {
	digest := Digest{Algorithm: a}
	copy(digest.Sum[:], hasher.Sum(nil))
	return digest
}
