// Package digest implements the canonical content-address form used
// throughout storepm: <algorithm>-<base64-standard-padded-bytes>.
// sha256 is the only algorithm accepted by this core; every other
// algorithm name is rejected at parse time.
package digest

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
)

// Algorithm names a supported hash function.
type Algorithm string

// SHA256 is the only algorithm this core accepts.
const SHA256 Algorithm = "sha256"

// ErrUnsupportedAlgorithm is returned for any algorithm other than sha256.
var ErrUnsupportedAlgorithm = errors.New("digest: unsupported algorithm")

// Digest is an algorithm tag plus the raw hash bytes. Its zero value is
// not a valid digest.
type Digest struct {
	Algorithm Algorithm
	Sum       []byte
}

func newHash(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// SumBytes computes the digest of b under alg.
func SumBytes(alg Algorithm, b []byte) (Digest, error) {
	h, err := newHash(alg)
	if err != nil {
		return Digest{}, err
	}
	h.Write(b)
	return Digest{Algorithm: alg, Sum: h.Sum(nil)}, nil
}

// SHA256Bytes is a convenience for the only supported algorithm.
func SHA256Bytes(b []byte) Digest {
	d, _ := SumBytes(SHA256, b)
	return d
}

// FromReader consumes r fully and returns its digest under alg.
func FromReader(alg Algorithm, r io.Reader) (Digest, error) {
	h, err := newHash(alg)
	if err != nil {
		return Digest{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	return Digest{Algorithm: alg, Sum: h.Sum(nil)}, nil
}

// String renders the canonical "<alg>-<base64std>" form.
func (d Digest) String() string {
	if d.Algorithm == "" {
		return ""
	}
	return string(d.Algorithm) + "-" + base64.StdEncoding.EncodeToString(d.Sum)
}

// IsZero reports whether d carries no algorithm (the unset state).
func (d Digest) IsZero() bool {
	return d.Algorithm == ""
}

// Equal compares two digests on their canonical string form, per spec:
// "Equality is byte-exact on the canonical form."
func (d Digest) Equal(o Digest) bool {
	return d.String() == o.String()
}

// MarshalJSON encodes the digest as its canonical string, or JSON null
// when the digest is unset.
func (d Digest) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts a JSON string in canonical form, or null.
func (d *Digest) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		*d = Digest{}
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Parse parses a canonical "<alg>-<base64>" digest string.
func Parse(s string) (Digest, error) {
	alg, b64, ok := strings.Cut(s, "-")
	if !ok {
		return Digest{}, fmt.Errorf("digest: malformed digest string %q", s)
	}
	if Algorithm(alg) != SHA256 {
		return Digest{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	sum, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Digest{}, fmt.Errorf("digest: invalid base64 in %q: %w", s, err)
	}
	return Digest{Algorithm: Algorithm(alg), Sum: sum}, nil
}
