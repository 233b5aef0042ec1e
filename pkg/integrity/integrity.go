// Package integrity implements the Integrity Gate (component C,
// spec.md §4.3): an inline pass-through stream that computes a digest
// over the whole archive as it is read, for use when the caller has no
// pre-known integrity for the tarball.
package integrity

import (
	"io"

	"storepm/pkg/digest"
)

// Gate wraps an io.Reader, hashing every byte that passes through Read.
// Digest is only meaningful once the wrapped reader has returned
// io.EOF; reading it earlier returns the digest of the bytes consumed
// so far.
type Gate struct {
	r   io.Reader
	alg digest.Algorithm
	h   hashSum
	err error
}

type hashSum interface {
	Write(p []byte) (int, error)
	Sum() []byte
}

// NewGate places a Gate between r and its consumer, hashing under alg
// (only digest.SHA256 is supported).
func NewGate(r io.Reader, alg digest.Algorithm) (*Gate, error) {
	h, err := newSum(alg)
	if err != nil {
		return nil, err
	}
	return &Gate{r: r, alg: alg, h: h}, nil
}

func (g *Gate) Read(p []byte) (int, error) {
	n, err := g.r.Read(p)
	if n > 0 {
		g.h.Write(p[:n])
	}
	if err != nil && err != io.EOF {
		g.err = err
	}
	return n, err
}

// Digest returns the digest accumulated so far. Call only after the
// wrapped reader has been fully drained to io.EOF for a meaningful
// final value.
func (g *Gate) Digest() digest.Digest {
	return digest.Digest{Algorithm: g.alg, Sum: g.h.Sum()}
}

// Err returns the first non-EOF error observed while reading, if any.
func (g *Gate) Err() error {
	return g.err
}
