package integrity

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"storepm/pkg/digest"
)

type stdSum struct{ h hash.Hash }

func (s stdSum) Write(p []byte) (int, error) { return s.h.Write(p) }
func (s stdSum) Sum() []byte                 { return s.h.Sum(nil) }

func newSum(alg digest.Algorithm) (hashSum, error) {
	switch alg {
	case digest.SHA256:
		return stdSum{h: sha256.New()}, nil
	default:
		return nil, fmt.Errorf("%w: %q", digest.ErrUnsupportedAlgorithm, alg)
	}
}
