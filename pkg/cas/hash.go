package cas

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"hash"

	"storepm/pkg/digest"
)

// hashWriter is the narrow slice of hash.Hash the streaming sink needs.
type hashWriter interface {
	Write(p []byte)
	Sum() []byte
}

type stdHashWriter struct{ h hash.Hash }

func (w stdHashWriter) Write(p []byte) { w.h.Write(p) }
func (w stdHashWriter) Sum() []byte    { return w.h.Sum(nil) }

func newHashWriter(alg digest.Algorithm) (hashWriter, error) {
	switch alg {
	case digest.SHA256:
		return stdHashWriter{h: sha256.New()}, nil
	default:
		return nil, fmt.Errorf("%w: %q", digest.ErrUnsupportedAlgorithm, alg)
	}
}

func jsonUnmarshal(b []byte, v any) error {
	return json.Unmarshal(b, v)
}
