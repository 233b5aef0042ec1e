// Package jsoncanon canonicalises JSON documents with
// github.com/gowebpki/jcs (RFC 8785 JSON Canonicalization Scheme) so
// that digests computed over a document (the lockfile integrity, the
// package map) are stable across re-marshalling, field reordering, and
// whitespace.
package jsoncanon

import (
	"encoding/json"

	"github.com/gowebpki/jcs"

	"storepm/pkg/digest"
)

// Marshal encodes v to JSON and canonicalises the result.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Canonicalize(raw)
}

// Canonicalize transforms an already-encoded JSON document into its
// canonical form.
func Canonicalize(raw []byte) ([]byte, error) {
	return jcs.Transform(raw)
}

// Digest canonicalises v and returns its sha256 digest, the form used
// for `lockfile_integrity`.
func Digest(v any) (digest.Digest, error) {
	canon, err := Marshal(v)
	if err != nil {
		return digest.Digest{}, err
	}
	return digest.SHA256Bytes(canon), nil
}

// DigestBytes canonicalises an already-encoded JSON document and
// returns its sha256 digest.
func DigestBytes(raw []byte) (digest.Digest, error) {
	canon, err := Canonicalize(raw)
	if err != nil {
		return digest.Digest{}, err
	}
	return digest.SHA256Bytes(canon), nil
}
