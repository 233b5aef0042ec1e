// Package cas implements the Content-Addressed Store (component A,
// spec.md §4.1): writes byte blobs keyed by their digest, idempotently,
// and answers package-scope metadata lookups by a developer-chosen key.
package cas

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"storepm/pkg/digest"
	"storepm/pkg/jsoncanon"
)

// Store is a directory-backed CAS rooted at a cache directory. The
// layout is opaque per spec.md §6 ("CAS layout: opaque; only the
// addressing contract is normative"); this implementation lays blobs
// out at objects/<alg>/<2-hex>/<rest-hex> and keyed entries at
// keys/<sha256-hex of key>.json.
type Store struct {
	root string

	mu   sync.Mutex
	memo map[string][]byte
}

// Info is what GetInfo returns for a keyed entry.
type Info struct {
	Metadata string
	Digest   digest.Digest
}

// keyedRecord is the on-disk shape of a keys/*.json entry.
type keyedRecord struct {
	Key      string `json:"key"`
	Metadata string `json:"metadata"`
	Digest   string `json:"digest"`
}

// Open creates (if necessary) and returns a Store rooted at root.
func Open(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, "objects"), filepath.Join(root, "keys"), filepath.Join(root, "tmp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cas: open %s: %w", root, err)
		}
	}
	return &Store{root: root, memo: make(map[string][]byte)}, nil
}

func (s *Store) objectPath(d digest.Digest) string {
	hexSum := fmt.Sprintf("%x", d.Sum)
	if len(hexSum) < 2 {
		hexSum = hexSum + "00"
	}
	return filepath.Join(s.root, "objects", string(d.Algorithm), hexSum[:2], hexSum[2:])
}

func (s *Store) keyPath(key string) string {
	h := digest.SHA256Bytes([]byte(key))
	return filepath.Join(s.root, "keys", fmt.Sprintf("%x.json", h.Sum))
}

// WriteResult is delivered on the channel returned by WriteStream once
// the sink is closed.
type WriteResult struct {
	Digest digest.Digest
	Err    error
}

// WriteStream returns a sink that hashes and persists everything
// written to it. Only the first algorithm in algs is used (sha256 when
// algs is empty); any later entries are ignored. If that algorithm is
// not digest.SHA256, the first Write (or Close, when nothing was
// written) returns an error. The digest is delivered on the returned
// channel once the sink is closed and the blob is durably in place.
func (s *Store) WriteStream(algs []digest.Algorithm) (io.WriteCloser, <-chan WriteResult) {
	resultCh := make(chan WriteResult, 1)
	if len(algs) == 0 {
		algs = []digest.Algorithm{digest.SHA256}
	}
	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "blob-*")
	if err != nil {
		resultCh <- WriteResult{Err: fmt.Errorf("cas: stage temp file: %w", err)}
		close(resultCh)
		return discardWriteCloser{}, resultCh
	}
	return &streamSink{store: s, tmp: tmp, alg: algs[0], resultCh: resultCh}, resultCh
}

type discardWriteCloser struct{}

func (discardWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriteCloser) Close() error                { return nil }

type streamSink struct {
	store    *Store
	tmp      *os.File
	alg      digest.Algorithm
	h        hashWriter
	started  bool
	resultCh chan WriteResult
}

func (w *streamSink) Write(p []byte) (int, error) {
	if !w.started {
		hw, err := newHashWriter(w.alg)
		if err != nil {
			return 0, err
		}
		w.h = hw
		w.started = true
	}
	n, err := w.tmp.Write(p)
	if err != nil {
		return n, err
	}
	w.h.Write(p[:n])
	return n, nil
}

func (w *streamSink) Close() error {
	defer close(w.resultCh)
	if !w.started {
		hw, err := newHashWriter(w.alg)
		if err != nil {
			w.resultCh <- WriteResult{Err: err}
			os.Remove(w.tmp.Name())
			return err
		}
		w.h = hw
	}
	if err := w.tmp.Close(); err != nil {
		w.resultCh <- WriteResult{Err: err}
		return err
	}
	d := digest.Digest{Algorithm: w.alg, Sum: w.h.Sum()}
	if err := w.store.commit(w.tmp.Name(), d); err != nil {
		w.resultCh <- WriteResult{Err: err}
		return err
	}
	w.resultCh <- WriteResult{Digest: d}
	return nil
}

// commit atomically places a staged temp file at its content address.
// If the destination already exists, the write is a no-op (idempotent
// write, per spec.md §4.1's contract).
func (s *Store) commit(tmpPath string, d digest.Digest) error {
	dest := s.objectPath(d)
	if _, err := os.Stat(dest); err == nil {
		os.Remove(tmpPath)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("cas: mkdir %s: %w", filepath.Dir(dest), err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("cas: commit %s: %w", dest, err)
	}
	return nil
}

// Put is a convenience over WriteStream for in-memory bytes.
func (s *Store) Put(b []byte, algs []digest.Algorithm) (digest.Digest, error) {
	sink, resultCh := s.WriteStream(algs)
	if _, err := sink.Write(b); err != nil {
		sink.Close()
		return digest.Digest{}, err
	}
	if err := sink.Close(); err != nil {
		return digest.Digest{}, err
	}
	res := <-resultCh
	return res.Digest, res.Err
}

// PutKeyedOptions configures PutKeyed.
type PutKeyedOptions struct {
	Algorithms []digest.Algorithm
	Metadata   any
	Memoize    bool
}

// PutKeyed commits an artifact under key with an attached metadata
// document, per spec.md §4.1. sourcePath == "." means there is no
// separate payload file: the canonicalised metadata document itself is
// the content that gets hashed and stored (this is how
// pkg/install.ensurePackage persists a package's metadata document).
// Any other sourcePath is read as a staged file's content.
func (s *Store) PutKeyed(key, sourcePath string, opts PutKeyedOptions) (digest.Digest, error) {
	var payload []byte
	var err error
	if sourcePath == "." {
		payload, err = jsoncanon.Marshal(opts.Metadata)
		if err != nil {
			return digest.Digest{}, fmt.Errorf("cas: canonicalise metadata for key %q: %w", key, err)
		}
	} else {
		payload, err = os.ReadFile(sourcePath)
		if err != nil {
			return digest.Digest{}, fmt.Errorf("cas: read staged artifact %s: %w", sourcePath, err)
		}
	}

	d, err := s.Put(payload, opts.Algorithms)
	if err != nil {
		return digest.Digest{}, err
	}

	metaJSON, err := jsoncanon.Marshal(opts.Metadata)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("cas: canonicalise metadata for key %q: %w", key, err)
	}
	rec := keyedRecord{Key: key, Metadata: string(metaJSON), Digest: d.String()}
	recJSON, err := jsoncanon.Marshal(rec)
	if err != nil {
		return digest.Digest{}, err
	}
	if err := os.WriteFile(s.keyPath(key), recJSON, 0o644); err != nil {
		return digest.Digest{}, fmt.Errorf("cas: write keyed index for %q: %w", key, err)
	}

	if opts.Memoize {
		s.MemoByDigest(d, payload)
	}
	return d, nil
}

// MemoByDigest installs an in-process small-object cache hint; it is
// never consulted for correctness, only as a fast path ahead of disk.
func (s *Store) MemoByDigest(d digest.Digest, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	s.memo[d.String()] = cp
}

// GetInfo looks up a keyed entry. The bool is false if no such key was
// ever committed.
func (s *Store) GetInfo(key string) (Info, bool, error) {
	raw, err := os.ReadFile(s.keyPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, false, nil
		}
		return Info{}, false, fmt.Errorf("cas: read keyed index for %q: %w", key, err)
	}
	var rec keyedRecord
	if err := jsonUnmarshal(raw, &rec); err != nil {
		return Info{}, false, fmt.Errorf("cas: decode keyed index for %q: %w", key, err)
	}
	d, err := digest.Parse(rec.Digest)
	if err != nil {
		return Info{}, false, err
	}
	return Info{Metadata: rec.Metadata, Digest: d}, true, nil
}

// Get returns the stored bytes for a digest, preferring the in-process
// memo cache.
func (s *Store) Get(d digest.Digest) ([]byte, error) {
	s.mu.Lock()
	if b, ok := s.memo[d.String()]; ok {
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()
	return os.ReadFile(s.objectPath(d))
}

// Has reports whether content for d is already stored.
func (s *Store) Has(d digest.Digest) bool {
	_, err := os.Stat(s.objectPath(d))
	return err == nil
}
