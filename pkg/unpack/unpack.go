// Package unpack implements the Tarball Unpacker (component B,
// spec.md §4.2): stream-parses one tar archive, path-sanitises
// entries, pipes file bodies to the CAS, extracts package.json
// metadata, and yields a File Manifest.
package unpack

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"storepm/pkg/cas"
	"storepm/pkg/digest"
	"storepm/pkg/logging"
	"storepm/pkg/manifest"
)

// Transform is an optional per-file body filter; it may rewrite or
// reject the entry's bytes before they are hashed and stored.
type Transform func(path string, body []byte) ([]byte, error)

// Events are the five ordered signals spec.md §4.2/§5 require:
// metadata precedes prefinish, then finish, then end, then close. Any
// field may be nil.
type Events struct {
	OnMetadata  func(Metadata)
	OnPrefinish func()
	OnFinish    func()
	OnEnd       func()
	OnClose     func()
}

// Metadata is the package metadata accumulated while unpacking, per
// spec.md §3 "Package Metadata" (name/version/integrity/resolved are
// added later by the Orchestrator, not by the Unpacker).
type Metadata struct {
	Main              string `json:"main"`
	HasInstallScripts bool   `json:"hasInstallScripts"`
	HasNativeBuild    bool   `json:"hasNativeBuild"`
}

// Result is what a completed Run produces.
type Result struct {
	Manifest *manifest.Node
	Metadata Metadata
}

// Options configures an Unpacker.
type Options struct {
	// Strip is the number of leading path segments dropped from every
	// entry (spec.md §4.2 point 1-2); npm tarballs conventionally need
	// Strip: 1 to drop the "package/" directory.
	Strip int
	// Transform optionally rewrites each file's body before it is
	// hashed and stored.
	Transform Transform
	// Log receives warnings (bad paths, unsupported types, per-file
	// transform failures) and info messages. The zero value discards
	// everything.
	Log logging.Sink
	// Events receives the ordered completion signals.
	Events Events
}

// Unpacker runs the streaming unpack pipeline once per Run call.
type Unpacker struct {
	opts  Options
	store *cas.Store
}

// New constructs an Unpacker that writes file bodies into store.
func New(store *cas.Store, opts Options) *Unpacker {
	return &Unpacker{opts: opts, store: store}
}

// packageJSONSubset is the slice of package.json this core reads, per
// spec.md §3/§4.2.
type packageJSONSubset struct {
	Main    string            `json:"main"`
	Scripts map[string]string `json:"scripts"`
}

// Run consumes archive as a tar stream (already decompressed by the
// caller, see spec.md §4.2's note on klauspost/compress/gzip) and
// returns the resulting manifest and metadata, or the first fatal
// stream error. Per-entry problems are warnings: the entry is dropped
// from the manifest and the stream continues.
func (u *Unpacker) Run(ctx context.Context, archive io.Reader) (*Result, error) {
	tr := tar.NewReader(archive)

	meta := Metadata{Main: "index.js"}
	tree := manifest.New()

	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once
	recordErr := func(err error) {
		errOnce.Do(func() { firstErr = err })
	}

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unpack: reading tar stream: %w", err)
		}

		path, warnMsg, ok := sanitizePath(hdr.Name, u.opts.Strip)
		if warnMsg != "" {
			u.opts.Log.Warn("%s: %s", hdr.Name, warnMsg)
		}
		if !ok {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeReg, tar.TypeRegA, tar.TypeCont:
			// File, OldFile, ContiguousFile -> file pipeline.
			body := make([]byte, hdr.Size)
			if _, err := io.ReadFull(tr, body); err != nil {
				return nil, fmt.Errorf("unpack: reading body of %s: %w", path, err)
			}
			wg.Add(1)
			go func(path string, body []byte) {
				defer wg.Done()
				if err := u.processFile(path, body, &meta, tree, &mu); err != nil {
					u.opts.Log.Warn("%s: %v", path, err)
				}
			}(path, body)

		case tar.TypeDir, tar.TypeLink, tar.TypeSymlink:
			// Directory, GNUDumpDir, Link, SymbolicLink -> skip
			// silently; manifests record only regular files.
			continue

		case tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
			u.opts.Log.Warn("%s: unsupported entry type", path)
			if _, err := io.Copy(io.Discard, tr); err != nil {
				recordErr(fmt.Errorf("unpack: draining %s: %w", path, err))
			}

		default:
			// Anything else (GNU long-name/long-link headers, sparse
			// file markers, etc.) is handled transparently by
			// archive/tar and never surfaces here in practice; treat
			// defensively as a silent skip rather than a hard error.
			continue
		}

		if ctx.Err() != nil {
			wg.Wait()
			return nil, ctx.Err()
		}
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	if u.opts.Events.OnMetadata != nil {
		u.opts.Events.OnMetadata(meta)
	}
	if u.opts.Events.OnPrefinish != nil {
		u.opts.Events.OnPrefinish()
	}
	if u.opts.Events.OnFinish != nil {
		u.opts.Events.OnFinish()
	}
	if u.opts.Events.OnEnd != nil {
		u.opts.Events.OnEnd()
	}
	if u.opts.Events.OnClose != nil {
		u.opts.Events.OnClose()
	}

	return &Result{Manifest: tree, Metadata: meta}, nil
}

func (u *Unpacker) processFile(path string, body []byte, meta *Metadata, tree *manifest.Node, mu *sync.Mutex) error {
	if u.opts.Transform != nil {
		transformed, err := u.opts.Transform(path, body)
		if err != nil {
			return fmt.Errorf("transform failed: %w", err)
		}
		body = transformed
	}

	if path == "package.json" {
		var pj packageJSONSubset
		if err := json.Unmarshal(body, &pj); err != nil {
			return fmt.Errorf("invalid package.json: %w", err)
		}
		mu.Lock()
		if pj.Main != "" {
			meta.Main = pj.Main
		}
		if hasInstallScript(pj.Scripts) {
			meta.HasInstallScripts = true
		}
		mu.Unlock()
	}
	if strings.HasSuffix(path, ".gyp") {
		mu.Lock()
		meta.HasInstallScripts = true
		meta.HasNativeBuild = true
		mu.Unlock()
	}

	d, err := u.store.Put(body, []digest.Algorithm{digest.SHA256})
	if err != nil {
		return fmt.Errorf("writing to store: %w", err)
	}
	u.store.MemoByDigest(d, body)

	mu.Lock()
	tree.Insert(path, d)
	mu.Unlock()
	return nil
}

func hasInstallScript(scripts map[string]string) bool {
	for _, name := range []string{"install", "preinstall", "postinstall"} {
		if _, ok := scripts[name]; ok {
			return true
		}
	}
	return false
}
