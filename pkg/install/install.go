// Package install implements the Installer Orchestrator (component E,
// spec.md §4.5): it walks a locked dependency graph, drives the
// Tarball Unpacker concurrently with bounded parallelism, assembles a
// project-wide package map, and persists it. Pipeline stages are
// prepare -> checkLock -> fetchTree -> buildPackageNameMap ->
// writePackageMap -> buildTree -> teardown, each timed and logged
// (spec.md §4.5 "each stage timed; timings logged").
package install

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"storepm/pkg/cas"
	"storepm/pkg/collab"
	"storepm/pkg/config"
	"storepm/pkg/depiter"
	"storepm/pkg/digest"
	"storepm/pkg/integrity"
	"storepm/pkg/jsoncanon"
	"storepm/pkg/locktree"
	"storepm/pkg/logging"
	"storepm/pkg/pkgmap"
	"storepm/pkg/reclaim"
	"storepm/pkg/unpack"
)

// MaxInFlight is the bounded-concurrency cap spec.md §5 requires for
// every Dependency Iterator walk this core performs.
const MaxInFlight = 50

// Orchestrator runs the install pipeline once per Run call. Zero value
// is not usable; construct with New.
type Orchestrator struct {
	Store     *cas.Store
	Fetcher   collab.Fetcher
	Resolver  collab.ManifestResolver
	Tree      collab.TreeBuilder
	Verifier  collab.LockfileVerifier
	Generator collab.LockfileGenerator
	Scripts   collab.ScriptRunner
	Bins      collab.BinLinker
	Log       logging.Sink
	Options   collab.Options

	// Prefix is the install prefix (the directory containing
	// package.json/package-lock.json/.package-map.json); defaults to
	// "." when empty.
	Prefix string

	mu         sync.Mutex
	timings    map[string]time.Duration
	failedDeps []collab.DepNode
	pkgCount   int
	purged     map[string]bool

	rootPkgJSON       *config.PackageJSON
	lockRaw           []byte
	hasLock           bool
	lockfileIntegrity digest.Digest
	existingMap       *pkgmap.Map
	mapValid          bool
	tree              collab.DepNode
	pkgMap            *pkgmap.Map
}

// New constructs an Orchestrator with the conservative default
// collaborators from pkg/collab (spec.md §6): an always-OK verifier, a
// "not configured" lockfile generator, a no-op bin linker, and a shell
// script runner. Callers typically override Fetcher/Resolver/Tree with
// pkg/gitfetch and pkg/locktree.
func New(store *cas.Store, opts collab.Options) *Orchestrator {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "."
	}
	return &Orchestrator{
		Store:     store,
		Options:   opts,
		Prefix:    prefix,
		Verifier:  collab.AlwaysOKVerifier{},
		Generator: collab.NopLockfileGenerator{},
		Bins:      collab.NopBinLinker{},
		Scripts:   collab.ShellScriptRunner{},
		Log:       logging.Discard,
		timings:   make(map[string]time.Duration),
		purged:    make(map[string]bool),
	}
}

// Run executes the full pipeline. Each stage is timed; a required
// (non-optional) dependency failure aborts the run and returns its
// error, but teardown (here, the summary log line) always runs.
func (o *Orchestrator) Run(ctx context.Context) error {
	start := time.Now()
	defer func() {
		o.mu.Lock()
		failed := len(o.failedDeps)
		count := o.pkgCount
		o.mu.Unlock()
		o.Log.Info("teardown: install finished in %s (pkgCount=%d, failedOptional=%d)", time.Since(start), count, failed)
	}()

	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"prepare", o.prepare},
		{"checkLock", o.checkLock},
		{"fetchTree", o.fetchTree},
		{"buildPackageNameMap", o.buildPackageNameMap},
		{"writePackageMap", o.writePackageMap},
		{"buildTree", o.buildTree},
	}
	for _, st := range stages {
		fn := st.fn
		if err := o.timeStage(st.name, func() error { return fn(ctx) }); err != nil {
			return fmt.Errorf("install: %s: %w", st.name, err)
		}
	}
	return nil
}

func (o *Orchestrator) timeStage(name string, fn func() error) error {
	begin := time.Now()
	err := fn()
	dur := time.Since(begin)
	o.mu.Lock()
	o.timings[name] = dur
	o.mu.Unlock()
	if err != nil {
		o.Log.Warn("stage %s failed after %s: %v", name, dur, err)
	} else {
		o.Log.Info("stage %s completed in %s", name, dur)
	}
	return err
}

// Timings returns a copy of the per-stage durations recorded by Run.
func (o *Orchestrator) Timings() map[string]time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]time.Duration, len(o.timings))
	for k, v := range o.timings {
		out[k] = v
	}
	return out
}

// PkgCount is the number of packages accounted for after any
// mark-and-sweep reclamation.
func (o *Orchestrator) PkgCount() int { return o.pkgCount }

// FailedDeps returns the optional dependencies whose fetch/unpack
// failed and were handed to the Reclaimer.
func (o *Orchestrator) FailedDeps() []collab.DepNode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]collab.DepNode(nil), o.failedDeps...)
}

// PackageMap is the project-level map produced (or reused) by Run.
func (o *Orchestrator) PackageMap() *pkgmap.Map { return o.pkgMap }

// prepare resolves the install prefix, reads package.json and whichever
// lockfile is present, builds the logical tree, and reads any existing
// package map, per spec.md §4.5 point 1.
func (o *Orchestrator) prepare(ctx context.Context) error {
	pj, err := config.ReadPackageJSON(filepath.Join(o.Prefix, config.PackageJSONFile))
	if err != nil {
		return fmt.Errorf("read package.json: %w", err)
	}
	o.rootPkgJSON = pj

	raw, _, ok, err := config.ReadLockfileRaw(o.Prefix)
	if err != nil {
		return fmt.Errorf("read lockfile: %w", err)
	}
	o.lockRaw, o.hasLock = raw, ok

	if o.hasLock {
		if o.Tree == nil {
			b, err := locktree.Parse(o.lockRaw)
			if err != nil {
				return err
			}
			o.Tree = b
		}
		tree, err := o.Tree.BuildTree(ctx)
		if err != nil {
			return fmt.Errorf("build dependency tree: %w", err)
		}
		o.tree = tree
	}

	existing, ok, err := config.ReadPackageMap(o.Prefix)
	if err != nil {
		return fmt.Errorf("read existing package map: %w", err)
	}
	if ok {
		o.existingMap = existing
	}
	return nil
}

// checkLock verifies the persisted package map's lockfile_integrity
// against the canonicalised lockfile, generating a lockfile first if
// none exists, and regenerating it if the verifier reports drift
// (spec.md §4.5 point 2).
func (o *Orchestrator) checkLock(ctx context.Context) error {
	if !o.hasLock {
		if o.tree == nil {
			return fmt.Errorf("no lockfile present and no tree available to generate one from")
		}
		if err := o.Generator.Generate(ctx, o.tree); err != nil {
			return fmt.Errorf("no lockfile present: %w", err)
		}
		raw, _, ok, err := config.ReadLockfileRaw(o.Prefix)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("lockfile generator did not produce %s", config.LockfileName)
		}
		o.lockRaw, o.hasLock = raw, true
		b, err := locktree.Parse(o.lockRaw)
		if err != nil {
			return err
		}
		o.Tree = b
		tree, err := o.Tree.BuildTree(ctx)
		if err != nil {
			return err
		}
		o.tree = tree
	}

	lockDigest, err := jsoncanon.DigestBytes(o.lockRaw)
	if err != nil {
		return fmt.Errorf("canonicalise lockfile: %w", err)
	}
	o.lockfileIntegrity = lockDigest
	o.mapValid = o.existingMap != nil && o.existingMap.LockfileIntegrity.Equal(lockDigest)

	if o.Verifier != nil {
		if err := o.Verifier.Verify(ctx, o.tree); err != nil {
			o.Log.Warn("lockfile verification failed, regenerating: %v", err)
			if genErr := o.Generator.Generate(ctx, o.tree); genErr != nil {
				return fmt.Errorf("lockfile drift detected and regeneration failed: %w", genErr)
			}
			raw, _, ok, err := config.ReadLockfileRaw(o.Prefix)
			if err != nil {
				return err
			}
			if ok {
				o.lockRaw = raw
				lockDigest, err = jsoncanon.DigestBytes(o.lockRaw)
				if err != nil {
					return err
				}
				o.lockfileIntegrity = lockDigest
			}
			o.mapValid = false
		}
	}
	return nil
}

// fetchTree iterates the tree at MaxInFlight concurrency (spec.md §4.5
// point 3), unless a valid package map already exists and the caller
// did not force a rebuild.
func (o *Orchestrator) fetchTree(ctx context.Context) error {
	if o.mapValid && !o.Options.Force {
		o.Log.Info("package map matches lockfile_integrity, skipping fetch")
		o.pkgMap = o.existingMap
		o.mu.Lock()
		o.pkgCount = countMapPackages(o.pkgMap)
		o.mu.Unlock()
		return nil
	}

	err := depiter.Walk(ctx, collab.DepIterNode{DepNode: o.tree}, MaxInFlight, func(ctx context.Context, n depiter.Node, next func(context.Context) error) error {
		dn := n.(collab.DepIterNode).DepNode

		if dn.IsRoot() {
			return next(ctx)
		}
		if !includeDep(dn, o.Options) {
			return nil
		}

		if dn.Bundled() {
			dn.SetMetadata(collab.PackageMetadata{
				Name: dn.Name(), Version: dn.Version(),
				Resolved: dn.Resolved(), Integrity: dn.Integrity(),
			})
			return next(ctx)
		}

		if isLocalSpec(dn.Resolved()) {
			if err := o.linkLocal(dn); err != nil {
				return o.handleFailure(dn, err)
			}
			return next(ctx)
		}

		meta, err := o.ensurePackage(ctx, dn)
		if err != nil {
			return o.handleFailure(dn, err)
		}
		dn.SetMetadata(meta)
		return next(ctx)
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	failed := append([]collab.DepNode(nil), o.failedDeps...)
	o.mu.Unlock()

	if len(failed) > 0 {
		reclaimNodes := make([]reclaim.Node, len(failed))
		for i, f := range failed {
			reclaimNodes[i] = collab.ReclaimNode{DepNode: f}
		}
		result := reclaim.Sweep(collab.ReclaimNode{DepNode: o.tree}, reclaimNodes)
		for _, addr := range result.Purged {
			o.purged[addr] = true
			o.Log.Info("reclaimed dead optional subtree %s", addr)
		}
	}
	return nil
}

// countMapPackages recursively counts every leaf package entry in m,
// across all nested scopes, so a cached package map that skipped
// fetchTree still reports an accurate PkgCount.
func countMapPackages(m *pkgmap.Map) int {
	if m == nil {
		return 0
	}
	n := len(m.Packages)
	for _, scope := range m.Scopes {
		n += countScopePackages(scope)
	}
	return n
}

func countScopePackages(n *pkgmap.Node) int {
	count := len(n.Packages)
	for _, scope := range n.Scopes {
		count += countScopePackages(scope)
	}
	return count
}

// handleFailure implements spec.md §7 points 4-5: an optional
// dependency's failure is recorded for later reclamation and does not
// abort the run; a required dependency's failure aborts it.
func (o *Orchestrator) handleFailure(dn collab.DepNode, err error) error {
	if !dn.Optional() {
		return fmt.Errorf("required dependency %s failed: %w", dn.Name(), err)
	}
	o.Log.Warn("optional dependency %s failed, will be reclaimed: %v", dn.Name(), err)
	o.mu.Lock()
	o.failedDeps = append(o.failedDeps, dn)
	o.mu.Unlock()
	return nil
}

// ensurePackage implements spec.md §4.5.2.
func (o *Orchestrator) ensurePackage(ctx context.Context, dn collab.DepNode) (collab.PackageMetadata, error) {
	resolved := dn.Resolved()
	integrityStr := dn.Integrity()

	if (resolved == "" || integrityStr == "") && o.Resolver != nil {
		r, i, err := o.Resolver.Resolve(ctx, dn.Name(), dn.Version())
		if err != nil {
			return collab.PackageMetadata{}, fmt.Errorf("resolve %s: %w", dn.Name(), err)
		}
		if resolved == "" {
			resolved = r
		}
		if integrityStr == "" {
			integrityStr = i
		}
	}

	key := depKey(dn.Name(), resolved, integrityStr)

	if integrityStr != "" && !o.Options.Restore {
		if info, ok, err := o.Store.GetInfo(key); err != nil {
			return collab.PackageMetadata{}, fmt.Errorf("cache lookup for %s: %w", dn.Name(), err)
		} else if ok {
			var meta collab.PackageMetadata
			if err := json.Unmarshal([]byte(info.Metadata), &meta); err != nil {
				return collab.PackageMetadata{}, fmt.Errorf("decode cached metadata for %s: %w", dn.Name(), err)
			}
			return meta, nil
		}
	}

	stream, err := o.Fetcher.TarballStream(ctx, resolved)
	if err != nil {
		return collab.PackageMetadata{}, fmt.Errorf("fetch %s: %w", dn.Name(), err)
	}
	defer stream.Close()

	var reader io.Reader = stream
	var gate *integrity.Gate
	if integrityStr == "" {
		g, err := integrity.NewGate(stream, digest.SHA256)
		if err != nil {
			return collab.PackageMetadata{}, err
		}
		gate = g
		reader = g
	}

	gz, err := gzip.NewReader(reader)
	if err != nil {
		return collab.PackageMetadata{}, fmt.Errorf("gunzip %s: %w", dn.Name(), err)
	}
	defer gz.Close()

	u := unpack.New(o.Store, unpack.Options{Strip: 1, Log: o.Log})
	res, err := u.Run(ctx, gz)
	if err != nil {
		return collab.PackageMetadata{}, fmt.Errorf("unpack %s: %w", dn.Name(), err)
	}

	if gate != nil {
		// tar.Reader stops reading as soon as it sees the archive's two
		// zero end-of-archive blocks, leaving any trailing block padding
		// and the gzip trailer unconsumed; the gate only sees bytes that
		// pass through it, so drain the rest of the decompressed stream
		// before reading the digest or it covers a prefix of the
		// tarball, not the whole archive (spec.md §4.3).
		if _, err := io.Copy(io.Discard, gz); err != nil {
			return collab.PackageMetadata{}, fmt.Errorf("drain %s for integrity digest: %w", dn.Name(), err)
		}
		integrityStr = gate.Digest().String()
	}

	meta := collab.PackageMetadata{
		Name:              dn.Name(),
		Version:           dn.Version(),
		Resolved:          resolved,
		Integrity:         integrityStr,
		Main:              res.Metadata.Main,
		HasInstallScripts: res.Metadata.HasInstallScripts,
		HasNativeBuild:    res.Metadata.HasNativeBuild,
		Files:             res.Manifest,
	}

	if _, err := o.Store.PutKeyed(key, ".", cas.PutKeyedOptions{
		Algorithms: []digest.Algorithm{digest.SHA256},
		Metadata:   meta,
		Memoize:    true,
	}); err != nil {
		return collab.PackageMetadata{}, fmt.Errorf("persist metadata for %s: %w", dn.Name(), err)
	}
	return meta, nil
}

// depKey derives a stable, deterministic cache key from a dependency's
// identity, required so re-runs hit the cache (spec.md §4.5.2).
func depKey(name, resolved, integrityStr string) string {
	basis := integrityStr
	if basis == "" {
		basis = resolved
	}
	return name + "@" + digest.SHA256Bytes([]byte(name+"@"+basis)).String()
}

func isLocalSpec(resolved string) bool {
	return strings.HasPrefix(resolved, "file:") || strings.HasPrefix(resolved, "link:")
}

// linkLocal creates a junction-style symlink to a local directory
// dependency, replacing any existing path at the destination (spec.md
// §4.5 point 3).
func (o *Orchestrator) linkLocal(dn collab.DepNode) error {
	target := strings.TrimPrefix(strings.TrimPrefix(dn.Resolved(), "file:"), "link:")
	dest := filepath.Join(o.Prefix, dn.Path(pkgmap.PathPrefix))
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("remove existing path for local link %s: %w", dn.Name(), err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.Symlink(target, dest); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", dest, target, err)
	}
	dn.SetMetadata(collab.PackageMetadata{Name: dn.Name(), Version: dn.Version(), Resolved: dn.Resolved()})
	return nil
}

// includeDep is the dev/prod filter, spec.md §4.5.1.
func includeDep(dn collab.DepNode, opts collab.Options) bool {
	if dn.Dev() {
		if opts.Dev || opts.Development {
			return true
		}
		if !matchesKind(opts.Only, "prod") && !opts.Production {
			return true
		}
		if matchesKind(opts.Only, "dev") || matchesKind(opts.Also, "dev") {
			return true
		}
		return false
	}
	return !matchesKind(opts.Only, "dev")
}

func matchesKind(s, prefix string) bool {
	return s != "" && strings.HasPrefix(strings.ToLower(s), prefix)
}

// buildPackageNameMap folds the tree's attached metadata into a
// project-level map, in tree traversal order (spec.md §4.6).
func (o *Orchestrator) buildPackageNameMap(ctx context.Context) error {
	if o.pkgMap != nil {
		return nil
	}
	var entries []pkgmap.Entry
	var walk func(n collab.DepNode)
	walk = func(n collab.DepNode) {
		for _, c := range n.Children() {
			if !o.purged[c.Address()] {
				m := c.Metadata()
				if m.Name != "" {
					entries = append(entries, pkgmap.Entry{
						Address: c.Address(),
						Metadata: pkgmap.PackageMetadata{
							Name: m.Name, Version: m.Version, Integrity: m.Integrity,
							Resolved: m.Resolved, Main: m.Main,
							HasInstallScripts: m.HasInstallScripts, HasNativeBuild: m.HasNativeBuild,
							Files: m.Files,
						},
					})
				}
			}
			walk(c)
		}
	}
	walk(o.tree)
	o.pkgMap = pkgmap.Build(o.lockfileIntegrity, entries)
	o.mu.Lock()
	o.pkgCount = len(entries)
	o.mu.Unlock()
	return nil
}

// writePackageMap persists the package map canonically (spec.md §4.5
// point 5).
func (o *Orchestrator) writePackageMap(ctx context.Context) error {
	return config.WritePackageMap(o.Prefix, o.pkgMap)
}

// buildTree runs lifecycle scripts and links bins for every installed
// package, per spec.md §4.5 point 6; both collaborators are opaque
// hooks, this core only invokes them. Script text is read straight
// back out of the CAS via the package's own manifest, since this core
// never materialises a traditional node_modules file tree.
func (o *Orchestrator) buildTree(ctx context.Context) error {
	if o.Options.IgnoreScripts {
		return nil
	}
	var walk func(n collab.DepNode) error
	walk = func(n collab.DepNode) error {
		for _, c := range n.Children() {
			if o.purged[c.Address()] {
				continue
			}
			m := c.Metadata()
			if m.Files != nil {
				pkgPath := filepath.Join(o.Prefix, c.Path(pkgmap.PathPrefix))
				if m.HasInstallScripts {
					if err := o.runLifecycleScripts(ctx, c, pkgPath, m); err != nil {
						return err
					}
				}
				if o.Bins != nil {
					if err := o.Bins.LinkBins(ctx, c, pkgPath); err != nil {
						return fmt.Errorf("link bins for %s: %w", c.Name(), err)
					}
				}
			}
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(o.tree)
}

func (o *Orchestrator) runLifecycleScripts(ctx context.Context, n collab.DepNode, pkgPath string, m collab.PackageMetadata) error {
	if o.Scripts == nil || m.Files == nil {
		return nil
	}
	d, ok := m.Files.Lookup("package.json")
	if !ok {
		return nil
	}
	body, err := o.Store.Get(d)
	if err != nil {
		return fmt.Errorf("read package.json for %s: %w", n.Name(), err)
	}
	var pj struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(body, &pj); err != nil {
		return fmt.Errorf("parse package.json for %s: %w", n.Name(), err)
	}
	for _, name := range []string{"preinstall", "install", "postinstall"} {
		script, ok := pj.Scripts[name]
		if !ok {
			continue
		}
		if err := o.Scripts.RunScript(ctx, pkgPath, script, name); err != nil {
			return fmt.Errorf("%s script for %s: %w", name, n.Name(), err)
		}
	}
	return nil
}

