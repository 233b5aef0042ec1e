// Command storepm is the CLI entry point for the content-addressed
// install core, shaped after the teacher's thin main.go
// (_examples/jimitchavdadev-cppkg/main.go): a command switch over
// init/install/upgrade/uninstall, each delegating to a package under
// pkg/.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"storepm/pkg/cas"
	"storepm/pkg/collab"
	"storepm/pkg/config"
	"storepm/pkg/gitfetch"
	"storepm/pkg/install"
	"storepm/pkg/locktree"
	"storepm/pkg/logging"
	"storepm/pkg/pkgmap"
	"storepm/pkg/reclaim"
)

const defaultCacheDir = ".storepm_cache"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "init":
		err = handleInit()
	case "install":
		err = handleInstall(args)
	case "upgrade":
		err = handleUpgrade()
	case "uninstall":
		err = handleUninstall(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "storepm: %v\n", err)
		os.Exit(1)
	}
}

func handleInit() error {
	path := config.PackageJSONFile
	if _, err := os.Stat(path); err == nil {
		fmt.Println("package.json already exists.")
		return nil
	}
	pj := &config.PackageJSON{
		Name:         "my-package",
		Version:      "0.1.0",
		Dependencies: make(map[string]string),
	}
	if err := config.WritePackageJSON(path, pj); err != nil {
		return fmt.Errorf("creating package.json: %w", err)
	}
	fmt.Println("Initialized empty project (created package.json).")
	return nil
}

// handleInstall handles both "install" (resolve+fetch everything in
// the lockfile) and "install <url#version>" (add a new git dependency
// to package.json first, adapted from the teacher's AddNewPackage).
func handleInstall(args []string) error {
	if len(args) > 0 {
		if err := addNewPackage(args[0]); err != nil {
			return fmt.Errorf("adding package: %w", err)
		}
	}
	return runOrchestrator(collab.Options{Cache: defaultCacheDir, Restore: true})
}

func handleUpgrade() error {
	fmt.Println("Re-fetching all packages, ignoring any cached package map...")
	return runOrchestrator(collab.Options{Cache: defaultCacheDir, Restore: true, Force: true})
}

// addNewPackage records a new git dependency in package.json, in the
// teacher's "url#version" spec format.
func addNewPackage(pkgStr string) error {
	pj, err := config.ReadPackageJSON(config.PackageJSONFile)
	if err != nil {
		return fmt.Errorf("could not load package.json, did you run 'storepm init'?: %w", err)
	}
	url, version, ok := strings.Cut(pkgStr, "#")
	if !ok {
		return fmt.Errorf("invalid package format, use 'url#version', e.g. 'https://github.com/user/repo.git#^1.0.0'")
	}
	name := strings.TrimSuffix(lastPathSegment(url), ".git")
	if pj.Dependencies == nil {
		pj.Dependencies = make(map[string]string)
	}
	pj.Dependencies[name] = url + "#" + version
	return config.WritePackageJSON(config.PackageJSONFile, pj)
}

func lastPathSegment(url string) string {
	url = strings.TrimSuffix(url, "/")
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		return url[i+1:]
	}
	return url
}

// handleUninstall removes a dependency from package.json and reclaims
// any subtree that was exclusively reachable through it, via the
// Mark-and-Sweep Reclaimer (component G) — it does not re-resolve the
// whole tree, per SPEC_FULL.md §9.
func handleUninstall(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("uninstall requires a package name")
	}
	name := args[0]

	pj, err := config.ReadPackageJSON(config.PackageJSONFile)
	if err != nil {
		return err
	}
	_, inDeps := pj.Dependencies[name]
	_, inDev := pj.DevDependencies[name]
	if !inDeps && !inDev {
		return fmt.Errorf("package %s not found in package.json", name)
	}
	delete(pj.Dependencies, name)
	delete(pj.DevDependencies, name)
	if err := config.WritePackageJSON(config.PackageJSONFile, pj); err != nil {
		return fmt.Errorf("updating package.json: %w", err)
	}

	raw, _, ok, err := config.ReadLockfileRaw(".")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("no lockfile present; nothing to reclaim")
		return nil
	}
	builder, err := locktree.Parse(raw)
	if err != nil {
		return err
	}
	tree, err := builder.BuildTree(context.Background())
	if err != nil {
		return err
	}

	var target collab.DepNode
	for _, c := range tree.Children() {
		if c.Name() == name {
			target = c
			break
		}
	}
	if target == nil {
		fmt.Printf("%s is not present in the installed tree\n", name)
		return nil
	}

	result := reclaim.Sweep(collab.ReclaimNode{DepNode: tree}, []reclaim.Node{collab.ReclaimNode{DepNode: target}})
	if len(result.Purged) == 0 {
		fmt.Printf("%s has no exclusive dependents to reclaim\n", name)
		return nil
	}

	m, ok, err := config.ReadPackageMap(".")
	if err == nil && ok {
		for _, addr := range result.Purged {
			removeAddressFromMap(m, addr)
		}
		if err := config.WritePackageMap(".", m); err != nil {
			return fmt.Errorf("rewriting package map: %w", err)
		}
	}

	fmt.Printf("reclaimed %d package(s): %s\n", len(result.Purged), strings.Join(result.Purged, ", "))
	return nil
}

// removeAddressFromMap walks the same scope chain pkg/pkgmap.Build
// folds every address through (spec.md §4.6) and deletes the leaf
// package entry it names, so an uninstall's reclaimed addresses
// disappear from the persisted map without a full rebuild.
func removeAddressFromMap(root *pkgmap.Map, address string) {
	segs := strings.Split(address, ":")
	if len(segs) == 0 {
		return
	}
	scopes, packages := root.Scopes, root.Packages
	for i := 0; i < len(segs)-1; i++ {
		next, ok := scopes[segs[i]]
		if !ok {
			return
		}
		scopes, packages = next.Scopes, next.Packages
	}
	delete(packages, segs[len(segs)-1])
}

func runOrchestrator(opts collab.Options) error {
	store, err := cas.Open(opts.Cache)
	if err != nil {
		return fmt.Errorf("opening content store at %s: %w", opts.Cache, err)
	}

	orch := install.New(store, opts)
	orch.Fetcher = gitfetch.New(opts.Cache)
	orch.Resolver = orch.Fetcher.(*gitfetch.Client)
	orch.Log = logging.Standard(os.Stderr)

	if err := orch.Run(context.Background()); err != nil {
		return err
	}
	fmt.Printf("installed %d package(s)\n", orch.PkgCount())
	if failed := orch.FailedDeps(); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, f := range failed {
			names[i] = f.Name()
		}
		fmt.Printf("skipped %d optional dependency failure(s): %s\n", len(failed), strings.Join(names, ", "))
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: storepm <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  init                   Initialize a new project (creates package.json)")
	fmt.Println("  install                Install all dependencies from the lockfile")
	fmt.Println("  install <url#version>  Add a new git dependency to package.json and install")
	fmt.Println("  upgrade                Re-fetch every package, ignoring any cached package map")
	fmt.Println("  uninstall <name>       Remove a dependency and reclaim its exclusive subtree")
}
