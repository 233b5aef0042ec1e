// Package config reads and writes the on-disk documents the Installer
// Orchestrator's prepare/checkLock/writePackageMap stages touch:
// package.json, package-lock.json, npm-shrinkwrap.json, and
// .package-map.json (spec.md §6 "On-disk formats"). A leading UTF-8 BOM
// is stripped before every JSON parse, per spec.md §6, and a missing
// file is treated as absent rather than an error when the caller asks
// for that (spec.md §7 point 7, "Missing file (ENOENT) with
// ignoreMissing"), mirroring the teacher's LoadLockfile pattern of
// turning os.IsNotExist into an empty document.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"storepm/pkg/jsoncanon"
	"storepm/pkg/pkgmap"
)

const (
	// PackageJSONFile is the package manifest read at the install prefix.
	PackageJSONFile = "package.json"
	// LockfileName is the lockfile preferred when no shrinkwrap exists.
	LockfileName = "package-lock.json"
	// ShrinkwrapName takes precedence over LockfileName when both exist
	// (spec.md §4.5 point 1: "Prefer shrinkwrap over lockfile when both exist").
	ShrinkwrapName = "npm-shrinkwrap.json"
	// PackageMapFile is the persisted project-level package map.
	PackageMapFile = ".package-map.json"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// stripBOM removes a leading UTF-8 byte-order mark, if present.
func stripBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, utf8BOM)
}

// PackageJSON is the slice of package.json the core and its CLI
// convenience commands (add/remove a dependency) read and write.
type PackageJSON struct {
	Name            string            `json:"name,omitempty"`
	Version         string            `json:"version,omitempty"`
	Main            string            `json:"main,omitempty"`
	Scripts         map[string]string `json:"scripts,omitempty"`
	Dependencies    map[string]string `json:"dependencies,omitempty"`
	DevDependencies map[string]string `json:"devDependencies,omitempty"`
}

// ReadJSON reads path, strips a UTF-8 BOM, and unmarshals into v. When
// ignoreMissing is true and path does not exist, ReadJSON leaves v
// untouched and returns (false, nil); otherwise a missing file is a
// plain *PathError.
func ReadJSON(path string, v any, ignoreMissing bool) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if ignoreMissing && errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(stripBOM(raw), v); err != nil {
		return false, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return true, nil
}

// ReadPackageJSON reads the package.json file at path. A missing file yields a
// zero-value PackageJSON, not an error (a package need not ship one).
func ReadPackageJSON(path string) (*PackageJSON, error) {
	pj := &PackageJSON{}
	if _, err := ReadJSON(path, pj, true); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return pj, nil
}

// WritePackageJSON writes pj back to path as indented JSON, the format
// the teacher's SaveConfig uses.
func WritePackageJSON(path string, pj *PackageJSON) error {
	data, err := json.MarshalIndent(pj, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadLockfileRaw returns the raw bytes (BOM stripped) of whichever
// lockfile is present at prefix, preferring npm-shrinkwrap.json over
// package-lock.json per spec.md §4.5 point 1. ok is false if neither
// file exists.
func ReadLockfileRaw(prefix string) (raw []byte, path string, ok bool, err error) {
	for _, name := range []string{ShrinkwrapName, LockfileName} {
		full := joinPrefix(prefix, name)
		b, err := os.ReadFile(full)
		if err == nil {
			return stripBOM(b), full, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", false, fmt.Errorf("config: read %s: %w", full, err)
		}
	}
	return nil, "", false, nil
}

// ReadPackageMap reads an existing .package-map.json at prefix, if any.
func ReadPackageMap(prefix string) (*pkgmap.Map, bool, error) {
	m := &pkgmap.Map{}
	ok, err := ReadJSON(joinPrefix(prefix, PackageMapFile), m, true)
	if err != nil || !ok {
		return nil, false, err
	}
	return m, true, nil
}

// WritePackageMap canonicalises m (via pkg/jsoncanon, so repeated runs
// over an unchanged lockfile produce a byte-identical file, per spec.md
// §8 "Running the Orchestrator twice... produces an identical
// .package-map.json") and writes it to prefix/.package-map.json.
func WritePackageMap(prefix string, m *pkgmap.Map) error {
	canon, err := jsoncanon.Marshal(m)
	if err != nil {
		return fmt.Errorf("config: canonicalise package map: %w", err)
	}
	return os.WriteFile(joinPrefix(prefix, PackageMapFile), canon, 0o644)
}

func joinPrefix(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + string(os.PathSeparator) + name
}
