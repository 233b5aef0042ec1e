// Package gitfetch is the default collab.Fetcher/collab.ManifestResolver
// pair (SPEC_FULL.md §4.5 "ADDED"), adapted from the teacher's
// pkg/git clone/checkout/tag plumbing
// (_examples/jimitchavdadev-cppkg/pkg/git). Where the teacher resolved
// a C++ library straight to a working copy on disk, this package
// resolves a git remote + semver constraint to a concrete commit and
// streams that commit as a gzip tarball via `git archive`, the byte
// stream pkg/unpack's caller decompresses and unpacks. A dependency
// spec's "name" here is taken to be its git clone URL, the natural
// analogue in a domain with no package registry (see DESIGN.md).
package gitfetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"storepm/pkg/digest"
)

// Client resolves and fetches packages from git remotes. A repo is
// cloned once into CacheDir and reused across Resolve/TarballStream
// calls for the same URL, mirroring the teacher's pkgCachePath reuse
// in installPackage.
type Client struct {
	CacheDir string
	Progress io.Writer

	mu     sync.Mutex
	cloned map[string]bool
}

// New returns a Client caching clones under cacheDir/repos.
func New(cacheDir string) *Client {
	return &Client{CacheDir: cacheDir, cloned: make(map[string]bool)}
}

func (c *Client) repoDir(url string) string {
	h := digest.SHA256Bytes([]byte(url))
	return filepath.Join(c.CacheDir, "repos", fmt.Sprintf("%x", h.Sum))
}

func (c *Client) ensureCloned(ctx context.Context, url string) (string, error) {
	dir := c.repoDir(url)

	c.mu.Lock()
	already := c.cloned[url]
	c.mu.Unlock()
	if already {
		return dir, nil
	}

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		c.mu.Lock()
		c.cloned[url] = true
		c.mu.Unlock()
		return dir, fetchAll(ctx, dir)
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", fmt.Errorf("gitfetch: prepare cache dir for %s: %w", url, err)
	}
	if err := clone(ctx, url, dir, c.Progress); err != nil {
		return "", fmt.Errorf("gitfetch: clone %s: %w", url, err)
	}
	c.mu.Lock()
	c.cloned[url] = true
	c.mu.Unlock()
	return dir, nil
}

// Resolve implements collab.ManifestResolver. name is the git clone
// URL; versionConstraint is either a semver range (resolved against
// the repo's tags, teacher's resolveVersion happy path) or a literal
// ref/commit (teacher's fallback branch when the constraint does not
// parse as semver). The returned resolved string is "<url>#<commit>".
// Git commits carry no content hash of their own, so integrity is left
// empty: callers needing one should route the tarball fetch through
// pkg/integrity.Gate, exactly as spec.md §4.5.2 describes for the
// "integrity still unknown" case.
func (c *Client) Resolve(ctx context.Context, name, versionConstraint string) (resolved string, integrity string, err error) {
	dir, err := c.ensureCloned(ctx, name)
	if err != nil {
		return "", "", err
	}

	constraint, parseErr := semver.NewConstraint(versionConstraint)
	if parseErr != nil {
		commit, err := revParse(ctx, dir, versionConstraint)
		if err != nil {
			return "", "", fmt.Errorf("gitfetch: %q is not a valid semver range and not a resolvable ref: %w", versionConstraint, err)
		}
		return name + "#" + commit, "", nil
	}

	tags, err := listTags(ctx, dir)
	if err != nil {
		return "", "", fmt.Errorf("gitfetch: list tags for %s: %w", name, err)
	}

	var best *semver.Version
	for _, tag := range tags {
		v, err := semver.NewVersion(tag)
		if err != nil || !constraint.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	if best == nil {
		return "", "", fmt.Errorf("gitfetch: no tag in %s satisfies constraint %q", name, versionConstraint)
	}

	commit, err := revParse(ctx, dir, "tags/"+best.Original())
	if err != nil {
		return "", "", fmt.Errorf("gitfetch: resolve commit for %s@%s: %w", name, best.Original(), err)
	}
	return name + "#" + commit, "", nil
}

// TarballStream implements collab.Fetcher. resolved is "<url>#<commit>"
// as produced by Resolve. The returned reader carries gzip-compressed
// tar bytes (`git archive --format=tar.gz`); the caller gunzips with
// klauspost/compress/gzip before handing the stream to pkg/unpack, per
// SPEC_FULL.md §4.2.
func (c *Client) TarballStream(ctx context.Context, resolved string) (io.ReadCloser, error) {
	url, commit, ok := strings.Cut(resolved, "#")
	if !ok {
		return nil, fmt.Errorf("gitfetch: malformed resolved reference %q", resolved)
	}
	dir, err := c.ensureCloned(ctx, url)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "git", "archive", "--format=tar.gz", commit)
	cmd.Dir = dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("gitfetch: archive %s@%s: %w", url, commit, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("gitfetch: archive %s@%s: %w", url, commit, err)
	}
	return &archiveStream{stdout: stdout, cmd: cmd}, nil
}

type archiveStream struct {
	stdout io.ReadCloser
	cmd    *exec.Cmd
}

func (a *archiveStream) Read(p []byte) (int, error) { return a.stdout.Read(p) }

func (a *archiveStream) Close() error {
	a.stdout.Close()
	return a.cmd.Wait()
}

func clone(ctx context.Context, url, dest string, progress io.Writer) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--progress", url, dest)
	if progress != nil {
		cmd.Stderr = progress
		return cmd.Run()
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, out)
	}
	return nil
}

func fetchAll(ctx context.Context, dir string) error {
	_, err := runGit(ctx, dir, "fetch", "--all", "--tags")
	return err
}

func listTags(ctx context.Context, dir string) ([]string, error) {
	out, err := runGit(ctx, dir, "tag", "-l")
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	tags := strings.Split(out, "\n")
	sort.Strings(tags)
	return tags, nil
}

func revParse(ctx context.Context, dir, ref string) (string, error) {
	if err := fetchAll(ctx, dir); err != nil {
		return "", err
	}
	return runGit(ctx, dir, "rev-parse", ref)
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out)), nil
}
