// Package gitvcs implements the VCS collaborator over the git CLI. Each Repo
// manages one bare mirror clone of one remote.
package gitvcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/target/muster/internal/core"
)

// Available reports whether the git binary can be found. Consulted once
// during backend capability negotiation.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// Repo is one local mirror of one remote git repository.
type Repo struct {
	remote string
	root   string
}

// NewRepo builds a Repo mirroring remote into root. Nothing touches the
// filesystem until CloneOrOpen.
func NewRepo(remote, root string) *Repo {
	return &Repo{remote: remote, root: root}
}

// Remote implements core.VCS.
func (r *Repo) Remote() string { return r.remote }

// Root implements core.VCS.
func (r *Repo) Root() string { return r.root }

// CloneOrOpen creates the bare mirror on first use.
func (r *Repo) CloneOrOpen(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(r.root, "HEAD")); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.root), 0o755); err != nil {
		return fmt.Errorf("create mirror parent dir: %w", err)
	}
	if _, err := runGit(ctx, "", "clone", "--mirror", r.remote, r.root); err != nil {
		return fmt.Errorf("clone %s: %w", r.remote, err)
	}
	return nil
}

// Fetch pulls the latest refs from the remote into the mirror.
func (r *Repo) Fetch(ctx context.Context) error {
	if _, err := runGit(ctx, r.root, "remote", "update", "--prune"); err != nil {
		return fmt.Errorf("fetch %s: %w", r.remote, err)
	}
	return nil
}

// ListRefs maps branch and tag names to commit ids.
func (r *Repo) ListRefs(ctx context.Context) (map[string]string, error) {
	out, err := runGit(ctx, r.root,
		"for-each-ref", "--format=%(refname:short) %(objectname)", "refs/heads", "refs/tags")
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	refs := make(map[string]string)
	for line := range strings.Lines(out) {
		name, rev, ok := strings.Cut(strings.TrimSpace(line), " ")
		if ok && name != "" {
			refs[name] = rev
		}
	}
	return refs, nil
}

// DefaultBranch reads the mirror's HEAD symref, which tracks the remote's
// default branch from clone time.
func (r *Repo) DefaultBranch(ctx context.Context) (string, error) {
	out, err := runGit(ctx, r.root, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("default branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// BlobHash returns the git blob id of path at revision. The blob id is the
// cheap, revision-addressed content hash used by the content cache freshness
// check.
func (r *Repo) BlobHash(ctx context.Context, revision, path string) (string, error) {
	out, err := runGit(ctx, r.root, "rev-parse", revision+":"+path)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", core.ErrBlobNotFound
		}
		return "", fmt.Errorf("blob hash: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ReadBlob writes the bytes of path at revision to dst.
func (r *Repo) ReadBlob(ctx context.Context, revision, path, dst string) error {
	cmd := exec.CommandContext(ctx, "git", "cat-file", "blob", revision+":"+path)
	cmd.Dir = r.root

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open blob destination: %w", err)
	}
	defer f.Close()

	var stderr bytes.Buffer
	cmd.Stdout = f
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return core.ErrBlobNotFound
		}
		return fmt.Errorf("cat-file %s:%s: %w (%s)", revision, path, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ListTree returns every file path reachable at revision.
func (r *Repo) ListTree(ctx context.Context, revision string) ([]string, error) {
	out, err := runGit(ctx, r.root, "ls-tree", "-r", "--name-only", revision)
	if err != nil {
		return nil, fmt.Errorf("list tree: %w", err)
	}
	var files []string
	for line := range strings.Lines(out) {
		if f := strings.TrimSpace(line); f != "" {
			files = append(files, f)
		}
	}
	return files, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), nil
}
