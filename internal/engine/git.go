package engine

import (
	"context"
	"strings"
	"time"
)

// Git drives the git CLI for source-built services. Directory-scoped
// operations use git -C so the Runner stays working-directory free.
type Git struct {
	run Runner
}

func NewGit(r Runner) *Git { return &Git{run: r} }

// Installed reports whether the git binary is on PATH.
func (g *Git) Installed(ctx context.Context) bool {
	_, err := g.run.Run(ctx, "git", "--version")
	return err == nil
}

// IsRepo probes whether url points at a reachable git repository.
func (g *Git) IsRepo(ctx context.Context, url string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := g.run.Run(probeCtx, "git", "ls-remote", url)
	return err == nil
}

// Clone checks out url into dir.
func (g *Git) Clone(ctx context.Context, url, dir string) error {
	_, err := g.run.Run(ctx, "git", "clone", url, dir)
	return err
}

// Fetch updates remote tracking refs for the clone in dir.
func (g *Git) Fetch(ctx context.Context, dir string) error {
	_, err := g.run.Run(ctx, "git", "-C", dir, "fetch")
	return err
}

// Head returns the local HEAD commit hash.
func (g *Git) Head(ctx context.Context, dir string) (string, error) {
	out, err := g.run.Run(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Upstream returns the upstream commit hash for the current branch.
func (g *Git) Upstream(ctx context.Context, dir string) (string, error) {
	out, err := g.run.Run(ctx, "git", "-C", dir, "rev-parse", "@{u}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ResetToUpstream discards local state and moves the clone to the
// upstream head. Clones are disposable build inputs, never a place for
// local edits.
func (g *Git) ResetToUpstream(ctx context.Context, dir string) error {
	_, err := g.run.Run(ctx, "git", "-C", dir, "reset", "--hard", "@{u}")
	return err
}
