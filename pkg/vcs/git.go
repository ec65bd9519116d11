// Package vcs wraps the git operations the ceremony orchestrator needs for
// its atomic record phase: read the head, commit, and hard-reset on rollback.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// commandTimeout bounds every git invocation so a hung git process cannot
// stall a ceremony indefinitely.
const commandTimeout = 30 * time.Second

// Git runs git commands in a fixed working directory.
type Git struct {
	dir string
}

// New creates a git wrapper rooted at dir.
func New(dir string) *Git {
	return &Git{dir: dir}
}

// IsRepo reports whether dir is inside a git work tree.
func (g *Git) IsRepo(ctx context.Context) bool {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// HeadSHA returns the current HEAD commit hash.
func (g *Git) HeadSHA(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// CommitAll stages everything and commits with the given message.
func (g *Git) CommitAll(ctx context.Context, message string) error {
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("git add failed: %w", err)
	}
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return fmt.Errorf("git commit failed: %w", err)
	}
	return nil
}

// ResetHard moves the work tree back to the given commit, discarding
// everything after it.
func (g *Git) ResetHard(ctx context.Context, sha string) error {
	if _, err := g.run(ctx, "reset", "--hard", sha); err != nil {
		return fmt.Errorf("git reset failed: %w", err)
	}
	return nil
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
