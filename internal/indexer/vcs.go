package indexer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const gitTimeout = 30 * time.Second

// runGit runs git in dir and returns trimmed stdout
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// GitHead returns the HEAD commit of the work tree containing dir.
// It returns "" without error when dir is not in a git work tree or git is
// not installed.
func GitHead(ctx context.Context, dir string) string {
	inside, err := runGit(ctx, dir, "rev-parse", "--is-inside-work-tree")
	if err != nil || inside != "true" {
		return ""
	}
	head, err := runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return head
}

// GitChangedSince lists files added, copied, modified or renamed between
// since and HEAD, relative to the repository top level
func GitChangedSince(ctx context.Context, dir, since string) ([]string, error) {
	out, err := runGit(ctx, dir, "diff", "--name-only", "--diff-filter=ACMR", since+"..HEAD")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// GitPrefix returns the path of dir relative to the repository top level,
// with a trailing slash, or "" at the top level
func GitPrefix(ctx context.Context, dir string) (string, error) {
	return runGit(ctx, dir, "rev-parse", "--show-prefix")
}
