// Package git wraps the git CLI for the checkpoint manager: resolving
// HEAD at capture time and moving the working tree on restore.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nexus-orchestrator/nexus/internal/core"
)

// Client runs git commands in a fixed repository path.
type Client struct {
	repoPath string
	timeout  time.Duration
}

// NewClient creates a git client rooted at repoPath and verifies the
// path is inside a repository.
func NewClient(repoPath string) (*Client, error) {
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	c := &Client{
		repoPath: absPath,
		timeout:  30 * time.Second,
	}
	if _, err := c.run(context.Background(), "rev-parse", "--git-dir"); err != nil {
		return nil, core.ErrNotRepository(absPath)
	}
	return c, nil
}

// run executes one git command in the repository.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s timed out after %s", strings.Join(args, " "), c.timeout)
		}
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), stderr.String(), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsRepository reports whether the path is inside a git repository.
func (c *Client) IsRepository(ctx context.Context) bool {
	_, err := c.run(ctx, "rev-parse", "--git-dir")
	return err == nil
}

// Head returns the current commit hash.
func (c *Client) Head(ctx context.Context) (string, error) {
	return c.run(ctx, "rev-parse", "HEAD")
}

// CurrentBranch returns the current branch name.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	return c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// Log returns the most recent commits, newest first.
func (c *Client) Log(ctx context.Context, count int) ([]core.Commit, error) {
	if count <= 0 {
		count = 10
	}
	output, err := c.run(ctx, "log",
		fmt.Sprintf("-%d", count),
		"--format=%H|%an|%s|%cI")
	if err != nil {
		return nil, err
	}

	commits := make([]core.Commit, 0, count)
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		date, err := time.Parse(time.RFC3339, parts[3])
		if err != nil {
			date = time.Time{}
		}
		commits = append(commits, core.Commit{
			Hash:    parts[0],
			Author:  parts[1],
			Message: parts[2],
			Date:    date,
		})
	}
	return commits, nil
}

// CheckoutBranch checks out a branch, tag, or commit.
func (c *Client) CheckoutBranch(ctx context.Context, ref string) error {
	_, err := c.run(ctx, "checkout", ref)
	return err
}

var _ core.GitClient = (*Client)(nil)
