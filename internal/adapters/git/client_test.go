package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/nexus-orchestrator/nexus/internal/core"
)

func gitAvailable() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// initRepo creates a repository with one commit and returns its path.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}

	run("init")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "initial commit")
	return dir
}

func TestNewClientRejectsNonRepo(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not installed")
	}
	_, err := NewClient(t.TempDir())
	if !core.IsCode(err, core.CodeNotRepository) {
		t.Fatalf("expected not-a-repository error, got %v", err)
	}
}

func TestHeadAndLog(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not installed")
	}
	dir := initRepo(t)
	c, err := NewClient(dir)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	if !c.IsRepository(ctx) {
		t.Error("IsRepository = false for a repo")
	}

	head, err := c.Head(ctx)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if len(head) != 40 {
		t.Errorf("head = %q, want a full hash", head)
	}

	commits, err := c.Log(ctx, 5)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("got %d commits", len(commits))
	}
	if commits[0].Hash != head || commits[0].Message != "initial commit" {
		t.Errorf("commit = %+v", commits[0])
	}
	if commits[0].Author != "test" {
		t.Errorf("author = %q", commits[0].Author)
	}
	if commits[0].Date.IsZero() {
		t.Error("commit date not parsed")
	}
}

func TestCheckoutBranch(t *testing.T) {
	if !gitAvailable() {
		t.Skip("git not installed")
	}
	dir := initRepo(t)
	c, err := NewClient(dir)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	head, err := c.Head(ctx)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}

	// Detach onto the commit and come back.
	if err := c.CheckoutBranch(ctx, head); err != nil {
		t.Fatalf("CheckoutBranch(commit): %v", err)
	}
	branch, err := c.CurrentBranch(ctx)
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if branch != "HEAD" {
		t.Errorf("expected detached HEAD, got %q", branch)
	}

	if err := c.CheckoutBranch(ctx, "nope-does-not-exist"); err == nil {
		t.Error("checkout of missing ref should fail")
	}
}
