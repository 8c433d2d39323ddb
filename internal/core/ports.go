package core

import (
	"context"
	"time"
)

// Commit is one entry in the version-control log.
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
}

// GitClient is the narrow shape of the version-control adapter consumed by
// the checkpoint manager. Implementations live outside the core.
type GitClient interface {
	// IsRepository reports whether the working directory is a git repo.
	IsRepository(ctx context.Context) bool

	// Head returns the current commit hash.
	Head(ctx context.Context) (string, error)

	// Log returns the most recent commits, newest first.
	Log(ctx context.Context, count int) ([]Commit, error)

	// CheckoutBranch checks out a branch, tag, or commit.
	CheckoutBranch(ctx context.Context, ref string) error
}

// Embedder generates embedding vectors for text. Failures must be
// catchable and non-fatal to callers: the memory system degrades to
// keyword-free storage rather than refusing the write.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ReviewRequest asks a human to look at an escalated task.
type ReviewRequest struct {
	TaskID    string         `json:"task_id"`
	ProjectID string         `json:"project_id"`
	Reason    string         `json:"reason"`
	Context   map[string]any `json:"context,omitempty"`
}

// Review is the record produced for a review request.
type Review struct {
	ID         string         `json:"id"`
	TaskID     string         `json:"task_id"`
	ProjectID  string         `json:"project_id"`
	Reason     string         `json:"reason"`
	Context    map[string]any `json:"context,omitempty"`
	Status     string         `json:"status"`
	Resolution string         `json:"resolution,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Reviewer is the human-review collaborator.
type Reviewer interface {
	RequestReview(ctx context.Context, req ReviewRequest) (*Review, error)
}
