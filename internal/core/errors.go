package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatState      ErrorCategory = "state"      // State persistence
	ErrCatCheckpoint ErrorCategory = "checkpoint" // Checkpoint lifecycle
	ErrCatMemory     ErrorCategory = "memory"     // Episodic memory
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatGit        ErrorCategory = "git"        // Version-control adapter
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// Error codes.
const (
	CodeStateNotFound      = "STATE_NOT_FOUND"
	CodeStateValidation    = "STATE_VALIDATION"
	CodeCheckpointNotFound = "CHECKPOINT_NOT_FOUND"
	CodeCheckpointFailed   = "CHECKPOINT_FAILED"
	CodeRestoreFailed      = "RESTORE_FAILED"
	CodeEpisodeNotFound    = "EPISODE_NOT_FOUND"
	CodeMemoryQueryFailed  = "MEMORY_QUERY_FAILED"
	CodeNotRepository      = "NOT_GIT_REPO"
)

// DomainError is the common base of all typed errors so callers can catch
// broadly (category) or narrowly (code).
type DomainError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error
	Details  map[string]any
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on category and code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ErrStateNotFound reports a missing project; it carries the project id.
func ErrStateNotFound(projectID string) *DomainError {
	return &DomainError{
		Category: ErrCatState,
		Code:     CodeStateNotFound,
		Message:  fmt.Sprintf("no state for project %s", projectID),
		Details:  map[string]any{"project_id": projectID},
	}
}

// ErrStateValidation reports field-level validation failures.
func ErrStateValidation(fields []string) *DomainError {
	return &DomainError{
		Category: ErrCatValidation,
		Code:     CodeStateValidation,
		Message:  fmt.Sprintf("invalid state: %s", strings.Join(fields, "; ")),
		Details:  map[string]any{"fields": fields},
	}
}

// ErrCheckpointNotFound reports a missing checkpoint; it carries the id.
func ErrCheckpointNotFound(checkpointID string) *DomainError {
	return &DomainError{
		Category: ErrCatCheckpoint,
		Code:     CodeCheckpointNotFound,
		Message:  fmt.Sprintf("checkpoint not found: %s", checkpointID),
		Details:  map[string]any{"checkpoint_id": checkpointID},
	}
}

// ErrCheckpointFailed reports a checkpoint creation failure.
func ErrCheckpointFailed(message string) *DomainError {
	return &DomainError{
		Category: ErrCatCheckpoint,
		Code:     CodeCheckpointFailed,
		Message:  message,
	}
}

// ErrRestoreFailed reports a restore failure; it carries the checkpoint id
// and a human-readable reason.
func ErrRestoreFailed(checkpointID, reason string) *DomainError {
	return &DomainError{
		Category: ErrCatCheckpoint,
		Code:     CodeRestoreFailed,
		Message:  fmt.Sprintf("restoring checkpoint %s: %s", checkpointID, reason),
		Details:  map[string]any{"checkpoint_id": checkpointID, "reason": reason},
	}
}

// ErrEpisodeNotFound reports a missing episode; it carries the episode id.
func ErrEpisodeNotFound(episodeID string) *DomainError {
	return &DomainError{
		Category: ErrCatMemory,
		Code:     CodeEpisodeNotFound,
		Message:  fmt.Sprintf("episode not found: %s", episodeID),
		Details:  map[string]any{"episode_id": episodeID},
	}
}

// ErrMemoryQuery reports a failed memory query with its underlying cause.
func ErrMemoryQuery(message string, cause error) *DomainError {
	return &DomainError{
		Category: ErrCatMemory,
		Code:     CodeMemoryQueryFailed,
		Message:  message,
		Cause:    cause,
	}
}

// ErrNotRepository reports that a path is not a git repository.
func ErrNotRepository(path string) *DomainError {
	return &DomainError{
		Category: ErrCatGit,
		Code:     CodeNotRepository,
		Message:  fmt.Sprintf("%s is not a git repository", path),
	}
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsCode checks if an error carries a specific code.
func IsCode(err error, code string) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code == code
	}
	return false
}

// IsNotFound reports whether err is any of the not-found codes.
func IsNotFound(err error) bool {
	return IsCode(err, CodeStateNotFound) ||
		IsCode(err, CodeCheckpointNotFound) ||
		IsCode(err, CodeEpisodeNotFound)
}
