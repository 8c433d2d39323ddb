package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrStateNotFoundCarriesProjectID(t *testing.T) {
	err := ErrStateNotFound("proj-1")

	if err.Details["project_id"] != "proj-1" {
		t.Errorf("Details[project_id] = %v, want proj-1", err.Details["project_id"])
	}
	if !IsCode(err, CodeStateNotFound) {
		t.Error("IsCode(CodeStateNotFound) should be true")
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound should be true")
	}
}

func TestErrStateValidationCarriesFields(t *testing.T) {
	err := ErrStateValidation([]string{"name: required", "mode: invalid"})

	fields, ok := err.Details["fields"].([]string)
	if !ok || len(fields) != 2 {
		t.Fatalf("Details[fields] = %v, want two messages", err.Details["fields"])
	}
	if GetCategory(err) != ErrCatValidation {
		t.Errorf("GetCategory() = %v, want %v", GetCategory(err), ErrCatValidation)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := ErrMemoryQuery("loading candidates", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}

	var domErr *DomainError
	wrapped := fmt.Errorf("outer: %w", err)
	if !errors.As(wrapped, &domErr) {
		t.Fatal("errors.As should find the DomainError through wrapping")
	}
	if domErr.Code != CodeMemoryQueryFailed {
		t.Errorf("Code = %q, want %q", domErr.Code, CodeMemoryQueryFailed)
	}
}

func TestDomainErrorIsMatchesCategoryAndCode(t *testing.T) {
	a := ErrCheckpointNotFound("c1")
	b := ErrCheckpointNotFound("c2")
	if !errors.Is(a, b) {
		t.Error("two checkpoint-not-found errors should match via errors.Is")
	}
	if errors.Is(a, ErrStateNotFound("p")) {
		t.Error("different codes should not match")
	}
}

func TestGetCategoryDefaultsToInternal(t *testing.T) {
	if got := GetCategory(errors.New("plain")); got != ErrCatInternal {
		t.Errorf("GetCategory(plain error) = %v, want internal", got)
	}
}

func TestErrRestoreFailedDetails(t *testing.T) {
	err := ErrRestoreFailed("chk-9", "git checkout failed")
	if err.Details["checkpoint_id"] != "chk-9" {
		t.Errorf("missing checkpoint id detail: %v", err.Details)
	}
	if err.Details["reason"] != "git checkout failed" {
		t.Errorf("missing reason detail: %v", err.Details)
	}
}
