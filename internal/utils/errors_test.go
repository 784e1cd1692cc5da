package utils

import (
	"errors"
	"testing"
)

func TestAppErrorWrapsSentinel(t *testing.T) {
	sentinel := errors.New("missing")
	err := NewAppError("store.get", "record lookup failed", sentinel)

	if !errors.Is(err, sentinel) {
		t.Fatal("wrapped sentinel must survive errors.Is")
	}
	want := "store.get: record lookup failed: missing"
	if got := err.Error(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestAppErrorWithoutCause(t *testing.T) {
	err := NewAppError("triage.status", "status read failed", nil)
	want := "triage.status: status read failed"
	if got := err.Error(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestOp(t *testing.T) {
	err := NewAppError("evidence.search", "backend down", errors.New("dial tcp"))
	if got := Op(err); got != "evidence.search" {
		t.Fatalf("expected op evidence.search, got %q", got)
	}
	if got := Op(errors.New("plain")); got != "" {
		t.Fatalf("expected empty op for a plain error, got %q", got)
	}
}
