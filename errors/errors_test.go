package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestNewAddsCallerLocation(t *testing.T) {
	err := New("port %d taken", 80)
	if !strings.HasPrefix(err.Error(), "[errors_test.go:") {
		t.Fatalf("expected caller prefix, got %q", err.Error())
	}
	if !strings.HasSuffix(err.Error(), "port 80 taken") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestWrapfKeepsCause(t *testing.T) {
	if Wrapf(nil, "nothing") != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}

	wrapped := Wrapf(fmt.Errorf("outer: %w", ErrProcessUnavailable), "submitting %s", "RunCommand")
	if !Is(wrapped, ErrProcessUnavailable) {
		t.Fatalf("expected wrapped error to match sentinel, got %v", wrapped)
	}
	if !strings.Contains(wrapped.Error(), "submitting RunCommand") {
		t.Fatalf("missing context in %q", wrapped.Error())
	}
	if !strings.HasPrefix(wrapped.Error(), "[errors_test.go:") {
		t.Fatalf("expected caller prefix, got %q", wrapped.Error())
	}
}
