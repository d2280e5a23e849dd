package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCauseAndCode(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := Wrap(CodeStorageFailure, cause, "保存动作记录失败", WithMetadata("table", "actions"))

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if !stdErrors.Is(err, New(CodeStorageFailure, "")) {
		t.Fatalf("expected errors.Is to match by code")
	}
	if stdErrors.Is(err, New(CodeTimeout, "")) {
		t.Fatalf("did not expect match on a different code")
	}
	if got := err.Metadata()["table"]; got != "actions" {
		t.Fatalf("unexpected metadata: %q", got)
	}
	if err.Severity() != SeverityCritical {
		t.Fatalf("unexpected severity: %s", err.Severity())
	}
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityInfo})

	err := New(code, "")
	if err.Message() != "custom" {
		t.Fatalf("expected default message from registry, got %q", err.Message())
	}
	if err.ShouldAlert() {
		t.Fatalf("custom code should not alert")
	}
}

func TestCodeOfAndPublicMessage(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(CodeNotFound, "session missing"))
	if CodeOf(wrapped) != CodeNotFound {
		t.Fatalf("unexpected code: %s", CodeOf(wrapped))
	}
	if PublicMessage(wrapped) != "session missing" {
		t.Fatalf("unexpected public message: %q", PublicMessage(wrapped))
	}
	if PublicMessage(stdErrors.New("raw")) != "unknown error" {
		t.Fatalf("raw errors must not leak their text")
	}
	if CodeOf(nil) != CodeUnknown {
		t.Fatalf("nil error should map to UNKNOWN")
	}
}
