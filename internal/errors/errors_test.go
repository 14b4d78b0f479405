package errors

import (
	"fmt"
	"testing"
)

func TestSeverityOfFollowsRegistryAndOverride(t *testing.T) {
	if got := SeverityOf(New(CodeStorageFailure, "")); got != SeverityCritical {
		t.Fatalf("expected critical severity from the registry, got %s", got)
	}
	overridden := New(CodeStorageFailure, "", WithSeverity(SeverityInfo))
	if got := SeverityOf(overridden); got != SeverityInfo {
		t.Fatalf("expected the per-error override, got %s", got)
	}
	// 非统一错误类型退回 UNKNOWN 的属性。
	if got := SeverityOf(fmt.Errorf("plain")); got != SeverityCritical {
		t.Fatalf("expected the UNKNOWN fallback, got %s", got)
	}
}

func TestShouldAlertFollowsRegistryAndOverride(t *testing.T) {
	if !ShouldAlert(New(CodeGuardrailRefused, "")) {
		t.Fatalf("guardrail refusals must alert by default")
	}
	if ShouldAlert(New(CodeInvalidArgument, "")) {
		t.Fatalf("invalid arguments must not alert")
	}
	muted := New(CodeGuardrailRefused, "", WithAlert(false))
	if ShouldAlert(muted) {
		t.Fatalf("expected the per-error override to mute the alert")
	}
	if ShouldAlert(nil) {
		t.Fatalf("nil error must not alert")
	}
}

func TestSeverityOfWrappedError(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	wrapped := fmt.Errorf("dial: %w", Wrap(CodeUnavailable, cause, ""))
	if got := SeverityOf(wrapped); got != SeverityWarning {
		t.Fatalf("expected warning through the wrap chain, got %s", got)
	}
	if !ShouldAlert(wrapped) {
		t.Fatalf("unavailable errors must alert through the wrap chain")
	}
}
