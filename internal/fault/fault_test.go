package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapChain(t *testing.T) {
	base := Wrap(KindTransient, "connect", errors.New("dial tcp: refused"))
	wrapped := fmt.Errorf("cleanup pass: %w", base)

	if got := KindOf(wrapped); got != KindTransient {
		t.Fatalf("KindOf=%v want transient", got)
	}
	if !Retryable(wrapped) {
		t.Fatal("transient error should be retryable")
	}
}

func TestTamperNeverRetryable(t *testing.T) {
	err := TamperDetected("auth tag mismatch")
	if Retryable(err) {
		t.Fatal("tamper detection must not be retryable")
	}
	if !IsKind(err, KindTamperDetected) {
		t.Fatalf("kind=%v want tamper_detected", KindOf(err))
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("KindOf(plain)=%v want unknown", got)
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap(KindNotFound, "x", nil); err != nil {
		t.Fatalf("Wrap(nil)=%v want nil", err)
	}
}

func TestKindStrings(t *testing.T) {
	cases := map[Kind]string{
		KindNotFound:       "not_found",
		KindInvalidState:   "invalid_state",
		KindAuthFailure:    "auth_failure",
		KindTamperDetected: "tamper_detected",
		KindConflict:       "conflict",
		KindTransient:      "transient",
		KindUnknown:        "unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Fatalf("Kind(%d).String()=%q want %q", kind, got, want)
		}
	}
}
