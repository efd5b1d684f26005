package logic

import (
	"errors"
	"fmt"
	"testing"
)

func TestShouldAllow(t *testing.T) {
	storeErr := fmt.Errorf("increment: %w", ErrStoreUnavailable)

	if !ShouldAllow(FailClosed, nil) {
		t.Error("nil error should always allow")
	}
	if !ShouldAllow(FailOpen, storeErr) {
		t.Error("fail open should allow on error")
	}
	if ShouldAllow(FailClosed, storeErr) {
		t.Error("fail closed should deny on error")
	}
	if !errors.Is(storeErr, ErrStoreUnavailable) {
		t.Error("wrapped error lost its sentinel")
	}
}

func TestParseFailureMode(t *testing.T) {
	if ParseFailureMode("FAIL_CLOSED") != FailClosed {
		t.Error("expected fail_closed")
	}
	if ParseFailureMode("") != FailOpen || ParseFailureMode("bogus") != FailOpen {
		t.Error("expected fail_open default")
	}
}
