package stt

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsFatalCloseCode(t *testing.T) {
	fatal := map[int]bool{1002: true, 1003: true, 1007: true, 1008: true}
	for code := 1000; code <= 1015; code++ {
		if got := IsFatalCloseCode(code); got != fatal[code] {
			t.Errorf("IsFatalCloseCode(%d) = %v, want %v", code, got, fatal[code])
		}
	}
	if IsFatalCloseCode(4000) {
		t.Error("application codes should be retryable")
	}
}

func TestCloseCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("read: %w", &CloseError{Code: 1008, Reason: "bad token"})
	if code, reason := CloseCodeOf(wrapped); code != 1008 || reason != "bad token" {
		t.Errorf("expected 1008/bad token, got %d/%s", code, reason)
	}

	if code, _ := CloseCodeOf(errors.New("connection reset")); code != CloseAbnormal {
		t.Errorf("expected abnormal closure for plain errors, got %d", code)
	}

	if code, _ := CloseCodeOf(nil); code != CloseNormal {
		t.Errorf("expected normal closure for nil, got %d", code)
	}
}

func TestCloseError_Message(t *testing.T) {
	err := &CloseError{Code: 1011, Reason: "internal"}
	if err.Error() != "socket closed (code=1011 reason=internal)" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if (&CloseError{Code: 1006}).Error() != "socket closed (code=1006)" {
		t.Error("unexpected message without reason")
	}
}
