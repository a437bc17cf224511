package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindFollowsWrappedSentinel(t *testing.T) {
	cases := map[string]error{
		"not_configured":           fmt.Errorf("%w: bucket missing", ErrNotConfigured),
		"protocol":                 fmt.Errorf("upload: %w", fmt.Errorf("%w: no session url", ErrProtocol)),
		"timeout":                  ErrTimeout,
		"remote_processing_failed": fmt.Errorf("%w: files/abc", ErrRemoteProcessingFailed),
		"invalid_input":            fmt.Errorf("%w: message is required", ErrInvalidInput),
		"unknown":                  errors.New("boom"),
	}
	for want, err := range cases {
		if got := Kind(err); got != want {
			t.Fatalf("Kind(%v) = %q, want %q", err, got, want)
		}
	}
	if Kind(nil) != "" {
		t.Fatalf("expected empty kind for nil error")
	}
}
