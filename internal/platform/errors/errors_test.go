package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "error with cause",
			err: Wrap(KindConfig, "load", "failed to load config",
				errors.New("file not found")),
			contains: []string{"[config:load]", "failed to load config", "file not found"},
		},
		{
			name:     "error without cause",
			err:      New(KindSession, "request", "session expired"),
			contains: []string{"[session:request]", "session expired"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				if !strings.Contains(errStr, substr) {
					t.Errorf("error string %q does not contain %q", errStr, substr)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := Wrap(KindNetwork, "send", "wrapped", originalErr)

	if !errors.Is(wrappedErr, originalErr) {
		t.Error("Unwrap should return the original error")
	}
}

func TestIsKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		expected bool
	}{
		{
			name:     "direct error kind match",
			err:      New(KindConfig, "test", "message"),
			kind:     KindConfig,
			expected: true,
		},
		{
			name:     "wrapped error kind match",
			err:      Wrap(KindServer, "test", "message", errors.New("cause")),
			kind:     KindServer,
			expected: true,
		},
		{
			name:     "error kind mismatch",
			err:      New(KindConfig, "test", "message"),
			kind:     KindServer,
			expected: false,
		},
		{
			name:     "non-typed error",
			err:      errors.New("plain error"),
			kind:     KindConfig,
			expected: false,
		},
		{
			name:     "typed error behind fmt wrapping",
			err:      fmt.Errorf("outer: %w", New(KindRefresh, "refresh", "invalid_grant")),
			kind:     KindRefresh,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsKind(tt.err, tt.kind)
			if result != tt.expected {
				t.Errorf("IsKind() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

func TestTaxonomyHelpers(t *testing.T) {
	refreshErr := New(KindRefresh, "refresh", "invalid_grant")
	if !IsRefreshFailure(refreshErr) {
		t.Error("expected refresh failure")
	}
	if !IsSessionExpired(refreshErr) {
		t.Error("refresh failure implies an expired session")
	}

	netErr := Wrap(KindNetwork, "send", "no response", errors.New("dial tcp: refused"))
	if !IsNetworkFailure(netErr) {
		t.Error("expected network failure")
	}
	if IsSessionExpired(netErr) {
		t.Error("network failure is not a session failure")
	}
}
