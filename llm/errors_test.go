// ABOUTME: Tests for error classification: status-code mapping, retryability rules, and network error classes.
package llm

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestErrorFromStatusCodeRetryability(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{401, false},
		{422, false},
		{429, true},
		{500, false},
		{502, false},
		{503, true},
		{504, false},
	}
	for _, tc := range cases {
		err := ErrorFromStatusCode(tc.status, "boom", "test", "")
		if got := IsRetryable(err); got != tc.retryable {
			t.Errorf("status %d: IsRetryable = %v, want %v", tc.status, got, tc.retryable)
		}
	}
}

func TestErrorFromStatusCodeTypes(t *testing.T) {
	var rl *RateLimitError
	if !errors.As(ErrorFromStatusCode(429, "x", "test", ""), &rl) {
		t.Error("429 should map to RateLimitError")
	}

	var srv *ServerError
	if !errors.As(ErrorFromStatusCode(503, "x", "test", ""), &srv) {
		t.Error("503 should map to ServerError")
	}

	var auth *AuthenticationError
	if !errors.As(ErrorFromStatusCode(401, "x", "test", ""), &auth) {
		t.Error("401 should map to AuthenticationError")
	}
}

func TestClassifyNetworkError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		code      NetworkErrorCode
		retryable bool
	}{
		{"dns", &net.DNSError{Name: "api.example", IsNotFound: true}, NetworkDNSNotFound, true},
		{"timeout", &net.DNSError{Name: "api.example", IsTimeout: true}, NetworkTimeout, true},
		{"reset", fmt.Errorf("write: %w", syscall.ECONNRESET), NetworkConnectionReset, true},
		{"other", errors.New("tls handshake rejected"), NetworkOther, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			classified := ClassifyNetworkError(tc.err)
			var ne *NetworkError
			if !errors.As(classified, &ne) {
				t.Fatalf("expected NetworkError, got %T", classified)
			}
			if ne.Code != tc.code {
				t.Errorf("code = %s, want %s", ne.Code, tc.code)
			}
			if IsRetryable(classified) != tc.retryable {
				t.Errorf("IsRetryable = %v, want %v", IsRetryable(classified), tc.retryable)
			}
		})
	}
}

func TestWrappedErrorsStayClassified(t *testing.T) {
	inner := ErrorFromStatusCode(429, "rate limited", "test", "")
	wrapped := fmt.Errorf("planner call failed: %w", inner)
	if !IsRetryable(wrapped) {
		t.Error("retryability should survive fmt.Errorf wrapping")
	}
}
