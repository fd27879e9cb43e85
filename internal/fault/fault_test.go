package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestClassifyStatuses verifies HTTP status mapping.
func TestClassifyStatuses(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
		auth      bool
		isNil     bool
	}{
		{status: 200, isNil: true},
		{status: 403, auth: true},
		{status: 401, auth: true},
		{status: 429, retryable: true},
		{status: 503, retryable: true},
		{status: 408, retryable: true},
		{status: 400},
		{status: 404},
	}
	for _, tc := range cases {
		err := Classify("query", tc.status, nil)
		if tc.isNil {
			if err != nil {
				t.Fatalf("status %d: expected nil, got %v", tc.status, err)
			}
			continue
		}
		if got := IsRetryable(err); got != tc.retryable {
			t.Fatalf("status %d: expected retryable=%v, got %v", tc.status, tc.retryable, got)
		}
		if got := IsAuthorization(err); got != tc.auth {
			t.Fatalf("status %d: expected auth=%v, got %v", tc.status, tc.auth, got)
		}
	}
}

// TestClassifyStatusOverridesBody verifies a response status is not
// reinterpreted from words in its body.
func TestClassifyStatusOverridesBody(t *testing.T) {
	err := Classify("query agent", 403, errors.New("set a quota project and authorize the agent"))
	if !IsAuthorization(err) || IsRetryable(err) {
		t.Fatalf("expected authorization error, got %T %v", err, err)
	}
	var auth *AuthorizationError
	if !errors.As(err, &auth) || len(auth.Remediation) == 0 {
		t.Fatalf("expected remediation steps, got %v", err)
	}
	err = Classify("query agent", 400, errors.New("invalid JSON: unexpected EOF"))
	var nonRetryable *NonRetryableError
	if !errors.As(err, &nonRetryable) || IsRetryable(err) {
		t.Fatalf("expected non-retryable error, got %T %v", err, err)
	}
	if !IsRetryable(Classify("query agent", 0, errors.New("unexpected EOF"))) {
		t.Fatalf("expected transport EOF to stay retryable")
	}
}

// TestClassifyTransportErrors verifies timeouts and connection errors are transient.
func TestClassifyTransportErrors(t *testing.T) {
	if !IsRetryable(Classify("query", 0, context.DeadlineExceeded)) {
		t.Fatalf("expected deadline to be retryable")
	}
	if !IsRetryable(Classify("query", 0, errors.New("dial tcp: connection refused"))) {
		t.Fatalf("expected connection refused to be retryable")
	}
	if IsRetryable(Classify("query", 0, errors.New("bad payload"))) {
		t.Fatalf("expected unknown error to be non-retryable")
	}
	if err := Classify("query", 0, context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to pass through, got %v", err)
	}
}

// TestIsFatal verifies which errors stop a run.
func TestIsFatal(t *testing.T) {
	wrapped := fmt.Errorf("apply: %w", &DeploymentError{Attempts: 3, Err: errors.New("boom")})
	if !IsFatal(wrapped) {
		t.Fatalf("expected deployment error to be fatal")
	}
	if !IsFatal(&AuthorizationError{Status: 403}) {
		t.Fatalf("expected authorization error to be fatal")
	}
	if IsFatal(&ValidationRejected{Reasons: []string{"too short"}}) {
		t.Fatalf("expected validation rejection to be non-fatal")
	}
	if IsFatal(&TransientError{}) {
		t.Fatalf("expected transient error to be non-fatal")
	}
}
