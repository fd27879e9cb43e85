// Package fault defines the error taxonomy shared by the evaluator, the
// deployer and the optimization controller.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TransientError is a timeout, rate limit or connection problem worth retrying.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	return describe("transient", e.Op, e.Status, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NonRetryableError is a remote logic error; retrying will not help.
type NonRetryableError struct {
	Op     string
	Status int
	Err    error
}

func (e *NonRetryableError) Error() string {
	return describe("non-retryable", e.Op, e.Status, e.Err)
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

// AuthorizationError means the remote agent needs consent or credentials.
type AuthorizationError struct {
	Op          string
	Status      int
	Message     string
	Remediation []string
}

func (e *AuthorizationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "authorization required"
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, msg, e.Status)
	}
	return fmt.Sprintf("%s (status %d)", msg, e.Status)
}

// DefaultRemediation lists the steps shown when the agent rejects a call with 401/403.
var DefaultRemediation = []string{
	"Open the agent in the console and authorize it for the data sources it queries.",
	"Confirm the token in the configured environment variable is valid and not expired.",
	"Re-run the command; resume with --resume to keep the existing trajectory.",
}

// ValidationRejected reports that a candidate configuration failed a gate.
type ValidationRejected struct {
	Reasons []string
}

func (e *ValidationRejected) Error() string {
	return "candidate rejected: " + strings.Join(e.Reasons, "; ")
}

// DeploymentError reports that applying a configuration failed after retries.
type DeploymentError struct {
	Attempts int
	Err      error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deployment failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *DeploymentError) Unwrap() error { return e.Err }

// RegressionDetected is the rollback signal. It is not an error.
type RegressionDetected struct {
	Iteration     int
	Accuracy      float64
	BestIteration int
	BestAccuracy  float64
	Threshold     float64
}

func (r RegressionDetected) String() string {
	return fmt.Sprintf("iteration %d accuracy %.1f%% is below best %.1f%% (iteration %d) by more than %.1fpp",
		r.Iteration, r.Accuracy, r.BestAccuracy, r.BestIteration, r.Threshold)
}

func describe(kind, op string, status int, err error) string {
	var b strings.Builder
	if op != "" {
		b.WriteString(op)
		b.WriteString(": ")
	}
	b.WriteString(kind)
	if status != 0 {
		fmt.Fprintf(&b, " (status %d)", status)
	}
	if err != nil {
		b.WriteString(": ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsAuthorization reports whether err requires operator action.
func IsAuthorization(err error) bool {
	var auth *AuthorizationError
	return errors.As(err, &auth)
}

// IsFatal reports whether err must stop the optimization run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var deploy *DeploymentError
	return IsAuthorization(err) || errors.As(err, &deploy)
}

// Classify maps an HTTP status (0 when no response) and transport error into
// the taxonomy. A response status decides on its own; err only matters when
// there was no response. A nil result means the call succeeded.
func Classify(op string, status int, err error) error {
	if err != nil && errors.Is(err, context.Canceled) {
		return err
	}
	if status == 0 {
		return classifyTransport(op, err)
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		return &AuthorizationError{Op: op, Status: status, Message: msg, Remediation: DefaultRemediation}
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Op: op, Status: status, Err: err}
	default:
		return &NonRetryableError{Op: op, Status: status, Err: err}
	}
}

func classifyTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TransientError{Op: op, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) || isConnectionMessage(err.Error()) {
		return &TransientError{Op: op, Err: err}
	}
	return &NonRetryableError{Op: op, Err: err}
}

func isConnectionMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{"connection refused", "connection reset", "broken pipe", "eof", "quota", "rate limit"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
