package remote

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"diaharness/internal/agentconf"
	"diaharness/internal/fault"
	"diaharness/internal/remote/mockagent"
	"diaharness/internal/retry"
	"diaharness/internal/suite"
	"diaharness/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var cases = []suite.TestCase{
	{ID: "q1", Question: "How many orders?", Expected: "SELECT COUNT(*) FROM orders"},
	{ID: "q2", Question: "Total revenue", Expected: "SELECT SUM(price * quantity) FROM orders"},
}

func startMock(t *testing.T, opts mockagent.Options) (*mockagent.Server, *Agent) {
	t.Helper()
	srv := mockagent.New(agentconf.Configuration{Instructions: "seed"}, cases, opts, nil)
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(server.Close)
	agent, err := NewAgent(server.URL+"/", opts.Token, server.Client())
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return srv, agent
}

func TestNewAgentRequiresEndpoint(t *testing.T) {
	if _, err := NewAgent("  ", "", nil); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}

func TestExecute(t *testing.T) {
	_, agent := startMock(t, mockagent.Options{Known: 1, Token: "tok"})
	ctx := testutil.Context(t, 0)
	sql, err := agent.Execute(ctx, "How many orders?")
	if err != nil || sql != cases[0].Expected {
		t.Fatalf("expected known answer, got %q err=%v", sql, err)
	}
	sql, err = agent.Execute(ctx, "Total revenue")
	if err != nil || sql != mockagent.WrongAnswer {
		t.Fatalf("expected wrong answer, got %q err=%v", sql, err)
	}
}

func TestExecuteClassifiesStatus(t *testing.T) {
	ctx := testutil.Context(t, 0)

	_, agent := startMock(t, mockagent.Options{Forbidden: true})
	_, err := agent.Execute(ctx, "How many orders?")
	var auth *fault.AuthorizationError
	if !errors.As(err, &auth) || auth.Status != http.StatusForbidden || len(auth.Remediation) == 0 {
		t.Fatalf("expected 403 authorization error with remediation, got %v", err)
	}

	_, agent = startMock(t, mockagent.Options{FailQueries: 1})
	if _, err := agent.Execute(ctx, "How many orders?"); !fault.IsRetryable(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if _, err := agent.Execute(ctx, "How many orders?"); err != nil {
		t.Fatalf("expected success after transient failure, got %v", err)
	}

	var nonRetryable *fault.NonRetryableError
	if _, err := agent.Execute(ctx, ""); !errors.As(err, &nonRetryable) {
		t.Fatalf("expected non-retryable error for bad request, got %v", err)
	}

	_, tokenAgent := startMock(t, mockagent.Options{Token: "tok"})
	wrong, err := NewAgent(tokenAgent.Endpoint(), "bad", nil)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	if _, err := wrong.Execute(ctx, "How many orders?"); !fault.IsAuthorization(err) {
		t.Fatalf("expected 401 authorization error, got %v", err)
	}
}

func TestExecuteConnectionRefusedIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	agent, _ := NewAgent(url, "", nil)
	if _, err := agent.Execute(testutil.Context(t, 0), "q"); !fault.IsRetryable(err) {
		t.Fatalf("expected transient error for closed server, got %v", err)
	}
}

func TestDeployerApplySync(t *testing.T) {
	srv, agent := startMock(t, mockagent.Options{})
	d := NewDeployer(agent)
	ctx := testutil.Context(t, 0)

	current, err := d.Current(ctx)
	if err != nil || current.Instructions != "seed" {
		t.Fatalf("expected seed configuration, got %+v err=%v", current, err)
	}
	next := agentconf.Configuration{Instructions: "improved", Description: "orders"}
	applied, err := d.Apply(ctx, next)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied.Attempts != 1 || !applied.Snapshot.Equal(next) || !srv.Deployed().Equal(next) {
		t.Fatalf("unexpected apply result %+v", applied)
	}
}

func TestDeployerApplyPollsOperation(t *testing.T) {
	srv, agent := startMock(t, mockagent.Options{PollsToComplete: 3})
	d := NewDeployer(agent, WithPolling(time.Millisecond, time.Second))
	next := agentconf.Configuration{Instructions: "async"}
	applied, err := d.Apply(testutil.Context(t, 0), next)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !applied.Snapshot.Equal(next) || !srv.Deployed().Equal(next) {
		t.Fatalf("expected async deployment applied")
	}
}

func TestDeployerTimeoutIsRetriedThenFails(t *testing.T) {
	_, agent := startMock(t, mockagent.Options{PollsToComplete: 1 << 20})
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 2
	d := NewDeployer(agent,
		WithPolling(time.Millisecond, 20*time.Millisecond),
		WithDeployRetrier(retry.New(policy, retry.WithoutDelay())))
	_, err := d.Apply(testutil.Context(t, 0), agentconf.Configuration{Instructions: "never"})
	var deployErr *fault.DeploymentError
	if !errors.As(err, &deployErr) || deployErr.Attempts != 2 {
		t.Fatalf("expected deployment error after 2 attempts, got %v", err)
	}
	if !fault.IsFatal(err) {
		t.Fatalf("expected fatal error")
	}
}

func TestDeployerOperationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"operations/7","done":true,"error":{"code":9,"message":"invalid prompt"}}`))
	}))
	t.Cleanup(server.Close)
	agent, _ := NewAgent(server.URL, "", server.Client())
	d := NewDeployer(agent, WithDeployRetrier(retry.New(retry.DefaultPolicy(), retry.WithoutDelay())))
	applied, err := d.Apply(testutil.Context(t, 0), agentconf.Configuration{Instructions: "x"})
	var deployErr *fault.DeploymentError
	if !errors.As(err, &deployErr) || applied.Attempts != 1 {
		t.Fatalf("expected single-attempt deployment error, got %v (attempts %d)", err, applied.Attempts)
	}
}

func TestDeployerAuthorizationIsNotWrapped(t *testing.T) {
	_, agent := startMock(t, mockagent.Options{Token: "tok"})
	agent.token = "wrong"
	d := NewDeployer(agent)
	_, err := d.Apply(testutil.Context(t, 0), agentconf.Configuration{Instructions: "x"})
	var deployErr *fault.DeploymentError
	if !fault.IsAuthorization(err) || errors.As(err, &deployErr) {
		t.Fatalf("expected bare authorization error, got %v", err)
	}
}
