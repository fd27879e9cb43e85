package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"diaharness/internal/agentconf"
	"diaharness/internal/fault"
	"diaharness/internal/optimizer"
	"diaharness/internal/retry"
)

// Operation is a long-running update returned by PATCH /config.
type Operation struct {
	Name          string                   `json:"name"`
	Done          bool                     `json:"done"`
	Error         *OperationError          `json:"error,omitempty"`
	Configuration *agentconf.Configuration `json:"configuration,omitempty"`
}

// OperationError is the failure status of an operation.
type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Deployer applies configurations through the agent's PATCH API.
type Deployer struct {
	agent        *Agent
	retrier      *retry.Retrier
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger
}

// DeployerOption customizes a Deployer.
type DeployerOption func(*Deployer)

// WithDeployRetrier sets the retrier for whole apply attempts.
func WithDeployRetrier(r *retry.Retrier) DeployerOption {
	return func(d *Deployer) {
		if r != nil {
			d.retrier = r
		}
	}
}

// WithPolling sets how often and how long operations are polled.
func WithPolling(interval, timeout time.Duration) DeployerOption {
	return func(d *Deployer) {
		if interval > 0 {
			d.pollInterval = interval
		}
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithDeployLogger sets the logger.
func WithDeployLogger(logger *slog.Logger) DeployerOption {
	return func(d *Deployer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDeployer builds a Deployer with a 5s poll interval and 5m timeout.
func NewDeployer(agent *Agent, opts ...DeployerOption) *Deployer {
	d := &Deployer{
		agent:        agent,
		retrier:      retry.New(retry.DefaultPolicy()),
		pollInterval: 5 * time.Second,
		timeout:      5 * time.Minute,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Current reads the deployed configuration.
func (d *Deployer) Current(ctx context.Context) (agentconf.Configuration, error) {
	var cfg agentconf.Configuration
	if err := d.agent.do(ctx, "read configuration", http.MethodGet, "/config", nil, &cfg); err != nil {
		return agentconf.Configuration{}, err
	}
	return cfg, nil
}

// Apply deploys cfg, retrying transient failures, and returns the snapshot the
// agent reports afterwards.
func (d *Deployer) Apply(ctx context.Context, cfg agentconf.Configuration) (optimizer.Applied, error) {
	var snapshot agentconf.Configuration
	result, err := d.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		d.logger.Debug("deploy attempt", slog.Int("attempt", attempt), slog.String("fingerprint", cfg.ShortFingerprint()))
		s, err := d.applyOnce(ctx, cfg)
		if err != nil {
			return err
		}
		snapshot = s
		return nil
	})
	if err != nil {
		if fault.IsAuthorization(err) || errors.Is(err, context.Canceled) {
			return optimizer.Applied{Attempts: result.Attempts}, err
		}
		return optimizer.Applied{Attempts: result.Attempts}, &fault.DeploymentError{Attempts: result.Attempts, Err: err}
	}
	d.logger.Info("configuration deployed", slog.Int("attempts", result.Attempts), slog.String("fingerprint", snapshot.ShortFingerprint()))
	return optimizer.Applied{Snapshot: snapshot, Attempts: result.Attempts}, nil
}

func (d *Deployer) applyOnce(ctx context.Context, cfg agentconf.Configuration) (agentconf.Configuration, error) {
	var op Operation
	if err := d.agent.do(ctx, "update configuration", http.MethodPatch, "/config", cfg, &op); err != nil {
		return agentconf.Configuration{}, err
	}
	if !op.Done {
		if op.Name == "" {
			return agentconf.Configuration{}, &fault.NonRetryableError{Op: "update configuration", Err: errors.New("pending operation has no name")}
		}
		done, err := d.wait(ctx, op.Name)
		if err != nil {
			return agentconf.Configuration{}, err
		}
		op = done
	}
	if op.Error != nil {
		return agentconf.Configuration{}, &fault.NonRetryableError{
			Op:  "update configuration",
			Err: fmt.Errorf("operation %s failed: %s (code %d)", op.Name, op.Error.Message, op.Error.Code),
		}
	}
	if op.Configuration != nil {
		return *op.Configuration, nil
	}
	return d.Current(ctx)
}

// wait polls an operation until it is done or the timeout elapses.
func (d *Deployer) wait(ctx context.Context, name string) (Operation, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	path := "/" + strings.TrimLeft(name, "/")
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Operation{}, &fault.TransientError{Op: "wait for operation", Err: fmt.Errorf("operation %s not done after %s", name, d.timeout)}
			}
			return Operation{}, ctx.Err()
		case <-ticker.C:
		}
		var op Operation
		if err := d.agent.do(ctx, "poll operation", http.MethodGet, path, nil, &op); err != nil {
			if fault.IsRetryable(err) && ctx.Err() == nil {
				d.logger.Debug("operation poll failed", slog.String("operation", name), slog.String("error", err.Error()))
				continue
			}
			return Operation{}, err
		}
		if op.Done {
			return op, nil
		}
	}
}
