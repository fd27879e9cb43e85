package config

import (
	"time"

	"diaharness/internal/metrics"
	"diaharness/internal/optimizer"
	"diaharness/internal/retry"
	"diaharness/internal/spec"
)

// RetryPolicy converts a retry section into a retry.Policy.
func RetryPolicy(r spec.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: time.Duration(r.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(r.MaxBackoffMs) * time.Millisecond,
		Multiplier:     r.Multiplier,
		Jitter:         r.Jitter,
	}
}

// OptimizerOptions converts a normalized config into controller options.
func OptimizerOptions(cfg spec.Config) optimizer.Options {
	opts := optimizer.DefaultOptions()
	opts.MaxIterations = cfg.Optimization.MaxIterations
	opts.Repeats = cfg.Evaluation.Repeats
	if cfg.Optimization.RegressionThresholdPP != nil {
		opts.RegressionThreshold = *cfg.Optimization.RegressionThresholdPP
	}
	opts.ContinueOnDeployFailure = cfg.Optimization.ContinueOnDeployFailure
	opts.TrajectoryContext = cfg.Optimization.TrajectoryContext
	opts.SuccessSamples = cfg.Optimization.SuccessSamples
	return opts
}

// FailurePolicy returns the configured failure extraction policy.
func FailurePolicy(cfg spec.Config) metrics.FailurePolicy {
	return metrics.FailurePolicy(cfg.Evaluation.FailurePolicy)
}

// UnitTimeout returns the per-attempt evaluation timeout.
func UnitTimeout(cfg spec.Config) time.Duration {
	return time.Duration(cfg.Evaluation.UnitTimeoutSeconds) * time.Second
}

// PollInterval returns the deployment polling interval.
func PollInterval(cfg spec.Config) time.Duration {
	return time.Duration(cfg.Deploy.PollIntervalSeconds) * time.Second
}

// DeployTimeout returns the deployment wait limit.
func DeployTimeout(cfg spec.Config) time.Duration {
	return time.Duration(cfg.Deploy.TimeoutSeconds) * time.Second
}

// AgentTimeout returns the HTTP client timeout for the remote agent.
func AgentTimeout(cfg spec.Config) time.Duration {
	return time.Duration(cfg.Agent.TimeoutSeconds) * time.Second
}
