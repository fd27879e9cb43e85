package config

import (
	"strings"

	"diaharness/internal/llm"
	"diaharness/internal/metrics"
	"diaharness/internal/spec"
)

// Provider names for the judge and improver.
const (
	ProviderOpenAI    = "openai"
	ProviderHeuristic = "heuristic"
)

// Defaults applied by Normalize.
const (
	DefaultRepeats             = 3
	DefaultWorkers             = 10
	DefaultUnitTimeoutSeconds  = 120
	DefaultMaxIterations       = 10
	DefaultRegressionThreshold = 5.0
	DefaultTrajectoryContext   = 5
	DefaultSuccessSamples      = 5
	DefaultPollSeconds         = 5
	DefaultDeployTimeout       = 300
	DefaultAgentTimeoutSeconds = 60
	DefaultTokenEnv            = "DIA_AGENT_TOKEN"
)

// Normalize fills defaults in place.
func Normalize(cfg *spec.Config) {
	if cfg.Agent.TokenEnv == "" {
		cfg.Agent.TokenEnv = DefaultTokenEnv
	}
	if cfg.Agent.TimeoutSeconds == 0 {
		cfg.Agent.TimeoutSeconds = DefaultAgentTimeoutSeconds
	}

	eval := &cfg.Evaluation
	if eval.Repeats == 0 {
		eval.Repeats = DefaultRepeats
	}
	if eval.Workers == 0 {
		eval.Workers = DefaultWorkers
	}
	if eval.UnitTimeoutSeconds == 0 {
		eval.UnitTimeoutSeconds = DefaultUnitTimeoutSeconds
	}
	if eval.FailurePolicy == "" {
		eval.FailurePolicy = string(metrics.WorstRepeat)
	}
	normalizeRetry(&eval.Retry)

	opt := &cfg.Optimization
	if opt.MaxIterations == 0 {
		opt.MaxIterations = DefaultMaxIterations
	}
	if opt.RegressionThresholdPP == nil {
		threshold := DefaultRegressionThreshold
		opt.RegressionThresholdPP = &threshold
	}
	if opt.TrajectoryContext == 0 {
		opt.TrajectoryContext = DefaultTrajectoryContext
	}
	if opt.SuccessSamples == 0 {
		opt.SuccessSamples = DefaultSuccessSamples
	}

	normalizeRetry(&cfg.Deploy.Retry)
	if cfg.Deploy.PollIntervalSeconds == 0 {
		cfg.Deploy.PollIntervalSeconds = DefaultPollSeconds
	}
	if cfg.Deploy.TimeoutSeconds == 0 {
		cfg.Deploy.TimeoutSeconds = DefaultDeployTimeout
	}

	normalizeModel(&cfg.Judge)
	normalizeModel(&cfg.Improver)

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = DefaultOutputDir
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func normalizeRetry(r *spec.RetryConfig) {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.InitialBackoffMs == 0 {
		r.InitialBackoffMs = 1000
	}
	if r.MaxBackoffMs == 0 {
		r.MaxBackoffMs = 30000
	}
	if r.Multiplier == 0 {
		r.Multiplier = 2.0
	}
	if r.Jitter == 0 {
		r.Jitter = 0.2
	}
}

func normalizeModel(m *spec.ModelConfig) {
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
	if m.Provider == "" {
		m.Provider = ProviderHeuristic
	}
	if m.Provider == ProviderOpenAI {
		if m.Model == "" {
			m.Model = llm.DefaultModel
		}
		if m.APIKeyEnv == "" {
			m.APIKeyEnv = llm.DefaultKeyEnv
		}
	}
}
