package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"diaharness/internal/logs"
	"diaharness/internal/metrics"
	"diaharness/internal/spec"
)

// Validate checks a normalized config for correctness and referenced files.
func Validate(cfg *spec.Config) error {
	collector := &issueCollector{}

	if cfg.Version == 0 {
		collector.add("version", "is required")
	} else if cfg.Version != 1 {
		collector.add("version", fmt.Sprintf("unsupported version %d", cfg.Version))
	}

	validateAgent(cfg.Agent, collector.add)
	validateFiles(cfg, collector.add)
	validateEvaluation(cfg.Evaluation, collector.add)
	validateOptimization(cfg.Optimization, collector.add)
	validateDeploy(cfg.Deploy, collector.add)
	validateModel("judge", cfg.Judge, collector.add)
	validateModel("improver", cfg.Improver, collector.add)
	if _, err := logs.ParseLevel(cfg.Logging.Level); err != nil {
		collector.add("logging.level", err.Error())
	}

	return collector.result()
}

// validateAgent checks the remote agent section.
func validateAgent(agent spec.AgentConfig, add issueAdder) {
	endpoint := strings.TrimSpace(agent.Endpoint)
	if endpoint == "" {
		add("agent.endpoint", "is required")
	} else if u, err := url.Parse(endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		add("agent.endpoint", fmt.Sprintf("invalid URL %q", endpoint))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("agent.endpoint", fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if agent.TimeoutSeconds < 0 {
		add("agent.timeout_seconds", "must be >= 0")
	}
}

// validateFiles checks that referenced inputs exist.
func validateFiles(cfg *spec.Config, add issueAdder) {
	requireFile("seed_config", cfg.SeedConfig, true, add)
	requireFile("suites.train", cfg.Suites.Train, true, add)
	requireFile("suites.holdout", cfg.Suites.Holdout, false, add)
}

func requireFile(field, path string, required bool, add issueAdder) {
	if strings.TrimSpace(path) == "" {
		if required {
			add(field, "is required")
		}
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			add(field, fmt.Sprintf("file not found: %s", path))
			return
		}
		add(field, fmt.Sprintf("stat %s: %v", path, err))
		return
	}
	if info.IsDir() {
		add(field, fmt.Sprintf("%s is a directory", path))
	}
}

func validateEvaluation(eval spec.EvaluationConfig, add issueAdder) {
	if eval.Repeats < 1 {
		add("evaluation.repeats", "must be >= 1")
	}
	if eval.Workers < 1 {
		add("evaluation.workers", "must be >= 1")
	}
	if eval.UnitTimeoutSeconds < 0 {
		add("evaluation.unit_timeout_seconds", "must be >= 0")
	}
	if eval.RequestsPerSecond < 0 {
		add("evaluation.requests_per_second", "must be >= 0")
	}
	switch metrics.FailurePolicy(eval.FailurePolicy) {
	case metrics.WorstRepeat, metrics.Union:
	default:
		add("evaluation.failure_policy", fmt.Sprintf("unsupported policy %q (use %s or %s)", eval.FailurePolicy, metrics.WorstRepeat, metrics.Union))
	}
	if err := RetryPolicy(eval.Retry).Validate(); err != nil {
		add("evaluation.retry", err.Error())
	}
}

func validateOptimization(opt spec.OptimizationConfig, add issueAdder) {
	if opt.MaxIterations < 1 {
		add("optimization.max_iterations", "must be >= 1")
	}
	if opt.RegressionThresholdPP != nil && *opt.RegressionThresholdPP < 0 {
		add("optimization.regression_threshold_pp", "must be >= 0")
	}
	if opt.TrajectoryContext < 0 {
		add("optimization.trajectory_context", "must be >= 0")
	}
	if opt.SuccessSamples < 0 {
		add("optimization.success_samples", "must be >= 0")
	}
}

func validateDeploy(deploy spec.DeployConfig, add issueAdder) {
	if err := RetryPolicy(deploy.Retry).Validate(); err != nil {
		add("deploy.retry", err.Error())
	}
	if deploy.PollIntervalSeconds < 1 {
		add("deploy.poll_interval_seconds", "must be >= 1")
	}
	if deploy.TimeoutSeconds < deploy.PollIntervalSeconds {
		add("deploy.timeout_seconds", "must be >= poll_interval_seconds")
	}
}

func validateModel(section string, m spec.ModelConfig, add issueAdder) {
	switch m.Provider {
	case ProviderHeuristic:
	case ProviderOpenAI:
		if strings.TrimSpace(m.Model) == "" {
			add(section+".model", "is required")
		}
		if m.BaseURL != "" {
			if u, err := url.Parse(m.BaseURL); err != nil || u.Scheme == "" {
				add(section+".base_url", fmt.Sprintf("invalid URL %q", m.BaseURL))
			}
		}
	default:
		add(section+".provider", fmt.Sprintf("unsupported provider %q (use %s or %s)", m.Provider, ProviderOpenAI, ProviderHeuristic))
	}
}
