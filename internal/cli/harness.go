package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"diaharness/internal/agentconf"
	"diaharness/internal/config"
	"diaharness/internal/evaluator"
	"diaharness/internal/judge"
	"diaharness/internal/llm"
	"diaharness/internal/logs"
	"diaharness/internal/optimizer"
	"diaharness/internal/remote"
	"diaharness/internal/retry"
	"diaharness/internal/spec"
	"diaharness/internal/suite"
)

// harness holds the collaborators shared by optimize and evaluate.
type harness struct {
	cfg      spec.Config
	logger   *logs.Logger
	seed     agentconf.Configuration
	train    suite.Suite
	holdout  *suite.Suite
	agent    *remote.Agent
	deployer *remote.Deployer
	judge    judge.Judge
	improver optimizer.Improver
}

// loadEnv reads .env files from the project root and the working directory.
// Variables already set in the environment win.
func loadEnv(configPath string) {
	candidates := []string{filepath.Join(config.RootFromConfigPath(configPath), ".env"), ".env"}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

// newLogger builds the process logger. terminal may be nil when the live UI
// owns the screen.
func newLogger(cfg spec.Config, terminal io.Writer, verbose bool) (*logs.Logger, error) {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	return logs.New(logs.Options{
		Level:    level,
		Terminal: terminal,
		File:     cfg.Logging.File,
		Journal:  cfg.Logging.Journal,
	})
}

// newHarness loads the seed and suites and builds the remote adapters, the
// judge and the improver.
func newHarness(cfg spec.Config, logger *logs.Logger) (*harness, error) {
	h := &harness{cfg: cfg, logger: logger}
	seed, err := agentconf.Load(cfg.SeedConfig)
	if err != nil {
		return nil, fmt.Errorf("seed_config: %w", err)
	}
	h.seed = seed
	if h.train, err = suite.Load(cfg.Suites.Train); err != nil {
		return nil, fmt.Errorf("suites.train: %w", err)
	}
	if cfg.Suites.Holdout != "" {
		holdout, err := suite.Load(cfg.Suites.Holdout)
		if err != nil {
			return nil, fmt.Errorf("suites.holdout: %w", err)
		}
		h.holdout = &holdout
	}

	token := strings.TrimSpace(os.Getenv(cfg.Agent.TokenEnv))
	client := &http.Client{Timeout: config.AgentTimeout(cfg)}
	if h.agent, err = remote.NewAgent(cfg.Agent.Endpoint, token, client); err != nil {
		return nil, err
	}
	componentLogger := func(name string) *slog.Logger {
		return logger.With(slog.String("component", name))
	}
	h.deployer = remote.NewDeployer(h.agent,
		remote.WithDeployRetrier(retry.New(config.RetryPolicy(cfg.Deploy.Retry))),
		remote.WithPolling(config.PollInterval(cfg), config.DeployTimeout(cfg)),
		remote.WithDeployLogger(componentLogger("deployer")),
	)

	if h.judge, err = buildJudge(cfg.Judge, componentLogger("judge")); err != nil {
		return nil, fmt.Errorf("judge: %w", err)
	}
	if h.improver, err = buildImprover(cfg.Improver); err != nil {
		return nil, fmt.Errorf("improver: %w", err)
	}
	return h, nil
}

// buildJudge returns the exact-match judge backed by the configured semantic
// judge. An LLM judge falls back to the clause heuristic when a call fails.
func buildJudge(model spec.ModelConfig, logger *slog.Logger) (judge.Judge, error) {
	switch model.Provider {
	case config.ProviderHeuristic:
		return judge.Exact{Semantic: judge.Heuristic{}}, nil
	case config.ProviderOpenAI:
		client, err := newLLMClient(model)
		if err != nil {
			return nil, err
		}
		return judge.Exact{Semantic: judge.Fallback{
			Primary:   llm.Judge{LLM: client, Schema: model.Schema},
			Secondary: judge.Heuristic{},
			OnError: func(err error) {
				logger.Warn("llm judge failed, using heuristic", slog.String("error", err.Error()))
			},
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", model.Provider)
	}
}

func buildImprover(model spec.ModelConfig) (optimizer.Improver, error) {
	switch model.Provider {
	case config.ProviderHeuristic:
		return optimizer.HeuristicImprover{}, nil
	case config.ProviderOpenAI:
		client, err := newLLMClient(model)
		if err != nil {
			return nil, err
		}
		return llm.Improver{LLM: client}, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", model.Provider)
	}
}

func newLLMClient(model spec.ModelConfig) (*llm.Client, error) {
	settings, err := llm.SettingsFromEnv(model.APIKeyEnv, model.Model, model.BaseURL)
	if err != nil {
		return nil, err
	}
	return llm.NewClient(settings)
}

// evaluator builds an Evaluator reporting to observer.
func (h *harness) evaluator(workers int, observer evaluator.Observer) *evaluator.Evaluator {
	cfg := h.cfg
	if workers <= 0 {
		workers = cfg.Evaluation.Workers
	}
	return evaluator.New(h.agent, h.judge,
		evaluator.WithWorkers(workers),
		evaluator.WithRetryPolicy(config.RetryPolicy(cfg.Evaluation.Retry)),
		evaluator.WithRateLimit(cfg.Evaluation.RequestsPerSecond),
		evaluator.WithUnitTimeout(config.UnitTimeout(cfg)),
		evaluator.WithFailurePolicy(config.FailurePolicy(cfg)),
		evaluator.WithObserver(observer),
		evaluator.WithLogger(h.logger.With(slog.String("component", "evaluator"))),
	)
}
