// Package spec defines the YAML run configuration.
package spec

type Config struct {
	Version      int                `yaml:"version"`
	Agent        AgentConfig        `yaml:"agent"`
	SeedConfig   string             `yaml:"seed_config"`
	Suites       SuitesConfig       `yaml:"suites"`
	Evaluation   EvaluationConfig   `yaml:"evaluation"`
	Optimization OptimizationConfig `yaml:"optimization"`
	Deploy       DeployConfig       `yaml:"deploy"`
	Judge        ModelConfig        `yaml:"judge"`
	Improver     ModelConfig        `yaml:"improver"`
	Output       OutputConfig       `yaml:"output"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

type AgentConfig struct {
	Name           string `yaml:"name"`
	ID             string `yaml:"id"`
	Endpoint       string `yaml:"endpoint"`
	TokenEnv       string `yaml:"token_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type SuitesConfig struct {
	Train   string `yaml:"train"`
	Holdout string `yaml:"holdout"`
}

type EvaluationConfig struct {
	Repeats            int         `yaml:"repeats"`
	Workers            int         `yaml:"workers"`
	UnitTimeoutSeconds int         `yaml:"unit_timeout_seconds"`
	RequestsPerSecond  float64     `yaml:"requests_per_second"`
	FailurePolicy      string      `yaml:"failure_policy"`
	Retry              RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier"`
	Jitter           float64 `yaml:"jitter"`
}

type OptimizationConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	// RegressionThresholdPP is nil when unset so an explicit 0 is kept.
	RegressionThresholdPP   *float64 `yaml:"regression_threshold_pp"`
	ContinueOnDeployFailure bool     `yaml:"continue_on_deploy_failure"`
	AutoAccept              bool     `yaml:"auto_accept"`
	TrajectoryContext       int      `yaml:"trajectory_context"`
	SuccessSamples          int      `yaml:"success_samples"`
}

type DeployConfig struct {
	Retry               RetryConfig `yaml:"retry"`
	PollIntervalSeconds int         `yaml:"poll_interval_seconds"`
	TimeoutSeconds      int         `yaml:"timeout_seconds"`
}

type ModelConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	// Schema is extra context given to the judge, usually the table DDL.
	Schema string `yaml:"schema"`
}

type OutputConfig struct {
	Dir    string `yaml:"dir"`
	DuckDB string `yaml:"duckdb"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Journal bool   `yaml:"journal"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}
