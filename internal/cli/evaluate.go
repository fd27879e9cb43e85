package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"diaharness/internal/config"
	"diaharness/internal/evaluator"
	"diaharness/internal/suite"
	"diaharness/internal/telemetry"
)

// evaluationResults is the file written by the evaluate command.
type evaluationResults struct {
	Agent       string           `json:"agent"`
	EvaluatedAt time.Time        `json:"evaluated_at"`
	Report      evaluator.Report `json:"report"`
}

// runEvaluate builds the handler for the evaluate command.
func runEvaluate(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		fs := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		fs.SetOutput(stderr)
		configPath := fs.String("config", "", "Path to config file (default: search for .dia-harness/config.yml)")
		suiteName := fs.String("suite", "train", "Suite to evaluate: train or holdout")
		repeats := fs.Int("repeats", 0, "Override evaluation.repeats")
		outPath := fs.String("out", "", "Results file (default: <output.dir>/evaluations/<timestamp>.json)")
		verbose := fs.Bool("verbose", false, "Print every unit")
		if err := fs.Parse(args); err != nil {
			return ExitUsage
		}
		if fs.NArg() > 0 {
			fmt.Fprintln(stderr, "Too many arguments")
			return ExitUsage
		}

		resolved, err := resolveConfigPath(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to find config: %v\n", err)
			return ExitError
		}
		loadEnv(resolved)
		cfg, err := config.Load(resolved)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load config:\n%v\n", err)
			return ExitError
		}
		if *repeats > 0 {
			cfg.Evaluation.Repeats = *repeats
		}
		logger, err := newLogger(cfg, stderr, *verbose)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to set up logging: %v\n", err)
			return ExitError
		}
		defer logger.Close()
		h, err := newHarness(cfg, logger)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to set up run: %v\n", err)
			return ExitError
		}

		var target suite.Suite
		switch *suiteName {
		case "train":
			target = h.train
		case "holdout":
			if h.holdout == nil {
				fmt.Fprintln(stderr, "No holdout suite configured")
				return ExitUsage
			}
			target = *h.holdout
		default:
			fmt.Fprintf(stderr, "Unknown suite %q (expected train|holdout)\n", *suiteName)
			return ExitUsage
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		eval := h.evaluator(0, evaluator.Observers{newLineProgress(stdout, *verbose), telemetry.New()})
		report, err := eval.Evaluate(ctx, target, cfg.Evaluation.Repeats)
		if err != nil {
			fmt.Fprintf(stderr, "Evaluation failed: %v\n", err)
			return ExitError
		}

		path := *outPath
		if path == "" {
			stamp := time.Now().UTC().Format("20060102T150405Z")
			path = filepath.Join(cfg.Output.Dir, "evaluations", stamp+".json")
		}
		results := evaluationResults{
			Agent:       cfg.Agent.Name,
			EvaluatedAt: time.Now().UTC(),
			Report:      report,
		}
		if err := writeJSONFile(path, results); err != nil {
			fmt.Fprintf(stderr, "Failed to write results: %v\n", err)
			return ExitError
		}
		fmt.Fprintf(stdout, "Accuracy: %.1f%% ± %.1f (min %.1f, max %.1f)\n", report.Metrics.Mean, report.Metrics.Std, report.Metrics.Min, report.Metrics.Max)
		fmt.Fprintf(stdout, "Results: %s\n", path)
		return ExitOK
	}
}

func writeJSONFile(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
