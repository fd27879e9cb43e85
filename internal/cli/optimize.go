package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"diaharness/internal/agentconf"
	"diaharness/internal/config"
	"diaharness/internal/duckdb"
	"diaharness/internal/evaluator"
	"diaharness/internal/ledger"
	"diaharness/internal/logs"
	"diaharness/internal/optimizer"
	"diaharness/internal/reportserver"
	"diaharness/internal/telemetry"
	"diaharness/internal/ui/live"
	"diaharness/internal/ui/prompt"
	"diaharness/internal/validate"
)

// stdin is read by the interactive reviewer.
var stdin io.Reader = os.Stdin

// TrajectoryFileName is the ledger file written under each run directory.
const TrajectoryFileName = "trajectory.json"

type optimizeFlags struct {
	configPath    string
	resume        string
	maxIterations int
	repeats       int
	workers       int
	autoAccept    bool
	uiMode        string
	verbose       bool
}

// runOptimize builds the handler for the optimize command.
func runOptimize(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		var opts optimizeFlags
		fs := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		fs.SetOutput(stderr)
		fs.StringVar(&opts.configPath, "config", "", "Path to config file (default: search for .dia-harness/config.yml)")
		fs.StringVar(&opts.resume, "resume", "", "Continue the run stored in this trajectory file")
		fs.IntVar(&opts.maxIterations, "max-iterations", 0, "Override optimization.max_iterations")
		fs.IntVar(&opts.repeats, "repeats", 0, "Override evaluation.repeats")
		fs.IntVar(&opts.workers, "workers", 0, "Override evaluation.workers")
		fs.BoolVar(&opts.autoAccept, "auto-accept", false, "Apply every proposal without review")
		fs.StringVar(&opts.uiMode, "ui", "auto", "Progress output: auto, live or plain")
		fs.BoolVar(&opts.verbose, "verbose", false, "Log every unit and state change")
		if err := fs.Parse(args); err != nil {
			return ExitUsage
		}
		if fs.NArg() > 0 {
			fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
			return ExitUsage
		}
		if opts.maxIterations < 0 || opts.repeats < 0 || opts.workers < 0 {
			fmt.Fprintln(stderr, "--max-iterations, --repeats and --workers must not be negative")
			return ExitUsage
		}
		return optimize(opts, stdout, stderr)
	}
}

func optimize(opts optimizeFlags, stdout, stderr io.Writer) int {
	configPath, err := resolveConfigPath(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to find config: %v\n", err)
		return ExitError
	}
	loadEnv(configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config:\n%v\n", err)
		return ExitError
	}
	if opts.maxIterations > 0 {
		cfg.Optimization.MaxIterations = opts.maxIterations
	}
	if opts.repeats > 0 {
		cfg.Evaluation.Repeats = opts.repeats
	}
	if opts.workers > 0 {
		cfg.Evaluation.Workers = opts.workers
	}
	autoAccept := opts.autoAccept || cfg.Optimization.AutoAccept

	decision, err := resolveUIMode(opts.uiMode, opts.verbose, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return ExitUsage
	}
	if decision.warning != "" {
		fmt.Fprintln(stderr, decision.warning)
	}
	if decision.useLive && !autoAccept {
		fmt.Fprintln(stderr, "Interactive review needs the terminal; using plain output. Pass --auto-accept for the live UI.")
		decision.useLive = false
	}

	var terminal io.Writer = stderr
	if decision.useLive {
		terminal = nil
	}
	logger, err := newLogger(cfg, terminal, opts.verbose)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	var ledgerOpts []ledger.Option
	if cfg.Output.DuckDB != "" {
		db, err = duckdb.Open(ctx, cfg.Output.DuckDB)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to open DuckDB: %v\n", err)
			return ExitError
		}
		defer db.Close()
		ledgerOpts = append(ledgerOpts, ledger.WithSink(duckdb.NewSink(db)))
	}

	l, err := openLedger(cfg.Output.Dir, opts.resume, h, ledgerOpts...)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open trajectory: %v\n", err)
		return ExitError
	}
	meta := l.Metadata()
	ctx = logs.WithRunID(ctx, meta.RunID)

	if opts.resume == "" {
		if err := deploySeed(ctx, h.deployer, h.seed, logger.Logger); err != nil {
			fmt.Fprintf(stderr, "Failed to deploy seed configuration: %v\n", err)
			return ExitError
		}
	}

	metrics := telemetry.New()
	var progressObs interface {
		evaluator.Observer
		optimizer.Observer
	}
	var ui *live.Controller
	if decision.useLive {
		ui = live.Start(stdout, live.Options{})
		ui.RunStarted(meta.RunID, cfg.Agent.Name)
		progressObs = ui
	} else {
		progressObs = newLineProgress(stdout, opts.verbose)
	}

	var reviewer optimizer.Decision = optimizer.AutoApprove{}
	if !autoAccept {
		reviewer = prompt.New(stdin, stdout, !isTerminalReader(stdin))
	}

	controller, err := optimizer.New(optimizer.Dependencies{
		Evaluator: h.evaluator(0, evaluator.Observers{progressObs, metrics}),
		Deployer:  h.deployer,
		Improver:  h.improver,
		Decision:  reviewer,
		Validator: validate.New(validate.WithLogger(logger.With(slog.String("component", "validator")))),
		Ledger:    l,
		Train:     h.train,
		Holdout:   h.holdout,
	}, config.OptimizerOptions(cfg),
		optimizer.WithObserver(optimizer.Observers{progressObs, metrics}),
		optimizer.WithLogger(logger.With(slog.String("component", "optimizer"))),
	)
	if err != nil {
		ui.Close()
		ui.Wait()
		fmt.Fprintf(stderr, "Failed to start optimizer: %v\n", err)
		return ExitError
	}

	var wg sync.WaitGroup
	serveCtx, stopServe := context.WithCancel(ctx)
	if cfg.Metrics.Listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := serveReport(serveCtx, reportserver.Config{
				Addr:    cfg.Metrics.Listen,
				Source:  reportserver.LedgerSource(l),
				DBPath:  cfg.Output.DuckDB,
				Metrics: metrics.Handler(),
				Logger:  logger.With(slog.String("component", "reportserver")),
			})
			if err != nil {
				logger.Error("report server stopped", slog.String("error", err.Error()))
			}
		}()
	}

	result := controller.Run(ctx)
	ui.Wait()
	stopServe()
	wg.Wait()

	if db != nil {
		finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := duckdb.NewSink(db).Finish(finishCtx, l.Document()); err != nil {
			logger.Warn("record run outcome in duckdb", slog.String("error", err.Error()))
		}
		cancel()
	}
	return reportResult(result, l, stdout, stderr)
}

// openLedger creates the trajectory for a new run or reopens one to resume.
func openLedger(outputDir, resume string, h *harness, opts ...ledger.Option) (*ledger.Ledger, error) {
	if resume != "" {
		return ledger.Open(resume, opts...)
	}
	fingerprint, err := h.seed.Fingerprint()
	if err != nil {
		return nil, err
	}
	threshold := config.DefaultRegressionThreshold
	if h.cfg.Optimization.RegressionThresholdPP != nil {
		threshold = *h.cfg.Optimization.RegressionThresholdPP
	}
	meta := ledger.RunMetadata{
		RunID:           uuid.NewString(),
		AgentName:       h.cfg.Agent.Name,
		AgentID:         h.cfg.Agent.ID,
		StartTime:       time.Now().UTC(),
		SeedFingerprint: fingerprint,
		Repeats:         h.cfg.Evaluation.Repeats,
		Threshold:       threshold,
	}
	path := filepath.Join(outputDir, meta.RunID, TrajectoryFileName)
	l := ledger.New(path, meta, opts...)
	if err := l.Save(); err != nil {
		return nil, err
	}
	return l, nil
}

// deploySeed makes the seed configuration current before the first
// evaluation. Nothing is applied when the agent already runs it.
func deploySeed(ctx context.Context, deployer optimizer.Deployer, seed agentconf.Configuration, logger *slog.Logger) error {
	current, err := deployer.Current(ctx)
	if err != nil {
		return err
	}
	if current.Equal(seed) {
		logger.Info("seed configuration already deployed")
		return nil
	}
	applied, err := deployer.Apply(ctx, seed)
	if err != nil {
		return err
	}
	logger.Info("seed configuration deployed", slog.Int("attempts", applied.Attempts))
	return nil
}

func reportResult(result optimizer.Result, l *ledger.Ledger, stdout, stderr io.Writer) int {
	if result.Outcome == optimizer.Aborted {
		fmt.Fprintf(stderr, "Run aborted: %s\n", result.Reason)
		fmt.Fprintf(stderr, "Trajectory: %s\n", l.Path())
		return ExitError
	}
	fmt.Fprintf(stdout, "Run %s %s after %d iterations\n", l.Metadata().RunID, result.Outcome, result.Iterations)
	if result.Iterations > 0 {
		fmt.Fprintf(stdout, "Best: iteration %d at %.1f%%\n", result.Best.Iteration, result.Best.Accuracy)
	}
	fmt.Fprintf(stdout, "Trajectory: %s\n", l.Path())
	if result.Err != nil {
		fmt.Fprintf(stderr, "Warning: %v\n", result.Err)
	}
	return ExitOK
}
