package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"diaharness/internal/agentconf"
	"diaharness/internal/remote/mockagent"
	"diaharness/internal/spec"
	"diaharness/internal/suite"
)

// serveMockAgent is a test seam for running the mock agent server.
var serveMockAgent = func(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// runMockAgent builds the handler for the mock-agent command.
func runMockAgent(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		fs := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		fs.SetOutput(stderr)
		configPath := fs.String("config", "", "Path to config file (default: search for .dia-harness/config.yml)")
		addr := fs.String("addr", "", "Address to listen on (default: host of agent.endpoint)")
		known := fs.Int("known", 1, "Number of leading questions answered correctly from the start")
		polls := fs.Int("polls", 0, "Polls before a configuration update completes (0 = synchronous)")
		if err := fs.Parse(args); err != nil {
			return ExitUsage
		}
		if fs.NArg() > 0 {
			fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
			return ExitUsage
		}

		resolved, err := resolveConfigPath(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to find config: %v\n", err)
			return ExitError
		}
		loadEnv(resolved)
		cfg, _, err := loadConfig(resolved)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load config:\n%v\n", err)
			return ExitError
		}
		listen := *addr
		if listen == "" {
			listen = hostOf(cfg.Agent.Endpoint)
		}
		if listen == "" {
			fmt.Fprintln(stderr, "Missing --addr")
			return ExitUsage
		}
		logger, err := newLogger(cfg, stderr, false)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to set up logging: %v\n", err)
			return ExitError
		}
		defer logger.Close()
		server, err := newMockAgent(cfg, mockagent.Options{
			Token:           strings.TrimSpace(os.Getenv(cfg.Agent.TokenEnv)),
			Known:           *known,
			PollsToComplete: *polls,
		}, logger.With(slog.String("component", "mock-agent")))
		if err != nil {
			fmt.Fprintf(stderr, "Failed to start mock agent: %v\n", err)
			return ExitError
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		fmt.Fprintf(stdout, "Mock agent listening at http://%s\n", listen)
		if err := serveMockAgent(ctx, listen, server.Handler()); err != nil {
			fmt.Fprintf(stderr, "Server error: %v\n", err)
			return ExitError
		}
		queries, patches := server.Stats()
		fmt.Fprintf(stdout, "Served %d queries and %d configuration updates\n", queries, patches)
		return ExitOK
	}
}

// newMockAgent seeds a mock agent from the run configuration. It answers
// every training and holdout question.
func newMockAgent(cfg spec.Config, opts mockagent.Options, logger *slog.Logger) (*mockagent.Server, error) {
	seed, err := agentconf.Load(cfg.SeedConfig)
	if err != nil {
		return nil, fmt.Errorf("seed_config: %w", err)
	}
	train, err := suite.Load(cfg.Suites.Train)
	if err != nil {
		return nil, fmt.Errorf("suites.train: %w", err)
	}
	cases := train.Cases
	if cfg.Suites.Holdout != "" {
		holdout, err := suite.Load(cfg.Suites.Holdout)
		if err != nil {
			return nil, fmt.Errorf("suites.holdout: %w", err)
		}
		cases = append(cases, holdout.Cases...)
	}
	return mockagent.New(seed, cases, opts, logger), nil
}

func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Host
}
