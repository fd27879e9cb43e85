package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"diaharness/internal/agentconf"
	"diaharness/internal/suite"
)

// runValidate builds the handler for the validate command.
func runValidate(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}

		flags := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		flags.SetOutput(stderr)
		configPath := flags.String("config", "", "Path to config file (default: search for .dia-harness/config.yml)")
		if err := flags.Parse(args); err != nil {
			if err == flag.ErrHelp {
				printCommandUsage(cmd, stdout)
				return ExitOK
			}
			fmt.Fprintf(stderr, "invalid arguments: %v\n", err)
			printCommandUsage(cmd, stderr)
			return ExitUsage
		}
		if flags.NArg() > 0 {
			fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(flags.Args(), " "))
			printCommandUsage(cmd, stderr)
			return ExitUsage
		}

		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Validation failed:\n%s\n", err.Error())
			return ExitError
		}
		seed, err := agentconf.Load(cfg.SeedConfig)
		if err != nil {
			fmt.Fprintf(stderr, "Validation failed:\nseed_config: %v\n", err)
			return ExitError
		}
		train, err := suite.Load(cfg.Suites.Train)
		if err != nil {
			fmt.Fprintf(stderr, "Validation failed:\nsuites.train: %v\n", err)
			return ExitError
		}
		if cfg.Suites.Holdout != "" {
			if _, err := suite.Load(cfg.Suites.Holdout); err != nil {
				fmt.Fprintf(stderr, "Validation failed:\nsuites.holdout: %v\n", err)
				return ExitError
			}
		}

		fmt.Fprintf(stdout, "Config OK (%d training cases, instructions %d chars)\n", train.Len(), len(seed.Instructions))
		return ExitOK
	}
}
