// Package cli implements the dia-harness command line.
package cli

import (
	"fmt"
	"io"
)

const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

const programName = "dia-harness"

type Command struct {
	Name    string
	Summary string
	Usage   []string
	Run     func(args []string, stdout, stderr io.Writer) int
}

func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stdout)
		return ExitUsage
	}
	if isHelpArg(args[0]) {
		if len(args) > 1 {
			if cmd := findCommand(args[1]); cmd != nil {
				printCommandUsage(cmd, stdout)
				return ExitOK
			}
		}
		printUsage(stdout)
		return ExitOK
	}

	cmd := findCommand(args[0])
	if cmd == nil {
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return ExitUsage
	}

	return cmd.Run(args[1:], stdout, stderr)
}

func findCommand(name string) *Command {
	for _, cmd := range commands {
		if cmd.Name == name {
			return cmd
		}
	}
	return nil
}

func isHelpArg(arg string) bool {
	switch arg {
	case "-h", "--help", "help":
		return true
	default:
		return false
	}
}

func wantsHelp(args []string) bool {
	for _, arg := range args {
		switch arg {
		case "-h", "--help":
			return true
		}
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s <command> [options]\n", programName)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", cmd.Name, cmd.Summary)
	}
	fmt.Fprintf(w, "\nUse \"%s <command> --help\" for more information.\n", programName)
}

func printCommandUsage(cmd *Command, w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	for _, line := range cmd.Usage {
		fmt.Fprintf(w, "  %s\n", line)
	}
	if cmd.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", cmd.Summary)
	}
}

func command(name, summary string, usage []string, runner func(cmd *Command) func(args []string, stdout, stderr io.Writer) int) *Command {
	cmd := &Command{
		Name:    name,
		Summary: summary,
		Usage:   usage,
	}
	cmd.Run = runner(cmd)
	return cmd
}

var commands = []*Command{
	command("init", "Scaffold .dia-harness/config.yml, a seed configuration and a golden suite", []string{
		"dia-harness init [dir]",
	}, runInit),
	command("validate", "Validate the run configuration", []string{
		"dia-harness validate [--config <path>]",
	}, runValidate),
	command("optimize", "Run the optimization loop against the agent", []string{
		"dia-harness optimize [--config <path>] [--resume <trajectory.json>] [--max-iterations <n>]",
		"                     [--repeats <n>] [--workers <n>] [--auto-accept] [--ui auto|live|plain] [--verbose]",
	}, runOptimize),
	command("evaluate", "Evaluate the deployed configuration once", []string{
		"dia-harness evaluate [--config <path>] [--suite train|holdout] [--repeats <n>] [--out <results.json>]",
	}, runEvaluate),
	command("gate", "Validate a candidate configuration against the current one", []string{
		"dia-harness gate <current> <candidate>",
	}, runGate),
	command("summary", "Summarize a trajectory", []string{
		"dia-harness summary [--compare <a>,<b>] [--questions] [--json] <trajectory.json>",
	}, runSummary),
	command("ingest", "Load trajectories into DuckDB", []string{
		"dia-harness ingest --db <db.duckdb> <trajectory.json>...",
	}, runIngest),
	command("serve", "Serve a trajectory report over HTTP", []string{
		"dia-harness serve [--addr <host:port>] [--db <db.duckdb>] <trajectory.json>",
	}, runServe),
	command("mock-agent", "Serve a mock data agent for local runs", []string{
		"dia-harness mock-agent [--config <path>] [--addr <host:port>] [--known <n>] [--polls <n>]",
	}, runMockAgent),
}
