package cli

import (
	"flag"
	"fmt"
	"io"

	"diaharness/internal/agentconf"
	"diaharness/internal/validate"
)

// runGate builds the handler for the gate command. It exits 1 when every
// changed field is rejected.
func runGate(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		fs := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		fs.SetOutput(stderr)
		mergedPath := fs.String("write-merged", "", "Write the merged configuration to this file")
		if err := fs.Parse(args); err != nil {
			return ExitUsage
		}
		if fs.NArg() != 2 {
			fmt.Fprintln(stderr, "Expected <current> and <candidate>")
			return ExitUsage
		}

		current, err := agentconf.Load(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load current configuration: %v\n", err)
			return ExitError
		}
		candidate, err := agentconf.Load(fs.Arg(1))
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load candidate configuration: %v\n", err)
			return ExitError
		}

		decision := validate.New().Validate(current, candidate)
		printDecision(stdout, decision)
		if *mergedPath != "" && decision.Kind != validate.Reject {
			if err := agentconf.Save(*mergedPath, decision.Merged); err != nil {
				fmt.Fprintf(stderr, "Failed to write merged configuration: %v\n", err)
				return ExitError
			}
			fmt.Fprintf(stdout, "Merged: %s\n", *mergedPath)
		}
		if decision.Kind == validate.Reject {
			return ExitError
		}
		return ExitOK
	}
}

func printDecision(w io.Writer, decision validate.Decision) {
	if decision.NoOp() {
		fmt.Fprintln(w, "Decision: accept (no changes)")
		return
	}
	fmt.Fprintf(w, "Decision: %s\n", decision.Kind)
	for _, field := range decision.Fields {
		status := "accepted"
		if !field.Accepted {
			status = "rejected"
		}
		fmt.Fprintf(w, "  %s: %s\n", field.Field, status)
		for _, g := range field.Gates {
			mark := "ok"
			if !g.Passed {
				mark = "FAIL " + g.Reason
			}
			fmt.Fprintf(w, "    %-14s %s\n", g.Gate, mark)
		}
	}
	for _, warning := range decision.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
}
