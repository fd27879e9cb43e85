package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"diaharness/internal/ledger"
)

// runSummary builds the handler for the summary command.
func runSummary(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		fs := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		fs.SetOutput(stderr)
		compare := fs.String("compare", "", "Compare two iterations, e.g. 1,3")
		questions := fs.Bool("questions", false, "List per-question accuracy across iterations")
		asJSON := fs.Bool("json", false, "Print JSON instead of text")
		if err := fs.Parse(args); err != nil {
			return ExitUsage
		}
		if fs.NArg() != 1 {
			fmt.Fprintln(stderr, "Expected exactly one <trajectory.json>")
			return ExitUsage
		}
		var from, to int
		if *compare != "" {
			var err error
			if from, to, err = parseComparePair(*compare); err != nil {
				fmt.Fprintf(stderr, "Invalid --compare: %v\n", err)
				return ExitUsage
			}
		}

		l, err := ledger.Open(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load trajectory: %v\n", err)
			return ExitError
		}
		doc := l.Document()

		if *compare != "" {
			comparison, err := l.Compare(from, to)
			if err != nil {
				fmt.Fprintf(stderr, "Compare failed: %v\n", err)
				return ExitError
			}
			if *asJSON {
				return printJSON(stdout, stderr, comparison)
			}
			printComparison(stdout, comparison)
			return ExitOK
		}
		if *questions {
			stats := l.QuestionAccuracy()
			if *asJSON {
				return printJSON(stdout, stderr, stats)
			}
			for _, stat := range stats {
				fmt.Fprintf(stdout, "%-32s %5.1f%% (%d/%d)\n", stat.CaseID, stat.Accuracy, stat.Passed, stat.Total)
			}
			return ExitOK
		}

		summary := l.Summary()
		if *asJSON {
			return printJSON(stdout, stderr, summary)
		}
		printSummary(stdout, doc, summary)
		return ExitOK
	}
}

func parseComparePair(value string) (int, int, error) {
	left, right, ok := strings.Cut(value, ",")
	if !ok {
		return 0, 0, fmt.Errorf("expected <a>,<b>, got %q", value)
	}
	from, err := strconv.Atoi(strings.TrimSpace(left))
	if err != nil {
		return 0, 0, fmt.Errorf("iteration %q: %w", left, err)
	}
	to, err := strconv.Atoi(strings.TrimSpace(right))
	if err != nil {
		return 0, 0, fmt.Errorf("iteration %q: %w", right, err)
	}
	return from, to, nil
}

func printSummary(w io.Writer, doc ledger.Document, summary ledger.Summary) {
	fmt.Fprintf(w, "Run %s", doc.Run.RunID)
	if doc.Run.AgentName != "" {
		fmt.Fprintf(w, " (%s)", doc.Run.AgentName)
	}
	fmt.Fprintln(w)
	if summary.TotalIterations == 0 {
		fmt.Fprintln(w, "No iterations recorded")
		return
	}
	fmt.Fprintf(w, "Iterations: %d, rollbacks: %d\n", summary.TotalIterations, summary.Rollbacks)
	fmt.Fprintf(w, "Best: iteration %d at %.1f%%\n", summary.Best.Iteration, summary.Best.Accuracy)
	fmt.Fprintf(w, "Worst: iteration %d at %.1f%%\n", summary.Worst.Iteration, summary.Worst.Accuracy)
	fmt.Fprintf(w, "Improvement: %+.1f pp\n", summary.Improvement)
	parts := make([]string, 0, len(summary.Progression))
	for _, point := range summary.Progression {
		part := strconv.FormatFloat(point.Accuracy, 'f', 1, 64)
		if point.RolledBack {
			part += " (rolled back)"
		}
		parts = append(parts, part)
	}
	fmt.Fprintf(w, "Progression: %s\n", strings.Join(parts, " -> "))
}

func printComparison(w io.Writer, c ledger.Comparison) {
	fmt.Fprintf(w, "Iteration %d -> %d: %+.1f pp\n", c.From, c.To, c.AccuracyDelta)
	fmt.Fprintf(w, "New failures (%d): %s\n", len(c.NewFailures), joinOrNone(c.NewFailures))
	fmt.Fprintf(w, "Resolved (%d): %s\n", len(c.Resolved), joinOrNone(c.Resolved))
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}

func printJSON(stdout, stderr io.Writer, value any) int {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		fmt.Fprintf(stderr, "Failed to encode JSON: %v\n", err)
		return ExitError
	}
	return ExitOK
}
