package cli

import (
	"context"
	"flag"
	"fmt"
	"io"

	"diaharness/internal/duckdb"
	"diaharness/internal/ledger"
)

// runIngest builds the handler for the ingest command.
func runIngest(cmd *Command) func(args []string, stdout, stderr io.Writer) int {
	return func(args []string, stdout, stderr io.Writer) int {
		if wantsHelp(args) {
			printCommandUsage(cmd, stdout)
			return ExitOK
		}
		fs := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
		fs.SetOutput(stderr)
		dbPath := fs.String("db", "", "DuckDB database file (created when missing)")
		if err := fs.Parse(args); err != nil {
			return ExitUsage
		}
		if *dbPath == "" {
			fmt.Fprintln(stderr, "Missing --db")
			return ExitUsage
		}
		if fs.NArg() == 0 {
			fmt.Fprintln(stderr, "Missing <trajectory.json>")
			return ExitUsage
		}

		ctx := context.Background()
		db, err := duckdb.Open(ctx, *dbPath)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to open database: %v\n", err)
			return ExitError
		}
		defer db.Close()

		for _, path := range fs.Args() {
			doc, err := ledger.Load(path)
			if err != nil {
				fmt.Fprintf(stderr, "Failed to load %s: %v\n", path, err)
				return ExitError
			}
			if doc == nil {
				fmt.Fprintf(stderr, "Trajectory not found: %s\n", path)
				return ExitError
			}
			if err := duckdb.Ingest(ctx, db, *doc); err != nil {
				fmt.Fprintf(stderr, "Failed to ingest %s: %v\n", path, err)
				return ExitError
			}
			rows, err := duckdb.Progress(ctx, db, doc.Run.RunID)
			if err != nil {
				fmt.Fprintf(stderr, "Failed to read back %s: %v\n", doc.Run.RunID, err)
				return ExitError
			}
			best := 0.0
			if len(rows) > 0 {
				best = rows[len(rows)-1].BestSoFar
			}
			fmt.Fprintf(stdout, "Ingested run %s: %d iterations, best %.1f%%\n", doc.Run.RunID, len(rows), best)
		}
		return ExitOK
	}
}
