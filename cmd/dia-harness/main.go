package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"diaharness/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}
