package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
 __      _____ __ ___   _____
 \ \ /\ / / _ \/ _' \ \ / / _ \
  \ V  V /  __/ (_|  \ V /  __/
   \_/\_/ \___|\__,__|\_/ \___|

  Distributed workspace engine

  Usage: weave <command> [options]
         weave --help

  Agent gateway mode requires piped input.`)
}

// dataDir resolves the node's data directory, honoring WEAVE_DATA.
func dataDir() string {
	if dir := os.Getenv("WEAVE_DATA"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".weave"
	}
	return filepath.Join(home, ".weave")
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	app := newCLIApp(dataDir())
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "weave: %v\n", err)
		os.Exit(1)
	}
}
