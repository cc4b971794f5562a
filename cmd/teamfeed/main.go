package main

import (
	"fmt"
	"log/slog"
	"os"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("teamfeed %s\n", version)
	case "serve":
		err = runServe()
	case "run":
		err = runOnce(os.Args[2:])
	case "tui":
		err = runTUI()
	case "agents":
		err = runAgents()
	case "health":
		err = runHealth()
	case "history":
		err = runHistory(os.Args[2:])
	case "mock-backend":
		err = runMockBackend(os.Args[2:])
	case "backup":
		err = runBackup(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: teamfeed <command>

Commands:
  serve                       Start the service (web, NATS, Telegram, scheduler)
  run <task>                  Run one task and print the transcript
  tui                         Interactive terminal UI
  agents                      List the orchestrator's agent directory
  health                      Check the orchestrator's health
  history [id]                List stored runs, or show one
  mock-backend [-addr :8000]  Serve a scripted orchestrator
  backup -f <out.tar.zst>     Archive the run store
  restore -f <in.tar.zst>     Restore the run store [-overwrite]
  version                     Print version
`)
}
