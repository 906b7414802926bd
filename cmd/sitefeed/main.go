package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Get subcommand
	subcommand := os.Args[1]
	args := os.Args[2:]

	switch subcommand {
	case "list":
		handleList(args)
	case "run":
		handleRun(args)
	case "serve":
		handleServe(args)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("sitefeed - Turn news sites into RSS feeds")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  sitefeed <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  list       List configured sources and their last run")
	fmt.Println("  run        Scrape sources and write their feeds")
	fmt.Println("  serve      Run on a schedule and serve feeds over HTTP")
	fmt.Println("  help       Show this help message")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  SITEFEED_CONFIG       Path to the config file (default: sitefeed.yaml)")
	fmt.Println("  SITEFEED_OUT_DIR      Directory for feed files (default: feeds)")
	fmt.Println("  SITEFEED_STATE_DSN    Path to the run history database (default: sitefeed.db)")
	fmt.Println("  SITEFEED_CONCURRENCY  Sources processed in parallel (default: 1)")
	fmt.Println("  SITEFEED_CACHE_ADDR   Redis address for the date cache")
	fmt.Println("  SITEFEED_LISTEN_ADDR  HTTP listen address for serve (default: :8080)")
	fmt.Println("  SITEFEED_SCHEDULE     Cron schedule for serve (default: hourly)")
	fmt.Println("  SITEFEED_LOG_LEVEL    debug, info, warn or error")
}
