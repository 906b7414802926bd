package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pevans/sitefeed/config"
	"github.com/pevans/sitefeed/logging"
)

func handleRun(args []string) {
	// Parse flags for run command
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to the config file (SITEFEED_CONFIG)")
	all := fs.Bool("all", false, "Run every configured source")
	only := fs.String("only", "", "Comma-separated source names to run")
	outDir := fs.String("out-dir", "", "Directory for feed files (SITEFEED_OUT_DIR)")
	format := fs.String("format", "table", "Output format: table or json")
	fs.Parse(args)

	if *all == (*only != "") {
		fmt.Fprintln(os.Stderr, "Error: specify exactly one of --all or --only")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if len(cfg.Sources) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no sources configured")
		os.Exit(1)
	}

	logger := logging.New("sitefeed")
	a, err := newApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	// Cancel the batch on SIGINT/SIGTERM; unfinished sources are reported
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := a.run(ctx, splitNames(*only))
	if report == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	switch *format {
	case "json":
		printReportJSON(report)
	default:
		printReportTable(report)
	}

	// Exit with error code if any sources failed
	if report.Failed() > 0 {
		a.close()
		os.Exit(1)
	}
}
