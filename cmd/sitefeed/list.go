package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/pevans/sitefeed/config"
	"github.com/pevans/sitefeed/sources"
)

func handleList(args []string) {
	// Parse flags for list command
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to the config file (SITEFEED_CONFIG)")
	format := fs.String("format", "table", "Output format: table or json")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	if len(cfg.Sources) == 0 {
		fmt.Println("No sources configured.")
		return
	}

	// Run state is optional; a fresh install has none
	states := map[string]*sources.Source{}
	if _, err := os.Stat(cfg.State.DSN); err == nil {
		store, err := sources.NewSourceStore(cfg.State.DSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to open state store: %v\n", err)
		} else {
			defer store.Close()
			for _, src := range cfg.Sources {
				state, err := store.GetSource(context.Background(), src.Name)
				if errors.Is(err, sources.ErrSourceNotFound) {
					continue
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to read state of %s: %v\n", src.Name, err)
					continue
				}
				states[src.Name] = state
			}
		}
	}

	switch *format {
	case "json":
		printSourcesJSON(cfg, states)
	default:
		printSourcesTable(cfg, states)
	}
}
