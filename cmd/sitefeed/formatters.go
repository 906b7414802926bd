package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pevans/sitefeed/config"
	"github.com/pevans/sitefeed/runner"
	"github.com/pevans/sitefeed/sources"
)

// printReportTable prints a run report in human-readable table format
func printReportTable(report *runner.RunReport) {
	fmt.Printf("%-20s %-6s %6s %8s  %s\n", "SOURCE", "STATUS", "ITEMS", "SECONDS", "DETAIL")
	fmt.Println("--------------------------------------------------------------------------------")

	for _, rep := range report.Results {
		status := "ok"
		detail := rep.OutputPath
		switch {
		case !rep.OK:
			status = "FAIL"
			detail = fmt.Sprintf("%s: %s", rep.Stage, rep.Error)
		case rep.Warning != "":
			status = "warn"
			detail = rep.Warning
		}

		fmt.Printf("%-20s %-6s %6d %8.1f  %s\n",
			truncate(rep.Source, 20),
			status,
			rep.ItemCount,
			rep.ElapsedSeconds,
			truncate(detail, 60),
		)
	}

	fmt.Println()
	fmt.Printf("%d sources, %d failed, finished in %s\n",
		len(report.Results),
		report.Failed(),
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
}

// printReportJSON prints a run report in JSON format
func printReportJSON(report *runner.RunReport) {
	printJSON(report)
}

// sourceListing is one row of `sitefeed list --format json`
type sourceListing struct {
	Name  string          `json:"name"`
	Kind  string          `json:"kind"`
	URL   string          `json:"url"`
	State *sources.Source `json:"state,omitempty"`
}

// printSourcesTable prints configured sources with their last run
func printSourcesTable(cfg *config.Config, states map[string]*sources.Source) {
	fmt.Printf("%-20s %-8s %-20s %-5s %s\n", "NAME", "KIND", "LAST RUN", "FAILS", "URL")
	fmt.Println("----------------------------------------------------------------------------------------------------")

	for _, src := range cfg.Sources {
		lastRun := "never"
		fails := "-"
		if state, ok := states[src.Name]; ok {
			if state.LastRunAt != nil {
				lastRun = state.LastRunAt.Local().Format("2006-01-02 15:04")
				if !state.LastOK {
					lastRun += " !"
				}
			}
			fails = fmt.Sprintf("%d", state.FetchErrorCount)
		}

		fmt.Printf("%-20s %-8s %-20s %-5s %s\n",
			truncate(src.Name, 20),
			src.Kind,
			lastRun,
			fails,
			truncate(src.URL, 50),
		)
	}
}

// printSourcesJSON prints configured sources in JSON format
func printSourcesJSON(cfg *config.Config, states map[string]*sources.Source) {
	listing := make([]sourceListing, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		listing = append(listing, sourceListing{
			Name:  src.Name,
			Kind:  src.Kind,
			URL:   src.URL,
			State: states[src.Name],
		})
	}

	printJSON(map[string]any{
		"sources": listing,
		"total":   len(listing),
	})
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to marshal JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(data))
}
