package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pevans/sitefeed/api"
	"github.com/pevans/sitefeed/config"
	"github.com/pevans/sitefeed/logging"
	"github.com/robfig/cron/v3"
)

func handleServe(args []string) {
	// Parse flags for serve command
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to the config file (SITEFEED_CONFIG)")
	addr := fs.String("addr", "", "HTTP listen address (SITEFEED_LISTEN_ADDR)")
	schedule := fs.String("schedule", "", "Cron schedule for runs (SITEFEED_SCHEDULE)")
	runNow := fs.Bool("run-now", false, "Run every source once at startup")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *schedule != "" {
		cfg.Server.Schedule = *schedule
	}

	logger := logging.New("sitefeed")
	a, err := newApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scheduled runs never overlap; a tick during a run is skipped.
	var running sync.Mutex
	runOnce := func() {
		if !running.TryLock() {
			logger.Warn("previous run still in progress, skipping")
			return
		}
		defer running.Unlock()

		report, err := a.run(ctx, nil)
		if err != nil {
			logger.Error("run failed", "error", err)
		}
		if report != nil {
			logger.Info("scheduled run finished", "sources", len(report.Results), "failed", report.Failed())
		}
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Server.Schedule, runOnce); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid schedule %q: %v\n", cfg.Server.Schedule, err)
		os.Exit(1)
	}
	scheduler.Start()
	logger.Info("scheduler started", "schedule", cfg.Server.Schedule, "sources", len(cfg.Sources))

	var startup sync.WaitGroup
	if *runNow {
		startup.Add(1)
		go func() {
			defer startup.Done()
			runOnce()
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(a.state, a.feeds, a.reportPath()).SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		errChan <- server.ListenAndServe()
	}()

	// Wait for signal or error
	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	// Wait for an in-progress run to finish
	stopped := make(chan struct{})
	go func() {
		<-scheduler.Stop().Done()
		startup.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		logger.Info("scheduler stopped")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}
}
