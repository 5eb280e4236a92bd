// Package main implements the uuidvault-consolidate binary.
// It runs hourly consolidation against object storage without the ingest
// or queue services, either as a long-lived daemon or as a single
// invocation for external schedulers.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uuidvault/uuidvault/internal/app"
	"github.com/uuidvault/uuidvault/internal/config"
	"github.com/uuidvault/uuidvault/internal/consolidation"
)

func main() {
	var (
		configFile string
		once       bool
		at         string
		lookback   int
		order      string
		interval   time.Duration
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.BoolVar(&once, "once", false, "Run a single invocation, print its report and exit")
	flag.StringVar(&at, "at", "", "Evaluate the window as of this RFC3339 time instead of now (with --once)")
	flag.IntVar(&lookback, "lookback", 0, "Completed hours examined per run")
	flag.StringVar(&order, "order", "", "Hour order: oldest-first, newest-first")
	flag.DurationVar(&interval, "check-interval", 0, "Interval between scheduled runs")
	flag.Parse()

	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}
	config.LoadFromEnv(cfg)

	cfg.Mode = config.ModeConsolidate
	if lookback > 0 {
		cfg.Consolidation.LookbackHours = lookback
	}
	if order != "" {
		cfg.Consolidation.Order = order
	}
	if interval > 0 {
		cfg.Consolidation.CheckInterval = interval
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	clock := time.Now
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			log.Fatalf("Invalid --at time: %v", err)
		}
		clock = func() time.Time { return t }
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, once, clock); err != nil {
		log.Printf("uuidvault-consolidate: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, once bool, clock func() time.Time) error {
	if cfg.Storage.Type == config.StorageLocal {
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}
	}

	store, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return err
	}

	reporter, err := app.NewReporter(cfg)
	if err != nil {
		return err
	}
	defer reporter.Flush(2 * time.Second)

	c, err := app.NewConsolidator(cfg, store)
	if err != nil {
		return err
	}

	daemon := consolidation.NewDaemon(consolidation.DaemonConfig{
		CheckInterval: cfg.Consolidation.CheckInterval,
		RunOnStart:    true,
		Clock:         clock,
	}, c, reporter)

	if once {
		report, err := daemon.RunOnce(ctx, consolidation.TriggerManual)
		if report != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(report)
		}
		return err
	}

	if err := daemon.Start(ctx); err != nil {
		return err
	}
	log.Printf("uuidvault-consolidate: running every %v over %d hours (%s)",
		cfg.Consolidation.CheckInterval, cfg.Consolidation.LookbackHours, cfg.Consolidation.Order)

	<-ctx.Done()
	log.Printf("uuidvault-consolidate: shutting down")
	return daemon.Stop()
}
