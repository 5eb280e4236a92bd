// Package main implements the unified uuidvault binary.
// It runs ingestion, shard writing and hourly consolidation in one process,
// or a single role selected with --mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/uuidvault/uuidvault/internal/app"
	"github.com/uuidvault/uuidvault/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

type flags struct {
	configFile string
	dataDir    string
	mode       string
	httpAddr   string
	grpcAddr   string
	apiKey     string
	queueType  string
	storage    string
	bucket     string
}

func main() {
	var (
		f           flags
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&f.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&f.dataDir, "data-dir", "", "Base directory for local storage and the WAL")
	flag.StringVar(&f.mode, "mode", "", "Service mode: all, ingest, consume, consolidate")
	flag.StringVar(&f.httpAddr, "http-addr", "", "HTTP address for ingestion, /health and /trigger")
	flag.StringVar(&f.grpcAddr, "grpc-addr", "", "gRPC address; setting it enables the gRPC ingest service")
	flag.StringVar(&f.apiKey, "api-key", "", "Shared secret required by the ingest endpoints")
	flag.StringVar(&f.queueType, "queue", "", "Queue type: wal, kafka")
	flag.StringVar(&f.storage, "storage", "", "Storage type: local, s3")
	flag.StringVar(&f.bucket, "bucket", "", "S3 bucket (implies --storage s3)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "uuidvault - UUID event ingestion with hourly consolidation\n\n")
		fmt.Fprintf(os.Stderr, "Usage: uuidvault [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  uuidvault --data-dir /data/uuidvault --api-key s3cret\n")
		fmt.Fprintf(os.Stderr, "  uuidvault --mode consolidate --bucket uuid-events\n")
		fmt.Fprintf(os.Stderr, "  uuidvault --config /etc/uuidvault/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  UUIDVAULT_MODE            Service mode\n")
		fmt.Fprintf(os.Stderr, "  UUIDVAULT_DATA_DIR        Base directory for local data\n")
		fmt.Fprintf(os.Stderr, "  UUIDVAULT_API_KEY         Shared ingestion secret\n")
		fmt.Fprintf(os.Stderr, "  UUIDVAULT_QUEUE_TYPE      Queue type (wal, kafka)\n")
		fmt.Fprintf(os.Stderr, "  UUIDVAULT_KAFKA_BROKERS   Comma-separated Kafka brokers\n")
		fmt.Fprintf(os.Stderr, "  UUIDVAULT_STORAGE_TYPE    Storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  UUIDVAULT_S3_BUCKET       S3 bucket\n")
		fmt.Fprintf(os.Stderr, "  UUIDVAULT_SENTRY_DSN      Error reporting DSN\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("uuidvault version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	if err := application.Wait(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig layers the config file, the environment and flags, in rising priority.
func loadConfig(f flags) (*config.Config, error) {
	var cfg *config.Config
	if f.configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(f.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	if f.mode != "" {
		cfg.Mode = config.Mode(f.mode)
	}
	if f.httpAddr != "" {
		cfg.HTTP.Addr = f.httpAddr
	}
	if f.grpcAddr != "" {
		cfg.GRPC.Addr = f.grpcAddr
		cfg.GRPC.Enabled = true
	}
	if f.apiKey != "" {
		cfg.Auth.APIKey = f.apiKey
	}
	if f.queueType != "" {
		cfg.Queue.Type = f.queueType
	}
	if f.storage != "" {
		cfg.Storage.Type = f.storage
	}
	if f.bucket != "" {
		cfg.Storage.Type = config.StorageS3
		cfg.Storage.S3.Bucket = f.bucket
	}
	if cfg.Reporting.Release == "" {
		cfg.Reporting.Release = "uuidvault@" + version
	}
	return cfg, nil
}

func printBanner(cfg *config.Config) {
	log.Printf("uuidvault %s (commit %s)", version, commit)
	log.Printf("  Mode:    %s", cfg.Mode)
	log.Printf("  Storage: %s", cfg.Storage.Type)
	log.Printf("  Queue:   %s", cfg.Queue.Type)

	if cfg.ShouldRunIngest() {
		log.Printf("  Ingest:  http %s", cfg.HTTP.Addr)
		if cfg.GRPC.Enabled {
			log.Printf("           grpc %s", cfg.GRPC.Addr)
		}
	}
	if cfg.ShouldRunConsolidate() {
		log.Printf("  Consolidation: every %v over %d hours, %s",
			cfg.Consolidation.CheckInterval, cfg.Consolidation.LookbackHours, cfg.Consolidation.Order)
	}
}
