// Package app wires uuidvault's services together according to the configured mode.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	grpcapi "github.com/uuidvault/uuidvault/internal/api/grpc"
	httpapi "github.com/uuidvault/uuidvault/internal/api/http"
	"github.com/uuidvault/uuidvault/internal/config"
	"github.com/uuidvault/uuidvault/internal/consolidation"
	"github.com/uuidvault/uuidvault/internal/queue"
	"github.com/uuidvault/uuidvault/internal/reporting"
	"github.com/uuidvault/uuidvault/internal/server"
	"github.com/uuidvault/uuidvault/internal/shard"
	"github.com/uuidvault/uuidvault/internal/storage"
	"github.com/uuidvault/uuidvault/internal/wal"
)

// reporterFlushTimeout bounds delivery of pending error reports on shutdown.
const reporterFlushTimeout = 2 * time.Second

// App manages all uuidvault service lifecycles.
type App struct {
	cfg *config.Config

	storage  storage.ObjectStorage
	reporter reporting.Reporter
	shutdown *server.ShutdownManager

	producer queue.Producer
	source   queue.Source
	daemon   *consolidation.Daemon

	mu      sync.Mutex
	running bool
}

// New validates cfg and prepares local directories.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{
		cfg:      cfg,
		shutdown: server.NewShutdownManager(server.DefaultShutdownConfig()),
	}, nil
}

// Start opens shared resources and starts the services selected by the mode.
// Resources are registered with the shutdown manager as they open, so the
// last one started is the first one stopped.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	if err := a.start(ctx); err != nil {
		a.shutdown.Shutdown()
		return err
	}
	log.Printf("uuidvault started in %s mode", a.cfg.Mode)
	return nil
}

func (a *App) start(ctx context.Context) error {
	var err error
	a.reporter, err = NewReporter(a.cfg)
	if err != nil {
		return err
	}
	a.shutdown.Register("reporter", server.CloserFunc(func() error {
		a.reporter.Flush(reporterFlushTimeout)
		return nil
	}))

	a.storage, err = OpenStorage(ctx, a.cfg)
	if err != nil {
		return err
	}

	if a.cfg.ShouldRunIngest() || a.cfg.ShouldRunConsume() {
		if err := a.openQueue(); err != nil {
			return fmt.Errorf("failed to open queue: %w", err)
		}
	}

	if a.cfg.ShouldRunConsume() {
		a.startConsumer()
	}

	if a.cfg.ShouldRunConsolidate() {
		if err := a.startConsolidation(ctx); err != nil {
			return fmt.Errorf("failed to start consolidation: %w", err)
		}
	}

	return a.startServers()
}

// OpenStorage creates the object storage backend selected by cfg.
func OpenStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Storage.Type {
	case config.StorageLocal:
		store, err := storage.NewLocalStorage(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open local storage: %w", err)
		}
		log.Printf("storage: local at %s", cfg.Storage.Path)
		return store, nil
	case config.StorageS3:
		s3Cfg := storage.DefaultS3Config()
		if cfg.Storage.S3.Region != "" {
			s3Cfg.Region = cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.Storage.S3.UsePathStyle
		store, err := storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open s3 storage: %w", err)
		}
		log.Printf("storage: s3 bucket=%s region=%s endpoint=%s", cfg.Storage.S3.Bucket, s3Cfg.Region, s3Cfg.Endpoint)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// NewReporter creates the error reporter; without a DSN failures are only logged.
func NewReporter(cfg *config.Config) (reporting.Reporter, error) {
	r, err := reporting.New(reporting.SentryConfig{
		DSN:         cfg.Reporting.SentryDSN,
		Environment: cfg.Reporting.Environment,
		Release:     cfg.Reporting.Release,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reporter: %w", err)
	}
	return r, nil
}

// NewConsolidator builds a consolidator from cfg.
func NewConsolidator(cfg *config.Config, store storage.ObjectStorage) (*consolidation.Consolidator, error) {
	order, err := consolidation.ParseOrder(cfg.Consolidation.Order)
	if err != nil {
		return nil, err
	}
	return consolidation.New(store, consolidation.Config{
		Lookback:         cfg.Consolidation.LookbackHours,
		Order:            order,
		FetchConcurrency: cfg.Consolidation.FetchConcurrency,
	}), nil
}

func (a *App) retryPolicy() queue.RetryPolicy {
	policy := queue.DefaultRetryPolicy()
	policy.MaxRedeliveries = a.cfg.Queue.MaxRedeliveries
	return policy
}

func (a *App) openQueue() error {
	switch a.cfg.Queue.Type {
	case config.QueueWAL:
		w, err := wal.Open(a.cfg.Queue.WAL.Dir, a.cfg.Queue.WAL.MaxSegmentSize)
		if err != nil {
			return err
		}
		a.shutdown.Register("wal", w)
		a.producer = w
		a.source = wal.NewPoller(w, a.cfg.Queue.PollInterval, a.cfg.Queue.BatchSize, a.retryPolicy())
		log.Printf("queue: wal at %s (lsn %d, committed %d)", a.cfg.Queue.WAL.Dir, w.CurrentLSN(), w.Committed())

	case config.QueueKafka:
		kcfg := queue.KafkaConfig{
			Brokers:   a.cfg.Queue.Kafka.Brokers,
			Topic:     a.cfg.Queue.Kafka.Topic,
			Group:     a.cfg.Queue.Kafka.Group,
			BatchSize: a.cfg.Queue.BatchSize,
			Retry:     a.retryPolicy(),
		}
		if a.cfg.ShouldRunIngest() {
			p, err := queue.NewKafkaProducer(kcfg)
			if err != nil {
				return err
			}
			a.shutdown.Register("kafka producer", p)
			a.producer = p
		}
		if a.cfg.ShouldRunConsume() {
			s, err := queue.NewKafkaSource(kcfg)
			if err != nil {
				return err
			}
			a.shutdown.Register("kafka source", s)
			a.source = s
		}
		log.Printf("queue: kafka topic=%s brokers=%v", kcfg.Topic, kcfg.Brokers)

	default:
		return fmt.Errorf("unsupported queue type: %s", a.cfg.Queue.Type)
	}
	return nil
}

func (a *App) startConsumer() {
	consumer := queue.NewConsumer(shard.NewWriter(a.storage),
		queue.WithVerbose(true),
		queue.WithReporter(a.reporter),
	)
	a.shutdown.Go("consumer", func(ctx context.Context) error {
		return a.source.Run(ctx, consumer)
	})
}

func (a *App) startConsolidation(ctx context.Context) error {
	c, err := NewConsolidator(a.cfg, a.storage)
	if err != nil {
		return err
	}
	a.daemon = consolidation.NewDaemon(consolidation.DaemonConfig{
		CheckInterval: a.cfg.Consolidation.CheckInterval,
		RunOnStart:    a.cfg.Consolidation.RunOnStart,
	}, c, a.reporter)

	if err := a.daemon.Start(ctx); err != nil {
		return err
	}
	a.shutdown.Register("consolidation daemon", server.CloserFunc(a.daemon.Stop))
	log.Printf("consolidation: daemon started (interval=%s, lookback=%dh, order=%s)",
		a.cfg.Consolidation.CheckInterval, a.cfg.Consolidation.LookbackHours, a.cfg.Consolidation.Order)
	return nil
}

func (a *App) startServers() error {
	routes := httpapi.Routes{}
	if a.cfg.ShouldRunIngest() {
		routes.Ingest = httpapi.NewIngestHandler(a.producer, a.cfg.Auth.APIKey, a.reporter)
	}
	if a.daemon != nil {
		routes.Trigger = httpapi.NewTriggerHandler(a.daemon, a.cfg.Auth.APIKey)
	}

	srv := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      a.shutdown.Middleware(httpapi.NewMux(routes)),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	if err := a.shutdown.ServeHTTP("http", srv); err != nil {
		return err
	}

	if a.cfg.GRPC.Enabled && a.cfg.ShouldRunIngest() {
		gs := grpc.NewServer(grpc.UnaryInterceptor(a.shutdown.UnaryInterceptor()))
		grpcapi.RegisterIngestServiceServer(gs, grpcapi.NewIngestServer(a.producer, a.cfg.Auth.APIKey, a.reporter))
		if err := a.shutdown.ServeGRPC("grpc", a.cfg.GRPC.Addr, gs); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until a termination signal or ctx cancellation, then stops the app.
func (a *App) Wait(ctx context.Context) error {
	return a.shutdown.WaitForSignal(ctx)
}

// Stop stops every service in reverse start order.
func (a *App) Stop() error {
	err := a.shutdown.Shutdown()
	log.Printf("uuidvault stopped")
	return err
}

// Daemon returns the consolidation daemon, or nil when the mode does not run it.
func (a *App) Daemon() *consolidation.Daemon {
	return a.daemon
}
