package consolidation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	vaulterrors "github.com/uuidvault/uuidvault/internal/errors"
	"github.com/uuidvault/uuidvault/internal/metrics"
	"github.com/uuidvault/uuidvault/internal/reporting"
)

// Trigger sources recorded with each run.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerStartup  = "startup"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = vaulterrors.New(vaulterrors.ErrCategoryConsolidation, vaulterrors.CodeRunInProgress,
	"consolidation: run already in progress")

// DaemonConfig holds configuration for the consolidation daemon.
type DaemonConfig struct {
	// CheckInterval is how often a scheduled run starts (default: 20m, three per hour).
	CheckInterval time.Duration

	// RunOnStart runs once immediately when the daemon starts.
	RunOnStart bool

	// Clock returns the current time; nil uses time.Now.
	Clock func() time.Time
}

// DefaultDaemonConfig returns the default daemon configuration.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		CheckInterval: 20 * time.Minute,
	}
}

// Daemon runs the consolidator on a schedule and on demand. At most one run
// is in flight at a time.
type Daemon struct {
	config       DaemonConfig
	consolidator *Consolidator
	reporter     reporting.Reporter

	inFlight atomic.Bool

	lastMu sync.Mutex
	last   *Report

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDaemon creates a daemon. A nil reporter discards failures.
func NewDaemon(config DaemonConfig, c *Consolidator, reporter reporting.Reporter) *Daemon {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultDaemonConfig().CheckInterval
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if reporter == nil {
		reporter = reporting.NopReporter{}
	}
	return &Daemon{
		config:       config,
		consolidator: c,
		reporter:     reporter,
	}
}

// Start begins the schedule loop. It runs until the context is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("consolidation: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop stops the schedule loop and waits for an active scheduled run to finish.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.cancel()
	<-d.done
	d.running = false
	return nil
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	if d.config.RunOnStart {
		d.RunOnce(ctx, TriggerStartup)
	}

	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunOnce(ctx, TriggerSchedule)
		}
	}
}

// Trigger runs one invocation on demand.
func (d *Daemon) Trigger(ctx context.Context) (*Report, error) {
	return d.RunOnce(ctx, TriggerManual)
}

// RunOnce performs a single invocation unless one is already running, in
// which case it returns ErrRunInProgress without touching storage.
// Failures are logged and reported; none of them stop the daemon.
func (d *Daemon) RunOnce(ctx context.Context, trigger string) (*Report, error) {
	if !d.inFlight.CompareAndSwap(false, true) {
		log.Printf("consolidation: %s run skipped, another run is in progress", trigger)
		metrics.ConsolidationRun(trigger, metrics.ResultSkipped, 0, 0, 0, 0)
		return nil, ErrRunInProgress
	}
	defer d.inFlight.Store(false)

	report, err := d.consolidator.Run(ctx, d.config.Clock())

	d.lastMu.Lock()
	d.last = report
	d.lastMu.Unlock()
	observe(trigger, report, err)

	if err != nil {
		log.Printf("consolidation: %s run %s failed: %v", trigger, report.RunID, err)
		if vaulterrors.IsReportable(err) {
			fields := map[string]interface{}{
				"trace": report.TraceNames(),
			}
			if report.Processed() {
				fields["hour"] = report.Hour.Format(time.RFC3339)
				fields["shards"] = len(report.ShardKeys)
			}
			d.reporter.Capture(ctx, err, reporting.Event{
				Component: "consolidation",
				Trigger:   trigger,
				RunID:     report.RunID,
				Fields:    fields,
			})
		}
		return report, err
	}

	if !report.Processed() {
		log.Printf("consolidation: %s run %s: no shards in window", trigger, report.RunID)
	}
	return report, nil
}

// LastReport returns the report of the most recent run, or nil.
func (d *Daemon) LastReport() *Report {
	d.lastMu.Lock()
	defer d.lastMu.Unlock()
	return d.last
}

func observe(trigger string, r *Report, err error) {
	result := metrics.ResultMerged
	switch {
	case err != nil:
		result = metrics.ResultFailed
	case !r.Processed():
		result = metrics.ResultEmpty
	}
	written := 0
	if r.Persisted {
		written = r.RowsAfter
	}
	metrics.ConsolidationRun(trigger, result, r.Duration, written, r.Stats.Duplicates, r.Stats.Invalid)
}
