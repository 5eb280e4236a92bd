// Package reporting forwards unexpected failures to an exception collector.
package reporting

import (
	"context"
	"fmt"
	"log"
	"time"

	sentry "github.com/getsentry/sentry-go"

	vaulterrors "github.com/uuidvault/uuidvault/internal/errors"
)

// Event is the context attached to a captured failure.
type Event struct {
	// Component names the subsystem that failed (consolidation, ingest, queue).
	Component string
	// Trigger is what started the failing activity (schedule, manual, startup).
	Trigger string
	// RunID correlates the failure with log lines.
	RunID string
	// Fields carries extra key/value context such as the hour or state.
	Fields map[string]interface{}
}

// Reporter captures failures.
type Reporter interface {
	Capture(ctx context.Context, err error, ev Event)
	Flush(timeout time.Duration) bool
}

// NopReporter discards everything. Used when no collector is configured.
type NopReporter struct{}

func (NopReporter) Capture(context.Context, error, Event) {}

func (NopReporter) Flush(time.Duration) bool { return true }

// SentryConfig configures the Sentry reporter.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string

	// Transport overrides event delivery; nil uses the HTTP transport.
	Transport sentry.Transport
}

// SentryReporter sends failures to Sentry through its own hub, so it never
// touches the global Sentry state.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter creates a reporter from cfg.
func NewSentryReporter(cfg SentryConfig) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		AttachStacktrace: true,
		Transport:        cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("reporting: sentry client: %w", err)
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// New returns a Sentry reporter when a DSN is configured and a NopReporter otherwise.
func New(cfg SentryConfig) (Reporter, error) {
	if cfg.DSN == "" {
		return NopReporter{}, nil
	}
	return NewSentryReporter(cfg)
}

// Capture sends err with ev attached as tags and context.
func (r *SentryReporter) Capture(ctx context.Context, err error, ev Event) {
	if err == nil {
		return
	}

	r.hub.WithScope(func(scope *sentry.Scope) {
		if ev.Component != "" {
			scope.SetTag("component", ev.Component)
		}
		if ev.Trigger != "" {
			scope.SetTag("trigger", ev.Trigger)
		}
		if cat := vaulterrors.GetCategory(err); cat != "" {
			scope.SetTag("category", string(cat))
			scope.SetTag("code", vaulterrors.GetCode(err))
		}

		details := map[string]interface{}{}
		if ev.RunID != "" {
			details["run_id"] = ev.RunID
		}
		for k, v := range ev.Fields {
			details[k] = v
		}
		if len(details) > 0 {
			scope.SetContext("event", details)
		}

		if id := r.hub.CaptureException(err); id == nil {
			log.Printf("reporting: event for %s was dropped", ev.Component)
		}
	})
}

// Flush waits for queued events to be delivered.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
