package consolidation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vaulterrors "github.com/uuidvault/uuidvault/internal/errors"
	"github.com/uuidvault/uuidvault/internal/reporting"
	"github.com/uuidvault/uuidvault/internal/storage"
	"github.com/uuidvault/uuidvault/internal/storage/storagetest"
	"github.com/uuidvault/uuidvault/pkg/types"
)

type recordingReporter struct {
	mu     sync.Mutex
	errs   []error
	events []reporting.Event
}

func (r *recordingReporter) Capture(_ context.Context, err error, ev reporting.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.events = append(r.events, ev)
}

func (r *recordingReporter) Flush(time.Duration) bool { return true }

func (r *recordingReporter) captured() []reporting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reporting.Event(nil), r.events...)
}

// gatedStorage blocks the first List until released.
type gatedStorage struct {
	storage.ObjectStorage
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStorage(inner storage.ObjectStorage) *gatedStorage {
	return &gatedStorage{
		ObjectStorage: inner,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (g *gatedStorage) List(ctx context.Context, prefix string) ([]string, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.ObjectStorage.List(ctx, prefix)
}

func fixedClock() time.Time { return testNow }

func TestDaemon_SingleFlight(t *testing.T) {
	inner := newTestStorage(t)
	putShard(t, inner, hourAt(11), time.Minute, types.Record{TS: 1, IDType: 1, ID: "a"})
	gated := newGatedStorage(inner)
	reporter := &recordingReporter{}
	d := NewDaemon(DaemonConfig{Clock: fixedClock}, New(gated, DefaultConfig()), reporter)

	type result struct {
		report *Report
		err    error
	}
	first := make(chan result, 1)
	go func() {
		report, err := d.Trigger(context.Background())
		first <- result{report, err}
	}()
	<-gated.entered

	report, err := d.Trigger(context.Background())
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, vaulterrors.CodeRunInProgress, vaulterrors.GetCode(err))

	close(gated.release)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, hourAt(11), res.report.Hour)
	assert.Same(t, res.report, d.LastReport())
	assert.Empty(t, reporter.captured())

	// The guard is released once the run finishes.
	report, err = d.Trigger(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Processed())
}

func TestDaemon_ReportsFailures(t *testing.T) {
	store := storagetest.Wrap(newTestStorage(t))
	store.FailOn(storagetest.OpList, "")
	reporter := &recordingReporter{}
	d := NewDaemon(DaemonConfig{Clock: fixedClock}, New(store, DefaultConfig()), reporter)

	report, err := d.Trigger(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)

	events := reporter.captured()
	require.Len(t, events, 1)
	assert.Equal(t, "consolidation", events[0].Component)
	assert.Equal(t, TriggerManual, events[0].Trigger)
	assert.Equal(t, report.RunID, events[0].RunID)
	assert.Equal(t, []string{"SELECT_WINDOW", "LIST_SHARDS", "STOP"}, events[0].Fields["trace"])
	assert.True(t, errors.Is(reporter.errs[0], storagetest.ErrInjected))

	// The daemon keeps accepting runs after a failure.
	store.Heal()
	_, err = d.Trigger(context.Background())
	require.NoError(t, err)
	assert.Len(t, reporter.captured(), 1)
}

func TestDaemon_NilReporter(t *testing.T) {
	store := storagetest.Wrap(newTestStorage(t))
	store.FailOn(storagetest.OpList, "")
	d := NewDaemon(DaemonConfig{Clock: fixedClock}, New(store, DefaultConfig()), nil)

	_, err := d.RunOnce(context.Background(), TriggerSchedule)
	assert.Error(t, err)
}

func TestDaemon_RunOnStart(t *testing.T) {
	inner := newTestStorage(t)
	putShard(t, inner, hourAt(10), time.Minute, types.Record{TS: 1, IDType: 1, ID: "a"})
	d := NewDaemon(DaemonConfig{
		CheckInterval: time.Hour,
		RunOnStart:    true,
		Clock:         fixedClock,
	}, New(inner, DefaultConfig()), nil)

	require.NoError(t, d.Start(context.Background()))
	require.Eventually(t, func() bool {
		r := d.LastReport()
		return r != nil && r.ShardsDeleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Error(t, d.Start(context.Background()))
	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop())
}

func TestDaemon_ScheduledRuns(t *testing.T) {
	inner := newTestStorage(t)
	putShard(t, inner, hourAt(10), time.Minute, types.Record{TS: 1, IDType: 1, ID: "a"})
	putShard(t, inner, hourAt(11), time.Minute, types.Record{TS: 2, IDType: 1, ID: "b"})
	d := NewDaemon(DaemonConfig{
		CheckInterval: 10 * time.Millisecond,
		Clock:         fixedClock,
	}, New(inner, DefaultConfig()), nil)

	require.NoError(t, d.Start(context.Background()))

	require.Eventually(t, func() bool {
		keys, err := inner.List(context.Background(), "shards/")
		return err == nil && len(keys) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, d.Stop())
	assert.Len(t, readArchive(t, inner, hourAt(10)), 1)
	assert.Len(t, readArchive(t, inner, hourAt(11)), 1)
}
