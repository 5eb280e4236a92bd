// Package server manages the lifecycle of uuidvault's network servers and
// background workers.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errShuttingDown = status.Error(codes.Unavailable, "shutting down")

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// DrainTimeout bounds the wait for in-flight requests (default: 15s).
	DrainTimeout time.Duration

	// CloseTimeout bounds each registered closer (default: 10s).
	CloseTimeout time.Duration
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		DrainTimeout: 15 * time.Second,
		CloseTimeout: 10 * time.Second,
	}
}

// namedCloser is a resource released on shutdown.
type namedCloser struct {
	name   string
	closer io.Closer
}

// ShutdownManager drains in-flight requests and then closes registered
// resources in reverse registration order, so consumers stop before the
// producers and storage they depend on.
type ShutdownManager struct {
	config ShutdownConfig

	draining atomic.Bool
	inFlight atomic.Int64

	mu      sync.Mutex
	closers []namedCloser

	once sync.Once
	done chan struct{}
	err  error
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager(config ShutdownConfig) *ShutdownManager {
	defaults := DefaultShutdownConfig()
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = defaults.DrainTimeout
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = defaults.CloseTimeout
	}
	return &ShutdownManager{
		config: config,
		done:   make(chan struct{}),
	}
}

// Register adds a resource to close on shutdown.
func (sm *ShutdownManager) Register(name string, closer io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, namedCloser{name: name, closer: closer})
}

// WaitForSignal blocks until SIGINT, SIGTERM or ctx cancellation, then shuts down.
func (sm *ShutdownManager) WaitForSignal(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Printf("server: shutting down")
	case <-sm.done:
		return sm.err
	}
	return sm.Shutdown()
}

// Shutdown stops accepting requests, waits for in-flight ones up to the drain
// timeout, then closes every registered resource. It is safe to call more
// than once; later calls return the first result.
func (sm *ShutdownManager) Shutdown() error {
	sm.once.Do(func() {
		defer close(sm.done)
		sm.draining.Store(true)

		var errs []error
		if err := sm.drain(); err != nil {
			errs = append(errs, err)
		}

		sm.mu.Lock()
		closers := append([]namedCloser(nil), sm.closers...)
		sm.mu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			c := closers[i]
			if err := sm.closeWithTimeout(c); err != nil {
				log.Printf("server: close %s: %v", c.name, err)
				errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			}
		}
		sm.err = errors.Join(errs...)
	})
	<-sm.done
	return sm.err
}

func (sm *ShutdownManager) drain() error {
	deadline := time.NewTimer(sm.config.DrainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for sm.inFlight.Load() > 0 {
		select {
		case <-deadline.C:
			return fmt.Errorf("timeout waiting for %d in-flight requests", sm.inFlight.Load())
		case <-ticker.C:
		}
	}
	return nil
}

func (sm *ShutdownManager) closeWithTimeout(c namedCloser) error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.closer.Close() }()

	select {
	case err := <-errCh:
		return err
	case <-time.After(sm.config.CloseTimeout):
		return fmt.Errorf("timed out after %s", sm.config.CloseTimeout)
	}
}

// Done is closed once shutdown has finished.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.done
}

// IsShuttingDown reports whether shutdown has begun.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return sm.draining.Load()
}

// InFlight returns the number of tracked requests.
func (sm *ShutdownManager) InFlight() int64 {
	return sm.inFlight.Load()
}

// track registers a request unless shutdown has begun.
func (sm *ShutdownManager) track() bool {
	sm.inFlight.Add(1)
	if sm.draining.Load() {
		sm.inFlight.Add(-1)
		return false
	}
	return true
}

func (sm *ShutdownManager) untrack() {
	sm.inFlight.Add(-1)
}

// Middleware tracks in-flight HTTP requests and answers 503 once shutdown
// has begun. Tracked requests finish before any registered resource closes.
func (sm *ShutdownManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sm.track() {
			w.Header().Set("Connection", "close")
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		defer sm.untrack()
		next.ServeHTTP(w, r)
	})
}

// UnaryInterceptor is the gRPC counterpart of Middleware.
func (sm *ShutdownManager) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !sm.track() {
			return nil, errShuttingDown
		}
		defer sm.untrack()
		return handler(ctx, req)
	}
}

// ServeHTTP starts srv on its address in the background and registers it
// for graceful shutdown. Listen errors are returned immediately.
func (sm *ShutdownManager) ServeHTTP(name string, srv *http.Server) error {
	lis, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s on %s: %w", name, srv.Addr, err)
	}
	sm.Register(name, CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), sm.config.CloseTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}))

	go func() {
		log.Printf("server: %s listening on %s", name, lis.Addr())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server: %s stopped: %v", name, err)
		}
	}()
	return nil
}

// ServeGRPC starts srv on addr in the background and registers it for
// graceful shutdown.
func (sm *ShutdownManager) ServeGRPC(name, addr string, srv *grpc.Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s on %s: %w", name, addr, err)
	}
	sm.Register(name, CloserFunc(func() error {
		srv.GracefulStop()
		return nil
	}))

	go func() {
		log.Printf("server: %s listening on %s", name, lis.Addr())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Printf("server: %s stopped: %v", name, err)
		}
	}()
	return nil
}

// Go runs fn in the background until shutdown. On shutdown the context
// passed to fn is cancelled and the manager waits for fn to return.
func (sm *ShutdownManager) Go(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("server: %s exited: %v", name, err)
		}
	}()
	sm.Register(name, CloserFunc(func() error {
		cancel()
		<-finished
		return nil
	}))
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error {
	return f()
}
