// Package grace runs a long-lived process until it fails or receives a
// shutdown signal, then gives it a bounded amount of time to stop.
package grace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/panther-now/panther/kit/colorlog"
	"golang.org/x/sync/errgroup"
)

var Log = colorlog.New("grace")

const DefaultShutdownTimeout = 10 * time.Second

type OrchestrateOptions struct {
	// REQUIRED. Blocks until the process stops on its own. Returning
	// http.ErrServerClosed (or any error matching IsClosed) counts as
	// a clean stop.
	StartupCallback func() error

	// REQUIRED. Called once, when a signal arrives or the parent
	// context is done. Must make StartupCallback return.
	ShutdownCallback func(shutdownCtx context.Context) error

	// Defaults to DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// Defaults to SIGINT and SIGTERM.
	Signals []os.Signal

	// Reports errors StartupCallback returns that mean a clean stop.
	IsClosed func(error) bool
}

// Orchestrate runs StartupCallback and, when ctx is done or one of the
// signals arrives, ShutdownCallback. It returns once both have returned.
// StartupCallback returning, with or without an error, also triggers
// the shutdown callback.
func Orchestrate(ctx context.Context, opts OrchestrateOptions) error {
	if opts.StartupCallback == nil || opts.ShutdownCallback == nil {
		return errors.New("grace: StartupCallback and ShutdownCallback are required")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if len(opts.Signals) == 0 {
		opts.Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	if opts.IsClosed == nil {
		opts.IsClosed = func(error) bool { return false }
	}

	sigCtx, stop := signal.NotifyContext(ctx, opts.Signals...)
	defer stop()

	runCtx, stopRun := context.WithCancel(sigCtx)
	defer stopRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer stopRun()
		if err := opts.StartupCallback(); err != nil && !opts.IsClosed(err) {
			return fmt.Errorf("grace: startup: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		if sigCtx.Err() != nil && ctx.Err() == nil {
			Log.Info("Shutdown signal received")
		}
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.ShutdownTimeout)
		defer cancel()
		if err := opts.ShutdownCallback(shutdownCtx); err != nil {
			return fmt.Errorf("grace: shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
