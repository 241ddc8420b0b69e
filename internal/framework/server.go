package framework

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/panther-now/panther/kit/errutil"
	"github.com/panther-now/panther/kit/grace"
	"github.com/panther-now/panther/kit/netutil"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// NewServer returns the http.Server Serve uses, without an address.
func (a *App) NewServer() *http.Server {
	h := a.Handler()
	if a.cfg.H2C {
		h = h2c.NewHandler(h, &http2.Server{IdleTimeout: a.cfg.IdleTimeout.Duration})
	}
	return &http.Server{
		Handler:           h,
		ReadTimeout:       a.cfg.ReadTimeout.Duration,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      a.cfg.WriteTimeout.Duration,
		IdleTimeout:       a.cfg.IdleTimeout.Duration,
		MaxHeaderBytes:    1 << 20,
		ErrorLog:          slog.NewLogLogger(httpLog.Handler(), slog.LevelWarn),
	}
}

// Run serves on the configured address until SIGINT or SIGTERM.
func (a *App) Run() error { return a.Serve(context.Background()) }

// Serve listens on the configured address and serves until ctx is done
// or a shutdown signal arrives, then drains in-flight requests.
func (a *App) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", a.cfg.Addr, err)
	}
	return a.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener, which it closes.
func (a *App) ServeListener(ctx context.Context, ln net.Listener) error {
	server := a.NewServer()
	url := "http://" + ln.Addr().String()
	if a.cfg.Debug && !netutil.IsLocalhost(ln.Addr().String()) {
		Log.Warn("Debug mode is on for a non-loopback address", "addr", ln.Addr().String())
	}

	return grace.Orchestrate(ctx, grace.OrchestrateOptions{
		StartupCallback: func() error {
			Log.Info("Starting server", "url", url, "h2c", a.cfg.H2C, "debug", a.cfg.Debug)
			return server.Serve(ln)
		},
		ShutdownCallback: func(shutdownCtx context.Context) error {
			Log.Info("Shutting down server", "url", url)
			return errutil.Maybe("server shutdown", server.Shutdown(shutdownCtx))
		},
		ShutdownTimeout: a.cfg.ShutdownTimeout.Duration,
		IsClosed:        errutil.ToIsErrFunc(http.ErrServerClosed),
	})
}
