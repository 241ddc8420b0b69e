// Package devserver implements `panther run`: it runs the app in a
// project directory and, in reload mode, rebuilds and restarts it
// whenever a watched file changes.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/panther-now/panther/kit/colorlog"
	"github.com/panther-now/panther/kit/executil"
)

var Log = colorlog.New("devserver")

var (
	DefaultInclude = []string{"**/*.go", "go.mod", "go.sum", "panther.toml", ".env"}
	DefaultExclude = []string{".git/**", "**/node_modules/**", "**/testdata/**", "**/*_test.go", "tmp/**"}
)

const (
	DefaultDebounce = 150 * time.Millisecond

	// How long a stopping app gets after SIGINT before it is killed.
	stopGrace = 5 * time.Second
)

type Options struct {
	// Project directory. Defaults to ".".
	Dir    string
	Reload bool

	// Watched files, as doublestar patterns relative to Dir. Default to
	// DefaultInclude and DefaultExclude.
	Include []string
	Exclude []string

	// Defaults to DefaultDebounce.
	Debounce time.Duration

	// Passed to the app.
	Args []string
}

func (o Options) withDefaults() Options {
	if o.Dir == "" {
		o.Dir = "."
	}
	if len(o.Include) == 0 {
		o.Include = DefaultInclude
	}
	if o.Exclude == nil {
		o.Exclude = DefaultExclude
	}
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	return o
}

// Run blocks until ctx is done or, without reload, the app exits.
func Run(ctx context.Context, opts Options) error {
	opts = opts.withDefaults()
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return err
	}
	opts.Dir = dir
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err != nil {
		return fmt.Errorf("%s is not a Go module: %w", dir, err)
	}

	if !opts.Reload {
		cmd := executil.MakeCmd(ctx, dir, append([]string{"go", "run", "."}, opts.Args...)...)
		interruptOnCancel(cmd)
		return ignoreCanceled(ctx, cmd.Run())
	}
	return runWithReload(ctx, opts)
}

func runWithReload(ctx context.Context, opts Options) error {
	w, err := newWatcher(opts.Dir, opts.Include, opts.Exclude, opts.Debounce)
	if err != nil {
		return fmt.Errorf("error starting watcher: %w", err)
	}
	defer w.Close()

	binDir, err := os.MkdirTemp("", "panther-dev-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(binDir)
	bin := filepath.Join(binDir, "app")
	if runtime.GOOS == "windows" {
		bin += ".exe"
	}

	Log.Info("Watching for changes", "dir", opts.Dir)
	for generation := 1; ; generation++ {
		runCtx, stop := context.WithCancel(ctx)
		var exited chan error

		if err := executil.RunCmdContext(ctx, opts.Dir, "go", "build", "-o", bin, "."); err != nil {
			if ctx.Err() != nil {
				stop()
				return nil
			}
			Log.Error("Build failed, waiting for changes", "error", err)
		} else {
			cmd := executil.MakeCmd(runCtx, opts.Dir, append([]string{bin}, opts.Args...)...)
			cmd.Env = append(cmd.Env, "PANTHER_DEV_GENERATION="+strconv.Itoa(generation))
			interruptOnCancel(cmd)
			if err := cmd.Start(); err != nil {
				stop()
				return fmt.Errorf("error starting app: %w", err)
			}
			exited = make(chan error, 1)
			go func() { exited <- cmd.Wait() }()
		}

		select {
		case <-ctx.Done():
			stop()
			waitExit(exited)
			return nil

		case file := <-w.Changes():
			Log.Info("Change detected, restarting", "file", file)

		case err := <-exited:
			exited = nil
			Log.Warn("App exited, waiting for changes", "error", err)
			select {
			case <-ctx.Done():
				stop()
				return nil
			case file := <-w.Changes():
				Log.Info("Change detected, restarting", "file", file)
			}
		}
		stop()
		waitExit(exited)
	}
}

func waitExit(exited chan error) {
	if exited != nil {
		<-exited
	}
}

// interruptOnCancel makes context cancellation ask the app to shut down
// gracefully before it is killed.
func interruptOnCancel(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if runtime.GOOS == "windows" {
			return cmd.Process.Kill()
		}
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = stopGrace
}

func ignoreCanceled(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
