// Command panther scaffolds and runs Panther projects.
//
//	panther create <name> [dir] [-module path] [-no-tidy]
//	panther run [dir] [-reload]
//	panther version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/panther-now/panther"
	"github.com/panther-now/panther/bootstrap"
	"github.com/panther-now/panther/internal/devserver"
)

const usage = `Usage:
  panther create <name> [dir] [-module path] [-no-tidy]
  panther run [dir] [-reload]
  panther version
`

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "create":
		err = create(args[1:], stdout, stderr)
	case "run":
		err = runApp(ctx, args[1:], stderr)
	case "version", "-version", "--version":
		fmt.Fprintln(stdout, "panther", panther.Version)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		fmt.Fprint(stderr, usage)
		return 2
	default:
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
}

func create(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	module := fs.String("module", "", "Go module path (defaults to the project name)")
	noTidy := fs.Bool("no-tidy", false, "skip `go mod tidy`")
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(pos) < 1 || len(pos) > 2 {
		return errUsage
	}

	opts := bootstrap.Options{
		Name:           pos[0],
		ModulePath:     *module,
		PantherVersion: panther.Version,
		Tidy:           !*noTidy,
	}
	if len(pos) == 2 {
		opts.Dir = pos[1]
	}
	written, err := bootstrap.Init(opts)
	if err != nil {
		return err
	}
	for _, f := range written {
		fmt.Fprintln(stdout, "  created", f)
	}
	dir := opts.Dir
	if dir == "" {
		dir = opts.Name
	}
	fmt.Fprintf(stdout, "\nDone. Start it with:\n\n  panther run %s\n\n", dir)
	return nil
}

func runApp(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	reload := fs.Bool("reload", false, "rebuild and restart when files change")
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(pos) > 1 {
		return errUsage
	}
	dir := "."
	if len(pos) == 1 {
		dir = pos[0]
	}
	return devserver.Run(ctx, devserver.Options{Dir: dir, Reload: *reload})
}

// parseInterspersed accepts flags before and after positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
		if fs.NArg() == 0 {
			return pos, nil
		}
		pos = append(pos, fs.Arg(0))
		args = fs.Args()[1:]
	}
}
