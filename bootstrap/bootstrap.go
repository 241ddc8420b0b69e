// Package bootstrap scaffolds new Panther projects.
package bootstrap

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/panther-now/panther/kit/colorlog"
	"github.com/panther-now/panther/kit/executil"
)

var Log = colorlog.New("bootstrap")

//go:embed tmpls/*.txt
var tmplsFS embed.FS

var validName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

var ErrDirNotEmpty = errors.New("target directory exists and is not empty")

type Options struct {
	// REQUIRED. Letters, digits, "-" and "_", starting with a letter.
	Name string
	// Defaults to Name.
	Dir string
	// Defaults to Name.
	ModulePath string
	// Version of this module the project requires. Defaults to v0.0.0.
	PantherVersion string
	// Runs `go mod tidy` in the new project.
	Tidy bool
}

type tmplData struct {
	Options
	SecretKey string
}

var files = []struct{ target, tmpl string }{
	{"go.mod", "go_mod_tmpl.txt"},
	{"main.go", "main_go_tmpl.txt"},
	{"main_test.go", "main_test_go_tmpl.txt"},
	{"panther.toml", "panther_toml_tmpl.txt"},
	{".env", "env_tmpl.txt"},
	{".gitignore", "gitignore_tmpl.txt"},
}

func (o Options) withDefaults() (Options, error) {
	if !validName.MatchString(o.Name) {
		return o, fmt.Errorf("invalid project name %q", o.Name)
	}
	if o.Dir == "" {
		o.Dir = o.Name
	}
	if o.ModulePath == "" {
		o.ModulePath = o.Name
	}
	if o.PantherVersion == "" {
		o.PantherVersion = "v0.0.0"
	}
	return o, nil
}

// Init writes a starter project that serves GET / and GET /info/. The
// target directory may exist only if it is empty. It returns the
// written paths.
func Init(o Options) ([]string, error) {
	o, err := o.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := ensureEmptyDir(o.Dir); err != nil {
		return nil, err
	}

	secret, err := newSecretKey()
	if err != nil {
		return nil, err
	}
	data := tmplData{Options: o, SecretKey: secret}

	written := make([]string, 0, len(files))
	for _, f := range files {
		target := filepath.Join(o.Dir, f.target)
		if err := tmplWrite(target, f.tmpl, data); err != nil {
			return written, err
		}
		written = append(written, target)
	}

	if o.Tidy {
		if err := executil.RunCmdContext(context.Background(), o.Dir, "go", "mod", "tidy"); err != nil {
			Log.Warn("go mod tidy failed, run it yourself once the module is reachable", "error", err)
		}
	}
	return written, nil
}

func ensureEmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(dir, 0755)
	}
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s", ErrDirNotEmpty, dir)
	}
	return nil
}

func tmplWrite(target, name string, data tmplData) error {
	tmplStr, err := tmplsFS.ReadFile("tmpls/" + name)
	if err != nil {
		return err
	}
	tmpl, err := template.New(name).Parse(string(tmplStr))
	if err != nil {
		return fmt.Errorf("error parsing %s: %w", name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return fmt.Errorf("error rendering %s: %w", name, err)
	}
	return os.WriteFile(target, []byte(sb.String()), 0644)
}

func newSecretKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
