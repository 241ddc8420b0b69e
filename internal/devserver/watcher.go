package devserver

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// watcher reports changes to files matching include patterns, collapsed
// so that a burst of writes (an editor save, a git checkout) produces a
// single notification once the tree has been quiet for the debounce
// interval. Patterns are doublestar patterns relative to the root, with
// forward slashes.
type watcher struct {
	fsw      *fsnotify.Watcher
	root     string
	include  []string
	exclude  []string
	debounce time.Duration

	changes chan string
	done    chan struct{}
}

func newWatcher(root string, include, exclude []string, debounce time.Duration) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		fsw:      fsw,
		root:     root,
		include:  include,
		exclude:  exclude,
		debounce: debounce,
		changes:  make(chan string, 1),
		done:     make(chan struct{}),
	}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	go w.loop()
	return w, nil
}

// Changes receives the path of the last changed file of each burst.
func (w *watcher) Changes() <-chan string { return w.changes }

func (w *watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && w.excludedDir(w.rel(p)) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func (w *watcher) loop() {
	var timer *time.Timer
	var fire <-chan time.Time
	var last string

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if evt.Has(fsnotify.Create) {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() && !w.excludedDir(w.rel(evt.Name)) {
					if err := w.addTree(evt.Name); err != nil {
						Log.Warn("Error watching new directory", "dir", evt.Name, "error", err)
					}
				}
			}
			if !w.relevant(evt) {
				continue
			}
			last = w.rel(evt.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			select {
			case w.changes <- last:
			default:
				// A restart is already pending.
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				Log.Warn("Watcher error", "error", err)
			}
		}
	}
}

func (w *watcher) relevant(evt fsnotify.Event) bool {
	if evt.Has(fsnotify.Chmod) && !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) &&
		!evt.Has(fsnotify.Remove) && !evt.Has(fsnotify.Rename) {
		return false
	}
	return w.matches(w.rel(evt.Name))
}

func (w *watcher) matches(rel string) bool {
	if matchAny(w.exclude, rel) {
		return false
	}
	return matchAny(w.include, rel)
}

// excludedDir reports whether everything inside dir is excluded, which
// is what patterns such as ".git/**" express.
func (w *watcher) excludedDir(rel string) bool {
	return matchAny(w.exclude, path.Join(rel, "x"))
}

func (w *watcher) rel(p string) string {
	r, err := filepath.Rel(w.root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
