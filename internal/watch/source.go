package watch

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/coreswap/hotswap/internal/modfile"
)

// SourceWatcher watches a source tree recursively (one fsnotify add per
// directory, since fsnotify does not recurse) and maps changed files
// back to the module whose top-level directory owns them.
type SourceWatcher struct {
	root    string
	watcher *fsnotify.Watcher
	changed *ChangedSet
	tracked *TrackedSet
	clock   *Clock
	log     *logrus.Entry

	done chan struct{}
}

// NewSourceWatcher creates a watcher rooted at root. dirs lists every
// directory under root to watch (the caller is expected to have walked
// the tree once at startup; the watch loop does not add new
// subdirectories created after Start, matching the single recursive
// fsnotify.Add the reference takes at Initialize).
func NewSourceWatcher(root string, dirs []string, changed *ChangedSet, tracked *TrackedSet, clock *Clock, log *logrus.Entry) (*SourceWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if err := fw.Add(d); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return &SourceWatcher{
		root:    root,
		watcher: fw,
		changed: changed,
		tracked: tracked,
		clock:   clock,
		log:     log,
		done:    make(chan struct{}),
	}, nil
}

// Start runs the watch loop in a background goroutine.
func (w *SourceWatcher) Start() {
	go w.loop()
}

// Stop closes the underlying fsnotify watcher and waits for the loop to
// exit.
func (w *SourceWatcher) Stop() {
	w.watcher.Close()
	<-w.done
}

func (w *SourceWatcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("source watcher error")
		}
	}
}

func (w *SourceWatcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if !modfile.IsSourceFile(ev.Name) {
		return
	}
	name, ok := w.ownerModule(ev.Name)
	if !ok {
		return
	}
	if !w.tracked.Contains(name) {
		return
	}
	w.changed.Add(name)
	w.clock.Bump()
}

// ownerModule computes the top-level directory of path relative to
// root, which is the candidate module name.
func (w *SourceWatcher) ownerModule(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return "", false
	}
	return parts[0], true
}
