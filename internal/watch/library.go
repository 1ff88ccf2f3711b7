package watch

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/coreswap/hotswap/internal/modfile"
)

// LibraryWatcher watches the artifact directory and classifies raw
// filesystem events into LOAD/RELOAD/UNLOAD intents per a fixed
// ADD/MODIFY/DELETE/MOVE table. It never calls back into the registry:
// it only enqueues.
type LibraryWatcher struct {
	watcher *fsnotify.Watcher
	intents *IntentMap
	clock   *Clock
	log     *logrus.Entry

	done chan struct{}
}

// NewLibraryWatcher creates a watcher rooted at dir, sharing intents and
// clock with the reload manager.
func NewLibraryWatcher(dir string, intents *IntentMap, clock *Clock, log *logrus.Entry) (*LibraryWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &LibraryWatcher{
		watcher: fw,
		intents: intents,
		clock:   clock,
		log:     log,
		done:    make(chan struct{}),
	}, nil
}

// Start runs the watch loop in a background goroutine.
func (w *LibraryWatcher) Start() {
	go w.loop()
}

// Stop closes the underlying fsnotify watcher, causing the loop to
// return, and waits for it to do so.
func (w *LibraryWatcher) Stop() {
	w.watcher.Close()
	<-w.done
}

func (w *LibraryWatcher) loop() {
	defer close(w.done)
	var pendingRenameFrom string
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			pendingRenameFrom = w.handle(ev, pendingRenameFrom)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("library watcher error")
		}
	}
}

// handle classifies one fsnotify event per the ADD/MODIFY/DELETE/MOVE
// table and returns the renameFrom state to carry into the next event
// (fsnotify reports a rename as a Rename on the old name followed by a
// Create on the new one; there is no single combined event).
func (w *LibraryWatcher) handle(ev fsnotify.Event, renameFrom string) string {
	name := filepath.Base(ev.Name)

	switch {
	case ev.Op&fsnotify.Create != 0:
		if renameFrom != "" {
			w.classifyMove(renameFrom, ev.Name)
			return ""
		}
		w.classifySimple(ev.Name, name, Load)
		return ""

	case ev.Op&fsnotify.Write != 0:
		w.classifySimple(ev.Name, name, Reload)
		return ""

	case ev.Op&fsnotify.Remove != 0:
		w.classifySimple(ev.Name, name, Unload)
		return ""

	case ev.Op&fsnotify.Rename != 0:
		// fsnotify reports a rename as a Rename on the old name, and -
		// if the new name is still inside the watched directory - a
		// separate Create on the new name. Handle the "old matches"
		// half of the MOVE row immediately (covers a move out of the
		// directory, which produces no Create at all); a following
		// Create upgrades this to the full MOVE table via classifyMove.
		if modfile.IsArtifact(name) {
			w.intents.Set(ev.Name, Unload)
			w.clock.Bump()
		}
		return ev.Name

	default:
		return renameFrom
	}
}

func (w *LibraryWatcher) classifySimple(path, name string, intent Intent) {
	if !modfile.IsArtifact(name) {
		return
	}
	w.intents.Set(path, intent)
	w.clock.Bump()
}

// classifyMove implements the MOVE row of the table: old/new match
// against the artifact pattern independently.
func (w *LibraryWatcher) classifyMove(oldPath, newPath string) {
	oldMatches := modfile.IsArtifact(filepath.Base(oldPath))
	newMatches := modfile.IsArtifact(filepath.Base(newPath))

	switch {
	case oldMatches && newMatches:
		w.intents.Set(oldPath, Unload)
		w.intents.Set(newPath, Load)
	case oldMatches && !newMatches:
		w.intents.Set(oldPath, Unload)
	case !oldMatches && newMatches:
		w.intents.Set(newPath, Load)
	default:
		return
	}
	w.clock.Bump()
}
