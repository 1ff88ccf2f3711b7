// Package registry indexes live script modules by logical name and by
// the filesystem path of their artifact, and hands out stable shared
// references that outlive registry removal.
package registry

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/coreswap/hotswap/internal/modhandle"
)

// Registry keeps the name->handle and path->name mappings consistent
// under a single logical transaction. Only the reload manager's
// single-threaded update loop mutates it (Insert/Remove are never called
// concurrently with each other, so the duplicate-name check below needs
// no additional coordination); lookups (GetModuleReferenceOfContext) may
// be called concurrently, hence the RWMutex.
type Registry struct {
	mu              sync.RWMutex
	byName          map[string]*modhandle.Handle
	nameByWatchPath map[string]string // watched artifact path (Descriptor.OriginalPath) -> name

	log *logrus.Entry
}

// New returns an empty registry.
func New(log *logrus.Entry) *Registry {
	return &Registry{
		byName:          make(map[string]*modhandle.Handle),
		nameByWatchPath: make(map[string]string),
		log:             log,
	}
}

// Insert adds h, keyed by h.Descriptor.Name and h.Descriptor.OriginalPath
// (the watched artifact path, not the .cache copy ArtifactPath points
// at). If a module with the same logical name is already present, the
// insert is rejected: the error is logged by the caller (the reload
// manager), not here, so that the caller can also decide whether to
// release h.
func (r *Registry) Insert(h *modhandle.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[h.Descriptor.Name]; ok {
		return &DuplicateNameError{Name: h.Descriptor.Name, ExistingPath: existing.Descriptor.OriginalPath}
	}
	r.byName[h.Descriptor.Name] = h
	r.nameByWatchPath[h.Descriptor.OriginalPath] = h.Descriptor.Name
	return nil
}

// DuplicateNameError is returned by Insert when a module with the same
// logical name is already registered.
type DuplicateNameError struct {
	Name         string
	ExistingPath string
}

func (e *DuplicateNameError) Error() string {
	return "module " + e.Name + " is already loaded from " + e.ExistingPath
}

// Remove erases the entry for the module watched at path (the original
// artifact path, i.e. Descriptor.OriginalPath — not the .cache copy), if
// any, and returns its logical name and handle. The caller owns the
// returned handle's reference and is responsible for releasing it.
func (r *Registry) Remove(path string) (name string, h *modhandle.Handle, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok = r.nameByWatchPath[path]
	if !ok {
		return "", nil, false
	}
	h = r.byName[name]
	delete(r.nameByWatchPath, path)
	delete(r.byName, name)
	return name, h, true
}

// LookupByName returns the handle registered under name, if any.
func (r *Registry) LookupByName(name string) (*modhandle.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	return h, ok
}

// NameForPath returns the logical name registered for the watched
// artifact path, if any.
func (r *Registry) NameForPath(path string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.nameByWatchPath[path]
	return name, ok
}

// Reference returns a stable shared reference to the module registered
// under name, acquiring an additional reference on the handle so it
// outlives a later Remove. It returns nil if no such module is
// registered. This backs GetModuleReferenceOfContext.
func (r *Registry) Reference(name string) *modhandle.Handle {
	r.mu.RLock()
	h, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return h.Acquire()
}

// Len reports how many modules are currently registered, for tests and
// diagnostics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Names returns a snapshot of every currently registered logical name,
// for callers that need to enumerate and remove every module (e.g.
// Unload).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}
