// Package modhandle owns a loaded script module: its native library
// handle, its four resolved entry points, and the cache-copy file the
// loader actually opened. It enforces a strict disposal order: the
// library is always closed before its cache file is deleted, on every
// exit path, including failure.
package modhandle

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/google/renameio"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/coreswap/hotswap/internal/loader"
)

// Descriptor holds the fields of a successfully loaded module,
// independent of its handle's lifecycle.
type Descriptor struct {
	Name           string // logical name, unique across live modules
	RevisionHash   string // possibly empty
	BuildDirective string // opaque token consumed by the external builder
	ArtifactPath   string // absolute path the loader opened (the cache copy)
	OriginalPath   string // absolute path of the watched artifact CreateFromPath was given
	SourcePath     string // absolute path of the owning source directory
}

// Handle is a reference-counted owner of a loaded script module. While
// any reference is outstanding, the underlying library remains loaded
// and its cache file remains on disk.
type Handle struct {
	Descriptor Descriptor

	refs    int32
	lib     loader.Handle
	symbols *loader.Symbols
	log     *logrus.Entry
}

// cacheCounter is the monotonically increasing per-process counter used
// to build unique cache-copy filenames ("<stem>.<N><ext>").
var cacheCounter int64

// NextCacheName returns the next unique cache filename for an artifact
// whose original basename is name, e.g. "scripts_demo.so" ->
// "scripts_demo.3.so".
func NextCacheName(name string) string {
	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	n := atomic.AddInt64(&cacheCounter, 1) - 1
	return stem + "." + strconv.FormatInt(n, 10) + ext
}

// openLibrary is indirected so tests can substitute a fake loader without
// requiring an actual native shared library on disk.
var openLibrary = loader.Open

// closeLibrary is indirected for the same reason as openLibrary.
var closeLibrary = loader.Close

// CreateFromPath implements the module handle creation protocol:
//  1. copy srcPath into cacheDir under a unique name, refusing if the
//     destination already exists;
//  2. open the copy via the platform loader;
//  3. resolve the four required symbols, undoing the copy and the open
//     on any failure;
//  4. on success, build the descriptor and hand back the handle with one
//     outstanding reference.
func CreateFromPath(srcPath, cacheDir string, log *logrus.Entry) (*Handle, error) {
	cachePath := filepath.Join(cacheDir, NextCacheName(filepath.Base(srcPath)))

	if _, err := os.Stat(cachePath); err == nil {
		return nil, xerrors.Errorf("cache entry %q already exists", cachePath)
	} else if !os.IsNotExist(err) {
		return nil, xerrors.Errorf("stat cache entry %q: %w", cachePath, err)
	}

	if err := copyFileAtomic(srcPath, cachePath); err != nil {
		return nil, xerrors.Errorf("create cache entry of module %q: %w", filepath.Base(srcPath), err)
	}

	lib, syms, err := openLibrary(cachePath)
	if err != nil {
		if rmErr := os.Remove(cachePath); rmErr != nil {
			log.WithError(rmErr).Warn("failed to delete cache entry after failed load")
		}
		return nil, xerrors.Errorf("load script module %q: %w", filepath.Base(srcPath), err)
	}

	h := &Handle{
		lib:     lib,
		symbols: syms,
		refs:    1,
		log:     log,
	}
	h.Descriptor = Descriptor{
		Name:           syms.ModuleName(),
		RevisionHash:   syms.RevisionHash(),
		BuildDirective: syms.BuildDirective(),
		ArtifactPath:   cachePath,
		OriginalPath:   srcPath,
	}
	return h, nil
}

// copyFileAtomic copies src into dest, writing through a temp file in
// dest's directory and renaming into place (github.com/google/renameio),
// so a reader never observes a partially-written cache copy.
func copyFileAtomic(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := renameio.TempFile(filepath.Dir(dest), dest)
	if err != nil {
		return err
	}
	defer out.Cleanup()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.CloseAtomicallyReplace()
}

// NewForTest builds a Handle around descriptor with a single outstanding
// reference and no live library, for use by other packages' tests (e.g.
// internal/registry) that need a Handle to insert without loading a real
// shared library. AddScripts on the result is a no-op, and Release is
// safe: closing the zero loader.Handle is a no-op.
func NewForTest(descriptor Descriptor) *Handle {
	return &Handle{
		Descriptor: descriptor,
		refs:       1,
		symbols:    &loader.Symbols{AddScripts: func() {}},
		log:        logrus.NewEntry(logrus.New()),
	}
}

// AddScripts invokes the module's AddScripts entry point. The caller is
// responsible for having already set the external script registry's
// context to h.Descriptor.Name.
func (h *Handle) AddScripts() {
	h.symbols.AddScripts()
}

// Acquire increments the reference count and returns h, for callers that
// want to hand out a second independent owner of the same handle (e.g.
// GetModuleReferenceOfContext after the registry entry has already been
// removed).
func (h *Handle) Acquire() *Handle {
	atomic.AddInt32(&h.refs, 1)
	return h
}

// Release drops one reference. When the last reference is dropped, the
// library is closed and then its cache file is deleted, in that order.
// A cache-delete failure is logged but not fatal.
func (h *Handle) Release() {
	if atomic.AddInt32(&h.refs, -1) > 0 {
		return
	}
	if err := closeLibrary(h.lib); err != nil {
		h.log.WithError(err).WithField("path", h.Descriptor.ArtifactPath).
			Error("failed to close shared library")
		return
	}
	if err := os.Remove(h.Descriptor.ArtifactPath); err != nil {
		h.log.WithError(err).WithField("path", h.Descriptor.ArtifactPath).
			Error("failed to delete cached module file")
	}
}
