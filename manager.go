// Package hotswap is the hot-swap script module manager: it lets
// operators modify C/C++ source files of plug-in script modules and
// have the running process recompile, reload, and atomically swap
// those modules without restarting.
package hotswap

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/coreswap/hotswap/internal/buildjob"
	"github.com/coreswap/hotswap/internal/modfile"
	"github.com/coreswap/hotswap/internal/modhandle"
	"github.com/coreswap/hotswap/internal/prefixcorrect"
	"github.com/coreswap/hotswap/internal/registry"
	"github.com/coreswap/hotswap/internal/watch"
)

// defaultQuiescence is the reference's debounce window. Tunable via
// Params.Debounce.
const defaultQuiescence = time.Millisecond

// createHandle is indirected so tests can substitute a fake module
// handle without requiring a real native shared library on disk, the
// same seam internal/modhandle uses for the platform loader.
var createHandle = modhandle.CreateFromPath

// Params supplies the environment inputs the embedding host owns:
// directories, the external build driver, and the host's own revision
// for the module revision check.
type Params struct {
	// SourceDir is the root of the watched script source tree.
	SourceDir string
	// BuildDir is passed to the build driver as the build directory.
	BuildDir string
	// BuilderPath is the build driver executable, e.g. "cmake".
	BuilderPath string
	// InstallScriptPath is the "-P" script argument for the install
	// phase.
	InstallScriptPath string
	// BuildCacheFile is read by the prefix-correction helper, e.g.
	// filepath.Join(BuildDir, "CMakeCache.txt").
	BuildCacheFile string
	// HostRevision identifies this build of the host process, compared
	// against each module's reported revision hash.
	HostRevision string
	// Debounce overrides the default quiescence window.
	Debounce time.Duration
}

// Manager is the reload manager: it wires the platform loader, module
// handle, registry, watchers, and build orchestrator together and
// exposes the four top-level operations.
type Manager struct {
	cfg     Config
	scripts ScriptRegistry
	params  Params
	log     *logrus.Entry

	artifactDir string
	cacheDir    string

	reg          *registry.Registry
	intents      *watch.IntentMap
	changed      *watch.ChangedSet
	tracked      *watch.TrackedSet
	libClock     watch.Clock
	srcClock     watch.Clock
	libWatcher   *watch.LibraryWatcher
	srcWatcher   *watch.SourceWatcher
	orchestrator *buildjob.Orchestrator

	debounce time.Duration
}

// New constructs a Manager. Initialize must be called before Update.
func New(cfg Config, scripts ScriptRegistry, params Params, log *logrus.Entry) *Manager {
	debounce := params.Debounce
	if debounce == 0 {
		debounce = defaultQuiescence
	}
	return &Manager{
		cfg:      cfg,
		scripts:  scripts,
		params:   params,
		log:      log,
		reg:      registry.New(log),
		intents:  watch.NewIntentMap(),
		changed:  watch.NewChangedSet(),
		tracked:  watch.NewTrackedSet(),
		debounce: debounce,
	}
}

// Initialize is a no-op if hot-swap is disabled, otherwise it recreates
// the cache directory, optionally corrects a stale install prefix,
// bulk-loads every existing artifact, and starts both watchers.
func (m *Manager) Initialize() error {
	if !m.cfg.Enabled() {
		return nil
	}

	artifactDir, err := filepath.Abs(m.cfg.ScriptDir())
	if err != nil {
		return xerrors.Errorf("resolve artifact directory: %w", err)
	}
	m.artifactDir = artifactDir
	m.cacheDir = filepath.Join(artifactDir, ".cache")

	if err := os.RemoveAll(m.cacheDir); err != nil {
		return xerrors.Errorf("clear cache directory: %w", err)
	}
	if err := os.MkdirAll(m.cacheDir, 0755); err != nil {
		return xerrors.Errorf("create cache directory: %w", err)
	}

	if m.cfg.EnablePrefixCorrection() && m.params.BuildCacheFile != "" {
		cwd, err := os.Getwd()
		if err != nil {
			m.log.WithError(err).Warn("failed to resolve working directory for prefix correction")
		} else {
			prefixcorrect.Run(context.Background(), m.params.BuildCacheFile, m.params.BuildDir, cwd, m.params.BuilderPath, m.log)
		}
	}

	loaded, err := m.bulkLoad()
	if err != nil {
		return err
	}
	m.log.Infof("Loaded %d script modules.", loaded)

	libWatcher, err := watch.NewLibraryWatcher(artifactDir, m.intents, &m.libClock, m.log)
	if err != nil {
		return xerrors.Errorf("start library watcher: %w", err)
	}
	m.libWatcher = libWatcher
	m.libWatcher.Start()

	if m.cfg.ReCompilerEnabled() {
		dirs, err := sourceSubdirs(m.params.SourceDir)
		if err != nil {
			return xerrors.Errorf("enumerate source directories: %w", err)
		}
		srcWatcher, err := watch.NewSourceWatcher(m.params.SourceDir, dirs, m.changed, m.tracked, &m.srcClock, m.log)
		if err != nil {
			return xerrors.Errorf("start source watcher: %w", err)
		}
		m.srcWatcher = srcWatcher
		m.srcWatcher.Start()

		m.orchestrator = buildjob.New(buildjob.Config{
			BuilderPath:       m.params.BuilderPath,
			BuildDir:          m.params.BuildDir,
			InstallScriptPath: m.params.InstallScriptPath,
			InstallEnabled:    m.cfg.EnableReCompilerInstall(),
			ArchiveDir:        filepath.Join(m.cacheDir, "build-logs"),
		}, m.log)
		if err := os.MkdirAll(filepath.Join(m.cacheDir, "build-logs"), 0755); err != nil {
			m.log.WithError(err).Warn("failed to create build log archive directory")
		}
	}

	return nil
}

// bulkLoad loads every recognized artifact already present in the
// artifact directory without swapping context per module, swapping once
// at the end.
func (m *Manager) bulkLoad() (int, error) {
	entries, err := os.ReadDir(m.artifactDir)
	if err != nil {
		return 0, xerrors.Errorf("read artifact directory: %w", err)
	}

	loaded := 0
	for _, e := range entries {
		if e.IsDir() || !modfile.IsArtifact(e.Name()) {
			continue
		}
		path := filepath.Join(m.artifactDir, e.Name())
		if err := m.load(path, true); err != nil {
			m.log.WithError(err).WithField("path", path).Error("failed to load script module")
			continue
		}
		loaded++
	}
	if loaded > 0 {
		m.scripts.SwapContext()
	}
	return loaded, nil
}

// Update advances the build orchestrator, then drains the intent map
// applying LOAD/RELOAD/UNLOAD.
func (m *Manager) Update() {
	if !m.cfg.Enabled() {
		return
	}

	if m.orchestrator != nil {
		m.orchestrator.Advance(m.changed, &m.srcClock, m.debounce, m.resolveDirective)
	}

	if !m.libClock.Quiescent(m.debounce) {
		return
	}
	if m.srcClock.Recent(m.debounce) {
		return
	}
	m.libClock.Reset()

	for _, pi := range m.intents.Drain() {
		switch pi.Intent {
		case watch.Load:
			if err := m.load(pi.Path, false); err != nil {
				m.log.WithError(err).WithField("path", pi.Path).Error("failed to load script module")
			}
		case watch.Unload:
			m.unload(pi.Path, false)
		case watch.Reload:
			m.unload(pi.Path, true)
			if err := m.load(pi.Path, false); err != nil {
				m.log.WithError(err).WithField("path", pi.Path).Error("failed to reload script module")
			}
		}
	}
}

// Unload stops both watchers, waits out any in-flight build job, then
// drops the registry.
func (m *Manager) Unload() {
	if m.libWatcher != nil {
		m.libWatcher.Stop()
	}
	if m.srcWatcher != nil {
		m.srcWatcher.Stop()
	}
	if m.orchestrator != nil {
		m.orchestrator.Wait()
	}
	for _, name := range m.reg.Names() {
		if h, ok := m.reg.LookupByName(name); ok {
			m.reg.Remove(h.Descriptor.OriginalPath)
			h.Release()
		}
	}
}

// GetModuleReferenceOfContext returns a stable shared reference to the
// module registered under name, which continues to resolve its entry
// points until dropped, even past a later UNLOAD.
func (m *Manager) GetModuleReferenceOfContext(name string) *modhandle.Handle {
	return m.reg.Reference(name)
}

// load materializes a module handle for path and registers it.
func (m *Manager) load(path string, bulk bool) error {
	if _, ok := m.reg.NameForPath(path); ok {
		return xerrors.Errorf("internal inconsistency: %q already registered", path)
	}

	h, err := createHandle(path, m.cacheDir, m.log)
	if err != nil {
		return err
	}

	// Reject a duplicate logical name before publishing anything: once
	// SetContext/AddScripts/SwapContext run, the module's scripts are
	// live in the external ScriptRegistry, and there is no way to
	// retract them short of tearing the library back down again.
	if _, ok := m.reg.LookupByName(h.Descriptor.Name); ok {
		h.Release()
		return xerrors.Errorf("module %q is already loaded", h.Descriptor.Name)
	}

	switch modhandle.CheckRevision(h.Descriptor.RevisionHash, m.params.HostRevision) {
	case modhandle.RevisionEmpty:
		m.log.WithField("module", h.Descriptor.Name).Warn("module reported an empty revision hash")
	case modhandle.RevisionMismatch, modhandle.RevisionTooShort:
		m.log.WithFields(logrus.Fields{
			"module":     h.Descriptor.Name,
			"module_rev": h.Descriptor.RevisionHash,
			"host_rev":   m.params.HostRevision,
		}).Warn("module revision does not match host revision")
	}

	m.scripts.SetContext(h.Descriptor.Name)
	h.AddScripts()
	if !bulk {
		m.scripts.SwapContext()
	}

	if err := m.reg.Insert(h); err != nil {
		h.Release()
		return err
	}
	m.tracked.Add(h.Descriptor.Name)
	return nil
}

// unload releases the module registered at path, if any. suppressSwap
// is set when this unload is the first half of a RELOAD.
func (m *Manager) unload(path string, suppressSwap bool) {
	name, h, ok := m.reg.Remove(path)
	if !ok {
		return
	}
	m.scripts.ReleaseContext(name)
	if !suppressSwap {
		m.scripts.SwapContext()
	}
	m.tracked.Remove(name)
	h.Release()
}

// resolveDirective implements buildjob.DirectiveResolver: a config
// override takes precedence over the module's own last-known build
// directive.
func (m *Manager) resolveDirective(name string) (string, bool) {
	if directive, ok := m.cfg.ReCompilerBuildType(); ok {
		return directive, true
	}
	h, ok := m.reg.LookupByName(name)
	if !ok || h.Descriptor.BuildDirective == "" {
		return "", false
	}
	return h.Descriptor.BuildDirective, true
}

// sourceSubdirs walks root once at startup and returns every directory
// under it, for the single fsnotify.Add per directory the source
// watcher needs (fsnotify does not recurse).
func sourceSubdirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}
