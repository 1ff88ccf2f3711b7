package hotswap

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/coreswap/hotswap/internal/modhandle"
)

type fakeConfig struct {
	enabled                 bool
	recompilerEnabled       bool
	enableRecompilerInstall bool
	enablePrefixCorrection  bool
	scriptDir               string
	buildType               string
}

func (c *fakeConfig) Enabled() bool                { return c.enabled }
func (c *fakeConfig) ReCompilerEnabled() bool       { return c.recompilerEnabled }
func (c *fakeConfig) EnableReCompilerInstall() bool { return c.enableRecompilerInstall }
func (c *fakeConfig) EnablePrefixCorrection() bool  { return c.enablePrefixCorrection }
func (c *fakeConfig) ScriptDir() string             { return c.scriptDir }
func (c *fakeConfig) ReCompilerBuildType() (string, bool) {
	if c.buildType == "" {
		return "", false
	}
	return c.buildType, true
}

type fakeScripts struct {
	calls []string
}

func (s *fakeScripts) SetContext(name string)    { s.calls = append(s.calls, "set:"+name) }
func (s *fakeScripts) SwapContext()              { s.calls = append(s.calls, "swap") }
func (s *fakeScripts) ReleaseContext(name string) { s.calls = append(s.calls, "release:"+name) }

func newTestManager(t *testing.T, scripts *fakeScripts) *Manager {
	t.Helper()
	cfg := &fakeConfig{enabled: true}
	log := logrus.NewEntry(logrus.New())
	m := New(cfg, scripts, Params{HostRevision: "deadbeef1234"}, log)
	m.cacheDir = t.TempDir()
	return m
}

// withFakeHandle substitutes createHandle with a fake that mirrors what
// the real CreateFromPath does to path: OriginalPath is the watched path
// passed in, and ArtifactPath is a distinct .cache copy path, so tests
// exercise the same path/OriginalPath split production code relies on
// for registry lookups.
func withFakeHandle(t *testing.T, name, revision string) func() {
	t.Helper()
	orig := createHandle
	createHandle = func(path, cacheDir string, log *logrus.Entry) (*modhandle.Handle, error) {
		return modhandle.NewForTest(modhandle.Descriptor{
			Name:           name,
			RevisionHash:   revision,
			BuildDirective: "Release",
			OriginalPath:   path,
			ArtifactPath:   cacheDir + "/" + name + ".0.so",
		}), nil
	}
	return func() { createHandle = orig }
}

func TestLoadRegistersModuleAndSwapsContext(t *testing.T) {
	scripts := &fakeScripts{}
	m := newTestManager(t, scripts)
	defer withFakeHandle(t, "combat", "deadbeef1234")()

	if err := m.load("/artifacts/libscripts_combat.so", false); err != nil {
		t.Fatalf("load: %v", err)
	}

	if ref := m.GetModuleReferenceOfContext("combat"); ref == nil {
		t.Fatal("expected a reference to the newly loaded module")
	} else {
		ref.Release()
	}
	if !m.tracked.Contains("combat") {
		t.Fatal("expected combat to be tracked after load")
	}

	want := []string{"set:combat", "swap"}
	if len(scripts.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", scripts.calls, want)
	}
	for i := range want {
		if scripts.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", scripts.calls, want)
		}
	}
}

func TestLoadInBulkModeDoesNotSwap(t *testing.T) {
	scripts := &fakeScripts{}
	m := newTestManager(t, scripts)
	defer withFakeHandle(t, "combat", "deadbeef1234")()

	if err := m.load("/artifacts/libscripts_combat.so", true); err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, c := range scripts.calls {
		if c == "swap" {
			t.Fatal("bulk-mode load should not swap context per module")
		}
	}
}

func TestLoadRejectsDuplicatePath(t *testing.T) {
	scripts := &fakeScripts{}
	m := newTestManager(t, scripts)
	defer withFakeHandle(t, "combat", "deadbeef1234")()

	if err := m.load("/artifacts/libscripts_combat.so", false); err != nil {
		t.Fatalf("first load: %v", err)
	}
	if err := m.load("/artifacts/libscripts_combat.so", false); err == nil {
		t.Fatal("expected loading the same path twice to fail")
	}
}

func TestUnloadRemovesModuleAndReleasesContext(t *testing.T) {
	scripts := &fakeScripts{}
	m := newTestManager(t, scripts)
	defer withFakeHandle(t, "combat", "deadbeef1234")()

	if err := m.load("/artifacts/libscripts_combat.so", false); err != nil {
		t.Fatalf("load: %v", err)
	}
	scripts.calls = nil

	m.unload("/artifacts/libscripts_combat.so", false)

	if ref := m.GetModuleReferenceOfContext("combat"); ref != nil {
		t.Fatal("module should be gone from the registry after unload")
	}
	if m.tracked.Contains("combat") {
		t.Fatal("combat should no longer be tracked after unload")
	}
	want := []string{"release:combat", "swap"}
	if len(scripts.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", scripts.calls, want)
	}
}

func TestUnloadOfUnregisteredPathIsNoop(t *testing.T) {
	scripts := &fakeScripts{}
	m := newTestManager(t, scripts)
	m.unload("/artifacts/not_loaded.so", false)
	if len(scripts.calls) != 0 {
		t.Fatalf("unload of an unregistered path should call nothing, got %v", scripts.calls)
	}
}

func TestResolveDirectivePrefersConfigOverride(t *testing.T) {
	scripts := &fakeScripts{}
	m := newTestManager(t, scripts)
	m.cfg = &fakeConfig{enabled: true, buildType: "Debug"}
	defer withFakeHandle(t, "combat", "deadbeef1234")()

	if err := m.load("/artifacts/libscripts_combat.so", false); err != nil {
		t.Fatalf("load: %v", err)
	}

	directive, ok := m.resolveDirective("combat")
	if !ok || directive != "Debug" {
		t.Fatalf("resolveDirective = %q, %v, want Debug, true (config override wins)", directive, ok)
	}
}

func TestResolveDirectiveFallsBackToDescriptor(t *testing.T) {
	scripts := &fakeScripts{}
	m := newTestManager(t, scripts)
	defer withFakeHandle(t, "combat", "deadbeef1234")()

	if err := m.load("/artifacts/libscripts_combat.so", false); err != nil {
		t.Fatalf("load: %v", err)
	}

	directive, ok := m.resolveDirective("combat")
	if !ok || directive != "Release" {
		t.Fatalf("resolveDirective = %q, %v, want Release, true", directive, ok)
	}
}

func TestResolveDirectiveUnresolvableForUnknownModule(t *testing.T) {
	scripts := &fakeScripts{}
	m := newTestManager(t, scripts)
	if _, ok := m.resolveDirective("ghost"); ok {
		t.Fatal("resolveDirective should fail for a module that was never loaded")
	}
}

func TestGetModuleReferenceOutlivesUnload(t *testing.T) {
	scripts := &fakeScripts{}
	m := newTestManager(t, scripts)
	defer withFakeHandle(t, "combat", "deadbeef1234")()

	if err := m.load("/artifacts/libscripts_combat.so", false); err != nil {
		t.Fatalf("load: %v", err)
	}
	ref := m.GetModuleReferenceOfContext("combat")
	if ref == nil {
		t.Fatal("expected a reference")
	}

	m.unload("/artifacts/libscripts_combat.so", false)

	if m.GetModuleReferenceOfContext("combat") != nil {
		t.Fatal("registry lookup should fail after unload")
	}
	// The previously obtained reference must still be usable.
	ref.AddScripts()
	ref.Release()
}
