package hotswap

import "flag"

// Config is the external configuration collaborator. All keys are
// read through it rather than a concrete flag or file
// format, so an embedding application can back it with whatever
// configuration system it already has.
type Config interface {
	// Enabled is the master switch, HotSwap.Enabled.
	Enabled() bool
	// ReCompilerEnabled gates the source watcher and the build
	// orchestrator, HotSwap.ReCompilerEnabled.
	ReCompilerEnabled() bool
	// EnableReCompilerInstall gates the install phase after a
	// successful compile, HotSwap.EnableReCompilerInstall.
	EnableReCompilerInstall() bool
	// EnablePrefixCorrection gates the one-shot install-prefix repair
	// task, HotSwap.EnablePrefixCorrection.
	EnablePrefixCorrection() bool
	// ScriptDir is the artifact directory, HotSwap.ScriptDir, relative
	// to the embedding application's working directory unless absolute.
	ScriptDir() string
	// ReCompilerBuildType, if ok, overrides a module's own last-known
	// build directive, HotSwap.ReCompilerBuildType.
	ReCompilerBuildType() (directive string, ok bool)
}

// FlagConfig is a Config backed by command-line flags, in the style of
// cmd/distri's package-level flag.Bool/flag.String declarations.
type FlagConfig struct {
	enabled                 *bool
	recompilerEnabled       *bool
	enableRecompilerInstall *bool
	enablePrefixCorrection  *bool
	scriptDir               *string
	recompilerBuildType     *string
}

// RegisterFlagConfig registers the hot-swap flags on fs and returns a
// Config backed by them. Call after fs.Parse to read final values.
func RegisterFlagConfig(fs *flag.FlagSet) *FlagConfig {
	return &FlagConfig{
		enabled:                 fs.Bool("hotswap.enabled", true, "enable the hot-swap script module manager"),
		recompilerEnabled:       fs.Bool("hotswap.recompiler_enabled", false, "watch script source trees and trigger rebuilds on change"),
		enableRecompilerInstall: fs.Bool("hotswap.recompiler_install", false, "run the install phase after a successful rebuild"),
		enablePrefixCorrection:  fs.Bool("hotswap.prefix_correction", false, "correct a stale CMAKE_INSTALL_PREFIX on startup"),
		scriptDir:               fs.String("hotswap.script_dir", "scripts", "directory containing compiled script module artifacts"),
		recompilerBuildType:     fs.String("hotswap.recompiler_build_type", "", "override the build directive used for rebuilds (empty: use each module's own)"),
	}
}

func (c *FlagConfig) Enabled() bool                { return *c.enabled }
func (c *FlagConfig) ReCompilerEnabled() bool       { return *c.recompilerEnabled }
func (c *FlagConfig) EnableReCompilerInstall() bool { return *c.enableRecompilerInstall }
func (c *FlagConfig) EnablePrefixCorrection() bool  { return *c.enablePrefixCorrection }
func (c *FlagConfig) ScriptDir() string             { return *c.scriptDir }
func (c *FlagConfig) ReCompilerBuildType() (string, bool) {
	if *c.recompilerBuildType == "" {
		return "", false
	}
	return *c.recompilerBuildType, true
}
