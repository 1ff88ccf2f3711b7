// Package modfile recognizes script-module artifact and source file names.
//
// The naming rules are shared between the platform loader (which must
// decide whether a file found on startup is a module) and the two
// filesystem watchers (which must decide whether an event names a module
// or a source file), so they live in one place instead of two
// hand-synchronized copies.
package modfile

import (
	"path/filepath"
	"regexp"
	"runtime"
)

// Prefix returns the platform's shared-library filename prefix: "lib" on
// POSIX, "" on Windows.
func Prefix() string {
	if runtime.GOOS == "windows" {
		return ""
	}
	return "lib"
}

// Suffix returns the platform's shared-library filename extension,
// without a leading dot: "dll" on Windows, "so" on POSIX.
func Suffix() string {
	if runtime.GOOS == "windows" {
		return "dll"
	}
	return "so"
}

var artifactRe = regexp.MustCompile("^" + regexp.QuoteMeta(Prefix()) + `[sS]cripts_[A-Za-z0-9_]+\.` + regexp.QuoteMeta(Suffix()) + "$")

// IsArtifact reports whether name (a base filename, no directory
// components) matches the module artifact pattern
// "<prefix>[sS]cripts_<name>.<suffix>".
func IsArtifact(name string) bool {
	return artifactRe.MatchString(name)
}

// sourceExtensions are the C/C++ source and header extensions the source
// watcher reacts to.
var sourceExtensions = map[string]bool{
	".h":   true,
	".hpp": true,
	".c":   true,
	".cc":  true,
	".cpp": true,
}

// IsSourceFile reports whether name has a recognized C/C++ source or
// header extension.
func IsSourceFile(name string) bool {
	return sourceExtensions[filepath.Ext(name)]
}
