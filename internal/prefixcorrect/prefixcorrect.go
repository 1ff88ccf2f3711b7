// Package prefixcorrect implements the one-shot startup task that
// patches a stale CMAKE_INSTALL_PREFIX left in a build tree's cache file
// from a previous checkout location.
package prefixcorrect

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

const cacheKey = "CMAKE_INSTALL_PREFIX:PATH="

// Run reads cacheFile looking for cacheKey, and if its value disagrees
// with cwd, and buildDir is not a descendant of that value, re-invokes
// builderPath once to correct it. Every failure mode is soft: logged,
// never returned.
func Run(ctx context.Context, cacheFile, buildDir, cwd, builderPath string, log *logrus.Entry) {
	prefix, ok := readPrefix(cacheFile, log)
	if !ok {
		return
	}
	if prefix == cwd {
		return
	}
	if isDescendant(buildDir, prefix) {
		return
	}

	args := []string{"-DCMAKE_INSTALL_PREFIX:PATH=" + cwd, buildDir}
	cmd := exec.CommandContext(ctx, builderPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"old_prefix": prefix,
			"new_prefix": cwd,
		}).Warn("failed to correct stale install prefix")
		return
	}
	log.WithFields(logrus.Fields{"old_prefix": prefix, "new_prefix": cwd}).
		Info("corrected stale install prefix")
}

func readPrefix(cacheFile string, log *logrus.Entry) (string, bool) {
	data, err := os.ReadFile(cacheFile)
	if err != nil {
		log.WithError(err).Warn("failed to read build cache file for prefix correction")
		return "", false
	}
	idx := strings.Index(string(data), cacheKey)
	if idx < 0 {
		return "", false
	}
	rest := string(data)[idx+len(cacheKey):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return strings.TrimSpace(rest), true
}

// isDescendant reports whether dir is prefix or lies under it.
func isDescendant(dir, prefix string) bool {
	rel, err := filepath.Rel(prefix, dir)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}
