// Command hotswapd demonstrates wiring the hot-swap script module
// manager into a long-running host process: it initializes the
// manager, polls Update on a ticker, and tears down cleanly on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/lpar/gzipped/v2"
	"golang.org/x/sync/errgroup"

	"github.com/coreswap/hotswap"
)

func main() {
	var (
		sourceDir      = flag.String("source_dir", "scripts-src", "root of the watched script source tree")
		buildDir       = flag.String("build_dir", "build", "build directory passed to the build driver")
		builderPath    = flag.String("builder", "cmake", "build driver executable")
		installScript  = flag.String("install_script", "", "install script passed to the build driver's -P flag")
		buildCacheFile = flag.String("build_cache_file", "", "build-cache file consulted by the prefix-correction helper")
		hostRevision   = flag.String("host_revision", "", "this host build's revision hash, compared against module revisions")
		debugListen    = flag.String("debug_listen", "", "if set, serve the script cache directory for inspection on this address")
		updateInterval = flag.Duration("update_interval", 250*time.Millisecond, "interval between Update ticks")
	)
	cfg := hotswap.RegisterFlagConfig(flag.CommandLine)
	flag.Parse()

	log := hotswap.NewLogger()

	ctx, cancel := hotswap.InterruptibleContext()
	defer cancel()

	m, err := hotswap.InitializeInstance(cfg, hotswap.NopScriptRegistry{}, hotswap.Params{
		SourceDir:         *sourceDir,
		BuildDir:          *buildDir,
		BuilderPath:       *builderPath,
		InstallScriptPath: *installScript,
		BuildCacheFile:    *buildCacheFile,
		HostRevision:      *hostRevision,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize hot-swap manager")
	}

	hotswap.RegisterAtExit(func() error {
		m.Unload()
		return nil
	})

	var eg errgroup.Group
	if *debugListen != "" {
		eg.Go(func() error { return serveDebugCache(ctx, *debugListen, cfg.ScriptDir()) })
	}

	ticker := time.NewTicker(*updateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Update()
		case <-ctx.Done():
			if err := hotswap.RunAtExit(); err != nil {
				log.WithError(err).Error("cleanup failed")
			}
			if err := eg.Wait(); err != nil {
				log.WithError(err).Error("debug server did not shut down cleanly")
			}
			return
		}
	}
}

// serveDebugCache exposes the script cache directory over HTTP for
// operator inspection, adapted from cmd/distri's "export" subcommand
// which serves a package repository the same way.
func serveDebugCache(ctx context.Context, addr, scriptDir string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	server := &http.Server{Addr: addr, Handler: gzipped.FileServer(http.Dir(filepath.Join(scriptDir, ".cache")))}

	var eg errgroup.Group
	eg.Go(func() error { return server.Serve(ln) })
	eg.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(ctx)
	})
	return eg.Wait()
}
