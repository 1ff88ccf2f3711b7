package buildjob

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/renameio"
	"github.com/klauspost/compress/gzip"
	"github.com/orcaman/writerseeker"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// syncWriter serializes concurrent writes onto an underlying io.Writer
// that isn't safe for concurrent use on its own, such as
// writerseeker.WriterSeeker's internal buffer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// runSubprocess starts name with args, draining its stdout and stderr
// concurrently to the host's own streams (so build diagnostics stay
// visible) and into an in-memory buffer that gets archived once the
// process exits. It returns immediately; the result arrives on the
// returned channel. Grounded on cmd/distri/builder.go's errgroup-based
// drain of a single pipe, generalized here to both stdout and stderr so
// neither can fill up and deadlock the other.
func runSubprocess(ctx context.Context, name string, args []string, archivePath string, log *logrus.Entry) chan error {
	done := make(chan error, 1)

	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		done <- err
		return done
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		done <- err
		return done
	}

	var logBuf writerseeker.WriterSeeker
	// logBuf is shared between the two drain goroutines below; its
	// buffer isn't safe for concurrent writes, so every writer into it
	// goes through this serializing wrapper.
	sharedLog := &syncWriter{w: &logBuf}

	if err := cmd.Start(); err != nil {
		done <- err
		return done
	}

	go func() {
		var eg errgroup.Group
		eg.Go(func() error {
			_, err := io.Copy(io.MultiWriter(os.Stdout, sharedLog), stdout)
			return err
		})
		eg.Go(func() error {
			_, err := io.Copy(io.MultiWriter(os.Stderr, sharedLog), stderr)
			return err
		})
		drainErr := eg.Wait()
		waitErr := cmd.Wait()

		if archivePath != "" {
			if err := archiveLog(archivePath, &logBuf); err != nil {
				log.WithError(err).Warn("failed to archive build job log")
			}
		}

		if waitErr != nil {
			done <- waitErr
		} else {
			done <- drainErr
		}
	}()

	return done
}

// archiveLog gzip-compresses the contents of buf and atomically writes
// them to path.
func archiveLog(path string, buf *writerseeker.WriterSeeker) error {
	data, err := io.ReadAll(buf.Reader())
	if err != nil {
		return err
	}

	out, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return err
	}
	defer out.Cleanup()

	gw, err := gzip.NewWriterLevel(out, gzip.BestSpeed)
	if err != nil {
		return err
	}
	if _, err := gw.Write(data); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return out.CloseAtomicallyReplace()
}
