package buildjob

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coreswap/hotswap/internal/watch"
)

// DirectiveResolver resolves a module's build directive: a config
// override if one is set, otherwise the last-known directive recorded
// on the module's descriptor. ok is false if neither is available; the
// orchestrator logs and skips the module rather than aborting the
// process.
type DirectiveResolver func(moduleName string) (directive string, ok bool)

// Orchestrator is the build/install state machine. Advance is meant to
// be called from a single goroutine (the reload manager's Update loop);
// it holds no lock of its own, since only that one goroutine ever
// touches it.
type Orchestrator struct {
	cfg   Config
	state State
	log   *logrus.Entry

	current *job
}

// New returns an idle orchestrator.
func New(cfg Config, log *logrus.Entry) *Orchestrator {
	if cfg.PollWindow == 0 {
		cfg.PollWindow = 3 * time.Second
	}
	return &Orchestrator{cfg: cfg, state: Idle, log: log}
}

// State reports the orchestrator's current position.
func (o *Orchestrator) State() State { return o.state }

// Busy reports whether a build job is in flight.
func (o *Orchestrator) Busy() bool { return o.state != Idle }

// Advance drives one step of the state machine. changed and
// sourceClock are consulted only in the IDLE state, to decide whether a
// new compile should start.
func (o *Orchestrator) Advance(changed *watch.ChangedSet, sourceClock *watch.Clock, debounce time.Duration, resolve DirectiveResolver) {
	switch o.state {
	case Idle:
		o.tryStartCompile(changed, sourceClock, debounce, resolve)
	case Compiling:
		o.pollCompile()
	case Installing:
		o.pollInstall()
	}
}

func (o *Orchestrator) tryStartCompile(changed *watch.ChangedSet, sourceClock *watch.Clock, debounce time.Duration, resolve DirectiveResolver) {
	if changed.Empty() {
		return
	}
	if !sourceClock.Quiescent(debounce) {
		return
	}
	name, ok := changed.Pop()
	if !ok {
		return
	}
	directive, ok := resolve(name)
	if !ok {
		o.log.WithField("module", name).Error("cannot resolve build directive, skipping rebuild")
		return
	}
	project := "scripts_" + strings.ToLower(name)

	args := []string{"--build", o.cfg.BuildDir, "--target", project, "--config", directive}
	archive := o.archivePath(project, Compile)
	done := runSubprocess(context.Background(), o.cfg.BuilderPath, args, archive, o.log)

	o.current = &job{phase: Compile, moduleName: name, projectName: project, directive: directive, done: done}
	o.state = Compiling
	o.log.WithFields(logrus.Fields{"module": name, "project": project, "config": directive}).
		Info("started compile")
}

func (o *Orchestrator) pollCompile() {
	err, ok := o.poll()
	if !ok {
		return
	}
	j := o.current
	o.current = nil

	if err != nil {
		o.log.WithError(err).WithField("project", j.projectName).Warn("compile failed")
		o.state = Idle
		return
	}
	o.log.WithField("project", j.projectName).Info("compile succeeded")

	if !o.cfg.InstallEnabled {
		o.state = Idle
		return
	}

	args := []string{
		fmt.Sprintf("-DBUILD_TYPE=%s", j.directive),
		fmt.Sprintf("-DCOMPONENT=%s", j.projectName),
		"-P", o.cfg.InstallScriptPath,
	}
	archive := o.archivePath(j.projectName, Install)
	done := runSubprocess(context.Background(), o.cfg.BuilderPath, args, archive, o.log)

	o.current = &job{phase: Install, moduleName: j.moduleName, projectName: j.projectName, directive: j.directive, done: done}
	o.state = Installing
	o.log.WithField("project", j.projectName).Info("started install")
}

func (o *Orchestrator) pollInstall() {
	err, ok := o.poll()
	if !ok {
		return
	}
	j := o.current
	o.current = nil
	if err != nil {
		// Recoverable, logged only: the previous module stays loaded and
		// no retry is scheduled.
		o.log.WithError(err).WithField("project", j.projectName).Warn("install failed")
	} else {
		o.log.WithField("project", j.projectName).Info("install succeeded")
	}
	o.state = Idle
}

// poll waits up to cfg.PollWindow for the current job to finish. ok is
// false if it is still running, in which case the caller must not
// advance further this tick.
func (o *Orchestrator) poll() (err error, ok bool) {
	select {
	case err = <-o.current.done:
		return err, true
	case <-time.After(o.cfg.PollWindow):
		return nil, false
	}
}

// Wait blocks until any in-flight job terminates, so Unload can wait for
// a build job in flight to finish before tearing everything down. It
// then puts the orchestrator back to IDLE without starting an install
// phase for a compile that finished during the wait.
func (o *Orchestrator) Wait() {
	if o.current == nil {
		return
	}
	<-o.current.done
	o.current = nil
	o.state = Idle
}

func (o *Orchestrator) archivePath(project string, phase Phase) string {
	if o.cfg.ArchiveDir == "" {
		return ""
	}
	return filepath.Join(o.cfg.ArchiveDir, fmt.Sprintf("%s-%s.log.gz", project, strings.ToLower(phase.String())))
}
