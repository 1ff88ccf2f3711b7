// Package buildjob drives the external cmake build/install pipeline as a
// small state machine: IDLE -> COMPILING -> INSTALLING -> IDLE, with at
// most one subprocess alive at a time.
package buildjob

import "time"

// Phase names a build job's current stage.
type Phase int

const (
	// Compile invokes "cmake --build".
	Compile Phase = iota
	// Install invokes the install script via "cmake -P".
	Install
)

func (p Phase) String() string {
	if p == Install {
		return "INSTALL"
	}
	return "COMPILE"
}

// State is the orchestrator's current position in the state machine.
type State int

const (
	Idle State = iota
	Compiling
	Installing
)

func (s State) String() string {
	switch s {
	case Compiling:
		return "COMPILING"
	case Installing:
		return "INSTALLING"
	default:
		return "IDLE"
	}
}

// Config configures the orchestrator's external collaborators.
type Config struct {
	// BuilderPath is the build driver executable, "cmake" in the
	// reference.
	BuilderPath string
	// BuildDir is passed as the build directory argument to
	// "cmake --build".
	BuildDir string
	// InstallScriptPath is the "-P" script argument for the install
	// phase.
	InstallScriptPath string
	// InstallEnabled gates whether a successful compile is followed by
	// an install phase (HotSwap.EnableReCompilerInstall).
	InstallEnabled bool
	// ArchiveDir receives a gzip-compressed copy of each subprocess's
	// combined stdout/stderr, named "<project>-<phase>.log.gz". Empty
	// disables archiving.
	ArchiveDir string
	// PollWindow bounds how long a single Advance call will wait for the
	// current subprocess before returning control to the caller (3s in
	// the reference).
	PollWindow time.Duration
}

// job is the in-flight build job record.
type job struct {
	phase       Phase
	moduleName  string
	projectName string
	directive   string
	done        chan error
}
