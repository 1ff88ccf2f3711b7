// Package loader opens native shared libraries without cgo and resolves
// the fixed set of C-linkage entry points a script module must export.
//
// It is a thin wrapper around github.com/ebitengine/purego's
// Dlopen/RegisterLibFunc/Dlclose, generalized from the dlopen-based
// plugin loader in the example pack (c4pt0r-pfs's pkg/plugin/loader) to
// the exact four symbols this module's ABI requires.
package loader

import (
	"runtime"

	"github.com/ebitengine/purego"
	"golang.org/x/xerrors"
)

// Symbols is the resolved set of C entry points a script module must
// export.
type Symbols struct {
	RevisionHash   func() string
	AddScripts     func()
	ModuleName     func() string
	BuildDirective func() string
}

// Handle is an opaque native library handle.
type Handle uintptr

const invalidHandle Handle = 0

// dlopenFlags mirrors RTLD_NOW|RTLD_LOCAL on POSIX; on Windows purego
// ignores the flags argument.
func dlopenFlags() int {
	const (
		rtldNow   = 0x2
		rtldLocal = 0x0
	)
	switch runtime.GOOS {
	case "windows":
		return 0
	default:
		return rtldNow | rtldLocal
	}
}

// Open opens the shared library at path and resolves all four required
// symbols (GetScriptModuleRevisionHash, AddScripts, GetScriptModule,
// GetBuildDirective). If the library fails to open, or any symbol fails
// to resolve, the library is closed again and an error is returned — the
// caller never receives a half-resolved Handle.
func Open(path string) (Handle, *Symbols, error) {
	h, err := purego.Dlopen(path, dlopenFlags())
	if err != nil {
		return invalidHandle, nil, xerrors.Errorf("open shared library %q: %w", path, err)
	}
	handle := Handle(h)

	syms, err := resolveSymbols(handle)
	if err != nil {
		_ = Close(handle)
		return invalidHandle, nil, err
	}
	return handle, syms, nil
}

func resolveSymbols(handle Handle) (*Symbols, error) {
	syms := &Symbols{}
	for _, sym := range []struct {
		name string
		fn   interface{}
	}{
		{"GetScriptModuleRevisionHash", &syms.RevisionHash},
		{"AddScripts", &syms.AddScripts},
		{"GetScriptModule", &syms.ModuleName},
		{"GetBuildDirective", &syms.BuildDirective},
	} {
		if err := registerSymbol(handle, sym.name, sym.fn); err != nil {
			return nil, xerrors.Errorf("resolve symbol %q: %w", sym.name, err)
		}
	}
	return syms, nil
}

// registerSymbol binds fnPtr (a pointer to a func variable) to the named
// symbol in handle. purego.RegisterLibFunc panics instead of returning an
// error when a symbol is missing, so that is converted back into a
// regular error here — load failures must be recoverable, not fatal.
func registerSymbol(handle Handle, name string, fnPtr interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Errorf("symbol %q not found: %v", name, r)
		}
	}()
	purego.RegisterLibFunc(fnPtr, uintptr(handle), name)
	return nil
}

// Close closes a previously opened library handle.
func Close(handle Handle) error {
	if handle == invalidHandle {
		return nil
	}
	if err := purego.Dlclose(uintptr(handle)); err != nil {
		return xerrors.Errorf("close shared library: %w", err)
	}
	return nil
}
