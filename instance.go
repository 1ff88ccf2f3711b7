package hotswap

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var instance struct {
	sync.Mutex
	manager *Manager
}

// InitializeInstance constructs the process-wide Manager, calls its
// Initialize, and makes it available through Instance. Call once from
// the embedding host; subsequent calls replace the previous instance
// without tearing it down, so callers should Unload the old one first
// if re-initializing (design note §9, "process-wide accessor").
func InitializeInstance(cfg Config, scripts ScriptRegistry, params Params, log *logrus.Entry) (*Manager, error) {
	m := New(cfg, scripts, params, log)
	if err := m.Initialize(); err != nil {
		return nil, err
	}
	instance.Lock()
	instance.manager = m
	instance.Unlock()
	return m, nil
}

// Instance returns the process-wide Manager set up by InitializeInstance,
// or nil if it has not been called yet.
func Instance() *Manager {
	instance.Lock()
	defer instance.Unlock()
	return instance.manager
}
