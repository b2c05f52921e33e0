package apmz

import "sync"

// ProbeRegistry tracks installed instrumentation probes.
// Safe for concurrent use by multiple goroutines.
type ProbeRegistry struct {
	probes map[string]bool // name -> disabled
	mu     sync.RWMutex
}

// NewProbeRegistry creates an empty registry.
func NewProbeRegistry() *ProbeRegistry {
	return &ProbeRegistry{probes: make(map[string]bool)}
}

// Install registers a probe as installed and enabled.
func (r *ProbeRegistry) Install(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.probes[name]; !ok {
		r.probes[name] = false
	}
}

// Installed reports whether the probe was installed.
func (r *ProbeRegistry) Installed(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.probes[name]
	return ok
}

// Disabled reports whether an installed probe has been disabled.
func (r *ProbeRegistry) Disabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.probes[name]
}

// Disable turns an installed probe off. Returns true only for the call
// that actually disabled it.
func (r *ProbeRegistry) Disable(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	disabled, ok := r.probes[name]
	if !ok || disabled {
		return false
	}
	r.probes[name] = true
	return true
}
