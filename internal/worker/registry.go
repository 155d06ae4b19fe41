package worker

import (
	"sync"

	"enginehost/internal/registry"
)

// RegistryName is the name the worker singleton is registered under.
const RegistryName = "engine-worker"

var process struct {
	mu   sync.Mutex
	reg  *registry.Registry[*Worker]
	refs int
}

// AcquireRegistry returns the process-wide worker registry and a release
// function. The registry lives while at least one holder has not released
// it; the last release empties it, so the next acquirer starts fresh.
func AcquireRegistry() (*registry.Registry[*Worker], func()) {
	process.mu.Lock()
	defer process.mu.Unlock()
	if process.reg == nil {
		process.reg = registry.New[*Worker]()
	}
	process.refs++
	reg := process.reg

	var once sync.Once
	release := func() {
		once.Do(func() {
			process.mu.Lock()
			defer process.mu.Unlock()
			process.refs--
			if process.refs == 0 {
				process.reg.Reset()
				process.reg = nil
			}
		})
	}
	return reg, release
}
