package router

import (
	"fmt"
	"sort"
	"sync"

	"github.com/goliatone/go-protect/core"
)

// ModuleRegistry holds the security modules the router can dispatch to,
// keyed by module marker.
type ModuleRegistry struct {
	mu      sync.RWMutex
	modules map[core.ModuleMarker]core.SecurityModule
}

func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{modules: make(map[core.ModuleMarker]core.SecurityModule)}
}

func (r *ModuleRegistry) Register(module core.SecurityModule) error {
	if module == nil {
		return fmt.Errorf("router: security module is nil")
	}
	marker := module.Marker()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[marker]; exists {
		return fmt.Errorf("router: security module already registered: %s", marker)
	}
	r.modules[marker] = module
	return nil
}

func (r *ModuleRegistry) Get(marker core.ModuleMarker) (core.SecurityModule, bool) {
	r.mu.RLock()
	module, ok := r.modules[marker]
	r.mu.RUnlock()
	return module, ok
}

func (r *ModuleRegistry) List() []core.SecurityModule {
	r.mu.RLock()
	markers := make([]core.ModuleMarker, 0, len(r.modules))
	for marker := range r.modules {
		markers = append(markers, marker)
	}
	r.mu.RUnlock()
	sort.Slice(markers, func(i, j int) bool {
		return markers[i].String() < markers[j].String()
	})
	modules := make([]core.SecurityModule, 0, len(markers))
	r.mu.RLock()
	for _, marker := range markers {
		modules = append(modules, r.modules[marker])
	}
	r.mu.RUnlock()
	return modules
}
