package protect

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-protect/core"
	"github.com/goliatone/go-protect/router"
)

// ModulePack is a named group of security modules a downstream deployment
// contributes, applied to a router registry in one step.
type ModulePack struct {
	Name    string
	Modules []core.SecurityModule
}

// FacadeBundleFactory builds a downstream-owned handler bundle on top of
// the shared facade, e.g. an HTTP surface or a job wiring.
type FacadeBundleFactory func(facade *Facade) (any, error)

// ExtensionHooks lets embedding applications contribute module packs and
// facade bundles without reaching into router or gatekeeper internals.
type ExtensionHooks struct {
	mu sync.RWMutex

	modulePacks map[string]ModulePack
	bundles     map[string]FacadeBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		modulePacks: map[string]ModulePack{},
		bundles:     map[string]FacadeBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterModulePack(pack ModulePack) error {
	if h == nil {
		return fmt.Errorf("protect: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("protect: module pack name is required")
	}
	if len(pack.Modules) == 0 {
		return fmt.Errorf("protect: module pack %q has no modules", name)
	}

	normalized := ModulePack{
		Name:    name,
		Modules: append([]core.SecurityModule(nil), pack.Modules...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.modulePacks[name]; exists {
		return fmt.Errorf("protect: module pack %q already registered", name)
	}
	h.modulePacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterFacadeBundle(name string, factory FacadeBundleFactory) error {
	if h == nil {
		return fmt.Errorf("protect: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("protect: facade bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("protect: facade bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("protect: facade bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyModulePacks registers every contributed module with the registry,
// packs in name order so registration conflicts surface deterministically.
func (h *ExtensionHooks) ApplyModulePacks(registry *router.ModuleRegistry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("protect: module registry is required")
	}

	for _, pack := range h.ModulePacks() {
		for _, module := range pack.Modules {
			if module == nil {
				return fmt.Errorf("protect: module pack %q contains nil module", pack.Name)
			}
			if err := registry.Register(module); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildFacadeBundles(facade *Facade) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if facade == nil {
		return nil, fmt.Errorf("protect: facade is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]FacadeBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](facade)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) ModulePacks() []ModulePack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.modulePacks))
	for name := range h.modulePacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ModulePack, 0, len(names))
	for _, name := range names {
		pack := h.modulePacks[name]
		out = append(out, ModulePack{
			Name:    pack.Name,
			Modules: append([]core.SecurityModule(nil), pack.Modules...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
