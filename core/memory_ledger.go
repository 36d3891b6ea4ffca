package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRegistrationStore is the default in-process ledger backing. The SQL
// store under store/sql replaces it for durable deployments.
type MemoryRegistrationStore struct {
	mu      sync.RWMutex
	entries map[Identity]Registration
}

func NewMemoryRegistrationStore() *MemoryRegistrationStore {
	return &MemoryRegistrationStore{entries: map[Identity]Registration{}}
}

func (s *MemoryRegistrationStore) Get(_ context.Context, identity Identity) (Registration, bool, error) {
	if s == nil {
		return Registration{}, false, fmt.Errorf("core: registration store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	registration, ok := s.entries[identity]
	return registration, ok, nil
}

func (s *MemoryRegistrationStore) Upsert(_ context.Context, registration Registration) error {
	if s == nil {
		return fmt.Errorf("core: registration store is not configured")
	}
	if registration.Identity.IsZero() {
		return fmt.Errorf("core: registration identity is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[registration.Identity] = registration
	return nil
}

type flagKey struct {
	identity Identity
	selector Selector
}

// MemoryFlagStore is the in-process protection flag backing.
type MemoryFlagStore struct {
	mu      sync.RWMutex
	entries map[flagKey]ProtectionFlag
}

func NewMemoryFlagStore() *MemoryFlagStore {
	return &MemoryFlagStore{entries: map[flagKey]ProtectionFlag{}}
}

// Apply writes the batch under one lock so a reader never observes a
// half-applied update.
func (s *MemoryFlagStore) Apply(_ context.Context, identity Identity, updates []FlagUpdate, now time.Time) error {
	if s == nil {
		return fmt.Errorf("core: flag store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, update := range updates {
		s.entries[flagKey{identity: identity, selector: update.Selector}] = ProtectionFlag{
			Identity:  identity,
			Selector:  update.Selector,
			Enabled:   update.Enabled,
			UpdatedAt: now,
		}
	}
	return nil
}

func (s *MemoryFlagStore) Get(_ context.Context, identity Identity, selector Selector) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("core: flag store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	flag, ok := s.entries[flagKey{identity: identity, selector: selector}]
	if !ok {
		return false, nil
	}
	return flag.Enabled, nil
}

func (s *MemoryFlagStore) GetBatch(_ context.Context, identity Identity, selectors []Selector) ([]bool, error) {
	if s == nil {
		return nil, fmt.Errorf("core: flag store is not configured")
	}
	out := make([]bool, 0, len(selectors))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, selector := range selectors {
		flag := s.entries[flagKey{identity: identity, selector: selector}]
		out = append(out, flag.Enabled)
	}
	return out, nil
}

var (
	_ RegistrationStore = (*MemoryRegistrationStore)(nil)
	_ FlagStore         = (*MemoryFlagStore)(nil)
)
