package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxtodo/pkg/storage"
	"github.com/MrWong99/voxtodo/pkg/storage/memstore"
	"github.com/MrWong99/voxtodo/pkg/storage/postgres"
	"github.com/MrWong99/voxtodo/pkg/storage/sqlite"
)

// ErrDriverNotRegistered is returned by [Registry.Create] when no factory has
// been registered under the requested driver name.
var ErrDriverNotRegistered = errors.New("config: storage driver not registered")

// StorageFactory opens a [storage.Store] from its configuration section.
type StorageFactory func(ctx context.Context, cfg StorageConfig) (storage.Store, error)

// Registry maps storage driver names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	storage map[string]StorageFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{storage: make(map[string]StorageFactory)}
}

// DefaultRegistry returns a [Registry] with the sqlite, postgres and memory
// drivers registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(DriverSQLite, func(ctx context.Context, cfg StorageConfig) (storage.Store, error) {
		path := cfg.Path
		if path == "" {
			path = sqlite.DefaultPath()
		}
		return sqlite.Open(ctx, path)
	})
	r.Register(DriverPostgres, func(ctx context.Context, cfg StorageConfig) (storage.Store, error) {
		return postgres.Open(ctx, cfg.DSN)
	})
	r.Register(DriverMemory, func(context.Context, StorageConfig) (storage.Store, error) {
		return memstore.New(), nil
	})
	return r
}

// Register registers a storage factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory StorageFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage[name] = factory
}

// Drivers returns the registered driver names in sorted order.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.storage))
	for name := range r.storage {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Create opens the store selected by cfg.Driver. An empty driver selects sqlite.
// Returns [ErrDriverNotRegistered] if no factory exists for that name.
func (r *Registry) Create(ctx context.Context, cfg StorageConfig) (storage.Store, error) {
	name := cfg.Driver
	if name == "" {
		name = DriverSQLite
	}
	r.mu.RLock()
	f, ok := r.storage[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDriverNotRegistered, name)
	}
	store, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: open storage %q: %w", name, err)
	}
	return store, nil
}
