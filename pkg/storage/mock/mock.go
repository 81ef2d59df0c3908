// Package mock provides a fault-injecting [storage.Store] for unit tests.
//
// Store delegates to an in-memory [memstore.Store] and lets tests force any
// operation to fail by setting the corresponding *Err field. Failed calls
// never reach the underlying store, which models an aborted transaction.
//
//	db := mock.New()
//	db.SetInsertErr(errors.New("disk full"))
//	_, err := db.Insert(ctx, tasks) // err wraps task.ErrPersistence
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/voxtodo/pkg/storage"
	"github.com/MrWong99/voxtodo/pkg/storage/memstore"
	"github.com/MrWong99/voxtodo/pkg/task"
)

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// Store is a mock implementation of storage.Store.
type Store struct {
	mu    sync.Mutex
	inner *memstore.Store

	insertErr error
	updateErr error
	deleteErr error
	getErr    error
	listErr   error
	pingErr   error

	calls map[string]int
}

// New returns a Store backed by an empty memstore.
func New() *Store {
	return &Store{inner: memstore.New(), calls: make(map[string]int)}
}

// SetInsertErr makes subsequent Insert calls fail with err (nil to clear).
func (s *Store) SetInsertErr(err error) { s.set(&s.insertErr, err) }

// SetUpdateErr makes subsequent Update calls fail with err (nil to clear).
func (s *Store) SetUpdateErr(err error) { s.set(&s.updateErr, err) }

// SetDeleteErr makes subsequent Delete calls fail with err (nil to clear).
func (s *Store) SetDeleteErr(err error) { s.set(&s.deleteErr, err) }

// SetGetErr makes subsequent Get calls fail with err (nil to clear).
func (s *Store) SetGetErr(err error) { s.set(&s.getErr, err) }

// SetListErr makes subsequent List calls fail with err (nil to clear).
func (s *Store) SetListErr(err error) { s.set(&s.listErr, err) }

// SetPingErr makes subsequent Ping calls fail with err (nil to clear).
func (s *Store) SetPingErr(err error) { s.set(&s.pingErr, err) }

// CallCount returns how many times the named method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Store) set(field *error, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*field = err
}

// record counts the call and returns the injected error, if any.
func (s *Store) record(method string, injected *error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	if *injected != nil {
		return fmt.Errorf("%w: %w", task.ErrPersistence, *injected)
	}
	return nil
}

// Insert implements storage.Store.
func (s *Store) Insert(ctx context.Context, tasks []task.Task) ([]task.Task, error) {
	if err := s.record("Insert", &s.insertErr); err != nil {
		return nil, err
	}
	return s.inner.Insert(ctx, tasks)
}

// Update implements storage.Store.
func (s *Store) Update(ctx context.Context, t task.Task) (task.Task, error) {
	if err := s.record("Update", &s.updateErr); err != nil {
		return task.Task{}, err
	}
	return s.inner.Update(ctx, t)
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.record("Delete", &s.deleteErr); err != nil {
		return err
	}
	return s.inner.Delete(ctx, id)
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, id int64) (task.Task, error) {
	if err := s.record("Get", &s.getErr); err != nil {
		return task.Task{}, err
	}
	return s.inner.Get(ctx, id)
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context) ([]task.Task, error) {
	if err := s.record("List", &s.listErr); err != nil {
		return nil, err
	}
	return s.inner.List(ctx)
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.record("Ping", &s.pingErr); err != nil {
		return err
	}
	return s.inner.Ping(ctx)
}

// Close implements storage.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	s.calls["Close"]++
	s.mu.Unlock()
	return s.inner.Close()
}
