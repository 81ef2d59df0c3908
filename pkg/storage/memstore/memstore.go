// Package memstore is a thread-safe, in-memory [storage.Store]. It is the
// "memory" storage driver and the base for test doubles; nothing survives a
// process restart.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxtodo/pkg/storage"
	"github.com/MrWong99/voxtodo/pkg/task"
)

// Compile-time assertion that Store satisfies storage.Store.
var _ storage.Store = (*Store)(nil)

// Store keeps tasks in a map guarded by a RWMutex. Ids come from a counter
// that only ever increases, so deleted ids are never handed out again.
type Store struct {
	mu     sync.RWMutex
	tasks  map[int64]task.Task
	lastID int64
	now    func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tasks: make(map[int64]task.Task),
		now:   time.Now,
	}
}

// Insert implements [storage.Store.Insert].
func (s *Store) Insert(_ context.Context, tasks []task.Task) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]task.Task, len(tasks))
	for i, t := range tasks {
		s.lastID++
		t.ID = s.lastID
		t.CreatedAt = now
		t.UpdatedAt = now
		out[i] = clone(t)
	}
	for _, t := range out {
		s.tasks[t.ID] = clone(t)
	}
	return out, nil
}

// Update implements [storage.Store.Update].
func (s *Store) Update(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.tasks[t.ID]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	t.CreatedAt = prev.CreatedAt
	t.UpdatedAt = s.now()
	s.tasks[t.ID] = clone(t)
	return clone(t), nil
}

// Delete implements [storage.Store.Delete].
func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return task.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

// Get implements [storage.Store.Get].
func (s *Store) Get(_ context.Context, id int64) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	return clone(t), nil
}

// List implements [storage.Store.List].
func (s *Store) List(_ context.Context) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, clone(t))
	}
	return out, nil
}

// Ping implements [storage.Store.Ping]. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [storage.Store.Close]. It is a no-op.
func (s *Store) Close() error { return nil }

// clone copies the due pointer so callers cannot mutate stored state.
func clone(t task.Task) task.Task {
	if t.Due != nil {
		d := *t.Due
		t.Due = &d
	}
	return t
}
