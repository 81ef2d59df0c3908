// Package storage defines the durable record store that backs the task store.
//
// A [Store] is a single table of [task.Task] records keyed by an integer id
// that the store allocates monotonically and never reuses. Every method is
// its own transaction: Insert writes all records or none, Update and Delete
// touch exactly one record. Concurrent writers to the same record resolve as
// last-writer-wins at transaction granularity; there is no version check.
//
// Implementations live in sub-packages (sqlite, postgres, memstore) and must
// be safe for concurrent use. Driver failures are wrapped with
// [task.ErrPersistence]; unknown ids yield [task.ErrNotFound].
package storage

import (
	"context"

	"github.com/MrWong99/voxtodo/pkg/task"
)

// Store is the durable persistence boundary for tasks.
type Store interface {
	// Insert atomically persists all tasks, ignoring their ID fields, and
	// returns the stored records with ids and timestamps assigned, in input
	// order. If any record fails, none are written.
	Insert(ctx context.Context, tasks []task.Task) ([]task.Task, error)

	// Update replaces the record with t.ID and returns the stored record.
	// Returns task.ErrNotFound if no such record exists.
	Update(ctx context.Context, t task.Task) (task.Task, error)

	// Delete removes the record with the given id. Returns task.ErrNotFound
	// if no such record exists.
	Delete(ctx context.Context, id int64) error

	// Get returns the record with the given id or task.ErrNotFound.
	Get(ctx context.Context, id int64) (task.Task, error)

	// List returns every stored record. No ordering is guaranteed.
	List(ctx context.Context) ([]task.Task, error)

	// Ping verifies that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
