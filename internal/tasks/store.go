// Package tasks is the consistency core of voxtodo.
//
// [Store] sequences every mutation through the durable [storage.Store],
// reconciles reminders for mutations that affect a due date, and then
// refreshes its in-memory snapshot from the durable store. What callers
// observe through List is therefore always what the reminder decision was
// based on.
//
// A failed write leaves both the durable store and the snapshot unchanged.
// Reminder failures never fail a mutation.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxtodo/internal/observe"
	"github.com/MrWong99/voxtodo/internal/reminder"
	"github.com/MrWong99/voxtodo/pkg/storage"
	"github.com/MrWong99/voxtodo/pkg/task"
)

// resyncConcurrency bounds parallel notifier calls during Resync.
const resyncConcurrency = 8

// Op names a store mutation.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpToggle Op = "toggle"
	OpDelete Op = "delete"
)

// Change describes one committed mutation. For OpDelete only Task.ID is set.
type Change struct {
	Op   Op        `json:"op"`
	Task task.Task `json:"task"`
}

// Observer is notified synchronously after every committed mutation. It must
// not call back into the Store.
type Observer func(Change)

// Option configures a [Store].
type Option func(*Store)

// WithObserver registers fn to receive committed changes.
func WithObserver(fn Observer) Option {
	return func(s *Store) { s.observers = append(s.observers, fn) }
}

// WithCancelOnDone controls whether completion changes reconcile reminders.
// When true (the default) completing a task cancels its reminder and
// reopening it schedules one again if the due date is still ahead. When
// false, ToggleDone leaves reminders untouched.
func WithCancelOnDone(v bool) Option {
	return func(s *Store) { s.cancelOnDone = v }
}

// WithMetrics records mutations on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store owns the task snapshot. All methods are safe for concurrent use.
type Store struct {
	db           storage.Store
	reminders    *reminder.Scheduler
	cancelOnDone bool
	observers    []Observer
	metrics      *observe.Metrics

	// writeMu serializes mutate → reconcile → refresh so reminders follow
	// commit order.
	writeMu sync.Mutex

	mu       sync.RWMutex
	snapshot []task.Task
	stale    bool
}

// New loads the initial snapshot from db.
func New(ctx context.Context, db storage.Store, reminders *reminder.Scheduler, opts ...Option) (*Store, error) {
	s := &Store{
		db:           db,
		reminders:    reminders,
		cancelOnDone: true,
	}
	for _, o := range opts {
		o(s)
	}
	all, err := db.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("tasks: load snapshot: %w", err)
	}
	s.snapshot = all
	return s, nil
}

// AddTask creates a task with the given title. An empty category means
// personal.
func (s *Store) AddTask(ctx context.Context, title string, category task.Category) (task.Task, error) {
	return s.Add(ctx, task.Task{Title: title, Category: category})
}

// Add creates a task from draft. ID, Done and timestamps in draft are
// ignored.
func (s *Store) Add(ctx context.Context, draft task.Task) (task.Task, error) {
	t := task.Task{
		Title:       draft.Title,
		Description: strings.TrimSpace(draft.Description),
		Category:    draft.Category,
		Due:         draft.Due,
	}.Normalize()
	if err := t.Validate(); err != nil {
		return task.Task{}, fmt.Errorf("tasks: add: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	created, err := s.db.Insert(ctx, []task.Task{t})
	s.record(ctx, OpAdd, err)
	if err != nil {
		return task.Task{}, fmt.Errorf("tasks: add: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	s.reminders.Reconcile(ctx, nil, created[0])
	s.refresh(ctx)
	s.emit(Change{Op: OpAdd, Task: created[0]})
	return created[0], nil
}

// AddBatch converts candidates to tasks and inserts them atomically. A
// candidate whose due date does not parse is kept without a due date. A
// candidate with a blank title is skipped. Either every remaining candidate
// is committed or none is.
func (s *Store) AddBatch(ctx context.Context, cands []task.Candidate) ([]task.Task, error) {
	batch := make([]task.Task, 0, len(cands))
	for i, c := range cands {
		t, dateOK := c.ToTask()
		if !dateOK {
			slog.Warn("tasks: dropping unparsable due date", "index", i, "title", t.Title, "due_date", c.DueDate)
		}
		t = t.Normalize()
		if err := t.Validate(); err != nil {
			slog.Warn("tasks: skipping candidate", "index", i, "err", err)
			continue
		}
		batch = append(batch, t)
	}
	if len(batch) == 0 {
		return []task.Task{}, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	created, err := s.db.Insert(ctx, batch)
	s.record(ctx, OpAdd, err)
	if err != nil {
		return nil, fmt.Errorf("tasks: add batch of %d: %w", len(batch), err)
	}

	ctx = context.WithoutCancel(ctx)
	for _, t := range created {
		s.reminders.Reconcile(ctx, nil, t)
	}
	s.refresh(ctx)
	for _, t := range created {
		s.emit(Change{Op: OpAdd, Task: t})
	}
	return created, nil
}

// UpdateTask applies patch to the task with the given id.
func (s *Store) UpdateTask(ctx context.Context, id int64, patch task.Patch) (task.Task, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, err := s.db.Get(ctx, id)
	if err != nil {
		s.record(ctx, OpUpdate, err)
		return task.Task{}, fmt.Errorf("tasks: update %d: %w", id, err)
	}
	next, err := patch.Apply(cur)
	if err != nil {
		return task.Task{}, fmt.Errorf("tasks: update %d: %w", id, err)
	}
	saved, err := s.db.Update(ctx, next)
	s.record(ctx, OpUpdate, err)
	if err != nil {
		return task.Task{}, fmt.Errorf("tasks: update %d: %w", id, err)
	}

	ctx = context.WithoutCancel(ctx)
	switch {
	case patch.TouchesDue() || (patch.Done != nil && s.cancelOnDone):
		s.reminders.Reconcile(ctx, cur.Due, saved)
	case saved.Title != cur.Title || saved.Description != cur.Description:
		// The pending reminder carries the old title and body.
		s.reminders.Refresh(ctx, saved)
	}
	s.refresh(ctx)
	s.emit(Change{Op: OpUpdate, Task: saved})
	return saved, nil
}

// ToggleDone flips the completion flag of the task with the given id.
func (s *Store) ToggleDone(ctx context.Context, id int64) (task.Task, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, err := s.db.Get(ctx, id)
	if err != nil {
		s.record(ctx, OpToggle, err)
		return task.Task{}, fmt.Errorf("tasks: toggle %d: %w", id, err)
	}
	next := cur
	next.Done = !cur.Done
	saved, err := s.db.Update(ctx, next)
	s.record(ctx, OpToggle, err)
	if err != nil {
		return task.Task{}, fmt.Errorf("tasks: toggle %d: %w", id, err)
	}

	ctx = context.WithoutCancel(ctx)
	if s.cancelOnDone {
		s.reminders.Reconcile(ctx, cur.Due, saved)
	}
	s.refresh(ctx)
	s.emit(Change{Op: OpToggle, Task: saved})
	return saved, nil
}

// DeleteTask removes the task with the given id and cancels its reminder.
// The reminder is cancelled even when the id is unknown, so stale
// notifications cannot survive; the call still reports [task.ErrNotFound].
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Delete(ctx, id)
	s.record(ctx, OpDelete, err)
	if err != nil && !errors.Is(err, task.ErrNotFound) {
		return fmt.Errorf("tasks: delete %d: %w", id, err)
	}

	wctx := context.WithoutCancel(ctx)
	s.reminders.Cancel(wctx, id)
	if err != nil {
		return fmt.Errorf("tasks: delete %d: %w", id, err)
	}
	s.refresh(wctx)
	s.emit(Change{Op: OpDelete, Task: task.Task{ID: id}})
	return nil
}

// List returns a copy of the snapshot. Callers must not rely on ordering.
func (s *Store) List(ctx context.Context) ([]task.Task, error) {
	if err := s.reloadIfStale(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snapshot), nil
}

// Get returns the task with the given id from the snapshot.
func (s *Store) Get(ctx context.Context, id int64) (task.Task, error) {
	if err := s.reloadIfStale(ctx); err != nil {
		return task.Task{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.snapshot {
		if t.ID == id {
			return t, nil
		}
	}
	return task.Task{}, fmt.Errorf("tasks: get %d: %w", id, task.ErrNotFound)
}

// Resync reconciles the reminder of every persisted task and refreshes the
// snapshot. Run it on startup: notifiers that keep timers in memory start
// empty.
func (s *Store) Resync(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	all, err := s.db.List(ctx)
	if err != nil {
		return fmt.Errorf("tasks: resync: %w", err)
	}

	var (
		g         errgroup.Group
		mu        sync.Mutex
		scheduled int
	)
	g.SetLimit(resyncConcurrency)
	for _, t := range all {
		g.Go(func() error {
			if s.reminders.Reconcile(ctx, t.Due, t) {
				mu.Lock()
				scheduled++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	s.snapshot = all
	s.stale = false
	s.mu.Unlock()

	slog.Info("tasks: reminders resynced", "tasks", len(all), "scheduled", scheduled)
	return nil
}

// Ping checks the durable store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// refresh reloads the snapshot from the durable store. On failure the
// snapshot is marked stale and reloaded by the next read.
func (s *Store) refresh(ctx context.Context) {
	all, err := s.db.List(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stale = true
		slog.Warn("tasks: refresh snapshot failed", "err", err)
		return
	}
	s.snapshot = all
	s.stale = false
}

func (s *Store) reloadIfStale(ctx context.Context) error {
	s.mu.RLock()
	stale := s.stale
	s.mu.RUnlock()
	if !stale {
		return nil
	}

	// Hold off writers so an older listing cannot replace a newer refresh.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	stale = s.stale
	s.mu.RUnlock()
	if !stale {
		return nil
	}

	all, err := s.db.List(ctx)
	if err != nil {
		return fmt.Errorf("tasks: reload snapshot: %w", err)
	}
	s.mu.Lock()
	s.snapshot = all
	s.stale = false
	s.mu.Unlock()
	return nil
}

func (s *Store) emit(c Change) {
	for _, fn := range s.observers {
		fn(c)
	}
}

func (s *Store) record(ctx context.Context, op Op, err error) {
	if s.metrics != nil {
		s.metrics.RecordTaskMutation(ctx, string(op), observe.Status(err))
	}
}
