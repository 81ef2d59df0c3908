// Package reminder keeps the notification scheduler in line with task state.
//
// Reconcile is unconditional: it always cancels whatever is pending for the
// task and schedules again only when [task.ShouldRemind] holds at the moment
// of reconciliation. It never compares against a cached previous due date,
// because the notifier may have lost its state (for example across a
// restart) while the store kept it.
//
// Notifier failures never fail the caller. They are logged and counted.
package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/voxtodo/internal/observe"
	"github.com/MrWong99/voxtodo/pkg/notify"
	"github.com/MrWong99/voxtodo/pkg/task"
)

const bodyTimeLayout = "Mon Jan 2 15:04"

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithClock overrides the time source used to decide whether a due date is
// still in the future.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics records notifier calls on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler maps a task to at most one pending notification.
type Scheduler struct {
	notifier notify.Notifier
	now      func() time.Time
	metrics  *observe.Metrics
}

// New returns a Scheduler over n.
func New(n notify.Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		notifier: n,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Reconcile cancels any pending reminder for t and schedules a new one at
// t.Due if t should be reminded of. prev is the due date before the mutation
// and is only logged. It reports whether a reminder is now scheduled.
func (s *Scheduler) Reconcile(ctx context.Context, prev *time.Time, t task.Task) bool {
	s.Cancel(ctx, t.ID)

	if !task.ShouldRemind(t, s.now()) {
		slog.Debug("reminder: nothing to schedule",
			"task_id", t.ID, "due", t.Due, "prev_due", prev, "done", t.Done)
		return false
	}

	err := s.notifier.ScheduleAt(ctx, t.ID, t.Title, body(t), *t.Due)
	s.record(ctx, "schedule", err)
	if err != nil {
		slog.Warn("reminder: schedule failed", "task_id", t.ID, "at", *t.Due, "err", err)
		return false
	}
	slog.Debug("reminder: scheduled", "task_id", t.ID, "at", *t.Due, "prev_due", prev)
	return true
}

// Refresh reschedules the reminder for t with its current title and body
// when t should be reminded of. Scheduling replaces what the notifier holds
// for t.ID, so nothing is cancelled first. When t should not be reminded of,
// the notifier is left untouched. It reports whether a reminder is now
// scheduled.
func (s *Scheduler) Refresh(ctx context.Context, t task.Task) bool {
	if !task.ShouldRemind(t, s.now()) {
		return false
	}
	err := s.notifier.ScheduleAt(ctx, t.ID, t.Title, body(t), *t.Due)
	s.record(ctx, "schedule", err)
	if err != nil {
		slog.Warn("reminder: refresh failed", "task_id", t.ID, "at", *t.Due, "err", err)
		return false
	}
	slog.Debug("reminder: refreshed", "task_id", t.ID, "at", *t.Due)
	return true
}

// Cancel removes any pending reminder for id.
func (s *Scheduler) Cancel(ctx context.Context, id int64) {
	err := s.notifier.Cancel(ctx, id)
	s.record(ctx, "cancel", err)
	if err != nil {
		slog.Warn("reminder: cancel failed", "task_id", id, "err", err)
	}
}

func (s *Scheduler) record(ctx context.Context, op string, err error) {
	if s.metrics != nil {
		s.metrics.RecordReminderOp(ctx, op, observe.Status(err))
	}
}

func body(t task.Task) string {
	if t.Description != "" {
		return t.Description
	}
	return "Due " + t.Due.Local().Format(bodyTimeLayout)
}
