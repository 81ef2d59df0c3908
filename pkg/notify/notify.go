// Package notify defines the notification boundary used to deliver task
// reminders.
//
// A [Notifier] schedules at most one pending notification per task id:
// scheduling an id that already has a pending notification replaces it.
// Delivery semantics (waking the device, exact-time firing) are the
// implementation's responsibility. Implementations must be safe for
// concurrent use.
package notify

import (
	"context"
	"time"
)

// Notification is a single scheduled reminder.
type Notification struct {
	// ID is the task id the notification belongs to.
	ID int64

	Title string
	Body  string

	// At is the instant the notification fires.
	At time.Time
}

// Notifier is the abstraction over any notification scheduler.
type Notifier interface {
	// ScheduleAt schedules a notification for id at the given instant.
	ScheduleAt(ctx context.Context, id int64, title, body string, at time.Time) error

	// Cancel removes any pending notification for id. Cancelling an id that
	// has nothing pending is not an error.
	Cancel(ctx context.Context, id int64) error
}
