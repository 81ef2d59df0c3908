// Package mock provides a test double for [notify.Notifier] that records every
// call and tracks which ids currently have a pending notification.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxtodo/pkg/notify"
)

var _ notify.Notifier = (*Notifier)(nil)

// Call records a single ScheduleAt or Cancel invocation.
type Call struct {
	// Method is "ScheduleAt" or "Cancel".
	Method string
	ID     int64
	Title  string
	Body   string
	At     time.Time
}

// Notifier is a mock implementation of notify.Notifier. The zero value is
// ready to use.
type Notifier struct {
	mu sync.Mutex

	// ScheduleErr, if non-nil, is returned by ScheduleAt and nothing is recorded
	// as pending.
	ScheduleErr error

	// CancelErr, if non-nil, is returned by Cancel and the pending entry is kept.
	CancelErr error

	calls   []Call
	pending map[int64]notify.Notification
}

// ScheduleAt implements notify.Notifier.
func (n *Notifier) ScheduleAt(_ context.Context, id int64, title, body string, at time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, Call{Method: "ScheduleAt", ID: id, Title: title, Body: body, At: at})
	if n.ScheduleErr != nil {
		return n.ScheduleErr
	}
	if n.pending == nil {
		n.pending = make(map[int64]notify.Notification)
	}
	n.pending[id] = notify.Notification{ID: id, Title: title, Body: body, At: at}
	return nil
}

// Cancel implements notify.Notifier.
func (n *Notifier) Cancel(_ context.Context, id int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, Call{Method: "Cancel", ID: id})
	if n.CancelErr != nil {
		return n.CancelErr
	}
	delete(n.pending, id)
	return nil
}

// Pending returns the pending notification for id, if any.
func (n *Notifier) Pending(id int64) (notify.Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.pending[id]
	return p, ok
}

// PendingCount returns how many ids have a pending notification.
func (n *Notifier) PendingCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

// Calls returns a copy of all recorded calls in order.
func (n *Notifier) Calls() []Call {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Call, len(n.calls))
	copy(out, n.calls)
	return out
}

// CallCount returns how many times method was called.
func (n *Notifier) CallCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, call := range n.calls {
		if call.Method == method {
			c++
		}
	}
	return c
}

// Reset clears recorded calls and pending state.
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = nil
	n.pending = nil
}
