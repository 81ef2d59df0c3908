// Package local is an in-process [notify.Notifier] that fires reminders from
// Go timers. Pending notifications live only as long as the process; callers
// re-establish them on startup (see tasks.Store.Resync).
package local

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/voxtodo/pkg/notify"
)

// ErrClosed is returned by ScheduleAt after Close.
var ErrClosed = errors.New("notify: notifier is closed")

var _ notify.Notifier = (*Notifier)(nil)

// Option configures a [Notifier].
type Option func(*Notifier)

// WithClock overrides the time source used to compute timer delays.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

type pending struct {
	n     notify.Notification
	timer *time.Timer
}

// Notifier schedules one timer per task id and invokes the deliver callback
// on the timer goroutine when it fires.
type Notifier struct {
	deliver func(notify.Notification)
	now     func() time.Time

	mu      sync.Mutex
	pending map[int64]*pending
	closed  bool
}

// New returns a Notifier that calls deliver for every due notification.
// deliver must not block for long; it runs on a timer goroutine.
func New(deliver func(notify.Notification), opts ...Option) *Notifier {
	n := &Notifier{
		deliver: deliver,
		now:     time.Now,
		pending: make(map[int64]*pending),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// ScheduleAt implements [notify.Notifier]. An instant in the past fires
// immediately.
func (n *Notifier) ScheduleAt(_ context.Context, id int64, title, body string, at time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if p, ok := n.pending[id]; ok {
		p.timer.Stop()
	}

	p := &pending{n: notify.Notification{ID: id, Title: title, Body: body, At: at}}
	p.timer = time.AfterFunc(max(at.Sub(n.now()), 0), func() { n.fire(id, p) })
	n.pending[id] = p
	return nil
}

// Cancel implements [notify.Notifier].
func (n *Notifier) Cancel(_ context.Context, id int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if p, ok := n.pending[id]; ok {
		p.timer.Stop()
		delete(n.pending, id)
	}
	return nil
}

// Pending returns a snapshot of scheduled notifications ordered by fire time.
func (n *Notifier) Pending() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]notify.Notification, 0, len(n.pending))
	for _, p := range n.pending {
		out = append(out, p.n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Close stops every pending timer. Further ScheduleAt calls fail.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, p := range n.pending {
		p.timer.Stop()
		delete(n.pending, id)
	}
	n.closed = true
	return nil
}

// fire delivers p unless it was cancelled or replaced in the meantime.
func (n *Notifier) fire(id int64, p *pending) {
	n.mu.Lock()
	if cur, ok := n.pending[id]; !ok || cur != p {
		n.mu.Unlock()
		return
	}
	delete(n.pending, id)
	n.mu.Unlock()

	slog.Debug("notify: delivering reminder", "task_id", id, "at", p.n.At)
	if n.deliver != nil {
		n.deliver(p.n)
	}
}
