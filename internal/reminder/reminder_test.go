package reminder_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxtodo/internal/reminder"
	"github.com/MrWong99/voxtodo/pkg/notify/mock"
	"github.com/MrWong99/voxtodo/pkg/task"
)

var now = time.Date(2025, 5, 31, 12, 0, 0, 0, time.Local)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func newScheduler(n *mock.Notifier) *reminder.Scheduler {
	return reminder.New(n, reminder.WithClock(func() time.Time { return now }))
}

func TestReconcile(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		task    task.Task
		wantSet bool
	}{
		{"future due", task.Task{ID: 1, Title: "a", Due: at(time.Hour)}, true},
		{"no due", task.Task{ID: 1, Title: "a"}, false},
		{"past due", task.Task{ID: 1, Title: "a", Due: at(-time.Hour)}, false},
		{"due exactly now", task.Task{ID: 1, Title: "a", Due: at(0)}, false},
		{"done", task.Task{ID: 1, Title: "a", Done: true, Due: at(time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n := &mock.Notifier{}
			// Stale reminder left from an earlier state.
			_ = n.ScheduleAt(context.Background(), 1, "old", "", now.Add(time.Minute))

			got := newScheduler(n).Reconcile(context.Background(), nil, tt.task)
			if got != tt.wantSet {
				t.Errorf("Reconcile = %v, want %v", got, tt.wantSet)
			}
			p, ok := n.Pending(1)
			if ok != tt.wantSet {
				t.Fatalf("pending = %v, want %v", ok, tt.wantSet)
			}
			if ok && (!p.At.Equal(*tt.task.Due) || p.Title != "a") {
				t.Errorf("pending = %+v", p)
			}
			if n.CallCount("Cancel") != 1 {
				t.Errorf("Cancel calls = %d, want 1 (unconditional)", n.CallCount("Cancel"))
			}
		})
	}
}

func TestReconcile_SameDueStillReschedules(t *testing.T) {
	t.Parallel()
	n := &mock.Notifier{}
	s := newScheduler(n)
	tk := task.Task{ID: 3, Title: "a", Due: at(time.Hour)}

	s.Reconcile(context.Background(), tk.Due, tk)
	n.Reset() // notifier lost its state
	s.Reconcile(context.Background(), tk.Due, tk)

	if _, ok := n.Pending(3); !ok {
		t.Error("reminder not re-established when prev == new due")
	}
}

func TestReconcile_Body(t *testing.T) {
	t.Parallel()
	n := &mock.Notifier{}
	s := newScheduler(n)

	s.Reconcile(context.Background(), nil, task.Task{ID: 1, Title: "a", Description: "2 litres", Due: at(time.Hour)})
	s.Reconcile(context.Background(), nil, task.Task{ID: 2, Title: "b", Due: at(time.Hour)})

	p1, _ := n.Pending(1)
	p2, _ := n.Pending(2)
	if p1.Body != "2 litres" {
		t.Errorf("body with description = %q", p1.Body)
	}
	if p2.Body != "Due Sat May 31 13:00" {
		t.Errorf("body without description = %q", p2.Body)
	}
}

func TestReconcile_NotifierFailureSwallowed(t *testing.T) {
	t.Parallel()
	n := &mock.Notifier{
		ScheduleErr: errors.New("scheduler unavailable"),
		CancelErr:   errors.New("scheduler unavailable"),
	}
	s := newScheduler(n)

	if s.Reconcile(context.Background(), nil, task.Task{ID: 1, Title: "a", Due: at(time.Hour)}) {
		t.Error("Reconcile reported scheduled despite failure")
	}
	s.Cancel(context.Background(), 1)
	if n.CallCount("ScheduleAt") != 1 || n.CallCount("Cancel") != 2 {
		t.Errorf("calls = %+v", n.Calls())
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		task    task.Task
		wantSet bool
	}{
		{"future due", task.Task{ID: 1, Title: "new", Due: at(time.Hour)}, true},
		{"no due", task.Task{ID: 1, Title: "new"}, false},
		{"past due", task.Task{ID: 1, Title: "new", Due: at(-time.Hour)}, false},
		{"done", task.Task{ID: 1, Title: "new", Done: true, Due: at(time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n := &mock.Notifier{}
			_ = n.ScheduleAt(context.Background(), 1, "old", "", now.Add(time.Minute))

			if got := newScheduler(n).Refresh(context.Background(), tt.task); got != tt.wantSet {
				t.Errorf("Refresh = %v, want %v", got, tt.wantSet)
			}
			if n.CallCount("Cancel") != 0 {
				t.Errorf("Cancel calls = %d, want 0", n.CallCount("Cancel"))
			}
			p, ok := n.Pending(1)
			if !ok {
				t.Fatal("pending reminder lost")
			}
			wantTitle := "old"
			if tt.wantSet {
				wantTitle = "new"
			}
			if p.Title != wantTitle {
				t.Errorf("pending title = %q, want %q", p.Title, wantTitle)
			}
		})
	}
}
