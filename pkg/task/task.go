// Package task defines the task record shared by every voxtodo subsystem:
// the persisted [Task], the unvalidated [Candidate] produced by the remote
// transcription parser, partial updates via [Patch], and the reminder
// predicate [ShouldRemind].
//
// Due instants are always minute-granular. Every write path funnels through
// [TruncateDue] so that seconds and sub-second components never reach the
// durable store or the notification scheduler.
package task

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when an operation references a task id that does
	// not exist in the durable store.
	ErrNotFound = errors.New("task: not found")

	// ErrPersistence marks a failed durable-store transaction. Storage
	// backends wrap their driver errors with it so that callers can use
	// errors.Is regardless of the backend in use.
	ErrPersistence = errors.New("task: persistence error")

	// ErrEmptyTitle is returned when a task would be persisted with a title
	// that is blank after trimming.
	ErrEmptyTitle = errors.New("task: title must not be empty")
)

// Task is a persisted to-do record.
type Task struct {
	// ID is assigned by the durable store on creation. IDs are allocated
	// monotonically and never reused.
	ID int64 `json:"id"`

	// Title is the non-empty (after trimming) headline of the task.
	Title string `json:"title"`

	// Description is optional free text.
	Description string `json:"description,omitempty"`

	// Done is the completion flag.
	Done bool `json:"done"`

	// Category is either personal or work.
	Category Category `json:"category"`

	// Due is the optional minute-granular due instant in the local zone.
	// A nil Due means the task has no due date and therefore no reminder.
	Due *time.Time `json:"due,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Candidate is an unvalidated record parsed from a transcription response.
// It becomes a [Task] only after its due-date string is parsed and its
// category is normalised.
type Candidate struct {
	Title       string
	Description string
	DueDate     string
	Priority    string
	Category    string
}

// ToTask converts c into a new, not yet persisted Task. A due-date string that
// cannot be parsed is dropped; the second return value reports whether the
// date was understood (true also for an empty due-date string).
func (c Candidate) ToTask() (Task, bool) {
	t := Task{
		Title:       strings.TrimSpace(c.Title),
		Description: strings.TrimSpace(c.Description),
		Category:    NormalizeCategory(c.Category),
	}
	raw := strings.TrimSpace(c.DueDate)
	if raw == "" {
		return t, true
	}
	due, ok := ParseDue(raw)
	if !ok {
		return t, false
	}
	t.Due = &due
	return t, true
}

// Validate checks the invariants every persisted record must satisfy.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrEmptyTitle
	}
	return nil
}

// Normalize returns t with a trimmed title, a valid category and a
// minute-truncated local due instant.
func (t Task) Normalize() Task {
	t.Title = strings.TrimSpace(t.Title)
	if !t.Category.IsValid() {
		t.Category = CategoryPersonal
	}
	if t.Due != nil {
		d := TruncateDue(*t.Due)
		t.Due = &d
	}
	return t
}

// ShouldRemind reports whether a reminder must exist for t when evaluated at
// now: the task has a due instant strictly after now and is not completed.
func ShouldRemind(t Task, now time.Time) bool {
	return t.Due != nil && t.Due.After(now) && !t.Done
}

// Patch is a partial update of a [Task]. Nil pointer fields are left
// unchanged. Due is only applied when DueSet is true, so that a nil Due can
// express "clear the due date".
type Patch struct {
	Title       *string
	Description *string
	Done        *bool
	Category    *Category

	DueSet bool
	Due    *time.Time
}

// TouchesDue reports whether applying p may change the due instant.
func (p Patch) TouchesDue() bool { return p.DueSet }

// Apply returns t with p applied. The result is normalised and validated.
func (p Patch) Apply(t Task) (Task, error) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Done != nil {
		t.Done = *p.Done
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.DueSet {
		if p.Due == nil {
			t.Due = nil
		} else {
			d := *p.Due
			t.Due = &d
		}
	}
	t = t.Normalize()
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}
